package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"content-writer/internal/httpclient"
	"content-writer/internal/models"
)

// TokenIssuer mints short-lived service tokens for outbound calls.
type TokenIssuer interface {
	IssueInternalToken(subject string) (string, error)
}

// generationTimeout is deliberately longer than the client default; the
// model endpoint routinely takes tens of seconds.
const generationTimeout = 60 * time.Second

const profileCacheCost = 1

// GenerateParams describe one generation request.
type GenerateParams struct {
	TenantID   string
	Brief      string
	Tone       string
	Audience   string
	Platform   string
	ImageBrief string
}

// LLMGateway generates content through the LLM hub, personalizing from a
// brand profile when the tenant has one.
type LLMGateway struct {
	client   *httpclient.Client
	tokens   TokenIssuer
	hubURL   string
	brainURL string
	model    string
	cache    *ristretto.Cache[string, models.BrandProfile]
	cacheTTL time.Duration
	log      *zap.Logger
}

// NewLLMGateway builds the gateway. hubURL and brainURL are the configured
// base URLs of the LLM hub and tenant-brain services.
func NewLLMGateway(client *httpclient.Client, tokens TokenIssuer, hubURL, brainURL, model string, cacheTTL time.Duration, log *zap.Logger) (*LLMGateway, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, models.BrandProfile]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init profile cache: %w", err)
	}
	return &LLMGateway{
		client:   client,
		tokens:   tokens,
		hubURL:   hubURL,
		brainURL: brainURL,
		model:    model,
		cache:    cache,
		cacheTTL: cacheTTL,
		log:      log,
	}, nil
}

// Close releases the profile cache.
func (g *LLMGateway) Close() {
	g.cache.Close()
}

// LoadBrandProfile fetches a tenant's brand profile, best-effort. A nil
// result means generation should fall back to the generic persona.
func (g *LLMGateway) LoadBrandProfile(ctx context.Context, tenantID string) *models.BrandProfile {
	if profile, ok := g.cache.Get(tenantID); ok {
		return &profile
	}

	token, err := g.tokens.IssueInternalToken("")
	if err != nil {
		g.log.Warn("failed to sign service token for brand profile", zap.Error(err))
		return nil
	}

	var profile models.BrandProfile
	url := g.brainURL + "/v1/brand/profile/" + tenantID
	err = g.client.Get(ctx, url, map[string]string{"Authorization": "Bearer " + token}, &profile, httpclient.Options{})
	if err != nil {
		g.log.Warn("failed to load brand profile",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return nil
	}

	g.cache.SetWithTTL(tenantID, profile, profileCacheCost, g.cacheTTL)
	return &profile
}

// Generate produces a post for the given brief. The remote's reply is
// expected to be a single JSON object; anything else degrades to returning
// the raw text as content rather than failing the whole operation.
func (g *LLMGateway) Generate(ctx context.Context, params GenerateParams) (models.GeneratedPost, error) {
	var profile *models.BrandProfile
	if params.TenantID != "" {
		profile = g.LoadBrandProfile(ctx, params.TenantID)
	}

	systemPrompt := buildSystemPrompt(profile)
	prompt := buildUserPrompt(systemPrompt, params)

	token, err := g.tokens.IssueInternalToken("")
	if err != nil {
		return models.GeneratedPost{}, fmt.Errorf("sign service token: %w", err)
	}

	body := map[string]any{
		"provider": "anthropic",
		"model":    g.model,
		"input": map[string]any{
			"messages":    []map[string]string{{"role": "user", "content": prompt}},
			"system":      systemPrompt,
			"max_tokens":  800,
			"temperature": 0.7,
		},
	}

	var resp struct {
		Output string `json:"output"`
	}
	err = g.client.Post(ctx, g.hubURL+"/v1/llm/generate", body,
		map[string]string{"Authorization": "Bearer " + token},
		&resp, httpclient.Options{Timeout: generationTimeout})
	if err != nil {
		return models.GeneratedPost{}, fmt.Errorf("llm generate: %w", err)
	}

	return ParseGeneratedPost(resp.Output), nil
}

// ParseGeneratedPost extracts the structured result from raw model output.
// The model is told to reply with a single JSON object, but it sometimes
// wraps it in prose; we take the span from the first '{' to the last '}'.
// If no parseable object is found the raw text becomes the content.
func ParseGeneratedPost(output string) models.GeneratedPost {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start >= 0 && end > start {
		raw := []byte(output[start : end+1])
		var post models.GeneratedPost
		if err := json.Unmarshal(raw, &post); err == nil {
			if post.ImagePrompt == "" {
				// Models don't reliably stick to snake_case for this key.
				var alt struct {
					ImagePrompt string `json:"imagePrompt"`
				}
				if json.Unmarshal(raw, &alt) == nil {
					post.ImagePrompt = alt.ImagePrompt
				}
			}
			if post.Hashtags == nil {
				post.Hashtags = []string{}
			}
			return post
		}
	}
	return models.GeneratedPost{
		Content:     output,
		Hashtags:    []string{},
		ImagePrompt: "",
	}
}

// buildSystemPrompt assembles a persona deterministically from whichever
// profile fields are present.
func buildSystemPrompt(profile *models.BrandProfile) string {
	if profile == nil {
		return "You are an expert social media copywriter.\nWrite engaging posts that drive engagement."
	}

	parts := []string{
		fmt.Sprintf("You are a professional SMM copywriter for a %s business.", profile.BusinessType),
	}
	if profile.BusinessName != "" {
		parts = append(parts, fmt.Sprintf("Business name: %q", profile.BusinessName))
	}
	if profile.City != "" || profile.Country != "" {
		parts = append(parts, fmt.Sprintf("Location: %s, %s", profile.City, profile.Country))
	}
	if len(profile.Languages) > 0 {
		parts = append(parts, "Languages: "+strings.Join(profile.Languages, ", "))
	}
	if profile.TargetAudience != "" {
		parts = append(parts, "Target audience: "+profile.TargetAudience)
	}
	if profile.PositioningStyle != "" {
		parts = append(parts, "Brand positioning: "+profile.PositioningStyle)
	}
	if profile.Tagline != "" {
		parts = append(parts, fmt.Sprintf("Tagline: %q", profile.Tagline))
	}
	if profile.UniqueValue != "" {
		parts = append(parts, "Unique value: "+profile.UniqueValue)
	}
	tone := profile.PreferredTone
	if tone == "" {
		tone = "professional and warm"
	}
	parts = append(parts, "Tone: "+tone)

	if len(profile.ApprovedPosts) > 0 {
		parts = append(parts, "\n--- APPROVED POST EXAMPLES (match this style) ---")
		for i, post := range profile.ApprovedPosts {
			if i >= 3 {
				break
			}
			content := post.Content
			if len(content) > 200 {
				content = content[:200]
			}
			parts = append(parts, fmt.Sprintf("Example %d: %s...", i+1, content))
		}
	}

	return strings.Join(parts, "\n")
}

func buildUserPrompt(systemPrompt string, params GenerateParams) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	if params.Tone != "" {
		b.WriteString("Requested tone: " + params.Tone + "\n")
	}
	if params.Audience != "" {
		b.WriteString("Target audience override: " + params.Audience + "\n")
	}
	if params.Platform != "" {
		b.WriteString("Platform: " + params.Platform + " (adjust length and style)\n")
	}
	if params.ImageBrief != "" {
		b.WriteString("Image context: " + params.ImageBrief + "\n")
	}
	b.WriteString(`
Rules:
- Match the language of the brief
- Be concise and punchy
- Include relevant emojis
- End with a call-to-action

Return ONLY valid JSON with this structure:
{
  "content": "The post text with emojis",
  "hashtags": ["hashtag1", "hashtag2", "hashtag3"],
  "image_prompt": "Detailed English prompt for AI image generation. Include: style, colors, composition, lighting, mood."
}

The image_prompt must be:
- In ENGLISH only
- Detailed (style, colors, composition, lighting)
- Suitable for AI image generation
- Related to the post content

Write a social media post about: `)
	b.WriteString(params.Brief)
	return b.String()
}
