package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"content-writer/internal/httpclient"
	"content-writer/internal/models"
)

// FeedbackResponse is whatever the insights service returned for the
// primary feedback write.
type FeedbackResponse map[string]any

// InsightsGateway talks to the insights service for generation hints and
// approval feedback.
type InsightsGateway struct {
	client  *httpclient.Client
	tokens  TokenIssuer
	baseURL string
	log     *zap.Logger
}

// NewInsightsGateway wires the gateway against the configured insights base URL.
func NewInsightsGateway(client *httpclient.Client, tokens TokenIssuer, baseURL string, log *zap.Logger) *InsightsGateway {
	return &InsightsGateway{client: client, tokens: tokens, baseURL: baseURL, log: log}
}

// Hints fetches generation hints for a tenant. Hints are an optimization,
// not a requirement: any failure returns empty hints and a warning, never
// an error.
func (g *InsightsGateway) Hints(ctx context.Context, tenantID string) models.Hints {
	token, err := g.tokens.IssueInternalToken("")
	if err != nil {
		g.log.Warn("failed to sign service token for hints", zap.Error(err))
		return models.Hints{}
	}

	var resp struct {
		Hints models.Hints `json:"hints"`
	}
	url := g.baseURL + "/v1/insights/hints/writer?tenantId=" + tenantID
	err = g.client.Get(ctx, url, map[string]string{"Authorization": "Bearer " + token}, &resp, httpclient.Options{})
	if err != nil {
		g.log.Warn("failed to get hints from insights",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return models.Hints{}
	}
	return resp.Hints
}

// SendFeedback records a caller's verdict. The primary feedback write is
// the source of truth and its failure propagates; the follow-up learning
// event is advisory telemetry and is swallowed on failure.
func (g *InsightsGateway) SendFeedback(ctx context.Context, input models.FeedbackInput) (FeedbackResponse, error) {
	token, err := g.tokens.IssueInternalToken("")
	if err != nil {
		return nil, fmt.Errorf("sign service token: %w", err)
	}
	headers := map[string]string{"Authorization": "Bearer " + token}

	preview := input.OriginalContent
	if len(preview) > 200 {
		preview = preview[:200]
	}

	var resp FeedbackResponse
	err = g.client.Post(ctx, g.baseURL+"/v1/metrics/feedback", map[string]any{
		"generationId":    input.ContentID,
		"tenantId":        input.TenantID,
		"action":          input.FeedbackType,
		"contentPreview":  preview,
		"editedContent":   input.EditedContent,
		"rejectionReason": input.RejectionReason,
		"originalContent": input.OriginalContent,
		"sourceService":   "writer",
	}, headers, &resp, httpclient.Options{})
	if err != nil {
		return nil, fmt.Errorf("send feedback: %w", err)
	}

	err = g.client.Post(ctx, g.baseURL+"/v1/insights/learning-event", map[string]any{
		"tenantId":  input.TenantID,
		"eventType": "feedback_received",
		"service":   "writer",
		"data": map[string]any{
			"contentId":    input.ContentID,
			"feedbackType": input.FeedbackType,
			"score":        input.Score,
			"hasEdit":      input.EditedContent != "",
		},
	}, headers, nil, httpclient.Options{})
	if err != nil {
		g.log.Warn("failed to send learning event", zap.Error(err))
	}

	return resp, nil
}
