package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"content-writer/internal/httpclient"
	"content-writer/internal/models"
)

const eventTimeout = 10 * time.Second

// EventsGateway ships audit events to the events service. Every call is
// fire-and-forget: a telemetry hiccup must never fail the caller's request,
// so failures are logged and the signatures return nothing.
type EventsGateway struct {
	client  *httpclient.Client
	tokens  TokenIssuer
	baseURL string
	log     *zap.Logger
}

// NewEventsGateway wires the gateway against the configured events base URL.
func NewEventsGateway(client *httpclient.Client, tokens TokenIssuer, baseURL string, log *zap.Logger) *EventsGateway {
	return &EventsGateway{client: client, tokens: tokens, baseURL: baseURL, log: log}
}

// LogEvent records a lifecycle event.
func (g *EventsGateway) LogEvent(_ context.Context, event models.Event) {
	g.post("/v1/events/log", event)
}

// ApplyReward forwards a reward payload.
func (g *EventsGateway) ApplyReward(_ context.Context, payload map[string]any) {
	g.post("/v1/rewards/apply", payload)
}

// post delivers in the background under its own deadline. The caller's
// context is deliberately not inherited: a request finishing (or failing)
// must neither wait for nor cancel its telemetry.
func (g *EventsGateway) post(path string, body any) {
	token, err := g.tokens.IssueInternalToken("")
	if err != nil {
		g.log.Warn("failed to sign service token for event", zap.Error(err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		err := g.client.Post(ctx, g.baseURL+path, body,
			map[string]string{"Authorization": "Bearer " + token},
			nil, httpclient.Options{Timeout: eventTimeout, MaxRetries: httpclient.NoRetry})
		if err != nil {
			g.log.Warn("event post failed", zap.String("path", path), zap.Error(err))
		}
	}()
}
