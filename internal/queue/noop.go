package queue

import (
	"context"

	"content-writer/internal/models"
)

// NoopDispatcher is used when no broker is configured. Enqueue reports no
// job id, which tells callers to fall back to synchronous-style processing.
type NoopDispatcher struct{}

func (NoopDispatcher) Enqueue(context.Context, models.Job) (string, error) {
	return "", nil
}
