package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// SessionExpirer removes idle sessions. *service.SessionService satisfies it.
type SessionExpirer interface {
	Expire(ctx context.Context, id string) (time.Duration, error)
	ScheduleExpiry(ctx context.Context, id string, delay time.Duration) error
}

// ExpiryWorker processes session:expire tasks
type ExpiryWorker struct {
	sessions SessionExpirer
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(sessions SessionExpirer) *ExpiryWorker {
	return &ExpiryWorker{sessions: sessions}
}

// ProcessTask expires the session, or pushes the check back when the
// session saw activity since the task was queued.
func (w *ExpiryWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.SessionID == "" {
		return fmt.Errorf("missing session id: %w", asynq.SkipRetry)
	}

	remaining, err := w.sessions.Expire(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("failed to expire session %s: %w", payload.SessionID, err)
	}
	if remaining > 0 {
		log.Printf("Session %s still active, checking again in %s", payload.SessionID, remaining.Round(time.Second))
		return w.sessions.ScheduleExpiry(ctx, payload.SessionID, remaining)
	}
	return nil
}
