package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

type fakeExpirer struct {
	remaining   time.Duration
	err         error
	expired     []string
	rescheduled map[string]time.Duration
}

func (f *fakeExpirer) Expire(_ context.Context, id string) (time.Duration, error) {
	f.expired = append(f.expired, id)
	return f.remaining, f.err
}

func (f *fakeExpirer) ScheduleExpiry(_ context.Context, id string, delay time.Duration) error {
	if f.rescheduled == nil {
		f.rescheduled = make(map[string]time.Duration)
	}
	f.rescheduled[id] = delay
	return nil
}

func TestExpiryWorker_ExpiresIdleSession(t *testing.T) {
	f := &fakeExpirer{}
	w := NewExpiryWorker(f)

	task := asynq.NewTask("session:expire", []byte(`{"sessionId":"abc"}`))
	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if len(f.expired) != 1 || f.expired[0] != "abc" {
		t.Errorf("expected abc to be expired, got %v", f.expired)
	}
	if len(f.rescheduled) != 0 {
		t.Errorf("expected no reschedule, got %v", f.rescheduled)
	}
}

func TestExpiryWorker_ReschedulesActiveSession(t *testing.T) {
	f := &fakeExpirer{remaining: 10 * time.Minute}
	w := NewExpiryWorker(f)

	task := asynq.NewTask("session:expire", []byte(`{"sessionId":"abc"}`))
	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if f.rescheduled["abc"] != 10*time.Minute {
		t.Errorf("expected reschedule in 10m, got %v", f.rescheduled)
	}
}

func TestExpiryWorker_BadPayloadSkipsRetry(t *testing.T) {
	w := NewExpiryWorker(&fakeExpirer{})

	err := w.ProcessTask(context.Background(), asynq.NewTask("session:expire", []byte(`not json`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("expected SkipRetry, got %v", err)
	}
}
