// Package audit records the outcome of guarded mutations. Events are
// enqueued to the background worker rather than written inline, so a slow
// audit store never extends the guarded transaction.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskTypeRecord is the asynq task type carrying audit events.
const TaskTypeRecord = "audit:record"

// Event describes one completed guarded mutation.
type Event struct {
	ID       string    `json:"id"`
	Subject  string    `json:"subject"`
	Action   string    `json:"action"`
	Resource string    `json:"resource"`
	At       time.Time `json:"at"`
}

// Recorder accepts audit events. Recording is best-effort; implementations
// must not fail the mutation that produced the event.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// AsynqRecorder enqueues events for the background worker.
type AsynqRecorder struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqRecorder constructs a recorder over an asynq client.
func NewAsynqRecorder(client *asynq.Client, logger *slog.Logger) *AsynqRecorder {
	return &AsynqRecorder{client: client, logger: logger}
}

// Record enqueues the event, filling in ID and timestamp when absent.
// Enqueue failures are logged and swallowed.
func (r *AsynqRecorder) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("marshal audit event", slog.Any("error", err))
		return
	}
	if _, err := r.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeRecord, payload)); err != nil {
		r.logger.Error("enqueue audit event", slog.Any("error", err),
			slog.String("action", event.Action), slog.String("resource", event.Resource))
	}
}

// NopRecorder drops all events. Used in tests and when no worker runs.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(context.Context, Event) {}

var (
	_ Recorder = (*AsynqRecorder)(nil)
	_ Recorder = NopRecorder{}
)
