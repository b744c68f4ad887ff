package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/archon-hq/archon/internal/audit"
)

// Execer is the narrow slice of pgxpool.Pool the audit writer needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditWriter persists audit events the web process enqueued.
type AuditWriter struct {
	db        Execer
	logger    *slog.Logger
	retention time.Duration
}

// NewAuditWriter constructs an AuditWriter. Rows older than retention are
// removed by the scheduled prune task.
func NewAuditWriter(db Execer, logger *slog.Logger, retention time.Duration) *AuditWriter {
	return &AuditWriter{db: db, logger: logger, retention: retention}
}

// HandleRecord processes audit.TaskTypeRecord tasks. A payload that does
// not decode can never succeed and is dropped without retry.
func (w *AuditWriter) HandleRecord(ctx context.Context, t *asynq.Task) error {
	var event audit.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		w.logger.Error("decode audit event", slog.Any("error", err))
		return asynq.SkipRetry
	}
	_, err := w.db.Exec(ctx,
		`INSERT INTO audit_log (id, subject, action, resource, at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Subject, event.Action, event.Resource, event.At)
	return err
}

// HandlePrune processes TaskTypeAuditPrune tasks.
func (w *AuditWriter) HandlePrune(ctx context.Context, _ *asynq.Task) error {
	cutoff := time.Now().UTC().Add(-w.retention)
	tag, err := w.db.Exec(ctx, `DELETE FROM audit_log WHERE at < $1`, cutoff)
	if err != nil {
		return err
	}
	w.logger.Info("audit prune", slog.Int64("removed", tag.RowsAffected()))
	return nil
}
