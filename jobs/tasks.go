// Package jobs runs background work: persisting audit events enqueued by
// the web process and pruning aged audit rows.
package jobs

import "github.com/hibiken/asynq"

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeAuditPrune is the scheduled task removing expired audit rows.
	TaskTypeAuditPrune = "audit:prune"
)

// NewAuditPruneTask constructs the scheduled prune task. It carries no
// payload; retention is worker configuration.
func NewAuditPruneTask() *asynq.Task {
	return asynq.NewTask(TaskTypeAuditPrune, nil)
}
