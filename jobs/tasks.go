package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrity scans bookings for debit/credit mismatches and malformed lines.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskReceiptAudit scans receipts whose paid and remaining amounts disagree with due.
	TaskReceiptAudit = "ar:receipt_audit"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ScanPayload carries who asked for an audit run.
type ScanPayload struct {
	Trigger string `json:"trigger"`
}

// CleanupPayload sets how long idempotency keys are kept.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewGLIntegrityTask constructs the ledger integrity task.
func NewGLIntegrityTask(trigger string) (*asynq.Task, error) {
	return newScanTask(TaskGLIntegrity, trigger)
}

// NewReceiptAuditTask constructs the receipt audit task.
func NewReceiptAuditTask(trigger string) (*asynq.Task, error) {
	return newScanTask(TaskReceiptAudit, trigger)
}

// NewIdempotencyCleanupTask constructs the retention task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

func newScanTask(taskType, trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "cron"
	}
	data, err := json.Marshal(ScanPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

func decodeScan(t *asynq.Task) (ScanPayload, error) {
	var payload ScanPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, asynq.SkipRetry
	}
	return payload, nil
}
