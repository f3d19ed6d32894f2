package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// ReceiptScanner lists receipts whose amounts or status disagree.
type ReceiptScanner interface {
	UnbalancedReceipts(ctx context.Context) ([]ar.Receipt, error)
}

// ReceiptAuditJob checks due == paid + remaining on every receipt.
type ReceiptAuditJob struct {
	Receipts ReceiptScanner
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewReceiptAuditJob initialises the receipt audit handler.
func NewReceiptAuditJob(receipts ReceiptScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptAuditJob {
	return &ReceiptAuditJob{Receipts: receipts, Logger: logger, Metrics: metrics}
}

// Handle runs one receipt audit.
func (j *ReceiptAuditJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Receipts == nil {
		return errors.New("receipt audit: repository not configured")
	}
	payload, err := decodeScan(t)
	if err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskReceiptAudit)
	defer func() { err = tracker.End(err) }()

	logger := loggerOrDefault(j.Logger).With(slog.String("job", TaskReceiptAudit), slog.String("trigger", payload.Trigger))
	rows, err := j.Receipts.UnbalancedReceipts(ctx)
	if err != nil {
		logger.Error("receipt audit failed", slog.Any("error", err))
		return err
	}
	for _, rc := range rows {
		logger.Warn("unbalanced receipt",
			slog.Int64("receipt_id", rc.ID),
			slog.String("reference", rc.Reference),
			slog.String("status", string(rc.Status)),
			slog.String("due", rc.Due.StringFixed(2)),
			slog.String("paid", rc.Paid.StringFixed(2)),
			slog.String("remaining", rc.Remaining.StringFixed(2)),
		)
	}
	j.Metrics.AddViolations("receipt_unbalanced", len(rows))
	logger.Info("completed receipt audit", slog.Int("violations", len(rows)))
	return nil
}
