package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// IntegrityChecker reports bookings that break double-entry rules.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) (bookings.IntegrityReport, error)
}

// GLIntegrityJob logs and counts every imbalanced booking and malformed line.
type GLIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle runs one integrity scan. Violations are reported, not returned as errors,
// so the task is not retried for data that will not change on its own.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Checker == nil {
		return errors.New("gl integrity: checker not configured")
	}
	payload, err := decodeScan(t)
	if err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	logger := loggerOrDefault(j.Logger).With(slog.String("job", TaskGLIntegrity), slog.String("trigger", payload.Trigger))
	report, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		return err
	}
	for _, row := range report.Imbalanced {
		logger.Warn("imbalanced booking",
			slog.Int64("booking_id", row.BookingID),
			slog.String("reference", row.Reference),
			slog.String("debit", row.Debit.StringFixed(2)),
			slog.String("credit", row.Credit.StringFixed(2)),
		)
	}
	for _, row := range report.Malformed {
		logger.Warn("malformed booking line",
			slog.Int64("line_id", row.LineID),
			slog.Int64("booking_id", row.BookingID),
			slog.String("debit", row.Debit.StringFixed(2)),
			slog.String("credit", row.Credit.StringFixed(2)),
		)
	}
	j.Metrics.AddViolations("booking_imbalanced", len(report.Imbalanced))
	j.Metrics.AddViolations("line_malformed", len(report.Malformed))
	logger.Info("completed integrity scan",
		slog.Int("violations", report.Violations()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
