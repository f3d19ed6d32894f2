package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// AuditLog is one audit_logs row. Postings record action ledger.post, ledger.reverse or
// ledger.recompute against the source kind and document id.
type AuditLog struct {
	ActorID  int64          `json:"actor_id,omitempty"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"occurred_at"`
}

// Validate rejects rows missing their subject.
func (l AuditLog) Validate() error {
	switch {
	case l.Action == "":
		return Validation("audit log requires an action")
	case l.Entity == "" || l.EntityID == "":
		return Validation("audit log %s requires entity and entity id", l.Action)
	}
	return nil
}

// AuditPort is implemented by AuditLogger and test recorders.
type AuditPort interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes audit_logs rows inside the caller's transaction, so an aborted posting
// leaves no audit trail.
type AuditLogger struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("shared: audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	if log.Meta == nil {
		log.Meta = map[string]any{}
	}
	if log.At.IsZero() {
		log.At = l.now().UTC()
	}
	meta, err := json.Marshal(log.Meta)
	if err != nil {
		return fmt.Errorf("shared: audit meta: %w", err)
	}
	var actor *int64
	if log.ActorID > 0 {
		actor = &log.ActorID
	}
	sql, args, err := l.builder.Insert("audit_logs").
		Columns("actor_id", "action", "entity", "entity_id", "meta", "occurred_at").
		Values(actor, log.Action, log.Entity, log.EntityID, meta, log.At).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.Conn(ctx, l.pool).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("shared: audit %s: %w", log.Action, err)
	}
	return nil
}
