// Package integration applies posting plans to the ledger, stock, partner ledger and
// receivables as one unit, and re-derives them when a document changes or disappears.
package integration

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Bookings stores booking headers and lines.
type Bookings interface {
	Insert(ctx context.Context, draft bookings.Draft) (bookings.Booking, error)
	DeleteBySource(ctx context.Context, ref sources.Ref) (int64, error)
}

// Stock applies level deltas and keeps the movement log.
type Stock interface {
	ApplyDeltas(ctx context.Context, deltas []inventory.Delta) error
	Record(ctx context.Context, movements []inventory.Movement) error
	RemoveBySource(ctx context.Context, ref sources.Ref) error
}

// Entries stores partner ledger rows.
type Entries interface {
	Insert(ctx context.Context, entries []ledger.Entry) error
	DeleteBySource(ctx context.Context, ref sources.Ref) (int64, error)
}

// Receipts stores receivable receipts.
type Receipts interface {
	CreateReceipt(ctx context.Context, rc ar.Receipt) (ar.Receipt, error)
	GetReceiptBySource(ctx context.Context, ref sources.Ref) (ar.Receipt, error)
	UpdateReceipt(ctx context.Context, rc ar.Receipt) error
	DeleteReceiptBySource(ctx context.Context, ref sources.Ref) (int64, error)
}

// Metrics counts posting outcomes.
type Metrics interface {
	ObservePosting(source, action string)
	ObserveFailure(source, kind string)
}

// Deps groups the Coordinator's collaborators. Audit and Metrics are optional.
type Deps struct {
	Tx       db.Transactor
	Bookings Bookings
	Stock    Stock
	Entries  Entries
	Receipts Receipts
	Audit    shared.AuditPort
	Metrics  Metrics
	Logger   *slog.Logger
}

// Coordinator owns every write a posting plan implies.
type Coordinator struct {
	tx       db.Transactor
	bookings Bookings
	stock    Stock
	entries  Entries
	receipts Receipts
	audit    shared.AuditPort
	metrics  Metrics
	logger   *slog.Logger
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		tx:       deps.Tx,
		bookings: deps.Bookings,
		stock:    deps.Stock,
		entries:  deps.Entries,
		receipts: deps.Receipts,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		logger:   logger,
	}
}

// Result reports what a post or repost wrote.
type Result struct {
	Booking *bookings.Booking
	Receipt *ar.Receipt
}

const (
	actionPost   = "post"
	actionRepost = "repost"
	actionUnpost = "unpost"
)

// Post writes a fresh plan: stock, booking, movements, partner entries and receipt effect.
func (c *Coordinator) Post(ctx context.Context, plan posting.Plan) (Result, error) {
	var result Result
	err := c.run(ctx, actionPost, plan, func(ctx context.Context) error {
		if err := validatePlan(plan); err != nil {
			return err
		}
		changes, err := c.resolveReceipts(ctx, nil, &plan, false)
		if err != nil {
			return err
		}
		if err := c.stock.ApplyDeltas(ctx, plan.Stock); err != nil {
			return err
		}
		if result.Booking, err = c.write(ctx, plan); err != nil {
			return err
		}
		result.Receipt, err = c.applyReceipts(ctx, changes)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// Repost replaces what prev wrote with next. Stock moves by the per-product difference,
// stale rows are removed by source and next is written in full.
func (c *Coordinator) Repost(ctx context.Context, prev, next posting.Plan) (Result, error) {
	if prev.Source != next.Source {
		return Result{}, shared.Validation("cannot repost %s over %s", next.Source, prev.Source)
	}
	var result Result
	err := c.run(ctx, actionRepost, next, func(ctx context.Context) error {
		if err := validatePlan(next); err != nil {
			return err
		}
		changes, err := c.resolveReceipts(ctx, &prev, &next, true)
		if err != nil {
			return err
		}
		if err := c.stock.ApplyDeltas(ctx, posting.StockChange(prev, next)); err != nil {
			return err
		}
		if err := c.clear(ctx, next.Source); err != nil {
			return err
		}
		if result.Booking, err = c.write(ctx, next); err != nil {
			return err
		}
		result.Receipt, err = c.applyReceipts(ctx, changes)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// Unpost reverses everything plan wrote.
func (c *Coordinator) Unpost(ctx context.Context, plan posting.Plan) error {
	return c.run(ctx, actionUnpost, plan, func(ctx context.Context) error {
		changes, err := c.resolveReceipts(ctx, &plan, nil, true)
		if err != nil {
			return err
		}
		if err := c.stock.ApplyDeltas(ctx, inventory.Negate(plan.Stock)); err != nil {
			return err
		}
		if err := c.clear(ctx, plan.Source); err != nil {
			return err
		}
		_, err = c.applyReceipts(ctx, changes)
		return err
	})
}

func (c *Coordinator) run(ctx context.Context, action string, plan posting.Plan, fn func(ctx context.Context) error) error {
	kind := string(plan.Source.Kind)
	err := c.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		return c.record(ctx, action, plan)
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveFailure(kind, shared.KindName(err))
		}
		level := slog.LevelWarn
		if _, ok := shared.AsDomainError(err); !ok {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "posting rejected",
			slog.String("action", action),
			slog.String("source", plan.Source.String()),
			slog.Any("error", err))
		return err
	}
	if c.metrics != nil {
		c.metrics.ObservePosting(kind, action)
	}
	debit, _ := plan.Totals()
	c.logger.Info("posting applied",
		slog.String("action", action),
		slog.String("source", plan.Source.String()),
		slog.String("reference", plan.Reference),
		slog.String("amount", plan.Amount.StringFixed(2)),
		slog.String("debit", debit.StringFixed(2)))
	return nil
}

func (c *Coordinator) record(ctx context.Context, action string, plan posting.Plan) error {
	if c.audit == nil {
		return nil
	}
	return c.audit.Record(ctx, shared.AuditLog{
		Action:   "ledger." + action,
		Entity:   string(plan.Source.Kind),
		EntityID: strconv.FormatInt(plan.Source.DocumentID, 10),
		Meta: map[string]any{
			"reference": plan.Reference,
			"amount":    plan.Amount.StringFixed(2),
		},
	})
}

func (c *Coordinator) write(ctx context.Context, plan posting.Plan) (*bookings.Booking, error) {
	var booking *bookings.Booking
	if plan.Booking != nil {
		inserted, err := c.bookings.Insert(ctx, *plan.Booking)
		if err != nil {
			return nil, err
		}
		booking = &inserted
	}
	if len(plan.Movements) > 0 {
		if err := c.stock.Record(ctx, plan.Movements); err != nil {
			return nil, err
		}
	}
	if len(plan.Entries) > 0 {
		if err := c.entries.Insert(ctx, plan.Entries); err != nil {
			return nil, err
		}
	}
	return booking, nil
}

func (c *Coordinator) clear(ctx context.Context, ref sources.Ref) error {
	if _, err := c.bookings.DeleteBySource(ctx, ref); err != nil {
		return err
	}
	if err := c.stock.RemoveBySource(ctx, ref); err != nil {
		return err
	}
	_, err := c.entries.DeleteBySource(ctx, ref)
	return err
}

func validatePlan(plan posting.Plan) error {
	if plan.Source.IsZero() || !plan.Source.Kind.Valid() {
		return shared.Validation("posting source is required")
	}
	if plan.Booking != nil {
		if plan.Booking.Source != plan.Source {
			return shared.BalanceIntegrity("booking source %s does not match %s", plan.Booking.Source, plan.Source)
		}
		if err := plan.Booking.Validate(); err != nil {
			return err
		}
	}
	for _, m := range plan.Movements {
		if !m.Qty.IsPositive() {
			return shared.Validation("movement quantity must be positive for product %d", m.ProductID)
		}
	}
	if plan.Receipt != nil && plan.Receipt.Target.IsZero() {
		return shared.Validation("receipt effect of %s has no target", plan.Source)
	}
	return nil
}
