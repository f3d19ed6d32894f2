package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Service guards stock levels and maintains the movement log.
type Service struct {
	repo   Repository
	tx     db.Transactor
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo Repository, tx db.Transactor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tx: tx, logger: logger}
}

// ApplyDeltas changes stock for every product atomically. All resulting levels are checked
// before the first write, so a rejected batch leaves every level untouched.
func (s *Service) ApplyDeltas(ctx context.Context, deltas []Delta) error {
	merged := MergeDeltas(deltas)
	if len(merged) == 0 {
		return nil
	}
	ids := make([]int64, len(merged))
	for i, d := range merged {
		ids[i] = d.ProductID
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		levels, err := s.repo.LockLevels(ctx, ids)
		if err != nil {
			return err
		}
		next := make(map[int64]decimal.Decimal, len(merged))
		for _, d := range merged {
			current := levels[d.ProductID]
			qty := current.Add(d.Qty)
			if qty.IsNegative() {
				name := d.ProductName
				if name == "" {
					name = fmt.Sprintf("product %d", d.ProductID)
				}
				return shared.InsufficientStock(name, current, d.Qty.Neg()).WithDetail("product_id", d.ProductID)
			}
			next[d.ProductID] = qty
		}
		for _, d := range merged {
			if err := s.repo.SetLevel(ctx, d.ProductID, next[d.ProductID]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Record appends movements to the log.
func (s *Service) Record(ctx context.Context, movements []Movement) error {
	for _, m := range movements {
		if !m.Qty.IsPositive() {
			return shared.Validation("movement quantity must be positive for product %d", m.ProductID)
		}
		if m.Direction != DirectionIn && m.Direction != DirectionOut {
			return shared.Validation("unknown movement direction %q", m.Direction)
		}
	}
	return s.repo.InsertMovements(ctx, movements)
}

// RemoveBySource deletes every movement written by a document.
func (s *Service) RemoveBySource(ctx context.Context, ref sources.Ref) error {
	n, err := s.repo.DeleteMovementsBySource(ctx, ref)
	if err != nil {
		return err
	}
	s.logger.Debug("movements removed", slog.String("source", ref.String()), slog.Int64("rows", n))
	return nil
}

// Level returns the current stock of a product.
func (s *Service) Level(ctx context.Context, productID int64) (decimal.Decimal, error) {
	levels, err := s.repo.LockLevels(ctx, []int64{productID})
	if err != nil {
		return decimal.Zero, err
	}
	return levels[productID], nil
}

// Movements lists the movement log.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ProductID == 0 && filter.Source == nil {
		return nil, shared.Validation("product or source required")
	}
	return s.repo.ListMovements(ctx, filter)
}
