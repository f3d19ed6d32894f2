package adjustments

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Products loads product snapshots.
type Products interface {
	GetMany(ctx context.Context, ids []int64) (map[int64]products.Product, error)
}

// Levels reads and locks a product's stock level.
type Levels interface {
	Level(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// Rates looks up the rate for foreign-cost products when none is given.
type Rates interface {
	Rate(ctx context.Context, currency string, on time.Time) (decimal.Decimal, error)
}

// Poster applies, re-derives and reverses posting plans.
type Poster interface {
	Post(ctx context.Context, plan posting.Plan) (integration.Result, error)
	Repost(ctx context.Context, prev, next posting.Plan) (integration.Result, error)
	Unpost(ctx context.Context, plan posting.Plan) error
}

// Locker serialises writers of one document.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Deps groups the Service's collaborators.
type Deps struct {
	Repo                Repository
	Tx                  db.Transactor
	Products            Products
	Levels              Levels
	Rates               Rates
	Builder             *posting.Builder
	Poster              Poster
	Locker              Locker
	ForeignCostCurrency string
	Logger              *slog.Logger
}

// Service runs stock and product adjustments.
type Service struct {
	repo     Repository
	tx       db.Transactor
	products Products
	levels   Levels
	rates    Rates
	builder  *posting.Builder
	poster   Poster
	locker   Locker
	foreign  string
	logger   *slog.Logger
}

// NewService constructs the service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Locker == nil {
		deps.Locker = shared.NewDocumentLocker(nil, 0)
	}
	return &Service{
		repo:     deps.Repo,
		tx:       deps.Tx,
		products: deps.Products,
		levels:   deps.Levels,
		rates:    deps.Rates,
		builder:  deps.Builder,
		poster:   deps.Poster,
		locker:   deps.Locker,
		foreign:  deps.ForeignCostCurrency,
		logger:   deps.Logger,
	}
}

const (
	lockStockAdjustment   = "stock_adjustment"
	lockProductAdjustment = "product_adjustment"
)

// ============================================================================
// STOCK ADJUSTMENTS
// ============================================================================

// CreateStock records and posts a stock decrease.
func (s *Service) CreateStock(ctx context.Context, req CreateStockAdjustmentRequest) (StockAdjustment, error) {
	if err := httpx.Validate(req); err != nil {
		return StockAdjustment{}, err
	}
	var adj StockAdjustment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		items, err := s.load(ctx, lineProductIDs(req.Lines))
		if err != nil {
			return err
		}
		draft := StockAdjustment{Reference: req.Reference, AdjustmentDate: req.AdjustmentDate, Note: req.Note}
		if draft.Rate, err = s.rate(ctx, req.Rate, req.AdjustmentDate, items); err != nil {
			return err
		}
		if draft.Lines, draft.Amount, err = s.price(req.Lines, items, draft.Rate); err != nil {
			return err
		}
		if adj, err = s.repo.CreateStock(ctx, draft); err != nil {
			return err
		}
		plan, err := s.builder.Adjustment(ctx, stockSnapshot(adj, items))
		if err != nil {
			return err
		}
		_, err = s.poster.Post(ctx, plan)
		return err
	})
	if err != nil {
		return StockAdjustment{}, err
	}
	s.logger.Info("stock adjustment posted",
		slog.Int64("adjustment_id", adj.ID),
		slog.String("reference", adj.Reference),
		slog.String("amount", adj.Amount.StringFixed(2)))
	return adj, nil
}

// UpdateStock replaces an adjustment's lines and re-derives its postings.
func (s *Service) UpdateStock(ctx context.Context, id int64, req UpdateStockAdjustmentRequest) (StockAdjustment, error) {
	if err := httpx.Validate(req); err != nil {
		return StockAdjustment{}, err
	}
	var adj StockAdjustment
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockStockAdjustment, id), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, err := s.repo.GetStock(ctx, id)
			if err != nil {
				return err
			}
			ids := append(stockProductIDs(old.Lines), lineProductIDs(req.Lines)...)
			items, err := s.load(ctx, ids)
			if err != nil {
				return err
			}
			prev, err := s.builder.Adjustment(ctx, stockSnapshot(old, items))
			if err != nil {
				return err
			}
			next := old
			next.AdjustmentDate, next.Note = req.AdjustmentDate, req.Note
			if next.Rate, err = s.rate(ctx, req.Rate, req.AdjustmentDate, items); err != nil {
				return err
			}
			if next.Lines, next.Amount, err = s.price(req.Lines, items, next.Rate); err != nil {
				return err
			}
			if adj, err = s.repo.UpdateStock(ctx, next); err != nil {
				return err
			}
			plan, err := s.builder.Adjustment(ctx, stockSnapshot(adj, items))
			if err != nil {
				return err
			}
			_, err = s.poster.Repost(ctx, prev, plan)
			return err
		})
	})
	if err != nil {
		return StockAdjustment{}, err
	}
	s.logger.Info("stock adjustment updated", slog.Int64("adjustment_id", adj.ID), slog.String("amount", adj.Amount.StringFixed(2)))
	return adj, nil
}

// DeleteStock reverses and removes an adjustment.
func (s *Service) DeleteStock(ctx context.Context, id int64) error {
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockStockAdjustment, id), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, err := s.repo.GetStock(ctx, id)
			if err != nil {
				return err
			}
			items, err := s.load(ctx, stockProductIDs(old.Lines))
			if err != nil {
				return err
			}
			prev, err := s.builder.Adjustment(ctx, stockSnapshot(old, items))
			if err != nil {
				return err
			}
			if err := s.repo.DeleteStock(ctx, id); err != nil {
				return err
			}
			return s.poster.Unpost(ctx, prev)
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("stock adjustment deleted", slog.Int64("adjustment_id", id))
	return nil
}

// GetStock returns one stock adjustment.
func (s *Service) GetStock(ctx context.Context, id int64) (StockAdjustment, error) {
	return s.repo.GetStock(ctx, id)
}

// ListStock lists stock adjustments without lines.
func (s *Service) ListStock(ctx context.Context, filter ListFilter) ([]StockAdjustment, error) {
	return s.repo.ListStock(ctx, filter)
}

// ============================================================================
// PRODUCT ADJUSTMENTS
// ============================================================================

// CreateProduct sets a product's stock to a lower counted quantity and writes off the
// difference.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductAdjustmentRequest) (ProductAdjustment, error) {
	if err := httpx.Validate(req); err != nil {
		return ProductAdjustment{}, err
	}
	if req.NewQty.IsNegative() {
		return ProductAdjustment{}, shared.Validation("new quantity must not be negative")
	}
	var adj ProductAdjustment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		items, err := s.load(ctx, []int64{req.ProductID})
		if err != nil {
			return err
		}
		current, err := s.levels.Level(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if !req.NewQty.LessThan(current) {
			return shared.Validation("Stock increase is not allowed").
				WithDetail("current_qty", current.String()).
				WithDetail("new_qty", req.NewQty.String())
		}
		p := items[req.ProductID]
		draft := ProductAdjustment{
			Reference:      req.Reference,
			ProductID:      p.ID,
			AdjustmentDate: req.AdjustmentDate,
			PreviousQty:    current,
			NewQty:         req.NewQty,
			Difference:     current.Sub(req.NewQty),
		}
		if draft.Rate, err = s.rate(ctx, req.Rate, req.AdjustmentDate, items); err != nil {
			return err
		}
		draft.Amount = posting.CostAmount(p, draft.Difference, draft.Rate, s.foreign)
		if adj, err = s.repo.CreateProduct(ctx, draft); err != nil {
			return err
		}
		plan, err := s.builder.Adjustment(ctx, productSnapshot(adj, p))
		if err != nil {
			return err
		}
		_, err = s.poster.Post(ctx, plan)
		return err
	})
	if err != nil {
		return ProductAdjustment{}, err
	}
	s.logger.Info("product adjustment posted",
		slog.Int64("adjustment_id", adj.ID),
		slog.Int64("product_id", adj.ProductID),
		slog.String("difference", adj.Difference.String()))
	return adj, nil
}

// DeleteProduct reverses a product adjustment, restoring the written-off quantity.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockProductAdjustment, id), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, err := s.repo.GetProduct(ctx, id)
			if err != nil {
				return err
			}
			items, err := s.load(ctx, []int64{old.ProductID})
			if err != nil {
				return err
			}
			prev, err := s.builder.Adjustment(ctx, productSnapshot(old, items[old.ProductID]))
			if err != nil {
				return err
			}
			if err := s.repo.DeleteProduct(ctx, id); err != nil {
				return err
			}
			return s.poster.Unpost(ctx, prev)
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("product adjustment deleted", slog.Int64("adjustment_id", id))
	return nil
}

// GetProduct returns one product adjustment.
func (s *Service) GetProduct(ctx context.Context, id int64) (ProductAdjustment, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProduct lists product adjustments.
func (s *Service) ListProduct(ctx context.Context, filter ListFilter) ([]ProductAdjustment, error) {
	return s.repo.ListProduct(ctx, filter)
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Service) load(ctx context.Context, ids []int64) (map[int64]products.Product, error) {
	items, err := s.products.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := items[id]; !ok {
			return nil, shared.NotFound("product", id)
		}
	}
	return items, nil
}

func (s *Service) rate(ctx context.Context, rate decimal.Decimal, on time.Time, items map[int64]products.Product) (decimal.Decimal, error) {
	if rate.IsNegative() {
		return decimal.Zero, shared.Validation("exchange rate must not be negative")
	}
	if rate.IsPositive() {
		return rate, nil
	}
	for _, p := range items {
		if posting.NeedsRate(p, s.foreign) && s.rates != nil {
			return s.rates.Rate(ctx, s.foreign, on)
		}
	}
	return decimal.NewFromInt(1), nil
}

func (s *Service) price(inputs []LineInput, items map[int64]products.Product, rate decimal.Decimal) ([]Line, decimal.Decimal, error) {
	lines := make([]Line, 0, len(inputs))
	total := decimal.Zero
	for _, in := range inputs {
		p := items[in.ProductID]
		if !in.Qty.IsPositive() {
			return nil, decimal.Zero, shared.Validation("adjustment quantity for %s must be greater than zero", p.Name)
		}
		amount := posting.CostAmount(p, in.Qty, rate, s.foreign)
		lines = append(lines, Line{ProductID: p.ID, Qty: in.Qty, Amount: amount})
		total = total.Add(amount)
	}
	return lines, total, nil
}

func lineProductIDs(lines []LineInput) []int64 {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}

func stockProductIDs(lines []Line) []int64 {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}

func stockSnapshot(adj StockAdjustment, items map[int64]products.Product) posting.Adjustment {
	doc := posting.Adjustment{
		Source:    sources.NewRef(sources.KindStockAdjustment, adj.ID),
		Reference: adj.Reference,
		Date:      adj.AdjustmentDate,
		Rate:      adj.Rate,
	}
	for _, l := range adj.Lines {
		amount := l.Amount
		doc.Lines = append(doc.Lines, posting.AdjustmentLine{LineID: l.ID, Product: items[l.ProductID], Qty: l.Qty, Amount: &amount})
	}
	return doc
}

func productSnapshot(adj ProductAdjustment, p products.Product) posting.Adjustment {
	return posting.Adjustment{
		Source:    sources.NewRef(sources.KindProductAdjustment, adj.ID),
		Reference: adj.Reference,
		Date:      adj.AdjustmentDate,
		Rate:      adj.Rate,
		Lines:     []posting.AdjustmentLine{{LineID: adj.ID, Product: p, Qty: adj.Difference, Amount: &adj.Amount}},
	}
}
