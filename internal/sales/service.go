package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Products loads product snapshots.
type Products interface {
	GetMany(ctx context.Context, ids []int64) (map[int64]products.Product, error)
}

// Partners resolves the partners documents are issued to.
type Partners interface {
	Salesperson(ctx context.Context, id int64) (partners.Salesperson, error)
	Customer(ctx context.Context, id int64) (partners.Customer, error)
}

// Rates looks up exchange rates for documents submitted without one.
type Rates interface {
	Rate(ctx context.Context, currency string, on time.Time) (decimal.Decimal, error)
}

// Poster applies, re-derives and reverses posting plans.
type Poster interface {
	Post(ctx context.Context, plan posting.Plan) (integration.Result, error)
	Repost(ctx context.Context, prev, next posting.Plan) (integration.Result, error)
	Unpost(ctx context.Context, plan posting.Plan) error
}

// Receipts reads the receipt an order issued.
type Receipts interface {
	GetReceiptBySource(ctx context.Context, ref sources.Ref) (ar.Receipt, error)
}

// Locker serialises writers of one document.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Deps groups the Service's collaborators.
type Deps struct {
	Repo     Repository
	Tx       db.Transactor
	Products Products
	Partners Partners
	Rates    Rates
	Builder  *posting.Builder
	Poster   Poster
	Receipts Receipts
	Locker   Locker
	// ForeignCostCurrency is the cost currency converted by the document rate.
	ForeignCostCurrency string
	Logger              *slog.Logger
	Now                 func() time.Time
}

// Service runs the sales document lifecycles.
type Service struct {
	repo     Repository
	tx       db.Transactor
	products Products
	partners Partners
	rates    Rates
	builder  *posting.Builder
	poster   Poster
	receipts Receipts
	locker   Locker
	foreign  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Locker == nil {
		deps.Locker = shared.NewDocumentLocker(nil, 0)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		repo:     deps.Repo,
		tx:       deps.Tx,
		products: deps.Products,
		partners: deps.Partners,
		rates:    deps.Rates,
		builder:  deps.Builder,
		poster:   deps.Poster,
		receipts: deps.Receipts,
		locker:   deps.Locker,
		foreign:  deps.ForeignCostCurrency,
		logger:   deps.Logger,
		now:      deps.Now,
	}
}

const (
	lockSaleOrder     = "sale_order"
	lockCustomerOrder = "customer_order"
)

// ============================================================================
// SALE ORDER OPERATIONS
// ============================================================================

// CreateOrder stores a confirmed sale order and posts it in the same transaction.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (SaleOrder, error) {
	if err := httpx.Validate(req); err != nil {
		return SaleOrder{}, err
	}
	var order SaleOrder
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		sp, err := s.partners.Salesperson(ctx, req.SalespersonID)
		if err != nil {
			return err
		}
		items, err := s.loadProducts(ctx, inputProductIDs(req.Lines))
		if err != nil {
			return err
		}
		rate, err := s.rate(ctx, req.Rate, req.OrderDate, items)
		if err != nil {
			return err
		}
		draft := SaleOrder{
			Reference:           req.Reference,
			SalespersonID:       sp.ID,
			ReceivableAccountID: sp.ReceivableAccountID,
			OrderDate:           req.OrderDate,
			Rate:                rate,
			Status:              StatusConfirmed,
		}
		if draft.Lines, draft.Total, err = s.priceOrderLines(req.Lines, items, rate); err != nil {
			return err
		}
		if order, err = s.repo.CreateOrder(ctx, draft); err != nil {
			return err
		}
		plan, err := s.builder.SaleOrder(ctx, orderSnapshot(order, items))
		if err != nil {
			return err
		}
		_, err = s.poster.Post(ctx, plan)
		return err
	})
	if err != nil {
		return SaleOrder{}, err
	}
	s.logger.Info("sale order created",
		slog.Int64("order_id", order.ID),
		slog.String("reference", order.Reference),
		slog.String("total", order.Total.StringFixed(2)))
	return order, nil
}

// UpdateOrder replaces an order's lines and re-derives its postings. Orders with payments or
// returns are immutable.
func (s *Service) UpdateOrder(ctx context.Context, id int64, req UpdateOrderRequest) (SaleOrder, error) {
	if err := httpx.Validate(req); err != nil {
		return SaleOrder{}, err
	}
	var order SaleOrder
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockSaleOrder, id), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, err := s.repo.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			if err := s.guardOrder(ctx, old); err != nil {
				return err
			}
			items, err := s.loadProducts(ctx, append(orderProductIDs(old.Lines), inputProductIDs(req.Lines)...))
			if err != nil {
				return err
			}
			prev, err := s.builder.SaleOrder(ctx, orderSnapshot(old, items))
			if err != nil {
				return err
			}
			next := old
			next.OrderDate = req.OrderDate
			if next.Rate, err = s.rate(ctx, req.Rate, req.OrderDate, items); err != nil {
				return err
			}
			if next.Lines, next.Total, err = s.priceOrderLines(req.Lines, items, next.Rate); err != nil {
				return err
			}
			if order, err = s.repo.UpdateOrder(ctx, next); err != nil {
				return err
			}
			plan, err := s.builder.SaleOrder(ctx, orderSnapshot(order, items))
			if err != nil {
				return err
			}
			_, err = s.poster.Repost(ctx, prev, plan)
			return err
		})
	})
	if err != nil {
		return SaleOrder{}, err
	}
	s.logger.Info("sale order updated", slog.Int64("order_id", order.ID), slog.String("total", order.Total.StringFixed(2)))
	return order, nil
}

// DeleteOrder reverses an order's postings and removes it.
func (s *Service) DeleteOrder(ctx context.Context, id int64) error {
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockSaleOrder, id), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, err := s.repo.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			if err := s.guardOrder(ctx, old); err != nil {
				return err
			}
			items, err := s.loadProducts(ctx, orderProductIDs(old.Lines))
			if err != nil {
				return err
			}
			prev, err := s.builder.SaleOrder(ctx, orderSnapshot(old, items))
			if err != nil {
				return err
			}
			if err := s.repo.DeleteOrder(ctx, id); err != nil {
				return err
			}
			return s.poster.Unpost(ctx, prev)
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("sale order deleted", slog.Int64("order_id", id))
	return nil
}

// GetOrder returns an order with how much of each line can still be returned.
func (s *Service) GetOrder(ctx context.Context, id int64) (OrderView, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	settled, err := s.repo.SettledReturns(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	view := OrderView{Order: order}
	view.Lines, view.TotalReturned = lineViews(orderOrigins(order.Lines, nil), settled)
	if view.Receipt, err = s.receipt(ctx, sources.NewRef(sources.KindSalesOrder, id)); err != nil {
		return OrderView{}, err
	}
	return view, nil
}

// ListOrders lists sale orders without lines.
func (s *Service) ListOrders(ctx context.Context, filter ListFilter) ([]SaleOrder, error) {
	return s.repo.ListOrders(ctx, filter)
}

// guardOrder rejects changes to orders that were paid against or returned from.
func (s *Service) guardOrder(ctx context.Context, order SaleOrder) error {
	if err := s.guardPaid(ctx, sources.NewRef(sources.KindSalesOrder, order.ID), order.Reference); err != nil {
		return err
	}
	returns, err := s.repo.ListReturns(ctx, order.ID)
	if err != nil {
		return err
	}
	if len(returns) > 0 {
		refs := make([]string, len(returns))
		for i, r := range returns {
			refs[i] = r.Reference
		}
		return shared.ImmutableDocument("sale order %s has returns: %s", order.Reference, strings.Join(refs, ", ")).
			WithDetail("returns", refs)
	}
	return nil
}

func (s *Service) guardPaid(ctx context.Context, ref sources.Ref, reference string) error {
	rc, err := s.receipt(ctx, ref)
	if err != nil {
		return err
	}
	if rc != nil && rc.Paid.IsPositive() {
		return shared.ImmutableDocument("%s has payments of %s", reference, shared.Amount(rc.Paid)).
			WithDetail("paid", rc.Paid.StringFixed(2))
	}
	return nil
}

// ============================================================================
// SALE RETURN OPERATIONS
// ============================================================================

// CreateReturn stores a draft return. Quantities are checked against what is still
// returnable but nothing is posted until confirmation.
func (s *Service) CreateReturn(ctx context.Context, req CreateReturnRequest) (SaleReturn, error) {
	if err := httpx.Validate(req); err != nil {
		return SaleReturn{}, err
	}
	var ret SaleReturn
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockSaleOrder, req.OrderID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			order, items, err := s.orderWithProducts(ctx, req.OrderID)
			if err != nil {
				return err
			}
			draft := SaleReturn{Reference: req.Reference, OrderID: order.ID, ReturnDate: req.ReturnDate, Status: StatusDraft}
			if draft.Lines, draft.Amount, err = s.priceSaleReturnLines(req.Lines, order, items); err != nil {
				return err
			}
			if err := s.checkSaleReturn(ctx, order, items, draft.Lines, 0); err != nil {
				return err
			}
			ret, err = s.repo.CreateReturn(ctx, draft)
			return err
		})
	})
	if err != nil {
		return SaleReturn{}, err
	}
	s.logger.Info("sale return drafted", slog.Int64("return_id", ret.ID), slog.Int64("order_id", ret.OrderID))
	return ret, nil
}

// ConfirmReturn posts a draft return: stock back in, income reversed and the order's
// receipt reduced by the return amount.
func (s *Service) ConfirmReturn(ctx context.Context, id int64) (SaleReturn, error) {
	head, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return SaleReturn{}, err
	}
	var ret SaleReturn
	err = s.locker.WithLock(ctx, shared.DocumentLockKey(lockSaleOrder, head.OrderID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			current, err := s.repo.GetReturn(ctx, id)
			if err != nil {
				return err
			}
			if current.Status != StatusDraft {
				return shared.Validation("sale return %s is %s; only draft returns can be confirmed", current.Reference, current.Status)
			}
			order, items, err := s.orderWithProducts(ctx, current.OrderID)
			if err != nil {
				return err
			}
			if err := s.checkSaleReturn(ctx, order, items, current.Lines, current.ID); err != nil {
				return err
			}
			now := s.now()
			current.Status, current.ConfirmedAt = StatusConfirmed, &now
			if ret, err = s.repo.UpdateReturn(ctx, current); err != nil {
				return err
			}
			plan, err := s.builder.SaleReturn(ctx, returnSnapshot(ret, order, items))
			if err != nil {
				return err
			}
			_, err = s.poster.Post(ctx, plan)
			return err
		})
	})
	if err != nil {
		return SaleReturn{}, err
	}
	s.logger.Info("sale return confirmed",
		slog.Int64("return_id", ret.ID),
		slog.Int64("order_id", ret.OrderID),
		slog.String("amount", ret.Amount.StringFixed(2)))
	return ret, nil
}

// UpdateReturn replaces a return's lines. Confirmed returns are re-derived and are immutable
// once the order has been paid against.
func (s *Service) UpdateReturn(ctx context.Context, id int64, req UpdateReturnRequest) (SaleReturn, error) {
	if err := httpx.Validate(req); err != nil {
		return SaleReturn{}, err
	}
	head, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return SaleReturn{}, err
	}
	var ret SaleReturn
	err = s.locker.WithLock(ctx, shared.DocumentLockKey(lockSaleOrder, head.OrderID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, err := s.repo.GetReturn(ctx, id)
			if err != nil {
				return err
			}
			order, items, err := s.orderWithProducts(ctx, old.OrderID)
			if err != nil {
				return err
			}
			next := old
			next.ReturnDate = req.ReturnDate
			if next.Lines, next.Amount, err = s.priceSaleReturnLines(req.Lines, order, items); err != nil {
				return err
			}
			if err := s.checkSaleReturn(ctx, order, items, next.Lines, old.ID); err != nil {
				return err
			}
			if old.Status == StatusDraft {
				ret, err = s.repo.UpdateReturn(ctx, next)
				return err
			}
			if err := s.guardPaid(ctx, sources.NewRef(sources.KindSalesOrder, order.ID), order.Reference); err != nil {
				return err
			}
			prev, err := s.builder.SaleReturn(ctx, returnSnapshot(old, order, items))
			if err != nil {
				return err
			}
			if ret, err = s.repo.UpdateReturn(ctx, next); err != nil {
				return err
			}
			plan, err := s.builder.SaleReturn(ctx, returnSnapshot(ret, order, items))
			if err != nil {
				return err
			}
			_, err = s.poster.Repost(ctx, prev, plan)
			return err
		})
	})
	if err != nil {
		return SaleReturn{}, err
	}
	s.logger.Info("sale return updated", slog.Int64("return_id", ret.ID), slog.String("status", string(ret.Status)))
	return ret, nil
}

// DeleteReturn removes a return, reversing its postings when it was confirmed.
func (s *Service) DeleteReturn(ctx context.Context, id int64) error {
	head, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return err
	}
	err = s.locker.WithLock(ctx, shared.DocumentLockKey(lockSaleOrder, head.OrderID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, err := s.repo.GetReturn(ctx, id)
			if err != nil {
				return err
			}
			if old.Status == StatusDraft {
				return s.repo.DeleteReturn(ctx, id)
			}
			order, items, err := s.orderWithProducts(ctx, old.OrderID)
			if err != nil {
				return err
			}
			if err := s.guardPaid(ctx, sources.NewRef(sources.KindSalesOrder, order.ID), order.Reference); err != nil {
				return err
			}
			prev, err := s.builder.SaleReturn(ctx, returnSnapshot(old, order, items))
			if err != nil {
				return err
			}
			if err := s.repo.DeleteReturn(ctx, id); err != nil {
				return err
			}
			return s.poster.Unpost(ctx, prev)
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("sale return deleted", slog.Int64("return_id", id))
	return nil
}

// GetReturn returns one sale return.
func (s *Service) GetReturn(ctx context.Context, id int64) (SaleReturn, error) {
	return s.repo.GetReturn(ctx, id)
}

// ListReturns lists an order's returns.
func (s *Service) ListReturns(ctx context.Context, orderID int64) ([]SaleReturn, error) {
	return s.repo.ListReturns(ctx, orderID)
}

func (s *Service) orderWithProducts(ctx context.Context, orderID int64) (SaleOrder, map[int64]products.Product, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return SaleOrder{}, nil, err
	}
	items, err := s.loadProducts(ctx, orderProductIDs(order.Lines))
	if err != nil {
		return SaleOrder{}, nil, err
	}
	return order, items, nil
}

func (s *Service) checkSaleReturn(ctx context.Context, order SaleOrder, items map[int64]products.Product, lines []ReturnLine, returnID int64) error {
	settled, err := s.repo.SettledReturns(ctx, order.ID)
	if err != nil {
		return err
	}
	return checkCeiling(lines, originIndex(orderOrigins(order.Lines, items)), settled, returnID)
}

// priceSaleReturnLines prices returned quantities at the order line's price with the
// returned quantity's own discount and commission.
func (s *Service) priceSaleReturnLines(inputs []ReturnLineInput, order SaleOrder, items map[int64]products.Product) ([]ReturnLine, decimal.Decimal, error) {
	index := make(map[int64]OrderLine, len(order.Lines))
	for _, l := range order.Lines {
		index[l.ID] = l
	}
	lines := make([]ReturnLine, 0, len(inputs))
	total := decimal.Zero
	for _, in := range inputs {
		ol, ok := index[in.OrderLineID]
		if !ok {
			return nil, decimal.Zero, shared.Validation("line %d is not part of sale order %s", in.OrderLineID, order.Reference)
		}
		amounts, err := posting.SaleLineAmounts(items[ol.ProductID], in.Qty, ol.Price, order.Rate, s.foreign)
		if err != nil {
			return nil, decimal.Zero, err
		}
		lines = append(lines, returnLine(ol.ID, ol.ProductID, in.Qty, ol.Price, amounts))
		total = total.Add(amounts.Subtotal)
	}
	return lines, total, nil
}

// ============================================================================
// CUSTOMER ORDER OPERATIONS
// ============================================================================

// CreateCustomerOrder stores a customer order and posts it. Orders on account issue a receipt
// for the customer.
func (s *Service) CreateCustomerOrder(ctx context.Context, req CreateCustomerOrderRequest) (CustomerOrder, error) {
	if err := httpx.Validate(req); err != nil {
		return CustomerOrder{}, err
	}
	var order CustomerOrder
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		customer, err := s.partners.Customer(ctx, req.CustomerID)
		if err != nil {
			return err
		}
		settlement, err := customer.SettlementAccount(req.Method)
		if err != nil {
			return err
		}
		items, err := s.loadProducts(ctx, inputProductIDs(req.Lines))
		if err != nil {
			return err
		}
		rate, err := s.rate(ctx, req.Rate, req.OrderDate, items)
		if err != nil {
			return err
		}
		draft := CustomerOrder{
			Reference:           req.Reference,
			CustomerID:          customer.ID,
			Method:              req.Method,
			SettlementAccountID: settlement,
			OrderDate:           req.OrderDate,
			Rate:                rate,
			Status:              StatusConfirmed,
		}
		if err := s.priceCustomerOrderLines(&draft, req.Lines, items); err != nil {
			return err
		}
		if order, err = s.repo.CreateCustomerOrder(ctx, draft); err != nil {
			return err
		}
		plan, err := s.builder.CustomerSale(ctx, customerSaleSnapshot(order, items))
		if err != nil {
			return err
		}
		_, err = s.poster.Post(ctx, plan)
		return err
	})
	if err != nil {
		return CustomerOrder{}, err
	}
	s.logger.Info("customer order created",
		slog.Int64("order_id", order.ID),
		slog.String("method", string(order.Method)),
		slog.String("total", order.Total.StringFixed(2)))
	return order, nil
}

// UpdateCustomerOrder replaces a customer order's lines and re-derives its postings. The
// payment method and settlement account stay as created. Orders with payments or returns
// are immutable.
func (s *Service) UpdateCustomerOrder(ctx context.Context, id int64, req UpdateCustomerOrderRequest) (CustomerOrder, error) {
	if err := httpx.Validate(req); err != nil {
		return CustomerOrder{}, err
	}
	var order CustomerOrder
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockCustomerOrder, id), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, err := s.repo.GetCustomerOrder(ctx, id)
			if err != nil {
				return err
			}
			if err := s.guardCustomerOrder(ctx, old); err != nil {
				return err
			}
			items, err := s.loadProducts(ctx, append(customerProductIDs(old.Lines), inputProductIDs(req.Lines)...))
			if err != nil {
				return err
			}
			prev, err := s.builder.CustomerSale(ctx, customerSaleSnapshot(old, items))
			if err != nil {
				return err
			}
			next := old
			next.OrderDate = req.OrderDate
			if next.Rate, err = s.rate(ctx, req.Rate, req.OrderDate, items); err != nil {
				return err
			}
			if err := s.priceCustomerOrderLines(&next, req.Lines, items); err != nil {
				return err
			}
			if order, err = s.repo.UpdateCustomerOrder(ctx, next); err != nil {
				return err
			}
			plan, err := s.builder.CustomerSale(ctx, customerSaleSnapshot(order, items))
			if err != nil {
				return err
			}
			_, err = s.poster.Repost(ctx, prev, plan)
			return err
		})
	})
	if err != nil {
		return CustomerOrder{}, err
	}
	s.logger.Info("customer order updated", slog.Int64("order_id", order.ID), slog.String("total", order.Total.StringFixed(2)))
	return order, nil
}

// DeleteCustomerOrder reverses a customer order's postings and removes it.
func (s *Service) DeleteCustomerOrder(ctx context.Context, id int64) error {
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockCustomerOrder, id), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, items, err := s.customerOrderWithProducts(ctx, id)
			if err != nil {
				return err
			}
			if err := s.guardCustomerOrder(ctx, old); err != nil {
				return err
			}
			prev, err := s.builder.CustomerSale(ctx, customerSaleSnapshot(old, items))
			if err != nil {
				return err
			}
			if err := s.repo.DeleteCustomerOrder(ctx, id); err != nil {
				return err
			}
			return s.poster.Unpost(ctx, prev)
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("customer order deleted", slog.Int64("order_id", id))
	return nil
}

// GetCustomerOrder returns a customer order with per-line returnability.
func (s *Service) GetCustomerOrder(ctx context.Context, id int64) (CustomerOrderView, error) {
	order, err := s.repo.GetCustomerOrder(ctx, id)
	if err != nil {
		return CustomerOrderView{}, err
	}
	settled, err := s.repo.SettledCustomerReturns(ctx, id)
	if err != nil {
		return CustomerOrderView{}, err
	}
	view := CustomerOrderView{Order: order}
	view.Lines, view.TotalReturned = lineViews(customerOrigins(order.Lines, nil), settled)
	if order.Method == posting.PaymentAR {
		if view.Receipt, err = s.receipt(ctx, sources.NewRef(sources.KindCustomerSale, id)); err != nil {
			return CustomerOrderView{}, err
		}
	}
	return view, nil
}

// ListCustomerOrders lists customer orders without lines.
func (s *Service) ListCustomerOrders(ctx context.Context, filter ListFilter) ([]CustomerOrder, error) {
	return s.repo.ListCustomerOrders(ctx, filter)
}

// guardCustomerOrder rejects changes to customer orders that were paid against or have
// returns. Draft returns count because they point at the order's lines.
func (s *Service) guardCustomerOrder(ctx context.Context, order CustomerOrder) error {
	if order.Method == posting.PaymentAR {
		if err := s.guardPaid(ctx, sources.NewRef(sources.KindCustomerSale, order.ID), order.Reference); err != nil {
			return err
		}
	}
	returns, err := s.repo.ListCustomerReturns(ctx, order.ID)
	if err != nil {
		return err
	}
	if len(returns) > 0 {
		refs := make([]string, len(returns))
		for i, r := range returns {
			refs[i] = r.Reference
		}
		return shared.ImmutableDocument("customer order %s has returns: %s", order.Reference, strings.Join(refs, ", ")).
			WithDetail("returns", refs)
	}
	return nil
}

func (s *Service) priceCustomerOrderLines(order *CustomerOrder, inputs []OrderLineInput, items map[int64]products.Product) error {
	order.Lines, order.Total, order.Profit = nil, decimal.Zero, decimal.Zero
	for _, in := range inputs {
		p := items[in.ProductID]
		price := in.Price
		if price.IsZero() {
			price = p.SalePrice
		}
		amounts, err := posting.PlainLineAmounts(p, in.Qty, price, order.Rate, s.foreign)
		if err != nil {
			return err
		}
		profit := amounts.Subtotal.Sub(amounts.Cost)
		order.Lines = append(order.Lines, CustomerOrderLine{
			ProductID: p.ID, Qty: in.Qty, Price: price, Subtotal: amounts.Subtotal, Cost: amounts.Cost, Profit: profit,
		})
		order.Total = order.Total.Add(amounts.Subtotal)
		order.Profit = order.Profit.Add(profit)
	}
	return nil
}

// ============================================================================
// CUSTOMER RETURN OPERATIONS
// ============================================================================

// CreateCustomerReturn stores a draft customer return.
func (s *Service) CreateCustomerReturn(ctx context.Context, req CreateReturnRequest) (CustomerReturn, error) {
	if err := httpx.Validate(req); err != nil {
		return CustomerReturn{}, err
	}
	var ret CustomerReturn
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockCustomerOrder, req.OrderID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			order, items, err := s.customerOrderWithProducts(ctx, req.OrderID)
			if err != nil {
				return err
			}
			draft := CustomerReturn{Reference: req.Reference, OrderID: order.ID, ReturnDate: req.ReturnDate, Status: StatusDraft}
			if draft.Lines, draft.Amount, err = s.priceCustomerReturnLines(req.Lines, order, items); err != nil {
				return err
			}
			if err := s.checkCustomerReturn(ctx, order, items, draft.Lines, 0); err != nil {
				return err
			}
			ret, err = s.repo.CreateCustomerReturn(ctx, draft)
			return err
		})
	})
	if err != nil {
		return CustomerReturn{}, err
	}
	s.logger.Info("customer return drafted", slog.Int64("return_id", ret.ID), slog.Int64("order_id", ret.OrderID))
	return ret, nil
}

// UpdateCustomerReturn replaces a draft customer return's lines.
func (s *Service) UpdateCustomerReturn(ctx context.Context, id int64, req UpdateReturnRequest) (CustomerReturn, error) {
	if err := httpx.Validate(req); err != nil {
		return CustomerReturn{}, err
	}
	head, err := s.repo.GetCustomerReturn(ctx, id)
	if err != nil {
		return CustomerReturn{}, err
	}
	var ret CustomerReturn
	err = s.locker.WithLock(ctx, shared.DocumentLockKey(lockCustomerOrder, head.OrderID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, err := s.repo.GetCustomerReturn(ctx, id)
			if err != nil {
				return err
			}
			if old.Status != StatusDraft {
				return shared.ImmutableDocument("customer return %s is %s and cannot be changed", old.Reference, old.Status)
			}
			order, items, err := s.customerOrderWithProducts(ctx, old.OrderID)
			if err != nil {
				return err
			}
			next := old
			next.ReturnDate = req.ReturnDate
			if next.Lines, next.Amount, err = s.priceCustomerReturnLines(req.Lines, order, items); err != nil {
				return err
			}
			if err := s.checkCustomerReturn(ctx, order, items, next.Lines, old.ID); err != nil {
				return err
			}
			ret, err = s.repo.UpdateCustomerReturn(ctx, next)
			return err
		})
	})
	if err != nil {
		return CustomerReturn{}, err
	}
	return ret, nil
}

// DeleteCustomerReturn removes a draft customer return.
func (s *Service) DeleteCustomerReturn(ctx context.Context, id int64) error {
	head, err := s.repo.GetCustomerReturn(ctx, id)
	if err != nil {
		return err
	}
	return s.locker.WithLock(ctx, shared.DocumentLockKey(lockCustomerOrder, head.OrderID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			old, err := s.repo.GetCustomerReturn(ctx, id)
			if err != nil {
				return err
			}
			if old.Status != StatusDraft {
				return shared.ImmutableDocument("customer return %s is %s and cannot be deleted", old.Reference, old.Status)
			}
			return s.repo.DeleteCustomerReturn(ctx, id)
		})
	})
}

// ProcessCustomerReturn posts a draft customer return. For orders on account the return
// amount must fit in what the customer still owes on the order.
func (s *Service) ProcessCustomerReturn(ctx context.Context, id int64) (CustomerReturn, error) {
	head, err := s.repo.GetCustomerReturn(ctx, id)
	if err != nil {
		return CustomerReturn{}, err
	}
	var ret CustomerReturn
	err = s.locker.WithLock(ctx, shared.DocumentLockKey(lockCustomerOrder, head.OrderID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			current, err := s.repo.GetCustomerReturn(ctx, id)
			if err != nil {
				return err
			}
			if current.Status != StatusDraft {
				return shared.Validation("customer return %s is %s; only draft returns can be processed", current.Reference, current.Status)
			}
			order, items, err := s.customerOrderWithProducts(ctx, current.OrderID)
			if err != nil {
				return err
			}
			if err := s.checkCustomerReturn(ctx, order, items, current.Lines, current.ID); err != nil {
				return err
			}
			if order.Method == posting.PaymentAR {
				rc, err := s.receipts.GetReceiptBySource(ctx, sources.NewRef(sources.KindCustomerSale, order.ID))
				if err != nil {
					return err
				}
				if current.Amount.GreaterThan(rc.Remaining) {
					return shared.BalanceIntegrity("return amount %s exceeds the %s still owed on %s",
						shared.Amount(current.Amount), shared.Amount(rc.Remaining), order.Reference).
						WithDetail("amount", current.Amount.StringFixed(2)).
						WithDetail("remaining", rc.Remaining.StringFixed(2))
				}
			}
			now := s.now()
			current.Status, current.ProcessedAt = StatusProcessed, &now
			if ret, err = s.repo.UpdateCustomerReturn(ctx, current); err != nil {
				return err
			}
			plan, err := s.builder.CustomerSaleReturn(ctx, customerReturnSnapshot(ret, order, items))
			if err != nil {
				return err
			}
			_, err = s.poster.Post(ctx, plan)
			return err
		})
	})
	if err != nil {
		return CustomerReturn{}, err
	}
	s.logger.Info("customer return processed",
		slog.Int64("return_id", ret.ID),
		slog.String("amount", ret.Amount.StringFixed(2)))
	return ret, nil
}

// GetCustomerReturn returns one customer return.
func (s *Service) GetCustomerReturn(ctx context.Context, id int64) (CustomerReturn, error) {
	return s.repo.GetCustomerReturn(ctx, id)
}

// ListCustomerReturns lists a customer order's returns.
func (s *Service) ListCustomerReturns(ctx context.Context, orderID int64) ([]CustomerReturn, error) {
	return s.repo.ListCustomerReturns(ctx, orderID)
}

func (s *Service) customerOrderWithProducts(ctx context.Context, orderID int64) (CustomerOrder, map[int64]products.Product, error) {
	order, err := s.repo.GetCustomerOrder(ctx, orderID)
	if err != nil {
		return CustomerOrder{}, nil, err
	}
	items, err := s.loadProducts(ctx, customerProductIDs(order.Lines))
	if err != nil {
		return CustomerOrder{}, nil, err
	}
	return order, items, nil
}

func (s *Service) checkCustomerReturn(ctx context.Context, order CustomerOrder, items map[int64]products.Product, lines []ReturnLine, returnID int64) error {
	settled, err := s.repo.SettledCustomerReturns(ctx, order.ID)
	if err != nil {
		return err
	}
	return checkCeiling(lines, originIndex(customerOrigins(order.Lines, items)), settled, returnID)
}

func (s *Service) priceCustomerReturnLines(inputs []ReturnLineInput, order CustomerOrder, items map[int64]products.Product) ([]ReturnLine, decimal.Decimal, error) {
	index := make(map[int64]CustomerOrderLine, len(order.Lines))
	for _, l := range order.Lines {
		index[l.ID] = l
	}
	lines := make([]ReturnLine, 0, len(inputs))
	total := decimal.Zero
	for _, in := range inputs {
		ol, ok := index[in.OrderLineID]
		if !ok {
			return nil, decimal.Zero, shared.Validation("line %d is not part of customer order %s", in.OrderLineID, order.Reference)
		}
		amounts, err := posting.PlainLineAmounts(items[ol.ProductID], in.Qty, ol.Price, order.Rate, s.foreign)
		if err != nil {
			return nil, decimal.Zero, err
		}
		lines = append(lines, returnLine(ol.ID, ol.ProductID, in.Qty, ol.Price, amounts))
		total = total.Add(amounts.Subtotal)
	}
	return lines, total, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Service) loadProducts(ctx context.Context, ids []int64) (map[int64]products.Product, error) {
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

// rate returns the document's effective rate. A missing rate is looked up when a product's
// cost must be converted and is 1 otherwise.
func (s *Service) rate(ctx context.Context, rate decimal.Decimal, on time.Time, items map[int64]products.Product) (decimal.Decimal, error) {
	if rate.IsNegative() {
		return decimal.Zero, shared.Validation("exchange rate must not be negative")
	}
	if rate.IsPositive() {
		return rate, nil
	}
	for _, p := range items {
		if posting.NeedsRate(p, s.foreign) {
			if s.rates == nil {
				return decimal.Zero, shared.Validation("exchange rate is required for %s costed in %s", p.Name, p.CostCurrency)
			}
			return s.rates.Rate(ctx, s.foreign, on)
		}
	}
	return decimal.NewFromInt(1), nil
}

func (s *Service) receipt(ctx context.Context, ref sources.Ref) (*ar.Receipt, error) {
	rc, err := s.receipts.GetReceiptBySource(ctx, ref)
	if shared.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sales: receipt for %s: %w", ref, err)
	}
	return &rc, nil
}

func (s *Service) priceOrderLines(inputs []OrderLineInput, items map[int64]products.Product, rate decimal.Decimal) ([]OrderLine, decimal.Decimal, error) {
	lines := make([]OrderLine, 0, len(inputs))
	total := decimal.Zero
	for _, in := range inputs {
		p := items[in.ProductID]
		price := in.Price
		if price.IsZero() {
			price = p.SalePrice
		}
		amounts, err := posting.SaleLineAmounts(p, in.Qty, price, rate, s.foreign)
		if err != nil {
			return nil, decimal.Zero, err
		}
		lines = append(lines, OrderLine{
			ProductID:   p.ID,
			Qty:         in.Qty,
			Price:       price,
			DiscountQty: amounts.DiscountQty,
			Discount:    amounts.Discount,
			Commission:  amounts.Commission,
			Subtotal:    amounts.Subtotal,
			Cost:        amounts.Cost,
		})
		total = total.Add(amounts.Subtotal)
	}
	return lines, total, nil
}

func inputProductIDs(lines []OrderLineInput) []int64 {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}

func orderProductIDs(lines []OrderLine) []int64 {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}

func customerProductIDs(lines []CustomerOrderLine) []int64 {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}

func returnLine(orderLineID, productID int64, qty, price decimal.Decimal, amounts posting.LineAmounts) ReturnLine {
	return ReturnLine{
		OrderLineID: orderLineID,
		ProductID:   productID,
		Qty:         qty,
		Price:       price,
		DiscountQty: amounts.DiscountQty,
		Discount:    amounts.Discount,
		Commission:  amounts.Commission,
		Subtotal:    amounts.Subtotal,
		Cost:        amounts.Cost,
	}
}

func productName(items map[int64]products.Product, id int64) string {
	if p, ok := items[id]; ok {
		return p.Name
	}
	return fmt.Sprintf("product %d", id)
}

func orderOrigins(lines []OrderLine, items map[int64]products.Product) []origin {
	out := make([]origin, len(lines))
	for i, l := range lines {
		out[i] = origin{LineID: l.ID, ProductID: l.ProductID, ProductName: productName(items, l.ProductID), Qty: l.Qty, Price: l.Price}
	}
	return out
}

func customerOrigins(lines []CustomerOrderLine, items map[int64]products.Product) []origin {
	out := make([]origin, len(lines))
	for i, l := range lines {
		out[i] = origin{LineID: l.ID, ProductID: l.ProductID, ProductName: productName(items, l.ProductID), Qty: l.Qty, Price: l.Price}
	}
	return out
}

func originIndex(origins []origin) map[int64]origin {
	index := make(map[int64]origin, len(origins))
	for _, o := range origins {
		index[o.LineID] = o
	}
	return index
}

// ============================================================================
// SNAPSHOTS
// ============================================================================

func orderSnapshot(order SaleOrder, items map[int64]products.Product) posting.SaleOrder {
	doc := posting.SaleOrder{
		ID:                  order.ID,
		Reference:           order.Reference,
		Date:                order.OrderDate,
		Salesperson:         ledger.PartnerRef{Type: ledger.PartnerSalesperson, ID: order.SalespersonID},
		ReceivableAccountID: order.ReceivableAccountID,
		Rate:                order.Rate,
	}
	for _, l := range order.Lines {
		doc.Lines = append(doc.Lines, posting.Line{LineID: l.ID, Product: items[l.ProductID], Qty: l.Qty, Price: l.Price, Amounts: &posting.LineAmounts{
			DiscountQty: l.DiscountQty, Discount: l.Discount, Commission: l.Commission, Subtotal: l.Subtotal, Cost: l.Cost,
		}})
	}
	return doc
}

func returnSnapshot(ret SaleReturn, order SaleOrder, items map[int64]products.Product) posting.SaleReturn {
	doc := posting.SaleReturn{
		ID:                  ret.ID,
		Reference:           ret.Reference,
		Date:                ret.ReturnDate,
		Order:               sources.NewRef(sources.KindSalesOrder, order.ID),
		Salesperson:         ledger.PartnerRef{Type: ledger.PartnerSalesperson, ID: order.SalespersonID},
		ReceivableAccountID: order.ReceivableAccountID,
		Rate:                order.Rate,
	}
	for _, l := range ret.Lines {
		doc.Lines = append(doc.Lines, posting.Line{LineID: l.ID, Product: items[l.ProductID], Qty: l.Qty, Price: l.Price, Amounts: returnAmounts(l)})
	}
	return doc
}

func customerSaleSnapshot(order CustomerOrder, items map[int64]products.Product) posting.CustomerSale {
	doc := posting.CustomerSale{
		ID:                  order.ID,
		Reference:           order.Reference,
		Date:                order.OrderDate,
		Customer:            ledger.PartnerRef{Type: ledger.PartnerCustomer, ID: order.CustomerID},
		Method:              order.Method,
		SettlementAccountID: order.SettlementAccountID,
		Rate:                order.Rate,
	}
	for _, l := range order.Lines {
		doc.Lines = append(doc.Lines, posting.Line{LineID: l.ID, Product: items[l.ProductID], Qty: l.Qty, Price: l.Price,
			Amounts: &posting.LineAmounts{Subtotal: l.Subtotal, Cost: l.Cost}})
	}
	return doc
}

func customerReturnSnapshot(ret CustomerReturn, order CustomerOrder, items map[int64]products.Product) posting.CustomerSaleReturn {
	doc := posting.CustomerSaleReturn{
		ID:                  ret.ID,
		Reference:           ret.Reference,
		Date:                ret.ReturnDate,
		Order:               sources.NewRef(sources.KindCustomerSale, order.ID),
		Customer:            ledger.PartnerRef{Type: ledger.PartnerCustomer, ID: order.CustomerID},
		Method:              order.Method,
		SettlementAccountID: order.SettlementAccountID,
		Rate:                order.Rate,
	}
	for _, l := range ret.Lines {
		doc.Lines = append(doc.Lines, posting.Line{LineID: l.ID, Product: items[l.ProductID], Qty: l.Qty, Price: l.Price, Amounts: returnAmounts(l)})
	}
	return doc
}

func returnAmounts(l ReturnLine) *posting.LineAmounts {
	return &posting.LineAmounts{DiscountQty: l.DiscountQty, Discount: l.Discount, Commission: l.Commission, Subtotal: l.Subtotal, Cost: l.Cost}
}
