// Package sales holds salesperson orders, customer orders and their returns. Every confirmed
// document is posted through the ledger and re-derived when it changes.
package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
)

// Status is a document lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	// StatusProcessed is the settled state of customer returns.
	StatusProcessed Status = "processed"
)

// Settled reports whether the document has been posted.
func (s Status) Settled() bool {
	return s == StatusConfirmed || s == StatusProcessed
}

// ============================================================================
// SALE ORDER
// ============================================================================

// SaleOrder is sold through a salesperson and is receivable against them. Orders are
// confirmed on creation.
type SaleOrder struct {
	ID                  int64           `json:"id" db:"id"`
	Reference           string          `json:"reference" db:"reference"`
	SalespersonID       int64           `json:"salesperson_id" db:"salesperson_id"`
	ReceivableAccountID int64           `json:"receivable_account_id" db:"receivable_account_id"`
	OrderDate           time.Time       `json:"order_date" db:"order_date"`
	Rate                decimal.Decimal `json:"rate" db:"rate"`
	Total               decimal.Decimal `json:"total" db:"total"`
	Status              Status          `json:"status" db:"status"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
	Lines               []OrderLine     `json:"lines" db:"-"`
}

// OrderLine carries the derived money fields computed when the line was priced.
type OrderLine struct {
	ID          int64           `json:"id" db:"id"`
	OrderID     int64           `json:"order_id" db:"order_id"`
	ProductID   int64           `json:"product_id" db:"product_id"`
	Qty         decimal.Decimal `json:"qty" db:"qty"`
	Price       decimal.Decimal `json:"price" db:"price"`
	DiscountQty decimal.Decimal `json:"discount_qty" db:"discount_qty"`
	Discount    decimal.Decimal `json:"discount" db:"discount"`
	Commission  decimal.Decimal `json:"commission" db:"commission"`
	Subtotal    decimal.Decimal `json:"subtotal" db:"subtotal"`
	Cost        decimal.Decimal `json:"cost" db:"cost"`
}

type OrderLineInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty"`
	// Price defaults to the product's sale price when zero.
	Price decimal.Decimal `json:"price"`
}

type CreateOrderRequest struct {
	Reference     string           `json:"reference" validate:"required,max=64"`
	SalespersonID int64            `json:"salesperson_id" validate:"required,gt=0"`
	OrderDate     time.Time        `json:"order_date" validate:"required"`
	Rate          decimal.Decimal  `json:"rate"`
	Lines         []OrderLineInput `json:"lines" validate:"required,min=1,dive"`
}

type UpdateOrderRequest struct {
	OrderDate time.Time        `json:"order_date" validate:"required"`
	Rate      decimal.Decimal  `json:"rate"`
	Lines     []OrderLineInput `json:"lines" validate:"required,min=1,dive"`
}

// ============================================================================
// RETURNS
// ============================================================================

// SaleReturn returns quantities of a sale order's lines at the order's prices.
type SaleReturn struct {
	ID          int64           `json:"id" db:"id"`
	Reference   string          `json:"reference" db:"reference"`
	OrderID     int64           `json:"order_id" db:"order_id"`
	ReturnDate  time.Time       `json:"return_date" db:"return_date"`
	Status      Status          `json:"status" db:"status"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	Lines       []ReturnLine    `json:"lines" db:"-"`
}

// ReturnLine returns Qty units of one order line. Subtotal is the net amount refunded;
// discount, commission and cost are kept so the posting can be reversed as recorded.
type ReturnLine struct {
	ID          int64           `json:"id" db:"id"`
	ReturnID    int64           `json:"return_id" db:"return_id"`
	OrderLineID int64           `json:"order_line_id" db:"order_line_id"`
	ProductID   int64           `json:"product_id" db:"product_id"`
	Qty         decimal.Decimal `json:"qty" db:"qty"`
	Price       decimal.Decimal `json:"price" db:"price"`
	DiscountQty decimal.Decimal `json:"discount_qty" db:"discount_qty"`
	Discount    decimal.Decimal `json:"discount" db:"discount"`
	Commission  decimal.Decimal `json:"commission" db:"commission"`
	Subtotal    decimal.Decimal `json:"subtotal" db:"subtotal"`
	Cost        decimal.Decimal `json:"cost" db:"cost"`
}

type ReturnLineInput struct {
	OrderLineID int64           `json:"order_line_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
}

type CreateReturnRequest struct {
	Reference  string            `json:"reference" validate:"required,max=64"`
	OrderID    int64             `json:"order_id" validate:"required,gt=0"`
	ReturnDate time.Time         `json:"return_date" validate:"required"`
	Lines      []ReturnLineInput `json:"lines" validate:"required,min=1,dive"`
}

type UpdateReturnRequest struct {
	ReturnDate time.Time         `json:"return_date" validate:"required"`
	Lines      []ReturnLineInput `json:"lines" validate:"required,min=1,dive"`
}

// ============================================================================
// CUSTOMER ORDER
// ============================================================================

// CustomerOrder is sold directly to a customer, settled in cash or on account.
type CustomerOrder struct {
	ID                  int64                 `json:"id" db:"id"`
	Reference           string                `json:"reference" db:"reference"`
	CustomerID          int64                 `json:"customer_id" db:"customer_id"`
	Method              posting.PaymentMethod `json:"payment_method" db:"payment_method"`
	SettlementAccountID int64                 `json:"settlement_account_id" db:"settlement_account_id"`
	OrderDate           time.Time             `json:"order_date" db:"order_date"`
	Rate                decimal.Decimal       `json:"rate" db:"rate"`
	Total               decimal.Decimal       `json:"total" db:"total"`
	Profit              decimal.Decimal       `json:"profit" db:"profit"`
	Status              Status                `json:"status" db:"status"`
	CreatedAt           time.Time             `json:"created_at" db:"created_at"`
	Lines               []CustomerOrderLine   `json:"lines" db:"-"`
}

type CustomerOrderLine struct {
	ID        int64           `json:"id" db:"id"`
	OrderID   int64           `json:"order_id" db:"order_id"`
	ProductID int64           `json:"product_id" db:"product_id"`
	Qty       decimal.Decimal `json:"qty" db:"qty"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Subtotal  decimal.Decimal `json:"subtotal" db:"subtotal"`
	Cost      decimal.Decimal `json:"cost" db:"cost"`
	Profit    decimal.Decimal `json:"profit" db:"profit"`
}

type UpdateCustomerOrderRequest struct {
	OrderDate time.Time        `json:"order_date" validate:"required"`
	Rate      decimal.Decimal  `json:"rate"`
	Lines     []OrderLineInput `json:"lines" validate:"required,min=1,dive"`
}

type CreateCustomerOrderRequest struct {
	Reference  string                `json:"reference" validate:"required,max=64"`
	CustomerID int64                 `json:"customer_id" validate:"required,gt=0"`
	Method     posting.PaymentMethod `json:"payment_method" validate:"required,oneof=cash ar"`
	OrderDate  time.Time             `json:"order_date" validate:"required"`
	Rate       decimal.Decimal       `json:"rate"`
	Lines      []OrderLineInput      `json:"lines" validate:"required,min=1,dive"`
}

// CustomerReturn returns quantities of a customer order. It is posted when processed.
type CustomerReturn struct {
	ID          int64           `json:"id" db:"id"`
	Reference   string          `json:"reference" db:"reference"`
	OrderID     int64           `json:"order_id" db:"order_id"`
	ReturnDate  time.Time       `json:"return_date" db:"return_date"`
	Status      Status          `json:"status" db:"status"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	Lines       []ReturnLine    `json:"lines" db:"-"`
}

// ============================================================================
// VIEWS
// ============================================================================

// LineView reports how much of one order line can still be returned.
type LineView struct {
	LineID    int64 `json:"line_id"`
	ProductID int64 `json:"product_id"`
	Returnability
}

// OrderView is a sale order with per-line returnability and its receipt.
type OrderView struct {
	Order         SaleOrder       `json:"order"`
	Lines         []LineView      `json:"lines"`
	TotalReturned decimal.Decimal `json:"total_returned"`
	Receipt       *ar.Receipt     `json:"receipt,omitempty"`
}

// CustomerOrderView is a customer order with per-line returnability and, for orders on
// account, its receipt.
type CustomerOrderView struct {
	Order         CustomerOrder   `json:"order"`
	Lines         []LineView      `json:"lines"`
	TotalReturned decimal.Decimal `json:"total_returned"`
	Receipt       *ar.Receipt     `json:"receipt,omitempty"`
}

// ListFilter narrows document listings.
type ListFilter struct {
	PartnerID int64
	From      *time.Time
	To        *time.Time
	Limit     uint64
}
