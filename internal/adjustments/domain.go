// Package adjustments writes stock off to each product's adjustment account, either as a
// list of decreases or by setting a product's counted quantity.
package adjustments

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockAdjustment removes quantities of one or more products from stock.
type StockAdjustment struct {
	ID             int64           `json:"id" db:"id"`
	Reference      string          `json:"reference" db:"reference"`
	AdjustmentDate time.Time       `json:"adjustment_date" db:"adjustment_date"`
	Rate           decimal.Decimal `json:"rate" db:"rate"`
	Note           string          `json:"note" db:"note"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	Lines          []Line          `json:"lines" db:"-"`
}

// Line is one product decrease. Amount is the cost written off.
type Line struct {
	ID           int64           `json:"id" db:"id"`
	AdjustmentID int64           `json:"adjustment_id" db:"adjustment_id"`
	ProductID    int64           `json:"product_id" db:"product_id"`
	Qty          decimal.Decimal `json:"qty" db:"qty"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
}

type LineInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Qty       decimal.Decimal `json:"qty"`
}

type CreateStockAdjustmentRequest struct {
	Reference      string          `json:"reference" validate:"required,max=64"`
	AdjustmentDate time.Time       `json:"adjustment_date" validate:"required"`
	Rate           decimal.Decimal `json:"rate"`
	Note           string          `json:"note" validate:"max=255"`
	Lines          []LineInput     `json:"lines" validate:"required,min=1,dive"`
}

type UpdateStockAdjustmentRequest struct {
	AdjustmentDate time.Time       `json:"adjustment_date" validate:"required"`
	Rate           decimal.Decimal `json:"rate"`
	Note           string          `json:"note" validate:"max=255"`
	Lines          []LineInput     `json:"lines" validate:"required,min=1,dive"`
}

// ProductAdjustment sets one product's stock to a lower counted quantity.
type ProductAdjustment struct {
	ID             int64           `json:"id" db:"id"`
	Reference      string          `json:"reference" db:"reference"`
	ProductID      int64           `json:"product_id" db:"product_id"`
	AdjustmentDate time.Time       `json:"adjustment_date" db:"adjustment_date"`
	PreviousQty    decimal.Decimal `json:"previous_qty" db:"previous_qty"`
	NewQty         decimal.Decimal `json:"new_qty" db:"new_qty"`
	Difference     decimal.Decimal `json:"difference" db:"difference"`
	Rate           decimal.Decimal `json:"rate" db:"rate"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

type CreateProductAdjustmentRequest struct {
	Reference      string          `json:"reference" validate:"required,max=64"`
	ProductID      int64           `json:"product_id" validate:"required,gt=0"`
	AdjustmentDate time.Time       `json:"adjustment_date" validate:"required"`
	NewQty         decimal.Decimal `json:"new_qty"`
	Rate           decimal.Decimal `json:"rate"`
}

// ListFilter narrows adjustment listings.
type ListFilter struct {
	ProductID int64
	From      *time.Time
	To        *time.Time
	Limit     uint64
}
