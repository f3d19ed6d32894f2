package products

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product carries pricing, costing and the ledger accounts its postings use.
type Product struct {
	ID                  int64           `db:"id" json:"id"`
	Code                string          `db:"code" json:"code"`
	Name                string          `db:"name" json:"name"`
	SalePrice           decimal.Decimal `db:"sale_price" json:"sale_price"`
	Cost                decimal.Decimal `db:"cost" json:"cost"`
	CostCurrency        string          `db:"cost_currency" json:"cost_currency"`
	StockQty            decimal.Decimal `db:"stock_qty" json:"stock_qty"`
	AssetAccountID      int64           `db:"asset_account_id" json:"asset_account_id"`
	IncomeAccountID     int64           `db:"income_account_id" json:"income_account_id"`
	COGSAccountID       int64           `db:"cogs_account_id" json:"cogs_account_id"`
	AdjustmentAccountID int64           `db:"adjustment_account_id" json:"adjustment_account_id"`
	Commissionable      bool            `db:"commissionable" json:"commissionable"`
	CommissionRate      decimal.Decimal `db:"commission_rate" json:"commission_rate"`
	CommissionAccountID int64           `db:"commission_account_id" json:"commission_account_id"`
	QuantityDiscount    bool            `db:"quantity_discount" json:"quantity_discount"`
	DiscountRate        decimal.Decimal `db:"discount_rate" json:"discount_rate"`
	DiscountAccountID   int64           `db:"discount_account_id" json:"discount_account_id"`
	IsActive            bool            `db:"is_active" json:"is_active"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// CreateInput captures a new product.
type CreateInput struct {
	Code                string          `json:"code" validate:"required,max=32"`
	Name                string          `json:"name" validate:"required,max=128"`
	SalePrice           decimal.Decimal `json:"sale_price"`
	Cost                decimal.Decimal `json:"cost"`
	CostCurrency        string          `json:"cost_currency" validate:"required,len=3,uppercase"`
	AssetAccountID      int64           `json:"asset_account_id" validate:"required,gt=0"`
	IncomeAccountID     int64           `json:"income_account_id" validate:"required,gt=0"`
	COGSAccountID       int64           `json:"cogs_account_id" validate:"required,gt=0"`
	AdjustmentAccountID int64           `json:"adjustment_account_id" validate:"gte=0"`
	Commissionable      bool            `json:"commissionable"`
	CommissionRate      decimal.Decimal `json:"commission_rate"`
	CommissionAccountID int64           `json:"commission_account_id" validate:"gte=0"`
	QuantityDiscount    bool            `json:"quantity_discount"`
	DiscountRate        decimal.Decimal `json:"discount_rate"`
	DiscountAccountID   int64           `json:"discount_account_id" validate:"gte=0"`
}

// Filter narrows product listings.
type Filter struct {
	Search string
	Page   int
	Limit  int
}
