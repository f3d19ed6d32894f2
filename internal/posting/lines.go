package posting

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// LineAmounts are the derived money fields of one priced line, each rounded to cents.
type LineAmounts struct {
	Gross       decimal.Decimal `json:"gross"`
	DiscountQty decimal.Decimal `json:"discount_qty"`
	Discount    decimal.Decimal `json:"discount"`
	Commission  decimal.Decimal `json:"commission"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Cost        decimal.Decimal `json:"cost"`
}

// CostAmount is unit cost times qty, converted by rate when the product is costed in the
// foreign cost currency.
func CostAmount(p products.Product, qty, rate decimal.Decimal, foreignCurrency string) decimal.Decimal {
	cost := p.Cost.Mul(qty)
	if foreignCurrency != "" && p.CostCurrency == foreignCurrency {
		cost = cost.Mul(rate)
	}
	return shared.Round2(cost)
}

// NeedsRate reports whether the product's cost must be converted.
func NeedsRate(p products.Product, foreignCurrency string) bool {
	return foreignCurrency != "" && p.CostCurrency == foreignCurrency
}

// SaleLineAmounts applies quantity discount and commission terms to a priced line.
// subtotal = qty*price - discount - commission, so gross = subtotal + discount + commission.
func SaleLineAmounts(p products.Product, qty, price, rate decimal.Decimal, foreignCurrency string) (LineAmounts, error) {
	if !qty.IsPositive() {
		return LineAmounts{}, shared.Validation("quantity for %s must be greater than zero", p.Name)
	}
	if !price.IsPositive() {
		return LineAmounts{}, shared.Validation("price for %s must be greater than zero", p.Name)
	}
	out := LineAmounts{Gross: shared.Round2(qty.Mul(price))}
	if p.QuantityDiscount && p.DiscountRate.IsPositive() {
		if p.DiscountAccountID == 0 {
			return LineAmounts{}, shared.Configuration("product %s has a quantity discount but no discount account", p.Name)
		}
		out.DiscountQty = p.DiscountRate.Div(hundred).Mul(qty)
		out.Discount = shared.Round2(out.DiscountQty.Mul(price))
	}
	if p.Commissionable {
		if p.CommissionAccountID == 0 {
			return LineAmounts{}, shared.Configuration("product %s is commissionable but has no commission account", p.Name)
		}
		if !p.CommissionRate.IsPositive() {
			return LineAmounts{}, shared.Configuration("product %s is commissionable but has no commission rate", p.Name)
		}
		out.Commission = shared.Round2(qty.Sub(out.DiscountQty).Mul(p.CommissionRate).Mul(price))
	}
	out.Subtotal = out.Gross.Sub(out.Discount).Sub(out.Commission)
	out.Cost = CostAmount(p, qty, rate, foreignCurrency)
	return out, nil
}

// PlainLineAmounts prices a line without discount or commission terms.
func PlainLineAmounts(p products.Product, qty, price, rate decimal.Decimal, foreignCurrency string) (LineAmounts, error) {
	if !qty.IsPositive() {
		return LineAmounts{}, shared.Validation("quantity for %s must be greater than zero", p.Name)
	}
	if !price.IsPositive() {
		return LineAmounts{}, shared.Validation("price for %s must be greater than zero", p.Name)
	}
	gross := shared.Round2(qty.Mul(price))
	return LineAmounts{Gross: gross, Subtotal: gross, Cost: CostAmount(p, qty, rate, foreignCurrency)}, nil
}
