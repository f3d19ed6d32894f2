package products

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var hundred = decimal.NewFromInt(100)

func validate(in CreateInput) error {
	if err := httpx.Validate(in); err != nil {
		return err
	}
	if in.SalePrice.IsNegative() || in.Cost.IsNegative() {
		return shared.Validation("product %s: price and cost must not be negative", in.Name)
	}
	if in.Commissionable {
		if in.CommissionAccountID == 0 {
			return shared.Configuration("product %s is commissionable but has no commission account", in.Name)
		}
		if !in.CommissionRate.IsPositive() || in.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
			return shared.Configuration("product %s: commission rate must be in (0, 1]", in.Name)
		}
	}
	if in.QuantityDiscount {
		if in.DiscountAccountID == 0 {
			return shared.Configuration("product %s has a quantity discount but no discount account", in.Name)
		}
		if !in.DiscountRate.IsPositive() || in.DiscountRate.GreaterThan(hundred) {
			return shared.Configuration("product %s: discount rate must be in (0, 100]", in.Name)
		}
	}
	return nil
}
