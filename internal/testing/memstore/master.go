package memstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/rates"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Accounts implements accounts.Repository and accounts.Directory.
type Accounts struct{ s *Store }

var (
	_ accounts.Repository = (*Accounts)(nil)
	_ accounts.Directory  = (*Accounts)(nil)
)

// Put stores an account as-is.
func (a *Accounts) Put(acc accounts.Account) accounts.Account {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if acc.ID == 0 {
		acc.ID = a.s.next()
	} else if acc.ID > a.s.state.seq {
		a.s.state.seq = acc.ID
	}
	acc.IsActive = true
	a.s.state.accounts[acc.ID] = acc
	return acc
}

func (a *Accounts) Get(_ context.Context, id int64) (accounts.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	acc, ok := a.s.state.accounts[id]
	if !ok {
		return accounts.Account{}, shared.NotFound("account", id)
	}
	return acc, nil
}

func (a *Accounts) Resolve(ctx context.Context, id int64) (accounts.Account, error) {
	return a.Get(ctx, id)
}

func (a *Accounts) List(_ context.Context) ([]accounts.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	out := make([]accounts.Account, 0, len(a.s.state.accounts))
	for _, acc := range a.s.state.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (a *Accounts) Create(_ context.Context, in accounts.CreateInput) (accounts.Account, error) {
	return a.Put(accounts.Account{Code: in.Code, Name: in.Name, Type: in.Type, Currency: in.Currency, CreatedAt: a.s.now()}), nil
}

// Products implements products.Repository. StockQty reads through to the stock levels.
type Products struct{ s *Store }

var _ products.Repository = (*Products)(nil)

// Put stores a product as-is.
func (p *Products) Put(product products.Product) products.Product {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if product.ID == 0 {
		product.ID = p.s.next()
	} else if product.ID > p.s.state.seq {
		p.s.state.seq = product.ID
	}
	product.IsActive = true
	p.s.state.products[product.ID] = product
	return product
}

func (p *Products) withStock(product products.Product) products.Product {
	product.StockQty = p.s.state.levels[product.ID]
	return product
}

func (p *Products) Get(_ context.Context, id int64) (products.Product, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	product, ok := p.s.state.products[id]
	if !ok {
		return products.Product{}, shared.NotFound("product", id)
	}
	return p.withStock(product), nil
}

func (p *Products) GetMany(_ context.Context, ids []int64) (map[int64]products.Product, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	out := make(map[int64]products.Product, len(ids))
	for _, id := range ids {
		product, ok := p.s.state.products[id]
		if !ok {
			return nil, shared.NotFound("product", id)
		}
		out[id] = p.withStock(product)
	}
	return out, nil
}

func (p *Products) List(_ context.Context, filter products.Filter) ([]products.Product, int, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []products.Product
	for _, product := range p.s.state.products {
		if filter.Search != "" && !strings.Contains(strings.ToLower(product.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, p.withStock(product))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (p *Products) Create(_ context.Context, in products.CreateInput) (products.Product, error) {
	return p.Put(products.Product{
		Code: in.Code, Name: in.Name, SalePrice: in.SalePrice, Cost: in.Cost, CostCurrency: in.CostCurrency,
		AssetAccountID: in.AssetAccountID, IncomeAccountID: in.IncomeAccountID, COGSAccountID: in.COGSAccountID,
		AdjustmentAccountID: in.AdjustmentAccountID,
		Commissionable:      in.Commissionable, CommissionRate: in.CommissionRate, CommissionAccountID: in.CommissionAccountID,
		QuantityDiscount: in.QuantityDiscount, DiscountRate: in.DiscountRate, DiscountAccountID: in.DiscountAccountID,
		CreatedAt: p.s.now(),
	}), nil
}

// Rates implements rates.Repository.
type Rates struct{ s *Store }

var _ rates.Repository = (*Rates)(nil)

func (r *Rates) Latest(_ context.Context, currency string, on time.Time) (rates.Rate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *rates.Rate
	for i, rate := range r.s.state.rates {
		if rate.Currency != currency || rate.EffectiveOn.After(on) {
			continue
		}
		if best == nil || rate.EffectiveOn.After(best.EffectiveOn) {
			best = &r.s.state.rates[i]
		}
	}
	if best == nil {
		return rates.Rate{}, shared.NotFound("exchange rate", currency)
	}
	return *best, nil
}

func (r *Rates) Upsert(_ context.Context, rate rates.Rate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, existing := range r.s.state.rates {
		if existing.Currency == rate.Currency && existing.EffectiveOn.Equal(rate.EffectiveOn) {
			r.s.state.rates[i] = rate
			return nil
		}
	}
	r.s.state.rates = append(r.s.state.rates, rate)
	return nil
}
