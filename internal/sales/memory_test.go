package sales

import (
	"context"
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/partners"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// memoryRepo is an in-memory Repository that rolls back with memstore.
type memoryRepo struct {
	seq             int64
	orders          map[int64]SaleOrder
	returns         map[int64]SaleReturn
	customerOrders  map[int64]CustomerOrder
	customerReturns map[int64]CustomerReturn
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:          map[int64]SaleOrder{},
		returns:         map[int64]SaleReturn{},
		customerOrders:  map[int64]CustomerOrder{},
		customerReturns: map[int64]CustomerReturn{},
	}
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (r *memoryRepo) Snapshot() func() {
	seq := r.seq
	orders, returns := copyMap(r.orders), copyMap(r.returns)
	customerOrders, customerReturns := copyMap(r.customerOrders), copyMap(r.customerReturns)
	return func() {
		r.seq = seq
		r.orders, r.returns = orders, returns
		r.customerOrders, r.customerReturns = customerOrders, customerReturns
	}
}

func (r *memoryRepo) id() int64 {
	r.seq++
	return r.seq
}

func (r *memoryRepo) numberOrderLines(order SaleOrder) SaleOrder {
	lines := make([]OrderLine, len(order.Lines))
	for i, l := range order.Lines {
		l.ID, l.OrderID = r.id(), order.ID
		lines[i] = l
	}
	order.Lines = lines
	return order
}

func (r *memoryRepo) numberReturnLines(returnID int64, in []ReturnLine) []ReturnLine {
	lines := make([]ReturnLine, len(in))
	for i, l := range in {
		l.ID, l.ReturnID = r.id(), returnID
		lines[i] = l
	}
	return lines
}

func (r *memoryRepo) CreateOrder(_ context.Context, order SaleOrder) (SaleOrder, error) {
	order.ID = r.id()
	order = r.numberOrderLines(order)
	r.orders[order.ID] = order
	return order, nil
}

func (r *memoryRepo) GetOrder(_ context.Context, id int64) (SaleOrder, error) {
	order, ok := r.orders[id]
	if !ok {
		return SaleOrder{}, shared.NotFound("sale order", id)
	}
	return order, nil
}

func (r *memoryRepo) ListOrders(context.Context, ListFilter) ([]SaleOrder, error) {
	out := make([]SaleOrder, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) UpdateOrder(_ context.Context, order SaleOrder) (SaleOrder, error) {
	if _, ok := r.orders[order.ID]; !ok {
		return SaleOrder{}, shared.NotFound("sale order", order.ID)
	}
	order = r.numberOrderLines(order)
	r.orders[order.ID] = order
	return order, nil
}

func (r *memoryRepo) DeleteOrder(_ context.Context, id int64) error {
	delete(r.orders, id)
	return nil
}

func (r *memoryRepo) CreateReturn(_ context.Context, ret SaleReturn) (SaleReturn, error) {
	ret.ID = r.id()
	ret.Lines = r.numberReturnLines(ret.ID, ret.Lines)
	r.returns[ret.ID] = ret
	return ret, nil
}

func (r *memoryRepo) GetReturn(_ context.Context, id int64) (SaleReturn, error) {
	ret, ok := r.returns[id]
	if !ok {
		return SaleReturn{}, shared.NotFound("sale return", id)
	}
	return ret, nil
}

func (r *memoryRepo) ListReturns(_ context.Context, orderID int64) ([]SaleReturn, error) {
	var out []SaleReturn
	for _, ret := range r.returns {
		if ret.OrderID == orderID {
			out = append(out, ret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) UpdateReturn(_ context.Context, ret SaleReturn) (SaleReturn, error) {
	if _, ok := r.returns[ret.ID]; !ok {
		return SaleReturn{}, shared.NotFound("sale return", ret.ID)
	}
	ret.Lines = r.numberReturnLines(ret.ID, ret.Lines)
	r.returns[ret.ID] = ret
	return ret, nil
}

func (r *memoryRepo) DeleteReturn(_ context.Context, id int64) error {
	delete(r.returns, id)
	return nil
}

func (r *memoryRepo) SettledReturns(_ context.Context, orderID int64) ([]ReturnedQty, error) {
	var out []ReturnedQty
	for _, ret := range r.returns {
		if ret.OrderID != orderID || !ret.Status.Settled() {
			continue
		}
		for _, l := range ret.Lines {
			out = append(out, ReturnedQty{ReturnID: ret.ID, OrderLineID: l.OrderLineID, Qty: l.Qty})
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateCustomerOrder(_ context.Context, order CustomerOrder) (CustomerOrder, error) {
	order.ID = r.id()
	lines := make([]CustomerOrderLine, len(order.Lines))
	for i, l := range order.Lines {
		l.ID, l.OrderID = r.id(), order.ID
		lines[i] = l
	}
	order.Lines = lines
	r.customerOrders[order.ID] = order
	return order, nil
}

func (r *memoryRepo) GetCustomerOrder(_ context.Context, id int64) (CustomerOrder, error) {
	order, ok := r.customerOrders[id]
	if !ok {
		return CustomerOrder{}, shared.NotFound("customer order", id)
	}
	return order, nil
}

func (r *memoryRepo) ListCustomerOrders(context.Context, ListFilter) ([]CustomerOrder, error) {
	out := make([]CustomerOrder, 0, len(r.customerOrders))
	for _, o := range r.customerOrders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) UpdateCustomerOrder(_ context.Context, order CustomerOrder) (CustomerOrder, error) {
	if _, ok := r.customerOrders[order.ID]; !ok {
		return CustomerOrder{}, shared.NotFound("customer order", order.ID)
	}
	lines := make([]CustomerOrderLine, len(order.Lines))
	for i, l := range order.Lines {
		l.ID, l.OrderID = r.id(), order.ID
		lines[i] = l
	}
	order.Lines = lines
	r.customerOrders[order.ID] = order
	return order, nil
}

func (r *memoryRepo) DeleteCustomerOrder(_ context.Context, id int64) error {
	delete(r.customerOrders, id)
	return nil
}

func (r *memoryRepo) CreateCustomerReturn(_ context.Context, ret CustomerReturn) (CustomerReturn, error) {
	ret.ID = r.id()
	ret.Lines = r.numberReturnLines(ret.ID, ret.Lines)
	r.customerReturns[ret.ID] = ret
	return ret, nil
}

func (r *memoryRepo) GetCustomerReturn(_ context.Context, id int64) (CustomerReturn, error) {
	ret, ok := r.customerReturns[id]
	if !ok {
		return CustomerReturn{}, shared.NotFound("customer return", id)
	}
	return ret, nil
}

func (r *memoryRepo) ListCustomerReturns(_ context.Context, orderID int64) ([]CustomerReturn, error) {
	var out []CustomerReturn
	for _, ret := range r.customerReturns {
		if ret.OrderID == orderID {
			out = append(out, ret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) UpdateCustomerReturn(_ context.Context, ret CustomerReturn) (CustomerReturn, error) {
	if _, ok := r.customerReturns[ret.ID]; !ok {
		return CustomerReturn{}, shared.NotFound("customer return", ret.ID)
	}
	ret.Lines = r.numberReturnLines(ret.ID, ret.Lines)
	r.customerReturns[ret.ID] = ret
	return ret, nil
}

func (r *memoryRepo) DeleteCustomerReturn(_ context.Context, id int64) error {
	delete(r.customerReturns, id)
	return nil
}

func (r *memoryRepo) SettledCustomerReturns(_ context.Context, orderID int64) ([]ReturnedQty, error) {
	var out []ReturnedQty
	for _, ret := range r.customerReturns {
		if ret.OrderID != orderID || !ret.Status.Settled() {
			continue
		}
		for _, l := range ret.Lines {
			out = append(out, ReturnedQty{ReturnID: ret.ID, OrderLineID: l.OrderLineID, Qty: l.Qty})
		}
	}
	return out, nil
}

// staticPartners serves fixed partners.
type staticPartners struct {
	salespersons map[int64]partners.Salesperson
	customers    map[int64]partners.Customer
}

func (p staticPartners) Salesperson(_ context.Context, id int64) (partners.Salesperson, error) {
	sp, ok := p.salespersons[id]
	if !ok {
		return partners.Salesperson{}, shared.NotFound("salesperson", id)
	}
	return sp, nil
}

func (p staticPartners) Customer(_ context.Context, id int64) (partners.Customer, error) {
	c, ok := p.customers[id]
	if !ok {
		return partners.Customer{}, shared.NotFound("customer", id)
	}
	return c, nil
}
