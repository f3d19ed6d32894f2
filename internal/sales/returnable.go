package sales

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ReturnedQty is a settled return quantity against one order line.
type ReturnedQty struct {
	ReturnID    int64           `db:"return_id"`
	OrderLineID int64           `db:"order_line_id"`
	Qty         decimal.Decimal `db:"qty"`
}

// Returnability of one order line. Returnable is never negative.
type Returnability struct {
	Original           decimal.Decimal `json:"original"`
	PreviouslyReturned decimal.Decimal `json:"previously_returned"`
	Returnable         decimal.Decimal `json:"returnable"`
}

// Returnable sums the settled returns of lineID, skipping excludeReturnID so a return being
// edited does not count against itself. It only reads its arguments.
func Returnable(original decimal.Decimal, lineID int64, settled []ReturnedQty, excludeReturnID int64) Returnability {
	previous := decimal.Zero
	for _, r := range settled {
		if r.OrderLineID != lineID || (excludeReturnID != 0 && r.ReturnID == excludeReturnID) {
			continue
		}
		previous = previous.Add(r.Qty)
	}
	available := original.Sub(previous)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return Returnability{Original: original, PreviouslyReturned: previous, Returnable: available}
}

// origin is the order line a return line points at.
type origin struct {
	LineID      int64
	ProductID   int64
	ProductName string
	Qty         decimal.Decimal
	Price       decimal.Decimal
}

// checkCeiling rejects return lines asking for more than their order line's returnable
// quantity. Lines of one return pointing at the same order line are summed first.
func checkCeiling(lines []ReturnLine, origins map[int64]origin, settled []ReturnedQty, returnID int64) error {
	requested := make(map[int64]decimal.Decimal)
	var order []int64
	for _, l := range lines {
		if _, seen := requested[l.OrderLineID]; !seen {
			order = append(order, l.OrderLineID)
		}
		requested[l.OrderLineID] = requested[l.OrderLineID].Add(l.Qty)
	}
	for _, lineID := range order {
		o, ok := origins[lineID]
		if !ok {
			return shared.NotFound("order line", lineID)
		}
		r := Returnable(o.Qty, lineID, settled, returnID)
		if requested[lineID].GreaterThan(r.Returnable) {
			return shared.OverReturn(o.ProductName, r.PreviouslyReturned, r.Returnable, r.Original).
				WithDetail("order_line_id", lineID).
				WithDetail("requested", requested[lineID].StringFixed(2))
		}
	}
	return nil
}

func lineViews(origins []origin, settled []ReturnedQty) ([]LineView, decimal.Decimal) {
	views := make([]LineView, 0, len(origins))
	total := decimal.Zero
	for _, o := range origins {
		r := Returnable(o.Qty, o.LineID, settled, 0)
		total = total.Add(r.PreviouslyReturned)
		views = append(views, LineView{LineID: o.LineID, ProductID: o.ProductID, Returnability: r})
	}
	return views, total
}
