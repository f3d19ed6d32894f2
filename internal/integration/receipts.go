package integration

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type receiptOp int

const (
	opCreate receiptOp = iota
	opUpdate
	opDelete
)

type receiptChange struct {
	op      receiptOp
	receipt ar.Receipt
	issued  bool
}

type receiptDelta struct {
	due     decimal.Decimal
	paid    decimal.Decimal
	adjusts bool
}

func effect(plan *posting.Plan, mode posting.ReceiptMode) *posting.ReceiptEffect {
	if plan == nil || plan.Receipt == nil || plan.Receipt.Mode != mode {
		return nil
	}
	return plan.Receipt
}

// resolveReceipts loads and validates every receipt touched by moving from prev to next.
// Nothing is written; the returned changes are applied after stock and bookings.
// With guard set, receipts with payments cannot have their due changed.
func (c *Coordinator) resolveReceipts(ctx context.Context, prev, next *posting.Plan, guard bool) ([]receiptChange, error) {
	var changes []receiptChange

	prevIssue, nextIssue := effect(prev, posting.ReceiptIssue), effect(next, posting.ReceiptIssue)
	if prevIssue != nil || nextIssue != nil {
		change, err := c.resolveIssue(ctx, prevIssue, nextIssue, guard)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}

	deltas := map[sources.Ref]*receiptDelta{}
	var order []sources.Ref
	add := func(eff *posting.ReceiptEffect, sign int64) {
		if eff == nil || eff.Mode == posting.ReceiptIssue {
			return
		}
		d, ok := deltas[eff.Target]
		if !ok {
			d = &receiptDelta{}
			deltas[eff.Target] = d
			order = append(order, eff.Target)
		}
		amount := eff.Amount.Mul(decimal.NewFromInt(sign))
		switch eff.Mode {
		case posting.ReceiptAdjust:
			d.due = d.due.Add(amount)
			d.adjusts = true
		case posting.ReceiptPay:
			d.paid = d.paid.Add(amount)
		}
	}
	if prev != nil {
		add(prev.Receipt, -1)
	}
	if next != nil {
		add(next.Receipt, 1)
	}
	for _, target := range order {
		d := deltas[target]
		rc, err := c.receipts.GetReceiptBySource(ctx, target)
		if shared.IsNotFound(err) {
			return nil, shared.NotFound("receipt for", target.String())
		}
		if err != nil {
			return nil, err
		}
		if guard && d.adjusts && rc.Paid.IsPositive() {
			return nil, shared.ImmutableDocument("receipt %s already has payments of %s", rc.Reference, shared.Amount(rc.Paid)).
				WithDetail("receipt_id", rc.ID)
		}
		rc.Due = rc.Due.Add(d.due)
		rc.Paid = rc.Paid.Add(d.paid)
		if err := checkReceipt(rc); err != nil {
			return nil, err
		}
		rc.Recompute()
		changes = append(changes, receiptChange{op: opUpdate, receipt: rc})
	}
	return changes, nil
}

func (c *Coordinator) resolveIssue(ctx context.Context, prev, next *posting.ReceiptEffect, guard bool) (receiptChange, error) {
	var target sources.Ref
	if next != nil {
		target = next.Target
	} else {
		target = prev.Target
	}
	existing, err := c.receipts.GetReceiptBySource(ctx, target)
	found := err == nil
	if err != nil && !shared.IsNotFound(err) {
		return receiptChange{}, err
	}

	if next == nil {
		if !found {
			return receiptChange{}, shared.NotFound("receipt for", target.String())
		}
		if guard && existing.Paid.IsPositive() {
			return receiptChange{}, shared.ImmutableDocument("%s has payments of %s and cannot be removed", existing.Reference, shared.Amount(existing.Paid)).
				WithDetail("receipt_id", existing.ID)
		}
		return receiptChange{op: opDelete, receipt: existing}, nil
	}

	rc := existing
	op := opUpdate
	if !found {
		op = opCreate
		rc = ar.Receipt{SourceKind: target.Kind, DocumentID: target.DocumentID, SourceKey: target.Key()}
	} else if guard && existing.Paid.IsPositive() && !existing.Due.Equal(next.Amount) {
		return receiptChange{}, shared.ImmutableDocument("%s has payments of %s and cannot be changed", existing.Reference, shared.Amount(existing.Paid)).
			WithDetail("receipt_id", existing.ID)
	}
	rc.PartnerType = next.Partner.Type
	rc.PartnerID = next.Partner.ID
	rc.ReceivableAccountID = next.ReceivableAccountID
	rc.Reference = next.Reference
	rc.ReceiptDate = next.Date
	rc.Due = next.Amount
	if err := checkReceipt(rc); err != nil {
		return receiptChange{}, err
	}
	rc.Recompute()
	return receiptChange{op: op, receipt: rc, issued: true}, nil
}

func checkReceipt(rc ar.Receipt) error {
	if rc.Due.IsNegative() {
		return shared.BalanceIntegrity("receipt %s due would become %s", rc.Reference, shared.Amount(rc.Due)).
			WithDetail("receipt_id", rc.ID)
	}
	if rc.Paid.IsNegative() {
		return shared.BalanceIntegrity("receipt %s paid would become %s", rc.Reference, shared.Amount(rc.Paid)).
			WithDetail("receipt_id", rc.ID)
	}
	if rc.Paid.GreaterThan(rc.Due) {
		return shared.BalanceIntegrity("receipt %s paid %s would exceed due %s", rc.Reference, shared.Amount(rc.Paid), shared.Amount(rc.Due)).
			WithDetail("receipt_id", rc.ID).
			WithDetail("paid", rc.Paid.StringFixed(2)).
			WithDetail("due", rc.Due.StringFixed(2))
	}
	return nil
}

// applyReceipts writes resolved changes and returns the receipt the plan issued or
// otherwise the last one it touched.
func (c *Coordinator) applyReceipts(ctx context.Context, changes []receiptChange) (*ar.Receipt, error) {
	var out *ar.Receipt
	for _, ch := range changes {
		rc := ch.receipt
		switch ch.op {
		case opCreate:
			created, err := c.receipts.CreateReceipt(ctx, rc)
			if err != nil {
				return nil, err
			}
			rc = created
		case opUpdate:
			if err := c.receipts.UpdateReceipt(ctx, rc); err != nil {
				return nil, err
			}
		case opDelete:
			if _, err := c.receipts.DeleteReceiptBySource(ctx, rc.Source()); err != nil {
				return nil, err
			}
			continue
		}
		if out == nil || ch.issued {
			r := rc
			out = &r
		}
	}
	return out, nil
}
