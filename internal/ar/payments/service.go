package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Poster applies and reverses posting plans.
type Poster interface {
	Post(ctx context.Context, plan posting.Plan) (integration.Result, error)
	Unpost(ctx context.Context, plan posting.Plan) error
}

// Idempotency guards bulk submissions against replays.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Locker serialises writers of one document.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// Metrics counts bulk allocation outcomes.
type Metrics interface {
	ObserveAllocation(outcome string)
}

// Deps groups the Service's collaborators.
type Deps struct {
	Repo        ar.Repository
	Tx          db.Transactor
	Builder     *posting.Builder
	Poster      Poster
	Idempotency Idempotency
	Locker      Locker
	Metrics     Metrics
	Logger      *slog.Logger
}

// Service records receipt payments.
type Service struct {
	repo        ar.Repository
	tx          db.Transactor
	builder     *posting.Builder
	poster      Poster
	idempotency Idempotency
	locker      Locker
	metrics     Metrics
	logger      *slog.Logger
}

const (
	idempotencyModule = "ar.bulk_payment"

	lockReceipt = "receipt"
	lockBulk    = "bulk_payment"

	outcomeFull     = "full"
	outcomePartial  = "partial"
	outcomeRejected = "rejected"
)

// NewService constructs the service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Locker == nil {
		deps.Locker = shared.NewDocumentLocker(nil, 0)
	}
	return &Service{
		repo:        deps.Repo,
		tx:          deps.Tx,
		builder:     deps.Builder,
		poster:      deps.Poster,
		idempotency: deps.Idempotency,
		locker:      deps.Locker,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
}

// ListReceipts lists receipts, optionally for one partner or only those still open.
func (s *Service) ListReceipts(ctx context.Context, filter ar.ReceiptFilter) ([]ar.Receipt, error) {
	return s.repo.ListReceipts(ctx, filter)
}

// GetReceipt loads a receipt with its payments.
func (s *Service) GetReceipt(ctx context.Context, id int64) (ReceiptView, error) {
	rc, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return ReceiptView{}, err
	}
	items, err := s.repo.ListPayments(ctx, id)
	if err != nil {
		return ReceiptView{}, err
	}
	return ReceiptView{Receipt: rc, Payments: items}, nil
}

// ListPayments lists the payments of a receipt.
func (s *Service) ListPayments(ctx context.Context, receiptID int64) ([]ar.Payment, error) {
	if _, err := s.repo.GetReceipt(ctx, receiptID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, receiptID)
}

// paymentPlan rebuilds the posting of a stored payment. Payments made by a bulk payment post
// under the bulk receipt source.
func (s *Service) paymentPlan(ctx context.Context, rc ar.Receipt, p ar.Payment) (posting.Plan, error) {
	kind := sources.KindReceipt
	if p.BulkPaymentID != nil {
		kind = sources.KindBulkReceipt
	}
	splits := p.Splits
	if len(splits) == 0 {
		splits = []ar.Split{{AccountID: p.PaymentAccountID, Amount: p.Amount}}
	}
	return s.builder.Payment(ctx, posting.Payment{
		Source:              sources.NewRef(kind, p.ID),
		Reference:           rc.Reference,
		Date:                p.PaidOn,
		Receipt:             rc.Source(),
		Partner:             rc.Partner(),
		ReceivableAccountID: rc.ReceivableAccountID,
		Splits:              splits,
	})
}

// record stores p against rc and posts it. rc must be locked by the caller's transaction.
func (s *Service) record(ctx context.Context, rc ar.Receipt, p ar.Payment) (ar.Payment, error) {
	if p.Amount.GreaterThan(rc.Remaining) {
		return ar.Payment{}, shared.BalanceIntegrity("Payment of %s exceeds the remaining %s of %s",
			shared.Amount(p.Amount), shared.Amount(rc.Remaining), rc.Reference).
			WithDetail("remaining", rc.Remaining.StringFixed(2))
	}
	p.ReceiptID = rc.ID
	stored, err := s.repo.InsertPayment(ctx, p)
	if err != nil {
		return ar.Payment{}, err
	}
	plan, err := s.paymentPlan(ctx, rc, stored)
	if err != nil {
		return ar.Payment{}, err
	}
	if _, err := s.poster.Post(ctx, plan); err != nil {
		return ar.Payment{}, err
	}
	return stored, nil
}

// Pay records one payment against a receipt.
func (s *Service) Pay(ctx context.Context, receiptID int64, req PayRequest) (ar.Payment, error) {
	if err := httpx.Validate(req); err != nil {
		return ar.Payment{}, err
	}
	amount := shared.Round2(req.Amount)
	if !amount.IsPositive() {
		return ar.Payment{}, shared.Validation("payment amount must be greater than zero")
	}
	var payment ar.Payment
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockReceipt, receiptID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			rc, err := s.repo.GetReceiptForUpdate(ctx, receiptID)
			if err != nil {
				return err
			}
			payment, err = s.record(ctx, rc, ar.Payment{
				PaymentAccountID: req.PaymentAccountID,
				Amount:           amount,
				Splits:           []ar.Split{{AccountID: req.PaymentAccountID, Amount: amount}},
				PaidOn:           req.PaidOn,
				Note:             req.Note,
			})
			return err
		})
	})
	if err != nil {
		return ar.Payment{}, err
	}
	s.logger.Info("receipt payment recorded",
		slog.Int64("receipt_id", receiptID),
		slog.Int64("payment_id", payment.ID),
		slog.String("amount", payment.Amount.StringFixed(2)))
	return payment, nil
}

// reverse unposts a stored payment and removes it.
func (s *Service) reverse(ctx context.Context, p ar.Payment) error {
	rc, err := s.repo.GetReceiptForUpdate(ctx, p.ReceiptID)
	if err != nil {
		return err
	}
	plan, err := s.paymentPlan(ctx, rc, p)
	if err != nil {
		return err
	}
	if err := s.poster.Unpost(ctx, plan); err != nil {
		return err
	}
	return s.repo.DeletePayment(ctx, p.ID)
}

// DeletePayment reverses a single payment. Payments made by a bulk payment are removed with it.
func (s *Service) DeletePayment(ctx context.Context, id int64) error {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if p.BulkPaymentID != nil {
		return shared.ImmutableDocument("payment %d belongs to bulk payment %d; delete the bulk payment instead", id, *p.BulkPaymentID).
			WithDetail("bulk_payment_id", *p.BulkPaymentID)
	}
	return s.locker.WithLock(ctx, shared.DocumentLockKey(lockReceipt, p.ReceiptID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			return s.reverse(ctx, p)
		})
	})
}

// ============================================================================
// BULK PAYMENTS
// ============================================================================

func (s *Service) openReceipts(ctx context.Context, partner ledger.PartnerRef) ([]ar.Receipt, decimal.Decimal, error) {
	open, err := s.repo.ListReceipts(ctx, ar.ReceiptFilter{Partner: &partner, OpenOnly: true})
	if err != nil {
		return nil, decimal.Zero, err
	}
	total := decimal.Zero
	for _, rc := range open {
		total = total.Add(rc.Remaining)
	}
	return open, total, nil
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveAllocation(outcome)
	}
}

// CreateBulk stores a draft bulk payment. A non-empty key makes the submission idempotent.
func (s *Service) CreateBulk(ctx context.Context, key string, req CreateBulkRequest) (Outcome, error) {
	if err := httpx.Validate(req); err != nil {
		return Outcome{}, err
	}
	amount := shared.Round2(req.Amount)
	if !amount.IsPositive() {
		return Outcome{}, shared.Validation("bulk payment amount must be greater than zero")
	}
	methods := make([]ar.Method, len(req.Methods))
	methodTotal := decimal.Zero
	for i, m := range req.Methods {
		if !m.Amount.IsPositive() {
			return Outcome{}, shared.Validation("payment method amount must be greater than zero")
		}
		methods[i] = ar.Method{AccountID: m.AccountID, Amount: shared.Round2(m.Amount)}
		methodTotal = methodTotal.Add(methods[i].Amount)
	}
	if !shared.WithinEpsilon(methodTotal, amount) {
		return Outcome{}, shared.Validation("Payment methods total %s must equal the amount to pay %s",
			shared.Amount(methodTotal), shared.Amount(amount))
	}

	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Outcome{}, err
			}
			return Outcome{}, fmt.Errorf("payments: idempotency key: %w", err)
		}
	}

	var bulk ar.BulkPayment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		partner := ledger.PartnerRef{Type: req.PartnerType, ID: req.PartnerID}
		_, due, err := s.openReceipts(ctx, partner)
		if err != nil {
			return err
		}
		if amount.GreaterThan(due) {
			return shared.Validation("Total Amount to Pay (%s) cannot exceed total due (%s)", shared.Amount(amount), shared.Amount(due)).
				WithDetail("total_due", due.StringFixed(2))
		}
		bulk, err = s.repo.InsertBulk(ctx, ar.BulkPayment{
			PartnerType:    req.PartnerType,
			PartnerID:      req.PartnerID,
			Amount:         amount,
			Applied:        decimal.Zero,
			PaidOn:         req.PaidOn,
			IdempotencyKey: key,
			Status:         ar.BulkDraft,
			Methods:        methods,
		})
		return err
	})
	if err != nil {
		s.observe(outcomeRejected)
		if key != "" && s.idempotency != nil {
			if derr := s.idempotency.Delete(context.WithoutCancel(ctx), key); derr != nil {
				s.logger.Warn("idempotency key release failed", slog.String("key", key), slog.Any("error", derr))
			}
		}
		return Outcome{}, err
	}
	s.logger.Info("bulk payment created",
		slog.Int64("bulk_payment_id", bulk.ID),
		slog.String("partner", bulk.Partner().String()),
		slog.String("amount", bulk.Amount.StringFixed(2)))
	if !req.Confirm {
		return Outcome{Bulk: bulk, Unused: bulk.Amount}, nil
	}
	return s.ConfirmBulk(ctx, bulk.ID)
}

// ConfirmBulk spreads a draft bulk payment over the partner's open receipts, oldest first.
// Each receipt's allocation commits in its own transaction, so when the payment cannot be
// fully applied the receipts already paid stay paid and ErrPartialAllocation is returned
// alongside the outcome.
func (s *Service) ConfirmBulk(ctx context.Context, id int64) (Outcome, error) {
	var out Outcome
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockBulk, id), func(ctx context.Context) error {
		bulk, err := s.repo.GetBulk(ctx, id)
		if err != nil {
			return err
		}
		if bulk.Status != ar.BulkDraft {
			return shared.ImmutableDocument("bulk payment %d is %s and cannot be confirmed again", id, bulk.Status)
		}
		open, _, err := s.openReceipts(ctx, bulk.Partner())
		if err != nil {
			return err
		}
		plan, _ := ar.Allocate(open, bulk.Amount, bulk.Methods)

		applied := decimal.Zero
		var stepErr error
		for _, alloc := range plan {
			if stepErr = s.applyAllocation(ctx, bulk, alloc); stepErr != nil {
				break
			}
			applied = applied.Add(alloc.Amount)
			out.Allocations = append(out.Allocations, alloc)
		}

		bulk.Applied = applied
		out.Unused = bulk.Amount.Sub(applied)
		switch {
		case out.Unused.IsPositive() && applied.IsPositive():
			bulk.Status = ar.BulkPartial
		case out.Unused.IsPositive():
			bulk.Status = ar.BulkDraft
		default:
			bulk.Status = ar.BulkConfirmed
		}
		if err := s.tx.WithinTx(ctx, func(ctx context.Context) error { return s.repo.UpdateBulk(ctx, bulk) }); err != nil {
			return err
		}
		out.Bulk = bulk
		if stepErr != nil {
			return stepErr
		}
		if out.Unused.IsPositive() {
			return shared.PartialAllocation(out.Unused).WithDetail("allocations", out.Allocations)
		}
		return nil
	})
	switch {
	case err == nil:
		s.observe(outcomeFull)
	case len(out.Allocations) > 0:
		s.observe(outcomePartial)
	default:
		s.observe(outcomeRejected)
	}
	if err != nil && len(out.Allocations) == 0 {
		return Outcome{}, err
	}
	s.logger.Info("bulk payment confirmed",
		slog.Int64("bulk_payment_id", id),
		slog.Int("receipts", len(out.Allocations)),
		slog.String("unused", out.Unused.StringFixed(2)))
	return out, err
}

func (s *Service) applyAllocation(ctx context.Context, bulk ar.BulkPayment, alloc ar.Allocation) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		rc, err := s.repo.GetReceiptForUpdate(ctx, alloc.ReceiptID)
		if err != nil {
			return err
		}
		bulkID := bulk.ID
		_, err = s.record(ctx, rc, ar.Payment{
			BulkPaymentID: &bulkID,
			Amount:        alloc.Amount,
			Splits:        alloc.Splits,
			PaidOn:        bulk.PaidOn,
			Note:          fmt.Sprintf("Bulk payment %d", bulk.ID),
		})
		return err
	})
}

// GetBulk loads a bulk payment with the payments it made.
func (s *Service) GetBulk(ctx context.Context, id int64) (BulkView, error) {
	bulk, err := s.repo.GetBulk(ctx, id)
	if err != nil {
		return BulkView{}, err
	}
	items, err := s.repo.ListPaymentsByBulk(ctx, id)
	if err != nil {
		return BulkView{}, err
	}
	return BulkView{BulkPayment: bulk, Payments: items}, nil
}

// DeleteBulk reverses every payment the bulk payment made and removes it.
func (s *Service) DeleteBulk(ctx context.Context, id int64) error {
	err := s.locker.WithLock(ctx, shared.DocumentLockKey(lockBulk, id), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			bulk, err := s.repo.GetBulk(ctx, id)
			if err != nil {
				return err
			}
			items, err := s.repo.ListPaymentsByBulk(ctx, id)
			if err != nil {
				return err
			}
			for _, p := range items {
				if err := s.reverse(ctx, p); err != nil {
					return fmt.Errorf("payments: reverse payment %d of bulk %d: %w", p.ID, id, err)
				}
			}
			if err := s.repo.DeleteBulk(ctx, id); err != nil {
				return err
			}
			if bulk.IdempotencyKey != "" && s.idempotency != nil {
				return s.idempotency.Delete(ctx, bulk.IdempotencyKey)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.logger.Info("bulk payment deleted", slog.Int64("bulk_payment_id", id))
	return nil
}
