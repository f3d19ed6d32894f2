package payments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// IdempotencyHeader carries the client supplied key of a bulk submission.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes receipt and payment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the /finance/ar routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/receipts", func(r chi.Router) {
		r.Get("/", h.listReceipts)
		r.Get("/{id}", h.showReceipt)
		r.Get("/{id}/payments", h.listPayments)
		r.Post("/{id}/payments", h.pay)
	})
	r.Delete("/payments/{id}", h.deletePayment)
	r.Route("/bulk-payments", func(r chi.Router) {
		r.Post("/", h.createBulk)
		r.Get("/{id}", h.showBulk)
		r.Post("/{id}/confirm", h.confirmBulk)
		r.Delete("/{id}", h.deleteBulk)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := shared.AsDomainError(err); !ok && !errors.Is(err, shared.ErrIdempotencyConflict) {
		h.logger.Error("payment request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func receiptFilter(r *http.Request) ar.ReceiptFilter {
	q := r.URL.Query()
	var f ar.ReceiptFilter
	if id, err := strconv.ParseInt(q.Get("partner_id"), 10, 64); err == nil && q.Get("partner_type") != "" {
		f.Partner = &ledger.PartnerRef{Type: ledger.PartnerType(q.Get("partner_type")), ID: id}
	}
	f.Status = ar.Status(q.Get("status"))
	f.OpenOnly = q.Get("open") == "true"
	if limit, err := strconv.ParseUint(q.Get("limit"), 10, 64); err == nil {
		f.Limit = limit
	}
	return f
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListReceipts(r.Context(), receiptFilter(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) showReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req PayRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	payment, err := h.service.Pay(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeletePayment(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondOutcome answers a partially applied bulk payment with 207 so clients see both what
// was applied and what was left.
func (h *Handler) respondOutcome(w http.ResponseWriter, r *http.Request, status int, out Outcome, err error) {
	if err == nil {
		httpx.JSON(w, status, out)
		return
	}
	if errors.Is(err, shared.ErrPartialAllocation) && len(out.Allocations) > 0 {
		httpx.JSON(w, http.StatusMultiStatus, map[string]any{"outcome": out, "error": err.Error()})
		return
	}
	h.fail(w, r, err)
}

func (h *Handler) createBulk(w http.ResponseWriter, r *http.Request) {
	var req CreateBulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	key, err := shared.NormalizeIdempotencyKey(r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.CreateBulk(r.Context(), key, req)
	h.respondOutcome(w, r, http.StatusCreated, out, err)
}

func (h *Handler) confirmBulk(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.ConfirmBulk(r.Context(), id)
	h.respondOutcome(w, r, http.StatusOK, out, err)
}

func (h *Handler) showBulk(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.service.GetBulk(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) deleteBulk(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteBulk(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
