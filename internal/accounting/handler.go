// Package accounting serves the chart of accounts, posted bookings and exchange rates.
package accounting

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/rates"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler wires ledger read endpoints and account maintenance.
type Handler struct {
	logger   *slog.Logger
	accounts *accounts.Service
	bookings *bookings.Service
	rates    *rates.Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, accountSvc *accounts.Service, bookingSvc *bookings.Service, rateSvc *rates.Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, accounts: accountSvc, bookings: bookingSvc, rates: rateSvc}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.listAccounts)
	r.Post("/accounts", h.createAccount)
	r.Get("/accounts/{id}", h.showAccount)
	r.Get("/bookings", h.listBookings)
	r.Get("/bookings/{id}", h.showBooking)
	r.Get("/rates/{currency}", h.showRate)
	r.Post("/rates", h.setRate)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := shared.AsDomainError(err); !ok {
		h.logger.Error("accounting request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	items, err := h.accounts.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var input accounts.CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.accounts.Create(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) showAccount(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

// listBookings answers ?source=SALES_ORDER&document_id=1 with that document's bookings and
// otherwise lists by date range.
func (h *Handler) listBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter bookings.Filter
	if raw := q.Get("source"); raw != "" {
		kind := sources.Kind(strings.ToUpper(raw))
		if !kind.Valid() {
			h.fail(w, r, shared.Validation("unknown source %q", raw))
			return
		}
		filter.Kind = kind
	}
	if id, err := strconv.ParseInt(q.Get("document_id"), 10, 64); err == nil {
		filter.DocumentID = id
	}
	if filter.Kind != "" && filter.DocumentID > 0 {
		items, err := h.bookings.ForSource(r.Context(), sources.NewRef(filter.Kind, filter.DocumentID))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
		return
	}
	if from, err := time.Parse(time.DateOnly, q.Get("from")); err == nil {
		filter.From = &from
	}
	if to, err := time.Parse(time.DateOnly, q.Get("to")); err == nil {
		filter.To = &to
	}
	if limit, err := strconv.ParseUint(q.Get("limit"), 10, 64); err == nil {
		filter.Limit = limit
	}
	items, err := h.bookings.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) showBooking(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	booking, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, booking)
}

func (h *Handler) showRate(w http.ResponseWriter, r *http.Request) {
	currency := chi.URLParam(r, "currency")
	on := time.Now().UTC()
	if raw := r.URL.Query().Get("on"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			h.fail(w, r, shared.Validation("invalid date %q", raw))
			return
		}
		on = parsed
	}
	rate, err := h.rates.Rate(r.Context(), currency, on)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rates.Rate{Currency: strings.ToUpper(currency), EffectiveOn: on, Rate: rate})
}

func (h *Handler) setRate(w http.ResponseWriter, r *http.Request) {
	var rate rates.Rate
	if err := httpx.DecodeJSON(r, &rate); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.rates.Set(r.Context(), rate); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rate)
}
