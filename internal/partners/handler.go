package partners

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler exposes partner endpoints.
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

// MountRoutes registers partner routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Get("/salespersons", h.listSalespersons)
		r.Post("/salespersons", h.createSalesperson)
		r.Get("/salespersons/{id}", h.showSalesperson)
		r.Get("/salespersons/{id}/statement", h.statement(ledger.PartnerSalesperson))
	})
	r.Group(func(r chi.Router) {
		r.Get("/customers", h.listCustomers)
		r.Post("/customers", h.createCustomer)
		r.Get("/customers/{id}", h.showCustomer)
		r.Get("/customers/{id}/statement", h.statement(ledger.PartnerCustomer))
	})
	r.Group(func(r chi.Router) {
		r.Get("/vendors", h.listVendors)
		r.Post("/vendors", h.createVendor)
		r.Get("/vendors/{id}", h.showVendor)
		r.Put("/vendors/{id}", h.updateVendor)
		r.Get("/vendors/{id}/statement", h.statement(ledger.PartnerVendor))
	})
}

func filterFrom(r *http.Request) ListFilter {
	f := ListFilter{Search: r.URL.Query().Get("q")}
	if limit, err := strconv.ParseUint(r.URL.Query().Get("limit"), 10, 64); err == nil {
		f.Limit = limit
	}
	return f
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := shared.AsDomainError(err); !ok {
		h.logger.Error("partners request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) listSalespersons(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListSalespersons(r.Context(), filterFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) createSalesperson(w http.ResponseWriter, r *http.Request) {
	var req CreateSalespersonRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sp, err := h.service.CreateSalesperson(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sp)
}

func (h *Handler) showSalesperson(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sp, err := h.service.Salesperson(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sp)
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListCustomers(r.Context(), filterFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.CreateCustomer(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) showCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.Customer(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.service.CustomerBalance(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"customer": c, "balance": balance})
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListVendors(r.Context(), filterFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) createVendor(w http.ResponseWriter, r *http.Request) {
	var req CreateVendorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.service.CreateVendor(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) showVendor(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.service.Vendor(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) updateVendor(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateVendorRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.service.UpdateVendor(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) statement(kind ledger.PartnerType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		st, err := h.service.Statement(r.Context(), ledger.PartnerRef{Type: kind, ID: id})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, st)
	}
}
