package adjustments

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler exposes adjustment endpoints.
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

// MountRoutes registers /adjustments and /product-adjustments.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/adjustments", func(r chi.Router) {
		r.Get("/", h.listStock)
		r.Post("/", h.createStock)
		r.Get("/{id}", h.showStock)
		r.Put("/{id}", h.updateStock)
		r.Delete("/{id}", h.deleteStock)
	})
	r.Route("/product-adjustments", func(r chi.Router) {
		r.Get("/", h.listProduct)
		r.Post("/", h.createProduct)
		r.Get("/{id}", h.showProduct)
		r.Delete("/{id}", h.deleteProduct)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := shared.AsDomainError(err); !ok {
		h.logger.Error("adjustment request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func filterFrom(r *http.Request) ListFilter {
	q := r.URL.Query()
	var f ListFilter
	if id, err := strconv.ParseInt(q.Get("product_id"), 10, 64); err == nil {
		f.ProductID = id
	}
	if from, err := time.Parse(time.DateOnly, q.Get("from")); err == nil {
		f.From = &from
	}
	if to, err := time.Parse(time.DateOnly, q.Get("to")); err == nil {
		f.To = &to
	}
	if limit, err := strconv.ParseUint(q.Get("limit"), 10, 64); err == nil {
		f.Limit = limit
	}
	return f
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListStock(r.Context(), filterFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) createStock(w http.ResponseWriter, r *http.Request) {
	var req CreateStockAdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	adj, err := h.service.CreateStock(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) showStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	adj, err := h.service.GetStock(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) updateStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateStockAdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	adj, err := h.service.UpdateStock(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) deleteStock(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteStock(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listProduct(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListProduct(r.Context(), filterFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductAdjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	adj, err := h.service.CreateProduct(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) showProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	adj, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
