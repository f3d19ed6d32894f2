package products

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Movements reads a product's stock movement log.
type Movements interface {
	Movements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error)
}

// Handler exposes the product catalogue.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	movements Movements
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service, movements Movements) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, movements: movements}
}

// MountRoutes registers /products.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.show)
		r.Get("/{id}/movements", h.listMovements)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := shared.AsDomainError(err); !ok {
		h.logger.Error("product request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{Search: q.Get("q")}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "total": total})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	product, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	product, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := h.service.Get(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := inventory.MovementFilter{ProductID: id}
	if from, err := time.Parse(time.DateOnly, q.Get("from")); err == nil {
		filter.From = &from
	}
	if to, err := time.Parse(time.DateOnly, q.Get("to")); err == nil {
		filter.To = &to
	}
	if limit, err := strconv.ParseUint(q.Get("limit"), 10, 64); err == nil {
		filter.Limit = limit
	}
	items, err := h.movements.Movements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}
