package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/adjustments"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar/payments"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners"
	"github.com/odyssey-erp/odyssey-ledger/internal/sales"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AccountingHandler  *accounting.Handler
	ProductsHandler    *products.Handler
	PartnersHandler    *partners.Handler
	SalesHandler       *sales.Handler
	AdjustmentsHandler *adjustments.Handler
	PaymentsHandler    *payments.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with ledger defaults. Nil handlers leave their
// routes unmounted.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.Config != nil && !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AccountingHandler != nil {
		r.Route("/accounting", params.AccountingHandler.MountRoutes)
	}
	if params.ProductsHandler != nil {
		r.Route("/masterdata", params.ProductsHandler.MountRoutes)
	}
	if params.PartnersHandler != nil {
		r.Route("/partners", params.PartnersHandler.MountRoutes)
	}
	if params.SalesHandler != nil {
		r.Route("/sales", params.SalesHandler.MountRoutes)
	}
	if params.AdjustmentsHandler != nil {
		r.Route("/inventory", params.AdjustmentsHandler.MountRoutes)
	}
	if params.PaymentsHandler != nil {
		r.Route("/finance/ar", params.PaymentsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
