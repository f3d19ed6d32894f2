package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/rates"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/testing/ledgertest"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGER_FOREIGN_COST_CURRENCY", " usd ")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "USD", cfg.ForeignCostCurrency)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, "0 2 * * *", cfg.GLIntegrityCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadSettings(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("LEDGER_FOREIGN_COST_CURRENCY", " ")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, "DEBUG", parseLevel(&Config{LogLevel: "debug"}).String())
	require.Equal(t, "WARN", parseLevel(&Config{LogLevel: "WARNING"}).String())
	require.Equal(t, "INFO", parseLevel(nil).String())
}

func TestRouterMountsLedgerRoutes(t *testing.T) {
	h := ledgertest.New(t, 0)
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Config:  &Config{AppEnv: "production", RateLimitPerMinute: 100},
		Metrics: metrics,
		AccountingHandler: accounting.NewHandler(nil,
			accounts.NewService(h.Store.Accounts(), nil, nil),
			bookings.NewService(h.Store.Bookings()),
			rates.NewService(h.Store.Rates())),
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/accounting/accounts/1", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `odyssey_http_requests_total{code="200",method="GET",route="/accounting/accounts/{id}"}`)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/sales/orders", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSkipStartupFollowsTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, SkipStartup("odyssey"))

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, SkipStartup("odyssey"))
}
