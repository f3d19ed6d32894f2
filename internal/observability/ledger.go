package observability

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics menghitung hasil posting, kegagalan posting, dan alokasi pembayaran.
// Semua method aman dipanggil pada receiver nil.
type LedgerMetrics struct {
	postings    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	allocations *prometheus.CounterVec
}

// NewLedgerMetrics mendaftarkan counter ledger pada registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_postings_total",
		Help: "Posting ledger yang berhasil per sumber dan aksi.",
	}, []string{"source", "action"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_posting_failures_total",
		Help: "Posting ledger yang ditolak per sumber dan jenis error.",
	}, []string{"source", "kind"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ar_allocations_total",
		Help: "Alokasi pembayaran massal per hasil.",
	}, []string{"outcome"})
	registerer.MustRegister(postings, failures, allocations)
	return &LedgerMetrics{postings: postings, failures: failures, allocations: allocations}
}

// ObservePosting mencatat posting yang berhasil.
func (m *LedgerMetrics) ObservePosting(source, action string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(source, action).Inc()
}

// ObserveFailure mencatat posting yang gagal.
func (m *LedgerMetrics) ObserveFailure(source, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(source, kind).Inc()
}

// ObserveAllocation mencatat hasil alokasi: confirmed, partial, atau failed.
func (m *LedgerMetrics) ObserveAllocation(outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(outcome).Inc()
}
