package observability

import (
	"time"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the sync engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	syncDuration    *prometheus.HistogramVec
	syncsTotal      *prometheus.CounterVec
	rowsUpserted    *prometheus.CounterVec
	providerErrors  *prometheus.CounterVec
	anomaliesFound  *prometheus.CounterVec
	webhooksSent    *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "costwatch_sync_duration_seconds",
				Help:    "Duration of sync runs by provider.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		syncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwatch_syncs_total",
				Help: "Total sync attempts by outcome.",
			},
			[]string{"outcome"},
		),
		rowsUpserted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwatch_ledger_rows_upserted_total",
				Help: "Total ledger rows written by provider.",
			},
			[]string{"provider"},
		),
		providerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwatch_provider_errors_total",
				Help: "Total errors from provider billing APIs.",
			},
			[]string{"provider"},
		),
		anomaliesFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwatch_anomalies_flagged_total",
				Help: "Total services flagged as anomalous.",
			},
			[]string{"provider"},
		),
		webhooksSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwatch_webhooks_total",
				Help: "Total webhook deliveries by channel and outcome.",
			},
			[]string{"channel", "outcome"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwatch_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "costwatch_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordSyncDuration records the wall-clock duration of one sync run.
func (m *Metrics) RecordSyncDuration(provider string, d time.Duration) {
	m.syncDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// IncrSync increments the sync counter with an outcome label
// (synced, sync_error, rate_limited, not_found).
func (m *Metrics) IncrSync(outcome string) {
	m.syncsTotal.WithLabelValues(outcome).Inc()
}

// AddRowsUpserted records ledger rows written during a sync.
func (m *Metrics) AddRowsUpserted(provider string, n int) {
	m.rowsUpserted.WithLabelValues(provider).Add(float64(n))
}

// IncrProviderError increments the provider API error counter.
func (m *Metrics) IncrProviderError(provider string) {
	m.providerErrors.WithLabelValues(provider).Inc()
}

// AddAnomalies records flagged services for a provider.
func (m *Metrics) AddAnomalies(provider string, n int) {
	m.anomaliesFound.WithLabelValues(provider).Add(float64(n))
}

// IncrWebhook increments the webhook delivery counter.
func (m *Metrics) IncrWebhook(channel, outcome string) {
	m.webhooksSent.WithLabelValues(channel, outcome).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetSyncSnapshot returns a snapshot of sync metrics suitable for the
// GET /v1/metrics/sync endpoint.
// Note: Prometheus counters expose cumulative values.
func (m *Metrics) GetSyncSnapshot() *domain.SyncMetrics {
	succeeded := getCounterValue(m.syncsTotal, "synced")
	failed := getCounterValue(m.syncsTotal, "sync_error")
	rateLimited := getCounterValue(m.syncsTotal, "rate_limited")
	total := succeeded + failed + rateLimited

	var rows, anomalies, webhookFails float64
	for _, p := range domain.KnownProviders {
		rows += getCounterValue(m.rowsUpserted, string(p))
		anomalies += getCounterValue(m.anomaliesFound, string(p))
	}
	for _, ch := range []string{"slack", "discord"} {
		webhookFails += getCounterValue(m.webhooksSent, ch, "error")
	}

	hits := getCounterValue(m.cacheHits, "org_settings")
	misses := getCounterValue(m.cacheMisses, "org_settings")

	errorRate := float64(0)
	if succeeded+failed > 0 {
		errorRate = failed / (succeeded + failed)
	}
	cacheHitRate := float64(0)
	if hits+misses > 0 {
		cacheHitRate = hits / (hits + misses)
	}

	return &domain.SyncMetrics{
		TotalSyncs:       int64(total),
		Succeeded:        int64(succeeded),
		Failed:           int64(failed),
		RateLimited:      int64(rateLimited),
		RowsUpserted:     int64(rows),
		AnomaliesFlagged: int64(anomalies),
		WebhookFailures:  int64(webhookFails),
		ErrorRate:        errorRate,
		CacheHitRate:     cacheHitRate,
		Period:           "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
