package domain

// HealthStatus is returned by the /healthz endpoint.
type HealthStatus struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// SyncMetrics is the JSON snapshot served by GET /v1/metrics/sync.
// Values are cumulative since process start.
type SyncMetrics struct {
	TotalSyncs       int64   `json:"total_syncs"`
	Succeeded        int64   `json:"succeeded"`
	Failed           int64   `json:"failed"`
	RateLimited      int64   `json:"rate_limited"`
	RowsUpserted     int64   `json:"rows_upserted"`
	AnomaliesFlagged int64   `json:"anomalies_flagged"`
	WebhookFailures  int64   `json:"webhook_failures"`
	ErrorRate        float64 `json:"error_rate"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	Period           string  `json:"period"`
}
