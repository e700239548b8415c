package domain

import (
	"math"
	"sort"
	"time"
)

// DetectorConfig holds the anomaly thresholds. The three gates exist because
// a Z-score alone over-triggers on low-variance, low-spend series: a jump
// from 1¢ to 5¢ has a huge Z-score but no financial meaning.
type DetectorConfig struct {
	// WindowDays is the trailing history window loaded from the ledger.
	WindowDays int
	// ZScore is the multiplier on the population standard deviation.
	ZScore float64
	// Spike is the relative floor: today must exceed Spike * mean.
	Spike float64
	// MinCents is the absolute floor: today must exceed this amount.
	MinCents int64
	// MinHistoryDays is the minimum number of history days before a service
	// can be flagged at all. Protects brand-new services.
	MinHistoryDays int
}

// DefaultDetectorConfig matches the product thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		WindowDays:     14,
		ZScore:         2.0,
		Spike:          1.2,
		MinCents:       100,
		MinHistoryDays: 3,
	}
}

// ServiceAnomaly is one flagged service within a provider.
type ServiceAnomaly struct {
	ServiceName       string  `json:"service_name"`
	CurrentSpendCents int64   `json:"current_spend_cents"`
	AverageSpendCents int64   `json:"average_spend_cents"`
	SpikePercent      int64   `json:"spike_percent"`
	ZScore            float64 `json:"z_score"`
}

// ProviderAnomalies groups the flagged services of one provider.
type ProviderAnomalies struct {
	Services         []ServiceAnomaly `json:"services"`
	TotalImpactCents int64            `json:"total_impact_cents"`
}

// AnomalyReport is the consolidated multi-provider report handed to the
// notification dispatcher. OrganizationName and DashboardURL are filled in by
// the caller.
type AnomalyReport struct {
	OrganizationID   string                          `json:"organization_id"`
	OrganizationName string                          `json:"organization_name"`
	DashboardURL     string                          `json:"dashboard_url"`
	TotalImpactCents int64                           `json:"total_impact_cents"`
	Providers        map[Provider]*ProviderAnomalies `json:"providers"`
	GeneratedAt      time.Time                       `json:"generated_at"`
}

type serviceKey struct {
	provider Provider
	service  string
}

// BuildAnomalyReport runs the statistical detection over a window of ledger
// rows. Rows are grouped by (provider, service), summed per day, and split
// into history (days before today) and today's total. Returns nil when no
// service trips all gates; nil means no notification.
func BuildAnomalyReport(records []SpendRecord, today time.Time, cfg DetectorConfig) *AnomalyReport {
	today = StartOfDayUTC(today)

	// Per (provider, service): spend summed per day.
	daily := make(map[serviceKey]map[time.Time]int64)
	for _, rec := range records {
		key := serviceKey{provider: rec.Provider, service: rec.ServiceName}
		if daily[key] == nil {
			daily[key] = make(map[time.Time]int64)
		}
		daily[key][StartOfDayUTC(rec.Date)] += rec.AmountCents
	}

	report := &AnomalyReport{
		Providers:   make(map[Provider]*ProviderAnomalies),
		GeneratedAt: today,
	}

	// Impacts accumulate on the unrounded mean and round once at the end,
	// so the totals do not drift by a cent per flagged service.
	impacts := make(map[Provider]float64)
	var totalImpact float64

	for key, days := range daily {
		var history []int64
		var todaySpend int64
		for day, cents := range days {
			if day.Equal(today) {
				todaySpend = cents
			} else {
				history = append(history, cents)
			}
		}

		anomaly, mean, ok := evaluateService(key.service, history, todaySpend, cfg)
		if !ok {
			continue
		}

		prov := report.Providers[key.provider]
		if prov == nil {
			prov = &ProviderAnomalies{}
			report.Providers[key.provider] = prov
		}
		prov.Services = append(prov.Services, anomaly)

		impacts[key.provider] += float64(todaySpend) - mean
		totalImpact += float64(todaySpend) - mean
	}

	if len(report.Providers) == 0 {
		return nil
	}

	// Biggest spenders first within each provider.
	for provider, prov := range report.Providers {
		prov.TotalImpactCents = int64(math.Round(impacts[provider]))
		sort.Slice(prov.Services, func(i, j int) bool {
			return prov.Services[i].CurrentSpendCents > prov.Services[j].CurrentSpendCents
		})
	}
	report.TotalImpactCents = int64(math.Round(totalImpact))
	return report
}

// evaluateService applies the three gates to one service's history. The
// unrounded mean is returned alongside the anomaly for impact accounting.
func evaluateService(name string, history []int64, today int64, cfg DetectorConfig) (ServiceAnomaly, float64, bool) {
	if len(history) < cfg.MinHistoryDays {
		return ServiceAnomaly{}, 0, false
	}

	mean, stdDev := meanStdDev(history)

	// Gate 1: zero variance never flags (and avoids dividing by zero).
	if stdDev <= 0 {
		return ServiceAnomaly{}, 0, false
	}
	// Gate 2: statistically significant.
	if float64(today) <= mean+cfg.ZScore*stdDev {
		return ServiceAnomaly{}, 0, false
	}
	// Gate 3: financially significant, both relative and absolute.
	if float64(today) <= mean*cfg.Spike || today <= cfg.MinCents {
		return ServiceAnomaly{}, 0, false
	}

	return ServiceAnomaly{
		ServiceName:       name,
		CurrentSpendCents: today,
		AverageSpendCents: int64(math.Round(mean)),
		SpikePercent:      int64(math.Round((float64(today) - mean) / mean * 100)),
		ZScore:            (float64(today) - mean) / stdDev,
	}, mean, true
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(values []int64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	mean = float64(sum) / float64(len(values))

	var variance float64
	for _, v := range values {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
