package domain_test

import (
	"math"
	"testing"
	"time"

	"github.com/costwatch/costwatch-go/internal/domain"
)

var detectToday = time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

// records builds one ledger row per value, the last value dated today and the
// rest walking backward one day at a time.
func records(provider domain.Provider, serviceName string, cents []int64) []domain.SpendRecord {
	out := make([]domain.SpendRecord, 0, len(cents))
	for i, amount := range cents {
		out = append(out, domain.SpendRecord{
			OrganizationID: "org-1",
			AccountID:      "acc-1",
			Date:           detectToday.AddDate(0, 0, -(len(cents) - 1 - i)),
			Provider:       provider,
			ServiceName:    serviceName,
			AmountCents:    amount,
		})
	}
	return out
}

func TestBuildAnomalyReport_ZeroVarianceNeverFlags(t *testing.T) {
	recs := records(domain.ProviderAWS, "S3", []int64{100, 100, 100, 100})

	report := domain.BuildAnomalyReport(recs, detectToday, domain.DefaultDetectorConfig())
	if report != nil {
		t.Fatalf("constant history must never flag, got %+v", report)
	}
}

func TestBuildAnomalyReport_SpikeFlagged(t *testing.T) {
	// History [100, 100, 200]: mean 133.33, population stddev ~47.14.
	// Today at 500 clears every gate.
	recs := records(domain.ProviderAWS, "S3", []int64{100, 100, 200, 500})

	report := domain.BuildAnomalyReport(recs, detectToday, domain.DefaultDetectorConfig())
	if report == nil {
		t.Fatal("expected a report")
	}

	aws := report.Providers[domain.ProviderAWS]
	if aws == nil || len(aws.Services) != 1 {
		t.Fatalf("expected one flagged AWS service, got %+v", report.Providers)
	}
	got := aws.Services[0]
	if got.AverageSpendCents != 133 {
		t.Errorf("expected average 133, got %d", got.AverageSpendCents)
	}
	if got.SpikePercent != 275 {
		t.Errorf("expected 275%% spike, got %d", got.SpikePercent)
	}
	if got.ZScore <= 2.0 {
		t.Errorf("expected z-score above threshold, got %f", got.ZScore)
	}
	if report.TotalImpactCents != 500-133 {
		t.Errorf("expected impact %d, got %d", 500-133, report.TotalImpactCents)
	}
}

func TestBuildAnomalyReport_SmallAbsoluteSpendFiltered(t *testing.T) {
	// Statistically wild but financially meaningless: today is below the
	// 100 cent floor.
	recs := records(domain.ProviderVercel, "bandwidth", []int64{1, 2, 1, 2, 90})

	report := domain.BuildAnomalyReport(recs, detectToday, domain.DefaultDetectorConfig())
	if report != nil {
		t.Fatalf("sub-dollar spend must not flag, got %+v", report)
	}
}

func TestBuildAnomalyReport_ShortHistoryFiltered(t *testing.T) {
	recs := records(domain.ProviderAWS, "Lambda", []int64{10, 20, 9000})

	report := domain.BuildAnomalyReport(recs, detectToday, domain.DefaultDetectorConfig())
	if report != nil {
		t.Fatalf("two history days is below the minimum, got %+v", report)
	}
}

func TestBuildAnomalyReport_MultiProviderConsolidated(t *testing.T) {
	recs := append(
		records(domain.ProviderAWS, "S3", []int64{100, 100, 200, 500}),
		records(domain.ProviderGCP, "BigQuery", []int64{300, 280, 320, 310, 1500})...,
	)
	// A healthy service must not appear.
	recs = append(recs, records(domain.ProviderAWS, "EC2", []int64{400, 410, 390, 405})...)

	report := domain.BuildAnomalyReport(recs, detectToday, domain.DefaultDetectorConfig())
	if report == nil {
		t.Fatal("expected a report")
	}
	if len(report.Providers) != 2 {
		t.Fatalf("expected anomalies under 2 providers, got %d", len(report.Providers))
	}
	if len(report.Providers[domain.ProviderAWS].Services) != 1 {
		t.Errorf("expected only S3 under AWS, got %+v", report.Providers[domain.ProviderAWS].Services)
	}

	wantImpact := report.Providers[domain.ProviderAWS].TotalImpactCents +
		report.Providers[domain.ProviderGCP].TotalImpactCents
	if report.TotalImpactCents != wantImpact {
		t.Errorf("report impact %d != sum of provider impacts %d", report.TotalImpactCents, wantImpact)
	}
}

func TestBuildAnomalyReport_ServicesSortedBySpend(t *testing.T) {
	recs := append(
		records(domain.ProviderAWS, "S3", []int64{100, 100, 200, 500}),
		records(domain.ProviderAWS, "CloudFront", []int64{100, 100, 200, 900})...,
	)

	report := domain.BuildAnomalyReport(recs, detectToday, domain.DefaultDetectorConfig())
	if report == nil {
		t.Fatal("expected a report")
	}
	services := report.Providers[domain.ProviderAWS].Services
	if len(services) != 2 {
		t.Fatalf("expected 2 flagged services, got %d", len(services))
	}
	if services[0].ServiceName != "CloudFront" {
		t.Errorf("expected the biggest spender first, got %s", services[0].ServiceName)
	}
}

func TestBuildAnomalyReport_SameDayRowsSummed(t *testing.T) {
	// Two accounts reporting the same service on the same day count as one
	// daily total per (provider, service).
	recs := records(domain.ProviderAWS, "S3", []int64{100, 100, 200, 250})
	extra := domain.SpendRecord{
		OrganizationID: "org-1",
		AccountID:      "acc-2",
		Date:           detectToday,
		Provider:       domain.ProviderAWS,
		ServiceName:    "S3",
		AmountCents:    250,
	}
	recs = append(recs, extra)

	report := domain.BuildAnomalyReport(recs, detectToday, domain.DefaultDetectorConfig())
	if report == nil {
		t.Fatal("expected a report")
	}
	got := report.Providers[domain.ProviderAWS].Services[0]
	if got.CurrentSpendCents != 500 {
		t.Errorf("expected same-day rows summed to 500, got %d", got.CurrentSpendCents)
	}
}

func TestBuildAnomalyReport_ImpactUsesUnroundedMean(t *testing.T) {
	// History [100, 100, 101, 101]: mean 100.5. The impact is
	// round(500 - 100.5) = 400, not 500 minus the rounded mean (399).
	recs := records(domain.ProviderAWS, "S3", []int64{100, 100, 101, 101, 500})

	report := domain.BuildAnomalyReport(recs, detectToday, domain.DefaultDetectorConfig())
	if report == nil {
		t.Fatal("expected a report")
	}
	if report.TotalImpactCents != 400 {
		t.Errorf("expected impact 400, got %d", report.TotalImpactCents)
	}
	if got := report.Providers[domain.ProviderAWS].TotalImpactCents; got != 400 {
		t.Errorf("expected provider impact 400, got %d", got)
	}
}

func TestBuildAnomalyReport_ZScoreMath(t *testing.T) {
	history := []int64{100, 100, 200}
	recs := records(domain.ProviderAWS, "S3", append(history, 500))

	report := domain.BuildAnomalyReport(recs, detectToday, domain.DefaultDetectorConfig())
	if report == nil {
		t.Fatal("expected a report")
	}
	got := report.Providers[domain.ProviderAWS].Services[0]

	mean := (100.0 + 100.0 + 200.0) / 3.0
	variance := (math.Pow(100-mean, 2)*2 + math.Pow(200-mean, 2)) / 3.0
	wantZ := (500 - mean) / math.Sqrt(variance)
	if math.Abs(got.ZScore-wantZ) > 1e-9 {
		t.Errorf("expected z-score %f, got %f", wantZ, got.ZScore)
	}
}
