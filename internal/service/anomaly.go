package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/observability"
	"github.com/costwatch/costwatch-go/internal/port"
)

var anomalyTracer = otel.Tracer("service/anomaly")

// AnomalyService runs the statistical detector over the spend ledger.
type AnomalyService struct {
	ledger       port.SpendLedger
	orgs         port.OrganizationStore
	cfg          domain.DetectorConfig
	dashboardURL string
	metrics      *observability.Metrics
	logger       *zap.Logger

	now func() time.Time
}

// NewAnomalyService creates the detector service.
func NewAnomalyService(
	ledger port.SpendLedger,
	orgs port.OrganizationStore,
	cfg domain.DetectorConfig,
	dashboardURL string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *AnomalyService {
	return &AnomalyService{
		ledger:       ledger,
		orgs:         orgs,
		cfg:          cfg,
		dashboardURL: dashboardURL,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *AnomalyService) SetClock(now func() time.Time) {
	s.now = now
}

// Detect loads the trailing spend window for an organization and runs the
// detector over it. A nil report with a nil error means nothing anomalous
// was found and no notification should go out.
func (s *AnomalyService) Detect(ctx context.Context, orgID string) (*domain.AnomalyReport, error) {
	ctx, span := anomalyTracer.Start(ctx, "AnomalyService.Detect")
	defer span.End()
	span.SetAttributes(attribute.String("organization.id", orgID))

	today := domain.StartOfDayUTC(s.now())
	since := today.AddDate(0, 0, -s.cfg.WindowDays)

	records, err := s.ledger.ListSpendSince(ctx, orgID, since)
	if err != nil {
		return nil, fmt.Errorf("loading spend window: %w", err)
	}

	report := domain.BuildAnomalyReport(records, today, s.cfg)
	if report == nil {
		return nil, nil
	}

	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("loading organization: %w", err)
	}

	report.OrganizationID = org.ID
	report.OrganizationName = org.Name
	if s.dashboardURL != "" {
		report.DashboardURL = fmt.Sprintf("%s/organizations/%s/spend", s.dashboardURL, org.ID)
	}

	flagged := 0
	for provider, anomalies := range report.Providers {
		s.metrics.AddAnomalies(string(provider), len(anomalies.Services))
		flagged += len(anomalies.Services)
	}
	s.logger.Info("anomalies detected",
		zap.String("organization_id", orgID),
		zap.Int("services_flagged", flagged),
		zap.Int64("total_impact_cents", report.TotalImpactCents),
	)

	return report, nil
}
