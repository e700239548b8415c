package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/observability"
	"github.com/costwatch/costwatch-go/internal/port"
)

const settingsCachePrefix = "org_settings:"

// ReportDispatcher fans one anomaly report out to the configured channels.
type ReportDispatcher interface {
	Dispatch(ctx context.Context, settings *domain.NotificationSettings, report *domain.AnomalyReport)
}

// PostSyncTrigger runs after every successful sync: detect anomalies, check
// the organization's notification settings, dispatch. The whole path is
// best-effort: a failure here must never affect the sync that spawned it,
// so every error is logged and dropped.
type PostSyncTrigger struct {
	detector      *AnomalyService
	orgs          port.OrganizationStore
	settingsCache port.Cache[*domain.NotificationSettings]
	dispatcher    ReportDispatcher
	metrics       *observability.Metrics
	logger        *zap.Logger
	timeout       time.Duration
}

// NewPostSyncTrigger wires the trigger.
func NewPostSyncTrigger(
	detector *AnomalyService,
	orgs port.OrganizationStore,
	settingsCache port.Cache[*domain.NotificationSettings],
	dispatcher ReportDispatcher,
	timeout time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *PostSyncTrigger {
	return &PostSyncTrigger{
		detector:      detector,
		orgs:          orgs,
		settingsCache: settingsCache,
		dispatcher:    dispatcher,
		metrics:       metrics,
		logger:        logger,
		timeout:       timeout,
	}
}

// Run executes the trigger for one organization. Designed to be called on
// its own goroutine, detached from the request that completed the sync.
func (t *PostSyncTrigger) Run(orgID string) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("post-sync trigger panicked",
				zap.String("organization_id", orgID),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	report, err := t.detector.Detect(ctx, orgID)
	if err != nil {
		t.logger.Error("post-sync anomaly detection failed",
			zap.String("organization_id", orgID),
			zap.Error(err),
		)
		return
	}
	if report == nil {
		return
	}

	settings, err := t.notificationSettings(ctx, orgID)
	if err != nil {
		t.logger.Error("failed to load notification settings",
			zap.String("organization_id", orgID),
			zap.Error(err),
		)
		return
	}
	if !settings.AnomalyAlerts {
		t.logger.Debug("anomaly alerts disabled, report dropped",
			zap.String("organization_id", orgID),
		)
		return
	}

	t.dispatcher.Dispatch(ctx, settings, report)
}

func (t *PostSyncTrigger) notificationSettings(ctx context.Context, orgID string) (*domain.NotificationSettings, error) {
	key := settingsCachePrefix + orgID
	if cached, ok := t.settingsCache.Get(key); ok {
		t.metrics.IncrCacheHit("org_settings")
		return cached, nil
	}
	t.metrics.IncrCacheMiss("org_settings")

	settings, err := t.orgs.GetNotificationSettings(ctx, orgID)
	if err != nil {
		return nil, err
	}
	t.settingsCache.Set(key, settings)
	return settings, nil
}
