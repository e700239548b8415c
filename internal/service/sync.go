// Package service contains the core use cases: the sync orchestrator, the
// anomaly detector and the post-sync notification trigger.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/observability"
	"github.com/costwatch/costwatch-go/internal/infra/resilience"
	"github.com/costwatch/costwatch-go/internal/port"
)

var syncTracer = otel.Tracer("service/sync")

// AdapterRegistry resolves the billing adapter for a provider.
type AdapterRegistry interface {
	Resolve(p domain.Provider) port.ProviderAdapter
}

// SyncService drives one sync run per account: gate, backfill, finalize.
type SyncService struct {
	accounts port.AccountStore
	ledger   port.SpendLedger
	registry AdapterRegistry
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	logger   *zap.Logger

	backfillDays int

	// postSync, when set, runs after every successful sync. It receives its
	// own goroutine; see PostSyncTrigger for the error-swallowing contract.
	postSync func(orgID string)

	// now is swappable for tests.
	now func() time.Time
}

// NewSyncService creates the orchestrator with all dependencies injected.
func NewSyncService(
	accounts port.AccountStore,
	ledger port.SpendLedger,
	registry AdapterRegistry,
	bulkhead *resilience.Bulkhead,
	backfillDays int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		accounts:     accounts,
		ledger:       ledger,
		registry:     registry,
		bulkhead:     bulkhead,
		backfillDays: backfillDays,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// SetPostSyncHook installs the best-effort hook run after successful syncs.
func (s *SyncService) SetPostSyncHook(hook func(orgID string)) {
	s.postSync = hook
}

// SetClock overrides the time source. Test hook.
func (s *SyncService) SetClock(now func() time.Time) {
	s.now = now
}

// Sync runs one synchronization for an account.
//
// Error contract: only *domain.ErrNotFound and *domain.ErrRateLimited are
// returned as errors, and only before any external work starts. Once the
// lock is acquired, every failure is captured in the SyncResult: the caller
// has to render a status either way, and partial backfill progress is
// already committed to the ledger.
func (s *SyncService) Sync(ctx context.Context, orgID, accountID string) (*domain.SyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "SyncService.Sync")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization.id", orgID),
		attribute.String("account.id", accountID),
	)

	// Cap concurrent backfills before touching the gate so a waiting run
	// does not sit on a SYNCING status.
	if err := s.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.bulkhead.Release()

	acct, err := s.accounts.AcquireSyncLock(ctx, orgID, accountID)
	if err != nil {
		s.recordGateFailure(accountID, err)
		return nil, err
	}

	start := s.now()
	defer func() {
		s.metrics.RecordSyncDuration(string(acct.Provider), s.now().Sub(start))
	}()

	s.logger.Info("sync started",
		zap.String("account_id", acct.ID),
		zap.String("provider", string(acct.Provider)),
	)

	result := s.backfill(ctx, acct)

	if result.Status == domain.StatusSynced {
		s.metrics.IncrSync("synced")
		s.metrics.AddRowsUpserted(string(acct.Provider), result.RowsUpserted)
		s.logger.Info("sync finished",
			zap.String("account_id", acct.ID),
			zap.Int("rows_upserted", result.RowsUpserted),
		)
		if s.postSync != nil {
			go s.postSync(acct.OrganizationID)
		}
	} else {
		s.metrics.IncrSync("sync_error")
		s.metrics.IncrProviderError(string(acct.Provider))
		errMsg := ""
		if result.LastSyncError != nil {
			errMsg = *result.LastSyncError
		}
		s.logger.Warn("sync failed",
			zap.String("account_id", acct.ID),
			zap.String("provider", string(acct.Provider)),
			zap.Int("rows_upserted", result.RowsUpserted),
			zap.String("sync_error", errMsg),
		)
	}

	return result, nil
}

// backfill walks the window one UTC day at a time, strictly ascending, so a
// mid-loop failure leaves a contiguous prefix of days in the ledger and the
// unchanged watermark makes the next run resume there.
func (s *SyncService) backfill(ctx context.Context, acct *domain.Account) *domain.SyncResult {
	adapter := s.registry.Resolve(acct.Provider)
	window := domain.ComputeSyncWindow(acct.LastSyncedAt, s.now(), s.backfillDays)

	rowsUpserted := 0
	for _, day := range window.Days() {
		rows, err := adapter.FetchDailySpend(ctx, acct, day, day.AddDate(0, 0, 1))
		if err != nil {
			return s.finishError(ctx, acct, err, rowsUpserted)
		}

		records := make([]domain.SpendRecord, 0, len(rows))
		for _, row := range rows {
			records = append(records, domain.NormalizeSpendRow(acct, row))
		}

		n, err := s.ledger.UpsertSpend(ctx, records)
		if err != nil {
			return s.finishError(ctx, acct, err, rowsUpserted)
		}
		rowsUpserted += n
	}

	syncedAt := s.now().UTC()
	if err := s.accounts.FinishSync(ctx, acct.ID, domain.StatusSynced, &syncedAt, nil); err != nil {
		// The data landed but the watermark write failed; report the run as
		// failed so the caller retries and the cursor re-covers the window.
		return s.finishError(ctx, acct, err, rowsUpserted)
	}

	return &domain.SyncResult{
		AccountID:    acct.ID,
		Status:       domain.StatusSynced,
		LastSyncedAt: &syncedAt,
		RowsUpserted: rowsUpserted,
	}
}

// finishError records a post-lock failure as state, not as an error.
func (s *SyncService) finishError(ctx context.Context, acct *domain.Account, cause error, rowsUpserted int) *domain.SyncResult {
	key := domain.SyncErrorKey(cause)

	if err := s.accounts.FinishSync(ctx, acct.ID, domain.StatusSyncError, nil, &key); err != nil {
		s.logger.Error("failed to persist sync error state",
			zap.String("account_id", acct.ID),
			zap.Error(err),
		)
	}

	return &domain.SyncResult{
		AccountID:     acct.ID,
		Status:        domain.StatusSyncError,
		LastSyncedAt:  acct.LastSyncedAt,
		LastSyncError: &key,
		RowsUpserted:  rowsUpserted,
	}
}

func (s *SyncService) recordGateFailure(accountID string, err error) {
	switch err.(type) {
	case *domain.ErrRateLimited:
		s.metrics.IncrSync("rate_limited")
		s.logger.Info("sync rate limited",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	case *domain.ErrNotFound:
		s.metrics.IncrSync("not_found")
	default:
		s.metrics.IncrSync("gate_error")
		s.logger.Error("sync gate failed",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
	}
}
