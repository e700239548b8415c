package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
)

const accountColumns = `id, organization_id, provider, name, credentials, status,
	last_sync_error, last_synced_at, sync_started_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.Provider, &a.Name, &a.Credentials, &a.Status,
		&a.LastSyncError, &a.LastSyncedAt, &a.SyncStartedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount loads one account scoped to its organization.
func (s *Store) GetAccount(ctx context.Context, orgID, accountID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Store.GetAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1 AND organization_id = $2`, accountColumns)
	acct, err := scanAccount(s.db.QueryRow(ctx, query, accountID, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

// AcquireSyncLock runs the entire rate-limit gate in one transaction.
//
// The per-account conditional update alone cannot serialize two different
// accounts of the same provider, so the transaction first takes an advisory
// lock on (organization, provider); the snapshot reads and the flip then
// execute serially per provider and the check-then-act race is closed.
func (s *Store) AcquireSyncLock(ctx context.Context, orgID, accountID string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Store.AcquireSyncLock")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin sync gate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE id = $1 AND organization_id = $2`, accountColumns)
	acct, err := scanAccount(tx.QueryRow(ctx, query, accountID, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	if err != nil {
		return nil, fmt.Errorf("load account for gate: %w", err)
	}

	// Serialize all gate evaluations for this (org, provider).
	lockKey := fmt.Sprintf("%s:%s", orgID, acct.Provider)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	tier, err := s.tierInTx(ctx, tx, orgID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	state, err := s.providerStateInTx(ctx, tx, orgID, acct, now)
	if err != nil {
		return nil, err
	}

	if err := domain.CheckSyncAllowed(tier, acct, state, s.gate, now); err != nil {
		s.logger.Info("sync gate blocked",
			zap.String("account_id", accountID),
			zap.String("provider", string(acct.Provider)),
			zap.String("tier", string(tier)),
			zap.Error(err),
		)
		return nil, err
	}

	// Conditional flip: the affected-row count is the lock acquisition.
	// A SYNCING row older than the stuck TTL is treated as abandoned.
	stuckBefore := now.Add(-s.gate.StuckAfter)
	res, err := tx.Exec(ctx, `
		UPDATE accounts
		SET status = 'SYNCING', sync_started_at = $2, updated_at = $2
		WHERE id = $1
		  AND (status <> 'SYNCING' OR sync_started_at IS NULL OR sync_started_at < $3)`,
		accountID, now, stuckBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("flip status to SYNCING: %w", err)
	}
	if res.RowsAffected() == 0 {
		return nil, &domain.ErrRateLimited{Provider: acct.Provider, Reason: domain.ReasonSyncInFlight}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit sync gate tx: %w", err)
	}

	acct.Status = domain.StatusSyncing
	acct.SyncStartedAt = &now
	return acct, nil
}

func (s *Store) tierInTx(ctx context.Context, tx pgx.Tx, orgID string) (domain.Tier, error) {
	var tier domain.Tier
	err := tx.QueryRow(ctx,
		`SELECT tier FROM subscriptions WHERE organization_id = $1`, orgID,
	).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TierStarter, nil
	}
	if err != nil {
		return "", fmt.Errorf("load subscription tier: %w", err)
	}
	return tier, nil
}

func (s *Store) providerStateInTx(ctx context.Context, tx pgx.Tx, orgID string, acct *domain.Account, now time.Time) (domain.ProviderSyncState, error) {
	var state domain.ProviderSyncState

	stuckBefore := now.Add(-s.gate.StuckAfter)
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM accounts
			WHERE organization_id = $1 AND provider = $2 AND id <> $3
			  AND status = 'SYNCING'
			  AND (sync_started_at IS NULL OR sync_started_at >= $4)
		)`,
		orgID, acct.Provider, acct.ID, stuckBefore,
	).Scan(&state.AnotherSyncing)
	if err != nil {
		return state, fmt.Errorf("check in-flight siblings: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT MAX(last_synced_at) FROM accounts
		WHERE organization_id = $1 AND provider = $2`,
		orgID, acct.Provider,
	).Scan(&state.LatestSyncedAt)
	if err != nil {
		return state, fmt.Errorf("load provider watermark: %w", err)
	}

	return state, nil
}

// FinishSync writes the terminal state of a run. The watermark only advances
// on success; a failed run keeps lastSyncedAt so the next backfill resumes
// near the failure point.
func (s *Store) FinishSync(ctx context.Context, accountID string, status domain.SyncStatus, syncedAt *time.Time, syncError *string) error {
	ctx, span := tracer.Start(ctx, "Store.FinishSync")
	defer span.End()

	now := time.Now().UTC()
	var err error
	if status == domain.StatusSynced {
		_, err = s.db.Exec(ctx, `
			UPDATE accounts
			SET status = $2, last_synced_at = $3, last_sync_error = NULL,
			    sync_started_at = NULL, updated_at = $4
			WHERE id = $1`,
			accountID, status, syncedAt, now,
		)
	} else {
		_, err = s.db.Exec(ctx, `
			UPDATE accounts
			SET status = $2, last_sync_error = $3, sync_started_at = NULL, updated_at = $4
			WHERE id = $1`,
			accountID, status, syncError, now,
		)
	}
	if err != nil {
		return fmt.Errorf("finish sync: %w", err)
	}
	return nil
}
