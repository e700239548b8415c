// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/costwatch/costwatch-go/internal/domain"
)

// AccountStore owns the account rows and the transactional sync gate.
type AccountStore interface {
	// GetAccount loads an account scoped to an organization.
	// Returns *domain.ErrNotFound when it does not exist.
	GetAccount(ctx context.Context, orgID, accountID string) (*domain.Account, error)

	// AcquireSyncLock runs the whole gate in one transaction: it serializes
	// on (organization, provider), reads the subscription tier and the
	// sibling-account state, applies domain.CheckSyncAllowed and flips the
	// account to SYNCING with a conditional update checked by affected-row
	// count. Returns the account snapshot on success, *domain.ErrRateLimited
	// when a rule blocked the sync, *domain.ErrNotFound when the account is
	// gone.
	AcquireSyncLock(ctx context.Context, orgID, accountID string) (*domain.Account, error)

	// FinishSync records the terminal state of a sync run. On success
	// lastSyncedAt advances to syncedAt and the error clears; on failure the
	// watermark is left untouched so the next run resumes near the failure.
	FinishSync(ctx context.Context, accountID string, status domain.SyncStatus, syncedAt *time.Time, syncError *string) error
}

// SpendLedger is the append/overwrite-only table of normalized spend facts.
type SpendLedger interface {
	// UpsertSpend bulk-writes records keyed on (organization, account, date,
	// service). Re-writing the same key overwrites. Returns the number of
	// rows written.
	UpsertSpend(ctx context.Context, records []domain.SpendRecord) (int, error)

	// ListSpendSince returns all records for the organization dated on or
	// after the given day.
	ListSpendSince(ctx context.Context, orgID string, since time.Time) ([]domain.SpendRecord, error)

	// DailyTotals aggregates the ledger for the spend endpoint.
	DailyTotals(ctx context.Context, orgID string, since time.Time) ([]domain.DailySpend, error)
}

// OrganizationStore reads organization data the sync path depends on.
type OrganizationStore interface {
	GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error)
	GetNotificationSettings(ctx context.Context, orgID string) (*domain.NotificationSettings, error)
}

// ProviderAdapter fetches normalized daily spend rows from one external
// billing API. The range is inclusive-start, exclusive-end on day boundaries.
// Implementations must classify auth failures into *domain.ErrProvider with
// a stable key, and must return an empty slice (not an error) when the
// provider has no data for the range.
type ProviderAdapter interface {
	FetchDailySpend(ctx context.Context, acct *domain.Account, from, to time.Time) ([]domain.ProviderSpendRow, error)
}

// CredentialVault encrypts and decrypts provider credentials at rest.
type CredentialVault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Notifier delivers one anomaly report to one channel (Slack, Discord, ...).
type Notifier interface {
	Name() string
	Send(ctx context.Context, webhookURL string, report *domain.AnomalyReport) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
