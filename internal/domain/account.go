// Package domain contains the core types and business rules for the
// spend-sync engine: accounts, ledger rows, the sync gate and the anomaly
// statistics. It has no dependencies on infrastructure.
package domain

import "time"

// Provider identifies an external cloud billing source.
type Provider string

const (
	ProviderAWS    Provider = "AWS"
	ProviderGCP    Provider = "GCP"
	ProviderVercel Provider = "VERCEL"
	ProviderOther  Provider = "OTHER"
)

// KnownProviders lists all providers with a real adapter.
var KnownProviders = []Provider{ProviderAWS, ProviderGCP, ProviderVercel}

// SyncStatus is the terminal (or transient) state of an account's last sync.
type SyncStatus string

const (
	StatusSynced    SyncStatus = "SYNCED"
	StatusSyncing   SyncStatus = "SYNCING"
	StatusSyncError SyncStatus = "SYNC_ERROR"
)

// Account is one linked cloud billing connection. Status, LastSyncError and
// LastSyncedAt are owned exclusively by the sync orchestrator.
type Account struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Provider       Provider   `json:"provider"`
	Name           string     `json:"name"`
	Credentials    string     `json:"-"` // vault ciphertext, never serialized
	Status         SyncStatus `json:"status"`
	LastSyncError  *string    `json:"last_sync_error,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	SyncStartedAt  *time.Time `json:"sync_started_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SyncResult is what a sync attempt returns once the lock was acquired.
// Failures past the lock are captured here, never raised as errors, because
// the caller has to render a status either way.
type SyncResult struct {
	AccountID     string     `json:"account_id"`
	Status        SyncStatus `json:"status"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	LastSyncError *string    `json:"last_sync_error,omitempty"`
	RowsUpserted  int        `json:"rows_upserted"`
}

// SyncWindow is the day-by-day interval still to be fetched in one run.
// It is computed fresh per run and never persisted.
type SyncWindow struct {
	CursorStart time.Time
	Today       time.Time
}

// ComputeSyncWindow derives the backfill window from the account watermark.
// A never-synced account backfills the trailing backfillDays days; otherwise
// the window restarts at the beginning of the partially-synced day so the
// last day is always re-fetched in full.
func ComputeSyncWindow(lastSyncedAt *time.Time, now time.Time, backfillDays int) SyncWindow {
	today := StartOfDayUTC(now)
	if lastSyncedAt == nil {
		return SyncWindow{
			CursorStart: today.AddDate(0, 0, -backfillDays),
			Today:       today,
		}
	}
	return SyncWindow{
		CursorStart: StartOfDayUTC(*lastSyncedAt),
		Today:       today,
	}
}

// Days returns the window's days in ascending order, both ends inclusive.
// Ascending order matters: a partial failure leaves a contiguous prefix of
// synced days, so the next run resumes at the failure point.
func (w SyncWindow) Days() []time.Time {
	var days []time.Time
	for cursor := w.CursorStart; !cursor.After(w.Today); cursor = cursor.AddDate(0, 0, 1) {
		days = append(days, cursor)
	}
	return days
}

// StartOfDayUTC truncates a timestamp to UTC midnight.
func StartOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
