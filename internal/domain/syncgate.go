package domain

import "time"

// GateConfig holds the rate-limit knobs per subscription tier.
type GateConfig struct {
	// StarterCooldown is the per-provider rolling window on the STARTER
	// tier: one sync per provider per organization within this window.
	StarterCooldown time.Duration
	// ProCooldown is the per-account cooldown on the PRO tier.
	ProCooldown time.Duration
	// StuckAfter is how long a SYNCING status is trusted. A sync older than
	// this is assumed crashed and no longer counts as in flight.
	StuckAfter time.Duration
}

// DefaultGateConfig matches the product rules: STARTER gets one sync per
// provider per 24h, PRO gets a 5 minute per-account cooldown.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		StarterCooldown: 24 * time.Hour,
		ProCooldown:     5 * time.Minute,
		StuckAfter:      2 * time.Hour,
	}
}

// ProviderSyncState is the snapshot of same-provider sibling accounts the
// gate decides on. It must be read in the same transaction that flips the
// account status.
type ProviderSyncState struct {
	// AnotherSyncing is true when a different account of the same provider
	// in the organization is currently SYNCING (stuck syncs excluded).
	AnotherSyncing bool
	// LatestSyncedAt is the most recent lastSyncedAt across all accounts of
	// the same provider in the organization, nil if none ever synced.
	LatestSyncedAt *time.Time
}

// CheckSyncAllowed applies the tier rate-limit rules. It is a pure function:
// the transactional context (snapshot reads + conditional status flip) is the
// store's responsibility. Returns *ErrRateLimited when the sync must not
// start, nil when it may.
func CheckSyncAllowed(tier Tier, acct *Account, state ProviderSyncState, cfg GateConfig, now time.Time) error {
	if tier == TierPro {
		// PRO: short per-account cooldown, no per-provider serialization.
		if acct.LastSyncedAt != nil && now.Sub(*acct.LastSyncedAt) < cfg.ProCooldown {
			return &ErrRateLimited{Provider: acct.Provider, Reason: ReasonAccountCooldown}
		}
		return nil
	}

	// STARTER (and unknown tiers): one concurrent sync per provider, one
	// sync per provider per rolling cooldown window. Syncing one account
	// counts against every account of that provider in the organization.
	if state.AnotherSyncing {
		return &ErrRateLimited{Provider: acct.Provider, Reason: ReasonSyncInFlight}
	}
	if state.LatestSyncedAt != nil && now.Sub(*state.LatestSyncedAt) < cfg.StarterCooldown {
		return &ErrRateLimited{Provider: acct.Provider, Reason: ReasonProviderCooldown}
	}
	return nil
}

// SyncInFlight reports whether a SYNCING status should still be trusted.
// A crash between the status flip and the terminal update would otherwise
// lock the account forever.
func SyncInFlight(status SyncStatus, startedAt *time.Time, stuckAfter time.Duration, now time.Time) bool {
	if status != StatusSyncing {
		return false
	}
	if startedAt == nil {
		return true
	}
	return now.Sub(*startedAt) < stuckAfter
}
