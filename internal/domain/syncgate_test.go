package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/costwatch/costwatch-go/internal/domain"
)

var gateNow = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func assertRateLimited(t *testing.T, err error, reason domain.RateLimitReason) {
	t.Helper()
	var rl *domain.ErrRateLimited
	if !errors.As(err, &rl) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if rl.Reason != reason {
		t.Errorf("expected reason %s, got %s", reason, rl.Reason)
	}
}

func TestCheckSyncAllowed_ProCooldown(t *testing.T) {
	cfg := domain.DefaultGateConfig()
	acct := &domain.Account{Provider: domain.ProviderAWS}

	// Synced 2 minutes ago: inside the 5 minute cooldown.
	acct.LastSyncedAt = timePtr(gateNow.Add(-2 * time.Minute))
	err := domain.CheckSyncAllowed(domain.TierPro, acct, domain.ProviderSyncState{}, cfg, gateNow)
	assertRateLimited(t, err, domain.ReasonAccountCooldown)

	// Synced 10 minutes ago: allowed.
	acct.LastSyncedAt = timePtr(gateNow.Add(-10 * time.Minute))
	if err := domain.CheckSyncAllowed(domain.TierPro, acct, domain.ProviderSyncState{}, cfg, gateNow); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}

	// Never synced: allowed.
	acct.LastSyncedAt = nil
	if err := domain.CheckSyncAllowed(domain.TierPro, acct, domain.ProviderSyncState{}, cfg, gateNow); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
}

func TestCheckSyncAllowed_ProIgnoresSiblings(t *testing.T) {
	cfg := domain.DefaultGateConfig()
	acct := &domain.Account{Provider: domain.ProviderAWS}

	// A sibling syncing or freshly synced does not block a PRO account.
	state := domain.ProviderSyncState{
		AnotherSyncing: true,
		LatestSyncedAt: timePtr(gateNow.Add(-time.Minute)),
	}
	if err := domain.CheckSyncAllowed(domain.TierPro, acct, state, cfg, gateNow); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
}

func TestCheckSyncAllowed_StarterSyncInFlight(t *testing.T) {
	cfg := domain.DefaultGateConfig()
	acct := &domain.Account{Provider: domain.ProviderGCP}

	state := domain.ProviderSyncState{AnotherSyncing: true}
	err := domain.CheckSyncAllowed(domain.TierStarter, acct, state, cfg, gateNow)
	assertRateLimited(t, err, domain.ReasonSyncInFlight)
}

func TestCheckSyncAllowed_StarterProviderCooldown(t *testing.T) {
	cfg := domain.DefaultGateConfig()
	acct := &domain.Account{Provider: domain.ProviderAWS}

	// Any account of the provider synced an hour ago blocks them all.
	state := domain.ProviderSyncState{LatestSyncedAt: timePtr(gateNow.Add(-time.Hour))}
	err := domain.CheckSyncAllowed(domain.TierStarter, acct, state, cfg, gateNow)
	assertRateLimited(t, err, domain.ReasonProviderCooldown)

	// A sync older than the window clears the cooldown.
	state.LatestSyncedAt = timePtr(gateNow.Add(-25 * time.Hour))
	if err := domain.CheckSyncAllowed(domain.TierStarter, acct, state, cfg, gateNow); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
}

func TestCheckSyncAllowed_UnknownTierUsesStarterRules(t *testing.T) {
	cfg := domain.DefaultGateConfig()
	acct := &domain.Account{Provider: domain.ProviderVercel}

	state := domain.ProviderSyncState{LatestSyncedAt: timePtr(gateNow.Add(-time.Hour))}
	err := domain.CheckSyncAllowed(domain.Tier(""), acct, state, cfg, gateNow)
	assertRateLimited(t, err, domain.ReasonProviderCooldown)
}

func TestSyncInFlight(t *testing.T) {
	cfg := domain.DefaultGateConfig()

	if domain.SyncInFlight(domain.StatusSynced, nil, cfg.StuckAfter, gateNow) {
		t.Error("SYNCED must not count as in flight")
	}
	if !domain.SyncInFlight(domain.StatusSyncing, timePtr(gateNow.Add(-time.Minute)), cfg.StuckAfter, gateNow) {
		t.Error("a fresh SYNCING must count as in flight")
	}
	// A sync started before the staleness TTL is treated as crashed.
	if domain.SyncInFlight(domain.StatusSyncing, timePtr(gateNow.Add(-3*time.Hour)), cfg.StuckAfter, gateNow) {
		t.Error("a stale SYNCING must not count as in flight")
	}
	// No start timestamp: trust the status.
	if !domain.SyncInFlight(domain.StatusSyncing, nil, cfg.StuckAfter, gateNow) {
		t.Error("SYNCING without a start time must count as in flight")
	}
}
