package provider

import (
	"context"
	"time"

	"github.com/costwatch/costwatch-go/internal/domain"
)

// NoopAdapter serves providers without a real integration yet (OTHER).
// It always returns an empty day so syncs succeed with zero rows.
type NoopAdapter struct{}

// NewNoopAdapter creates the fallback adapter.
func NewNoopAdapter() *NoopAdapter {
	return &NoopAdapter{}
}

// FetchDailySpend implements port.ProviderAdapter.
func (n *NoopAdapter) FetchDailySpend(_ context.Context, _ *domain.Account, _, _ time.Time) ([]domain.ProviderSpendRow, error) {
	return nil, nil
}
