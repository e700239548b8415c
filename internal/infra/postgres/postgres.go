// Package postgres implements the account, ledger and organization ports on
// PostgreSQL via pgx. The sync gate lives here because it needs a real
// transaction: snapshot reads plus a conditional status flip.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
)

var tracer = otel.Tracer("postgres")

// Store wraps a pgx connection pool and implements port.AccountStore,
// port.SpendLedger and port.OrganizationStore.
type Store struct {
	db     *pgxpool.Pool
	gate   domain.GateConfig
	logger *zap.Logger
}

// New opens a connection pool and verifies connectivity.
func New(ctx context.Context, connString string, gate domain.GateConfig, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: pool, gate: gate, logger: logger}, nil
}

// Ping reports store health for the /healthz endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}
