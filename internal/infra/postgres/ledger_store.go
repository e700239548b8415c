package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/costwatch/costwatch-go/internal/domain"
)

// UpsertSpend bulk-writes ledger rows. The natural key makes re-syncs
// idempotent: the same (org, account, day, service) overwrites in place.
func (s *Store) UpsertSpend(ctx context.Context, records []domain.SpendRecord) (int, error) {
	ctx, span := tracer.Start(ctx, "Store.UpsertSpend")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)))

	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO spend_records
				(organization_id, account_id, spend_date, provider, service_name, amount_cents, currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (organization_id, account_id, spend_date, service_name)
			DO UPDATE SET
				provider = EXCLUDED.provider,
				amount_cents = EXCLUDED.amount_cents,
				currency = EXCLUDED.currency`,
			rec.OrganizationID, rec.AccountID, rec.Date, rec.Provider,
			rec.ServiceName, rec.AmountCents, rec.Currency,
		)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("upsert spend record: %w", err)
		}
	}
	return len(records), nil
}

// ListSpendSince loads all ledger rows for an organization dated on or after
// the given day. Used by the anomaly detector's trailing window.
func (s *Store) ListSpendSince(ctx context.Context, orgID string, since time.Time) ([]domain.SpendRecord, error) {
	ctx, span := tracer.Start(ctx, "Store.ListSpendSince")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT organization_id, account_id, spend_date, provider, service_name, amount_cents, currency
		FROM spend_records
		WHERE organization_id = $1 AND spend_date >= $2
		ORDER BY spend_date ASC`,
		orgID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list spend: %w", err)
	}
	defer rows.Close()

	var records []domain.SpendRecord
	for rows.Next() {
		var rec domain.SpendRecord
		if err := rows.Scan(
			&rec.OrganizationID, &rec.AccountID, &rec.Date, &rec.Provider,
			&rec.ServiceName, &rec.AmountCents, &rec.Currency,
		); err != nil {
			return nil, fmt.Errorf("scan spend record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DailyTotals aggregates spend per (day, provider, service) for the spend
// endpoint.
func (s *Store) DailyTotals(ctx context.Context, orgID string, since time.Time) ([]domain.DailySpend, error) {
	ctx, span := tracer.Start(ctx, "Store.DailyTotals")
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT spend_date, provider, service_name, SUM(amount_cents)
		FROM spend_records
		WHERE organization_id = $1 AND spend_date >= $2
		GROUP BY spend_date, provider, service_name
		ORDER BY spend_date DESC, SUM(amount_cents) DESC`,
		orgID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("daily totals: %w", err)
	}
	defer rows.Close()

	var totals []domain.DailySpend
	for rows.Next() {
		var t domain.DailySpend
		if err := rows.Scan(&t.Date, &t.Provider, &t.ServiceName, &t.AmountCents); err != nil {
			return nil, fmt.Errorf("scan daily total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
