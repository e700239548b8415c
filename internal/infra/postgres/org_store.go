package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/costwatch/costwatch-go/internal/domain"
)

// GetOrganization loads an organization with its subscription tier.
// Organizations without a subscription row default to STARTER.
func (s *Store) GetOrganization(ctx context.Context, orgID string) (*domain.Organization, error) {
	ctx, span := tracer.Start(ctx, "Store.GetOrganization")
	defer span.End()

	var org domain.Organization
	err := s.db.QueryRow(ctx, `
		SELECT o.id, o.name, COALESCE(sub.tier, 'STARTER')
		FROM organizations o
		LEFT JOIN subscriptions sub ON sub.organization_id = o.id
		WHERE o.id = $1`,
		orgID,
	).Scan(&org.ID, &org.Name, &org.Tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "organization", ID: orgID}
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// GetNotificationSettings loads the org's alerting preferences. A missing
// settings row means alerts are off.
func (s *Store) GetNotificationSettings(ctx context.Context, orgID string) (*domain.NotificationSettings, error) {
	ctx, span := tracer.Start(ctx, "Store.GetNotificationSettings")
	defer span.End()

	var settings domain.NotificationSettings
	err := s.db.QueryRow(ctx, `
		SELECT anomaly_alerts, slack_webhook_url, discord_webhook_url
		FROM notification_settings
		WHERE organization_id = $1`,
		orgID,
	).Scan(&settings.AnomalyAlerts, &settings.SlackWebhookURL, &settings.DiscordWebhookURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.NotificationSettings{AnomalyAlerts: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification settings: %w", err)
	}
	return &settings, nil
}
