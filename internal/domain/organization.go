package domain

// Tier is the subscription plan governing rate-limit strictness.
type Tier string

const (
	TierStarter Tier = "STARTER"
	TierPro     Tier = "PRO"
)

// Organization owns accounts, the ledger rows and the notification settings.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tier Tier   `json:"tier"`
}

// NotificationSettings controls whether and where anomaly alerts are sent.
// Webhook URLs are independently nullable; a nil URL disables that channel.
type NotificationSettings struct {
	AnomalyAlerts     bool    `json:"anomaly_alerts"`
	SlackWebhookURL   *string `json:"slack_webhook_url,omitempty"`
	DiscordWebhookURL *string `json:"discord_webhook_url,omitempty"`
}
