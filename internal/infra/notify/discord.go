package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/resilience"
)

// DiscordNotifier posts anomaly reports to a Discord webhook as embeds.
type DiscordNotifier struct {
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewDiscordNotifier creates the Discord channel.
func NewDiscordNotifier(httpClient *http.Client, cfg resilience.Config, logger *zap.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		httpClient: httpClient,
		cb:         resilience.NewCircuitBreaker("discord-webhook"),
		cfg:        cfg,
		logger:     logger,
	}
}

// Name implements port.Notifier.
func (d *DiscordNotifier) Name() string { return "discord" }

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

const discordAlertColor = 0xE74C3C // red

// Send implements port.Notifier.
func (d *DiscordNotifier) Send(ctx context.Context, webhookURL string, report *domain.AnomalyReport) error {
	payload, err := json.Marshal(buildDiscordMessage(report))
	if err != nil {
		return err
	}

	_, err = d.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, d.cfg, func() error {
			return postWebhook(ctx, d.httpClient, "discord", webhookURL, payload)
		})
	})
	return err
}

func buildDiscordMessage(report *domain.AnomalyReport) discordMessage {
	embed := discordEmbed{
		Title: fmt.Sprintf("Cost anomaly detected: %s impact", formatCents(report.TotalImpactCents)),
		URL:   report.DashboardURL,
		Color: discordAlertColor,
	}
	if report.OrganizationName != "" {
		embed.Description = report.OrganizationName
	}

	for _, provider := range sortedProviders(report) {
		anomalies := report.Providers[provider]
		value := ""
		for _, svc := range anomalies.Services {
			value += fmt.Sprintf("%s: %s today vs %s avg (+%d%%)\n",
				svc.ServiceName,
				formatCents(svc.CurrentSpendCents),
				formatCents(svc.AverageSpendCents),
				svc.SpikePercent,
			)
		}
		embed.Fields = append(embed.Fields, discordField{
			Name:  fmt.Sprintf("%s (+%s)", provider, formatCents(anomalies.TotalImpactCents)),
			Value: value,
		})
	}

	return discordMessage{Embeds: []discordEmbed{embed}}
}
