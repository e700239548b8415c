package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/resilience"
)

// SlackNotifier posts anomaly reports to a Slack incoming webhook.
type SlackNotifier struct {
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewSlackNotifier creates the Slack channel.
func NewSlackNotifier(httpClient *http.Client, cfg resilience.Config, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		httpClient: httpClient,
		cb:         resilience.NewCircuitBreaker("slack-webhook"),
		cfg:        cfg,
		logger:     logger,
	}
}

// Name implements port.Notifier.
func (s *SlackNotifier) Name() string { return "slack" }

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Send implements port.Notifier.
func (s *SlackNotifier) Send(ctx context.Context, webhookURL string, report *domain.AnomalyReport) error {
	payload, err := json.Marshal(buildSlackMessage(report))
	if err != nil {
		return err
	}

	_, err = s.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, s.cfg, func() error {
			return postWebhook(ctx, s.httpClient, "slack", webhookURL, payload)
		})
	})
	return err
}

func buildSlackMessage(report *domain.AnomalyReport) slackMessage {
	msg := slackMessage{
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{
					Type: "plain_text",
					Text: fmt.Sprintf("Cost anomaly detected: %s impact", formatCents(report.TotalImpactCents)),
				},
			},
		},
	}

	for _, provider := range sortedProviders(report) {
		anomalies := report.Providers[provider]
		text := fmt.Sprintf("*%s* (+%s)\n", provider, formatCents(anomalies.TotalImpactCents))
		for _, svc := range anomalies.Services {
			text += fmt.Sprintf("• %s: %s today vs %s avg (+%d%%)\n",
				svc.ServiceName,
				formatCents(svc.CurrentSpendCents),
				formatCents(svc.AverageSpendCents),
				svc.SpikePercent,
			)
		}
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: text},
		})
	}

	if report.DashboardURL != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Text: &slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("<%s|Open the dashboard> for %s", report.DashboardURL, report.OrganizationName),
			},
		})
	}
	return msg
}

// sortedProviders gives a stable channel ordering independent of map order.
func sortedProviders(report *domain.AnomalyReport) []domain.Provider {
	providers := make([]domain.Provider, 0, len(report.Providers))
	for p := range report.Providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

// postWebhook performs one webhook POST and normalizes failures.
func postWebhook(ctx context.Context, client *http.Client, channel, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &domain.ErrExternalService{Service: channel, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &domain.ErrExternalService{
			Service: channel,
			Err:     fmt.Errorf("webhook status %d: %s", resp.StatusCode, body),
		}
	}
	return nil
}
