// Package notify delivers anomaly reports to the configured webhook
// channels. Delivery is best-effort: every error is logged and swallowed,
// and one channel's failure never suppresses the others.
package notify

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/observability"
	"github.com/costwatch/costwatch-go/internal/port"
)

var tracer = otel.Tracer("notify")

// Dispatcher fans an anomaly report out to every configured channel.
type Dispatcher struct {
	channels []port.Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher over the given channels.
func NewDispatcher(channels []port.Notifier, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{channels: channels, metrics: metrics, logger: logger}
}

// Dispatch sends the report to each channel with a configured webhook URL.
// Sends run concurrently and are awaited independently; errors are logged,
// counted and dropped so the goroutines never cancel each other.
func (d *Dispatcher) Dispatch(ctx context.Context, settings *domain.NotificationSettings, report *domain.AnomalyReport) {
	ctx, span := tracer.Start(ctx, "Dispatcher.Dispatch")
	defer span.End()

	urls := map[string]*string{
		"slack":   settings.SlackWebhookURL,
		"discord": settings.DiscordWebhookURL,
	}

	var g errgroup.Group
	for _, channel := range d.channels {
		url, ok := urls[channel.Name()]
		if !ok || url == nil || *url == "" {
			continue
		}
		channel := channel
		webhookURL := *url
		g.Go(func() error {
			if err := channel.Send(ctx, webhookURL, report); err != nil {
				d.metrics.IncrWebhook(channel.Name(), "error")
				d.logger.Error("anomaly alert delivery failed",
					zap.String("channel", channel.Name()),
					zap.String("organization_id", report.OrganizationID),
					zap.Error(err),
				)
				return nil // isolate failures: never propagate
			}
			d.metrics.IncrWebhook(channel.Name(), "success")
			d.logger.Info("anomaly alert delivered",
				zap.String("channel", channel.Name()),
				zap.String("organization_id", report.OrganizationID),
			)
			return nil
		})
	}
	_ = g.Wait()
}

// formatCents renders integer cents as a dollar amount for human channels.
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
