// Package provider implements the billing adapters: one per external cloud,
// each normalizing its API's response into common daily spend rows.
// Adapters wrap their HTTP calls in a circuit breaker plus retry, decrypt
// credentials through the vault, and classify auth failures into stable
// error keys so the orchestrator can persist a translatable reason.
package provider

import (
	"math"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/resilience"
	"github.com/costwatch/costwatch-go/internal/port"
)

var tracer = otel.Tracer("provider")

// Registry resolves the adapter for a provider. Unknown providers resolve to
// the no-op adapter so an account of a not-yet-supported provider syncs to an
// empty ledger instead of failing.
type Registry struct {
	adapters map[domain.Provider]port.ProviderAdapter
	fallback port.ProviderAdapter
}

// Config carries the per-provider API base URLs.
type Config struct {
	AWSBaseURL    string
	GCPBaseURL    string
	VercelBaseURL string
}

// NewRegistry builds all adapters sharing one HTTP client and resilience
// policy; each provider gets its own circuit breaker so one failing cloud
// does not trip the others.
func NewRegistry(httpClient *http.Client, cfg Config, vault port.CredentialVault, rcfg resilience.Config, logger *zap.Logger) *Registry {
	return &Registry{
		adapters: map[domain.Provider]port.ProviderAdapter{
			domain.ProviderAWS: NewAWSAdapter(
				httpClient, cfg.AWSBaseURL, vault,
				resilience.NewCircuitBreaker("aws-cost-explorer"), rcfg, logger,
			),
			domain.ProviderGCP: NewGCPAdapter(
				httpClient, cfg.GCPBaseURL, vault,
				resilience.NewCircuitBreaker("gcp-billing-export"), rcfg, logger,
			),
			domain.ProviderVercel: NewVercelAdapter(
				httpClient, cfg.VercelBaseURL, vault,
				resilience.NewCircuitBreaker("vercel-usage"), rcfg, logger,
			),
		},
		fallback: NewNoopAdapter(),
	}
}

// Resolve returns the adapter for the provider, or the no-op fallback.
func (r *Registry) Resolve(p domain.Provider) port.ProviderAdapter {
	if adapter, ok := r.adapters[p]; ok {
		return adapter
	}
	return r.fallback
}

// Register overrides an adapter, used by tests and for gradual rollouts.
func (r *Registry) Register(p domain.Provider, adapter port.ProviderAdapter) {
	r.adapters[p] = adapter
}

// toCents converts a monetary amount to integer cents, applying the
// conversion rate first when the source currency is not the reporting one.
func toCents(amount, conversionRate float64) int64 {
	if conversionRate > 0 && conversionRate != 1 {
		amount *= conversionRate
	}
	return int64(math.Round(amount * 100))
}

// classifyStatus maps provider HTTP auth failures to stable error keys.
// Anything else is left unclassified for the caller to wrap.
func classifyStatus(status int, service string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.ErrProvider{
			Key: domain.ErrKeyInvalidCredentials,
			Err: &domain.ErrExternalService{Service: service, Err: httpStatusError(status)},
		}
	}
	return nil
}

type httpStatusError int

func (e httpStatusError) Error() string {
	return http.StatusText(int(e))
}

// isBreakerOpen converts gobreaker's sentinel errors into the domain type.
func isBreakerOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
