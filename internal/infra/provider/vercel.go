package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/resilience"
	"github.com/costwatch/costwatch-go/internal/port"
)

// VercelAdapter reads usage-based spend from the Vercel usage API.
type VercelAdapter struct {
	httpClient *http.Client
	baseURL    string
	vault      port.CredentialVault
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewVercelAdapter creates the usage adapter.
func NewVercelAdapter(httpClient *http.Client, baseURL string, vault port.CredentialVault, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *VercelAdapter {
	return &VercelAdapter{
		httpClient: httpClient,
		baseURL:    baseURL,
		vault:      vault,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

type vercelCredentials struct {
	Token  string `json:"token"`
	TeamID string `json:"team_id"`
}

type vercelUsageResponse struct {
	Usage []struct {
		Name     string  `json:"name"`
		Amount   float64 `json:"amount"` // dollars
		Currency string  `json:"currency"`
	} `json:"usage"`
}

// FetchDailySpend implements port.ProviderAdapter.
func (v *VercelAdapter) FetchDailySpend(ctx context.Context, acct *domain.Account, from, to time.Time) ([]domain.ProviderSpendRow, error) {
	ctx, span := tracer.Start(ctx, "Vercel.FetchDailySpend")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", acct.ID))

	plaintext, err := v.vault.Decrypt(acct.Credentials)
	if err != nil {
		return nil, &domain.ErrProvider{Key: domain.ErrKeyInvalidCredentials, Err: err}
	}
	var creds vercelCredentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return nil, &domain.ErrProvider{Key: domain.ErrKeyInvalidCredentials, Err: err}
	}

	var rows []domain.ProviderSpendRow
	_, err = v.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, v.cfg, func() error {
			parsed, err := v.getUsage(ctx, creds, from, to)
			if err != nil {
				return err
			}
			rows = parsed
			return nil
		})
	})
	if err != nil {
		if isBreakerOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "vercel-usage"}
		}
		v.logger.Error("vercel: usage fetch failed",
			zap.String("account_id", acct.ID),
			zap.Error(err),
		)
		return nil, err
	}
	return rows, nil
}

func (v *VercelAdapter) getUsage(ctx context.Context, creds vercelCredentials, from, to time.Time) ([]domain.ProviderSpendRow, error) {
	url := fmt.Sprintf("%s/v1/teams/%s/usage?from=%d&to=%d",
		v.baseURL, creds.TeamID, from.UnixMilli(), to.UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "vercel-usage", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []domain.ProviderSpendRow{}, nil
	}
	if err := classifyStatus(resp.StatusCode, "vercel-usage"); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.ErrExternalService{
			Service: "vercel-usage",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	var parsed vercelUsageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode vercel usage: %w", err)
	}

	var rows []domain.ProviderSpendRow
	for _, item := range parsed.Usage {
		rows = append(rows, domain.ProviderSpendRow{
			Date:        from,
			ServiceName: item.Name,
			AmountCents: toCents(item.Amount, 1),
			Currency:    item.Currency,
		})
	}
	return rows, nil
}
