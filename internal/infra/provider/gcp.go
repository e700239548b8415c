package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/resilience"
	"github.com/costwatch/costwatch-go/internal/port"
)

// GCPAdapter queries the BigQuery billing export table. GCP has no direct
// cost API; customers enable a billing export into a dataset and we query it.
type GCPAdapter struct {
	httpClient *http.Client
	baseURL    string
	vault      port.CredentialVault
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewGCPAdapter creates the billing export adapter.
func NewGCPAdapter(httpClient *http.Client, baseURL string, vault port.CredentialVault, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *GCPAdapter {
	return &GCPAdapter{
		httpClient: httpClient,
		baseURL:    baseURL,
		vault:      vault,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

type gcpCredentials struct {
	ProjectID   string `json:"project_id"`
	AccessToken string `json:"access_token"`
	ExportTable string `json:"export_table"` // dataset.table of the billing export
}

type gcpQueryRequest struct {
	Query        string `json:"query"`
	UseLegacySQL bool   `json:"useLegacySql"`
}

// gcpQueryResponse is the BigQuery jobs.query row format: each row is a list
// of cells under "f", each cell a stringified value under "v".
type gcpQueryResponse struct {
	Rows []struct {
		F []struct {
			V string `json:"v"`
		} `json:"f"`
	} `json:"rows"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// FetchDailySpend implements port.ProviderAdapter.
func (g *GCPAdapter) FetchDailySpend(ctx context.Context, acct *domain.Account, from, to time.Time) ([]domain.ProviderSpendRow, error) {
	ctx, span := tracer.Start(ctx, "GCP.FetchDailySpend")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", acct.ID))

	plaintext, err := g.vault.Decrypt(acct.Credentials)
	if err != nil {
		return nil, &domain.ErrProvider{Key: domain.ErrKeyInvalidCredentials, Err: err}
	}
	var creds gcpCredentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return nil, &domain.ErrProvider{Key: domain.ErrKeyInvalidCredentials, Err: err}
	}
	if creds.ExportTable == "" {
		return nil, &domain.ErrProvider{Key: domain.ErrKeyBillingExportNotConfigured}
	}

	query := fmt.Sprintf(`SELECT service.description, SUM(cost), currency, MAX(currency_conversion_rate)
		FROM %s
		WHERE usage_start_time >= TIMESTAMP('%s') AND usage_start_time < TIMESTAMP('%s')
		GROUP BY service.description, currency`,
		creds.ExportTable,
		from.Format("2006-01-02"),
		to.Format("2006-01-02"),
	)

	var rows []domain.ProviderSpendRow
	_, err = g.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, g.cfg, func() error {
			parsed, err := g.runQuery(ctx, creds, query, from)
			if err != nil {
				return err
			}
			rows = parsed
			return nil
		})
	})
	if err != nil {
		if isBreakerOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "gcp-billing-export"}
		}
		g.logger.Error("gcp: billing export query failed",
			zap.String("account_id", acct.ID),
			zap.Error(err),
		)
		return nil, err
	}
	return rows, nil
}

func (g *GCPAdapter) runQuery(ctx context.Context, creds gcpCredentials, query string, day time.Time) ([]domain.ProviderSpendRow, error) {
	payload, err := json.Marshal(gcpQueryRequest{Query: query, UseLegacySQL: false})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/bigquery/v2/projects/%s/queries", g.baseURL, creds.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "gcp-billing-export", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// A missing export table is a setup problem on the customer side, not a
	// transient failure; surface it as a stable key.
	if resp.StatusCode == http.StatusNotFound || strings.Contains(string(body), "Not found: Table") {
		return nil, &domain.ErrProvider{
			Key: domain.ErrKeyBillingExportNotConfigured,
			Err: fmt.Errorf("billing export table missing: %s", creds.ExportTable),
		}
	}
	if err := classifyStatus(resp.StatusCode, "gcp-billing-export"); err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.ErrExternalService{
			Service: "gcp-billing-export",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	var parsed gcpQueryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode bigquery response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &domain.ErrExternalService{
			Service: "gcp-billing-export",
			Err:     fmt.Errorf("%s", parsed.Error.Message),
		}
	}

	var rows []domain.ProviderSpendRow
	for _, row := range parsed.Rows {
		// service, cost, currency, conversion rate
		if len(row.F) < 3 {
			continue
		}
		cost, err := strconv.ParseFloat(row.F[1].V, 64)
		if err != nil {
			continue
		}
		currency := row.F[2].V
		rate := 1.0
		if len(row.F) >= 4 && row.F[3].V != "" {
			if r, err := strconv.ParseFloat(row.F[3].V, 64); err == nil {
				rate = r
			}
		}
		// Convert non-USD cost into the reporting currency before rounding.
		if currency != "USD" && rate > 0 {
			cost *= rate
			currency = "USD"
		}
		rows = append(rows, domain.ProviderSpendRow{
			Date:        day,
			ServiceName: row.F[0].V,
			AmountCents: toCents(cost, 1),
			Currency:    currency,
		})
	}
	return rows, nil
}
