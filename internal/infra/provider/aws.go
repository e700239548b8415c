package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/infra/resilience"
	"github.com/costwatch/costwatch-go/internal/port"
)

// AWSAdapter reads daily per-service cost from the Cost Explorer
// GetCostAndUsage API, grouped by SERVICE at DAILY granularity.
type AWSAdapter struct {
	httpClient *http.Client
	baseURL    string
	vault      port.CredentialVault
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewAWSAdapter creates the Cost Explorer adapter.
func NewAWSAdapter(httpClient *http.Client, baseURL string, vault port.CredentialVault, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *AWSAdapter {
	return &AWSAdapter{
		httpClient: httpClient,
		baseURL:    baseURL,
		vault:      vault,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// awsCredentials is the decrypted credential payload stored at link time.
type awsCredentials struct {
	AccessToken string `json:"access_token"`
	AccountID   string `json:"account_id"`
}

type awsCostRequest struct {
	TimePeriod  awsTimePeriod `json:"TimePeriod"`
	Granularity string        `json:"Granularity"`
	Metrics     []string      `json:"Metrics"`
	GroupBy     []awsGroupBy  `json:"GroupBy"`
}

type awsTimePeriod struct {
	Start string `json:"Start"`
	End   string `json:"End"`
}

type awsGroupBy struct {
	Type string `json:"Type"`
	Key  string `json:"Key"`
}

type awsCostResponse struct {
	ResultsByTime []struct {
		TimePeriod awsTimePeriod `json:"TimePeriod"`
		Groups     []struct {
			Keys    []string `json:"Keys"`
			Metrics map[string]struct {
				Amount string `json:"Amount"`
				Unit   string `json:"Unit"`
			} `json:"Metrics"`
		} `json:"Groups"`
	} `json:"ResultsByTime"`
}

// FetchDailySpend implements port.ProviderAdapter. The [from, to) range maps
// directly onto Cost Explorer's inclusive-start / exclusive-end TimePeriod.
func (a *AWSAdapter) FetchDailySpend(ctx context.Context, acct *domain.Account, from, to time.Time) ([]domain.ProviderSpendRow, error) {
	ctx, span := tracer.Start(ctx, "AWS.FetchDailySpend")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", acct.ID),
		attribute.String("range.from", from.Format("2006-01-02")),
	)

	plaintext, err := a.vault.Decrypt(acct.Credentials)
	if err != nil {
		return nil, &domain.ErrProvider{Key: domain.ErrKeyInvalidCredentials, Err: err}
	}
	var creds awsCredentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return nil, &domain.ErrProvider{Key: domain.ErrKeyInvalidCredentials, Err: err}
	}

	reqBody := awsCostRequest{
		TimePeriod: awsTimePeriod{
			Start: from.Format("2006-01-02"),
			End:   to.Format("2006-01-02"),
		},
		Granularity: "DAILY",
		Metrics:     []string{"UnblendedCost"},
		GroupBy:     []awsGroupBy{{Type: "DIMENSION", Key: "SERVICE"}},
	}

	var rows []domain.ProviderSpendRow
	_, err = a.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, a.cfg, func() error {
			parsed, err := a.getCostAndUsage(ctx, creds.AccessToken, reqBody)
			if err != nil {
				return err
			}
			rows = parsed
			return nil
		})
	})
	if err != nil {
		if isBreakerOpen(err) {
			return nil, &domain.ErrCircuitOpen{Service: "aws-cost-explorer"}
		}
		a.logger.Error("aws: cost fetch failed",
			zap.String("account_id", acct.ID),
			zap.Error(err),
		)
		return nil, err
	}
	return rows, nil
}

func (a *AWSAdapter) getCostAndUsage(ctx context.Context, token string, reqBody awsCostRequest) ([]domain.ProviderSpendRow, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", "AWSInsightsIndexService.GetCostAndUsage")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "aws-cost-explorer", Err: err}
	}
	defer resp.Body.Close()

	// 404 means no cost data in this window, not a failure.
	if resp.StatusCode == http.StatusNotFound {
		return []domain.ProviderSpendRow{}, nil
	}
	if err := classifyStatus(resp.StatusCode, "aws-cost-explorer"); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.ErrExternalService{
			Service: "aws-cost-explorer",
			Err:     fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	var parsed awsCostResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode cost explorer response: %w", err)
	}

	var rows []domain.ProviderSpendRow
	for _, result := range parsed.ResultsByTime {
		day, err := time.Parse("2006-01-02", result.TimePeriod.Start)
		if err != nil {
			continue
		}
		for _, group := range result.Groups {
			if len(group.Keys) == 0 {
				continue
			}
			metric, ok := group.Metrics["UnblendedCost"]
			if !ok {
				continue
			}
			amount, err := strconv.ParseFloat(metric.Amount, 64)
			if err != nil {
				continue
			}
			rows = append(rows, domain.ProviderSpendRow{
				Date:        day,
				ServiceName: group.Keys[0],
				AmountCents: toCents(amount, 1),
				Currency:    metric.Unit,
			})
		}
	}
	return rows, nil
}
