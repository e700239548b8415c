package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/costwatch/costwatch-go/internal/domain"
	"github.com/costwatch/costwatch-go/internal/handler"
	"github.com/costwatch/costwatch-go/internal/infra/observability"
	"github.com/costwatch/costwatch-go/internal/infra/resilience"
	"github.com/costwatch/costwatch-go/internal/port"
	"github.com/costwatch/costwatch-go/internal/service"
)

// --- Scripted fakes ---

type scriptedAccountStore struct {
	acct       *domain.Account
	acquireErr error
}

func (s *scriptedAccountStore) GetAccount(_ context.Context, orgID, accountID string) (*domain.Account, error) {
	if s.acct == nil || s.acct.OrganizationID != orgID || s.acct.ID != accountID {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}
	return s.acct, nil
}

func (s *scriptedAccountStore) AcquireSyncLock(ctx context.Context, orgID, accountID string) (*domain.Account, error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	return s.GetAccount(ctx, orgID, accountID)
}

func (s *scriptedAccountStore) FinishSync(_ context.Context, _ string, _ domain.SyncStatus, _ *time.Time, _ *string) error {
	return nil
}

type scriptedLedger struct {
	totals []domain.DailySpend
}

func (s *scriptedLedger) UpsertSpend(_ context.Context, records []domain.SpendRecord) (int, error) {
	return len(records), nil
}

func (s *scriptedLedger) ListSpendSince(_ context.Context, _ string, _ time.Time) ([]domain.SpendRecord, error) {
	return nil, nil
}

func (s *scriptedLedger) DailyTotals(_ context.Context, _ string, _ time.Time) ([]domain.DailySpend, error) {
	return s.totals, nil
}

type scriptedOrgStore struct{}

func (scriptedOrgStore) GetOrganization(_ context.Context, orgID string) (*domain.Organization, error) {
	return &domain.Organization{ID: orgID, Name: "Acme"}, nil
}

func (scriptedOrgStore) GetNotificationSettings(_ context.Context, _ string) (*domain.NotificationSettings, error) {
	return &domain.NotificationSettings{}, nil
}

type dayAdapter struct{ rows int }

func (d dayAdapter) FetchDailySpend(_ context.Context, _ *domain.Account, from, _ time.Time) ([]domain.ProviderSpendRow, error) {
	out := make([]domain.ProviderSpendRow, 0, d.rows)
	for i := 0; i < d.rows; i++ {
		out = append(out, domain.ProviderSpendRow{Date: from, ServiceName: "svc", AmountCents: 100})
	}
	return out, nil
}

type singleAdapterRegistry struct{ adapter port.ProviderAdapter }

func (r singleAdapterRegistry) Resolve(_ domain.Provider) port.ProviderAdapter { return r.adapter }

// --- Harness ---

type testEnv struct {
	router  http.Handler
	authSvc *service.AuthService
}

func newTestEnv(store *scriptedAccountStore, ledger *scriptedLedger) testEnv {
	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	authSvc := service.NewAuthService("test-secret", time.Hour)

	syncSvc := service.NewSyncService(
		store, ledger, singleAdapterRegistry{adapter: dayAdapter{rows: 1}},
		resilience.NewBulkhead(5), 7, metrics, logger,
	)
	anomalySvc := service.NewAnomalyService(
		ledger, scriptedOrgStore{}, domain.DefaultDetectorConfig(), "", metrics, logger,
	)

	return testEnv{
		router:  handler.NewRouter(syncSvc, anomalySvc, authSvc, store, ledger, nil, metrics, logger),
		authSvc: authSvc,
	}
}

func (e testEnv) request(t *testing.T, method, path, orgID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if orgID != "" {
		token, err := e.authSvc.SignAccessToken("user-1", orgID)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(&scriptedAccountStore{}, &scriptedLedger{})

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/ping"} {
		rec := env.request(t, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(&scriptedAccountStore{}, &scriptedLedger{})

	rec := env.request(t, http.MethodGet, "/v1/organizations/org-1/spend", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestAPITokenOrgMismatch(t *testing.T) {
	env := newTestEnv(&scriptedAccountStore{}, &scriptedLedger{})

	// Token for org-2, route for org-1.
	rec := env.request(t, http.MethodGet, "/v1/organizations/org-1/spend", "org-2")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 on organization mismatch, got %d", rec.Code)
	}
}

func TestSyncEndpoint_Success(t *testing.T) {
	store := &scriptedAccountStore{
		acct: &domain.Account{ID: "acc-1", OrganizationID: "org-1", Provider: domain.ProviderAWS},
	}
	env := newTestEnv(store, &scriptedLedger{})

	rec := env.request(t, http.MethodPost, "/v1/organizations/org-1/accounts/acc-1/sync", "org-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result domain.SyncResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Status != domain.StatusSynced {
		t.Errorf("expected SYNCED, got %s", result.Status)
	}
	// 8 window days, one row each.
	if result.RowsUpserted != 8 {
		t.Errorf("expected 8 rows upserted, got %d", result.RowsUpserted)
	}
}

func TestSyncEndpoint_RateLimited(t *testing.T) {
	store := &scriptedAccountStore{
		acct: &domain.Account{ID: "acc-1", OrganizationID: "org-1", Provider: domain.ProviderAWS},
		acquireErr: &domain.ErrRateLimited{
			Provider: domain.ProviderAWS,
			Reason:   domain.ReasonProviderCooldown,
		},
	}
	env := newTestEnv(store, &scriptedLedger{})

	rec := env.request(t, http.MethodPost, "/v1/organizations/org-1/accounts/acc-1/sync", "org-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
}

func TestSyncEndpoint_AccountNotFound(t *testing.T) {
	env := newTestEnv(&scriptedAccountStore{}, &scriptedLedger{})

	rec := env.request(t, http.MethodPost, "/v1/organizations/org-1/accounts/missing/sync", "org-1")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetAccountEndpoint(t *testing.T) {
	store := &scriptedAccountStore{
		acct: &domain.Account{ID: "acc-1", OrganizationID: "org-1", Provider: domain.ProviderGCP},
	}
	env := newTestEnv(store, &scriptedLedger{})

	rec := env.request(t, http.MethodGet, "/v1/organizations/org-1/accounts/acc-1", "org-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var acct domain.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &acct); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if acct.ID != "acc-1" || acct.Provider != domain.ProviderGCP {
		t.Errorf("unexpected account payload: %+v", acct)
	}
}

func TestSpendEndpoint(t *testing.T) {
	ledger := &scriptedLedger{
		totals: []domain.DailySpend{
			{Date: time.Now().UTC(), Provider: domain.ProviderAWS, ServiceName: "S3", AmountCents: 1234},
		},
	}
	env := newTestEnv(&scriptedAccountStore{}, ledger)

	rec := env.request(t, http.MethodGet, "/v1/organizations/org-1/spend?days=7", "org-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Days  int                 `json:"days"`
		Spend []domain.DailySpend `json:"spend"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Days != 7 || len(body.Spend) != 1 {
		t.Errorf("unexpected spend payload: %+v", body)
	}
}

func TestAnomaliesEndpoint_NoAnomalies(t *testing.T) {
	env := newTestEnv(&scriptedAccountStore{}, &scriptedLedger{})

	rec := env.request(t, http.MethodGet, "/v1/organizations/org-1/anomalies", "org-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Report *domain.AnomalyReport `json:"report"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Report != nil {
		t.Errorf("expected null report, got %+v", body.Report)
	}
}

func TestSyncMetricsEndpoint(t *testing.T) {
	env := newTestEnv(&scriptedAccountStore{}, &scriptedLedger{})

	rec := env.request(t, http.MethodGet, "/v1/metrics/sync", "org-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var snapshot domain.SyncMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if snapshot.Period != "all_time" {
		t.Errorf("unexpected snapshot: %+v", snapshot)
	}
}
