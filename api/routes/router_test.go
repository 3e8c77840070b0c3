package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/meterly-backend/internal/billing"
	"github.com/angelmondragon/meterly-backend/pkg/config"
	"github.com/angelmondragon/meterly-backend/pkg/db/dbtest"
	"github.com/angelmondragon/meterly-backend/pkg/db/models"
	"github.com/angelmondragon/meterly-backend/pkg/logger"
	"github.com/angelmondragon/meterly-backend/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		App:     config.AppConfig{Env: "test"},
		Billing: config.BillingConfig{FreePlanName: "FREE", TrialNotifyDays: "4,2"},
	}
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	client, conn := dbtest.Client(t)
	limits := func(requests int64) types.FeatureSet {
		return types.FeatureSet{AIAPI: types.ServiceFeature{
			RequestLimit:   requests,
			CreditLimit:    decimal.NewFromInt(requests),
			ConversionRate: decimal.NewFromInt(1),
		}}
	}
	dbtest.Create(t, conn,
		&models.Shop{Name: "acme", Email: "owner@acme.test"},
		&models.Plan{Name: "FREE", Price: decimal.Zero, Currency: "USD", IsDefault: true, Features: limits(10)},
		&models.Plan{Name: "PRO", Price: decimal.NewFromInt(20), Currency: "USD", Features: limits(100)},
	)

	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("debug"), Output: io.Discard})
	engine, err := billing.NewEngine(billing.EngineParams{DB: client, Config: cfg.Billing, Logger: logg})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewRouter(cfg, logg, client, nil, engine.Shops, engine.Subscriptions, engine.Ledger, engine.Credits, engine.Notifications)
}

func do(t *testing.T, router http.Handler, method, path, shop, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if shop != "" {
		req.Header.Set("X-Shop-Domain", shop)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(t)
	resp := do(t, router, http.MethodGet, "/health/live", "", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
}

func TestShopHeaderRequired(t *testing.T) {
	router := newTestRouter(t)
	if resp := do(t, router, http.MethodGet, "/api/v1/subscriptions/current", "", ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without shop header got %d", resp.Code)
	}
	if resp := do(t, router, http.MethodGet, "/api/v1/subscriptions/current", "nobody", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown shop got %d", resp.Code)
	}
}

func TestMeteringFlow(t *testing.T) {
	router := newTestRouter(t)

	resp := do(t, router, http.MethodGet, "/api/v1/subscriptions/current", "acme", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("current: expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var details struct {
		Plan struct {
			Name string `json:"Name"`
		} `json:"plan"`
	}
	decodeData(t, resp, &details)
	if details.Plan.Name != "FREE" {
		t.Fatalf("expected default plan, got %q", details.Plan.Name)
	}

	resp = do(t, router, http.MethodPost, "/api/v1/usage", "acme", `{"service":"AI_API","units":4}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("usage: expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var result struct {
		Deducted  int64 `json:"deducted"`
		Shortfall int64 `json:"shortfall"`
	}
	decodeData(t, resp, &result)
	if result.Deducted != 4 || result.Shortfall != 0 {
		t.Fatalf("unexpected deduction %+v", result)
	}

	resp = do(t, router, http.MethodPost, "/api/v1/usage", "acme", `{"service":"AI_API","units":100}`)
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("overdraw: expected 402 got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, router, http.MethodGet, "/api/v1/usage", "acme", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("state: expected 200 got %d", resp.Code)
	}

	resp = do(t, router, http.MethodPost, "/api/v1/subscriptions", "acme", `{"plan_name":"PRO","external_transaction_id":"ch_1"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("subscribe: expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	resp = do(t, router, http.MethodPost, "/api/v1/subscriptions", "acme", `{"plan_name":"PRO","external_transaction_id":"ch_1"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("replay: expected 200 got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, router, http.MethodGet, "/api/v1/notifications", "acme", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("notifications: expected 200 got %d", resp.Code)
	}
	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	decodeData(t, resp, &page)
	if len(page.Items) == 0 {
		t.Fatal("expected notifications after usage and subscribe")
	}
}

func TestRegisterShopThenMeter(t *testing.T) {
	router := newTestRouter(t)

	resp := do(t, router, http.MethodPost, "/api/v1/shops", "", `{"name":"Beta","email":"ops@beta.test","users":[{"email":"billing@beta.test"}]}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("register: expected 201 got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, router, http.MethodPost, "/api/v1/shops", "", `{"name":"beta","email":"other@beta.test"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409 got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, router, http.MethodGet, "/api/v1/usage", "Beta", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("usage state for new shop: expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}
