package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/handler"
	"github.com/akazancev/bankcore/internal/infra/cache"
	"github.com/akazancev/bankcore/internal/infra/identity"
	"github.com/akazancev/bankcore/internal/infra/memstore"
	"github.com/akazancev/bankcore/internal/infra/observability"
	"github.com/akazancev/bankcore/internal/infra/resilience"
	"github.com/akazancev/bankcore/internal/service"
)

// TestIntegration_FullFlow spins up a mock user service and drives the
// whole credit lifecycle through the HTTP surface: tariff creation,
// account opening, credit issuance, and repayment to PAID.
func TestIntegration_FullFlow(t *testing.T) {
	clientID := uuid.New()
	adminID := uuid.New()

	// --- Mock user service (token introspection) ---
	userServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var resp map[string]string
		switch r.Header.Get("Authorization") {
		case "Bearer client-token":
			resp = map[string]string{"userId": clientID.String(), "role": "CLIENT", "status": "ACTIVE"}
		case "Bearer admin-token":
			resp = map[string]string{"userId": adminID.String(), "role": "ADMIN", "status": "ACTIVE"}
		default:
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer userServer.Close()

	// --- Build service ---
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cb := resilience.NewCircuitBreaker("integration-test")
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	httpClient := &http.Client{Timeout: 5 * time.Second}

	store := memstore.New()
	gate := identity.NewHTTPGate(httpClient, userServer.URL, cb, cfg)
	identCache := cache.New[domain.Identity](time.Minute)

	router := handler.NewRouter(
		service.NewAccountLedger(store, metrics, logger),
		service.NewCreditLifecycle(store, metrics, logger),
		gate,
		identCache,
		nil,
		metrics,
		logger,
	)

	do := func(method, path, bearer string, body any) *httptest.ResponseRecorder {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	// --- Anonymous tariff listing works before any tariffs exist ---
	rec := do(http.MethodGet, "/v1/tariffs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list tariffs: expected 200, got %d", rec.Code)
	}

	// --- Admin creates a tariff ---
	rec = do(http.MethodPost, "/v1/tariffs", "admin-token", map[string]any{
		"name": "Integration", "interestRate": "10",
		"minAmount": "1000", "maxAmount": "50000",
		"minTermMonths": 6, "maxTermMonths": 24,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create tariff: expected 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var tariff domain.CreditTariff
	json.NewDecoder(rec.Body).Decode(&tariff)

	// --- Client opens an account with an initial deposit ---
	rec = do(http.MethodPost, "/v1/accounts", "client-token", map[string]any{
		"currency": "RUB", "initialDeposit": "200",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open account: expected 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var account domain.Account
	json.NewDecoder(rec.Body).Decode(&account)

	// --- Client takes a credit ---
	rec = do(http.MethodPost, "/v1/credits", "client-token", map[string]any{
		"tariffId": tariff.ID.String(), "amount": "1000", "termMonths": 12,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("apply for credit: expected 201, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var credit domain.Credit
	json.NewDecoder(rec.Body).Decode(&credit)
	if !credit.RemainingAmount.Equal(decimalString(t, "1100")) {
		t.Fatalf("remaining = %s, want 1100", credit.RemainingAmount)
	}

	// --- Repay in full: the funding account covers the principal, the
	// savings account covers the interest ---
	rec = do(http.MethodPost, "/v1/credits/"+credit.ID.String()+"/payments", "client-token", map[string]any{
		"accountId": credit.AccountID.String(), "amount": "1000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first payment: expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	rec = do(http.MethodPost, "/v1/credits/"+credit.ID.String()+"/payments", "client-token", map[string]any{
		"accountId": account.ID.String(), "amount": "100",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("final payment: expected 200, got %d. Body: %s", rec.Code, rec.Body.String())
	}
	var paid domain.Credit
	json.NewDecoder(rec.Body).Decode(&paid)
	if paid.Status != domain.CreditPaid || !paid.RemainingAmount.IsZero() {
		t.Errorf("credit not paid off: status=%s remaining=%s", paid.Status, paid.RemainingAmount)
	}

	// --- Admin sees everything ---
	rec = do(http.MethodGet, "/v1/credits/all", "admin-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list credits: expected 200, got %d", rec.Code)
	}
	var page struct {
		Content []domain.Credit `json:"content"`
		Page    domain.PageInfo `json:"page"`
	}
	json.NewDecoder(rec.Body).Decode(&page)
	if page.Page.TotalElements != 1 {
		t.Errorf("expected 1 credit, got %d", page.Page.TotalElements)
	}

	// Repeated requests with the same token hit the identity cache
	// instead of the user service.
	if metrics.CacheHitCount("identity") == 0 {
		t.Error("expected identity cache hits across repeated requests")
	}

	// --- Unknown token is rejected by the real introspection path ---
	rec = do(http.MethodGet, "/v1/accounts", "bogus-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bogus token: expected 401, got %d", rec.Code)
	}
}

// TestIntegration_UserServiceDown verifies that an unreachable user
// service degrades to 502 instead of hanging or panicking.
func TestIntegration_UserServiceDown(t *testing.T) {
	userServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer userServer.Close()

	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cb := resilience.NewCircuitBreaker("integration-down")
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 5 * time.Millisecond, MaxConcurrency: 10}

	store := memstore.New()
	gate := identity.NewHTTPGate(&http.Client{Timeout: 2 * time.Second}, userServer.URL, cb, cfg)

	router := handler.NewRouter(
		service.NewAccountLedger(store, metrics, logger),
		service.NewCreditLifecycle(store, metrics, logger),
		gate,
		cache.New[domain.Identity](time.Minute),
		nil,
		metrics,
		logger,
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func decimalString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}
