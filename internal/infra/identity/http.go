package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/infra/resilience"
	"github.com/akazancev/bankcore/internal/port"
)

var tracer = otel.Tracer("identity")

// HTTPGate introspects tokens against a remote user service with
// retry, circuit breaker, and bulkhead protection.
type HTTPGate struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	cfg        resilience.Config
}

var _ port.IdentityGate = (*HTTPGate)(nil)

// NewHTTPGate creates a gate calling the user service at baseURL.
func NewHTTPGate(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *HTTPGate {
	return &HTTPGate{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cb:         cb,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
		cfg:        cfg,
	}
}

type introspectResponse struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

// Authenticate introspects the token. 401 from the user service maps
// to ErrUnauthorized; transport failures surface as ErrExternalService
// after retries are exhausted.
func (g *HTTPGate) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	ctx, span := tracer.Start(ctx, "HTTPGate.Authenticate")
	defer span.End()

	if err := g.bulkhead.Acquire(ctx); err != nil {
		return nil, err
	}
	defer g.bulkhead.Release()

	var body introspectResponse
	var unauthorized bool

	_, err := g.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, g.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/users/me", nil)
			if err != nil {
				return err
			}
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := g.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusUnauthorized:
				unauthorized = true
				return nil
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("user service returned status %d", resp.StatusCode)
			}
			return json.NewDecoder(resp.Body).Decode(&body)
		})
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "user", Err: err}
	}
	if unauthorized {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}

	userID, err := uuid.Parse(body.UserID)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "user", Err: fmt.Errorf("bad user id %q", body.UserID)}
	}

	return &domain.Identity{
		UserID: userID,
		Role:   domain.Role(body.Role),
		Status: domain.UserStatus(body.Status),
	}, nil
}
