package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"trustindex/internal/index/batch"
	"trustindex/internal/index/models"
	"trustindex/internal/index/ports"
	"trustindex/internal/index/service"
	"trustindex/internal/index/store"
	"trustindex/internal/index/whitelist"
	dErrors "trustindex/pkg/domain-errors"
	"trustindex/pkg/requestcontext"
)

// HandlerSuite drives the real service with a scripted provider caller.
type HandlerSuite struct {
	suite.Suite
	router  http.Handler
	answers map[models.ProviderID]func() ([]byte, error)
	now     time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.now = time.Unix(0, 1714557600000000123).UTC()
	s.answers = map[models.ProviderID]func() ([]byte, error){
		"p1.near": func() ([]byte, error) { return []byte(`"1"`), nil },
		"p2.near": func() ([]byte, error) { return nil, errors.New("contract not deployed") },
	}
	caller := ports.CallerFunc(func(_ context.Context, p models.ProviderID, _ models.Capability, _ []byte) ([]byte, error) {
		return s.answers[p]()
	})

	exec, err := batch.NewExecutor(caller)
	s.Require().NoError(err)
	history, err := store.NewHistory(store.NewMemoryKV())
	s.Require().NoError(err)
	wl := whitelist.MustNew([]models.ProviderEntry{
		{Provider: "p1.near", Capabilities: []models.Capability{models.CapabilityNFTCount}},
		{Provider: "p2.near", Capabilities: []models.Capability{models.CapabilityNFTCount}},
	})
	svc, err := service.New(wl, exec, history, service.WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)

	s.router = s.routerFor(svc)
}

func (s *HandlerSuite) routerFor(svc Service) http.Handler {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(requestcontext.WithTime(req.Context(), s.now)))
		})
	})
	New(svc, logger).Register(r)
	return r
}

func (s *HandlerSuite) do(method, path string) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var body map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

// =============================================================================
// GET /v1/index/{account_id}
// =============================================================================

func (s *HandlerSuite) TestLookup_UnknownAccount() {
	rec, body := s.do(http.MethodGet, "/v1/index/alice.near")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("alice.near", body["account_id"])
	s.Nil(body["index"])
	s.Nil(body["timestamp"])
	s.Equal([]any{}, body["errors"])
}

func (s *HandlerSuite) TestLookup_Whitelisted() {
	rec, body := s.do(http.MethodGet, "/v1/index/p1.near")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("1.00", body["index"])
	s.Equal("1714557600000000123", body["timestamp"])
	s.Equal([]any{}, body["errors"])
}

func (s *HandlerSuite) TestLookup_InvalidAccount() {
	rec, body := s.do(http.MethodGet, "/v1/index/a:b")

	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("validation_error", body["error"])
}

// =============================================================================
// POST /v1/index/{account_id}/calculate
// =============================================================================

func (s *HandlerSuite) TestCalculate_RecordsFailures() {
	rec, body := s.do(http.MethodPost, "/v1/index/alice.near/calculate")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("1.00", body["index"])
	s.Equal("1714557600000000123", body["timestamp"])
	s.Equal([]any{map[string]any{
		"contract": "p2.near",
		"error":    "probe 1 (p2.near/nft_supply_for_owner) call failed: contract not deployed",
	}}, body["errors"])

	_, looked := s.do(http.MethodGet, "/v1/index/alice.near")
	s.Equal(body, looked)
}

func (s *HandlerSuite) TestCalculate_AllProbesFail() {
	s.answers["p1.near"] = func() ([]byte, error) { return []byte(`{"oops":true}`), nil }

	rec, body := s.do(http.MethodPost, "/v1/index/alice.near/calculate")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("0.00", body["index"])
	s.Len(body["errors"], 2)
}

type failingService struct{ err error }

func (f failingService) Lookup(context.Context, models.AccountID) (*models.IndexReport, error) {
	return nil, f.err
}

func (f failingService) Calculate(context.Context, models.AccountID) (*models.IndexReport, error) {
	return nil, f.err
}

func (s *HandlerSuite) TestServiceErrors() {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"internal", dErrors.Wrap(errors.New("kv down"), dErrors.CodeInternal, "failed to read trust index"), http.StatusInternalServerError, "internal_error"},
		{"timeout", dErrors.New(dErrors.CodeTimeout, "timed out"), http.StatusGatewayTimeout, "timeout"},
		{"unavailable", dErrors.New(dErrors.CodeUnavailable, "canceled"), http.StatusServiceUnavailable, "service_unavailable"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.router = s.routerFor(failingService{err: tt.err})

			for _, req := range []struct{ method, path string }{
				{http.MethodGet, "/v1/index/alice.near"},
				{http.MethodPost, "/v1/index/alice.near/calculate"},
			} {
				rec, body := s.do(req.method, req.path)
				s.Equal(tt.status, rec.Code)
				s.Equal(tt.code, body["error"])
				if tt.status >= 500 && tt.name != "timeout" {
					s.NotContains(body, "error_description")
				}
			}
		})
	}
}
