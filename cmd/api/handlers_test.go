package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/finroute/finroute/pkg/aggregator"
	"github.com/finroute/finroute/pkg/cache"
	"github.com/finroute/finroute/pkg/config"
	"github.com/finroute/finroute/pkg/health"
	"github.com/finroute/finroute/pkg/models"
	"github.com/finroute/finroute/pkg/provider"
	"github.com/finroute/finroute/pkg/session"
	"github.com/go-redis/redismock/v8"
	"github.com/gorilla/mux"
)

type stubProvider struct {
	name  string
	fetch func(models.Symbol) (models.Quote, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) FetchQuote(ctx context.Context, sym models.Symbol) (models.Quote, error) {
	return s.fetch(sym)
}

func (s *stubProvider) HealthCheck(ctx context.Context) bool { return true }

type nullAuth struct{}

func (nullAuth) Authenticate(ctx context.Context) (string, time.Time, error) {
	return "tok", time.Now().Add(time.Hour), nil
}

func newTestServer(t *testing.T, providers ...*stubProvider) (*server, *mux.Router) {
	t.Helper()

	db, _ := redismock.NewClientMock()
	engine := cache.NewWithClient(db)

	names := make([]string, len(providers))
	ps := make([]provider.Provider, len(providers))
	for i, p := range providers {
		names[i] = p.name
		ps[i] = p
	}
	reg := health.NewRegistry(config.HealthConfig{
		DegradedThreshold:    3,
		UnavailableThreshold: 5,
		CooldownBase:         30 * time.Second,
		CooldownMax:          10 * time.Minute,
	}, names...)

	pcfg := config.ProviderConfig{
		Timeout:         time.Second,
		StatefulTimeout: time.Second,
		BatchSpacing:    time.Millisecond,
	}

	agg := aggregator.New(pcfg, engine, reg, nil, ps...)

	srv := &server{
		agg:      agg,
		cache:    engine,
		sessions: session.NewManager(nullAuth{}, config.SessionConfig{RefreshMargin: time.Minute, MaxAuthRetries: 1}),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/quotes/bulk", srv.handleBulkQuotes).Methods("POST")
	router.HandleFunc("/api/v1/quotes/{symbol}", srv.handleQuote).Methods("GET")
	router.HandleFunc("/api/v1/providers/status", srv.handleProviderStatus).Methods("GET")
	router.HandleFunc("/api/v1/symbols", srv.handleListSymbols).Methods("GET")
	return srv, router
}

func TestHandleQuote(t *testing.T) {
	ig := &stubProvider{name: "ig", fetch: func(sym models.Symbol) (models.Quote, error) {
		return models.Quote{
			Symbol:    sym.Canonical,
			AssetType: sym.AssetType,
			Price:     150.25,
			Timestamp: time.Now().UTC(),
			Source:    "ig",
		}, nil
	}}
	_, router := newTestServer(t, ig)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quotes/AAPL", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var q models.Quote
	if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if q.Symbol != "AAPL" || q.Price != 150.25 {
		t.Errorf("unexpected quote: %+v", q)
	}
}

func TestHandleQuoteInvalidSymbol(t *testing.T) {
	ig := &stubProvider{name: "ig", fetch: func(sym models.Symbol) (models.Quote, error) {
		t.Error("provider must not be called")
		return models.Quote{}, nil
	}}
	_, router := newTestServer(t, ig)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quotes/%21%21bad%21%21", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleQuoteAllProvidersDown(t *testing.T) {
	ig := &stubProvider{name: "ig", fetch: func(sym models.Symbol) (models.Quote, error) {
		return models.Quote{}, fmt.Errorf("connection refused")
	}}
	_, router := newTestServer(t, ig)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/quotes/AAPL", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHandleBulkQuotes(t *testing.T) {
	ig := &stubProvider{name: "ig", fetch: func(sym models.Symbol) (models.Quote, error) {
		return models.Quote{
			Symbol: sym.Canonical, AssetType: sym.AssetType,
			Price: 1.0, Timestamp: time.Now().UTC(), Source: "ig",
		}, nil
	}}
	_, router := newTestServer(t, ig)

	body := strings.NewReader(`{"symbols":["AAPL","!!bad!!","MSFT"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/bulk", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Results []bulkItem `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Quote == nil || resp.Results[0].Quote.Symbol != "AAPL" {
		t.Errorf("slot 0: %+v", resp.Results[0])
	}
	if resp.Results[1].Error == "" || resp.Results[1].Quote != nil {
		t.Errorf("slot 1 must carry an error: %+v", resp.Results[1])
	}
	if resp.Results[2].Quote == nil || resp.Results[2].Quote.Symbol != "MSFT" {
		t.Errorf("slot 2: %+v", resp.Results[2])
	}
}

func TestHandleBulkQuotesRejectsBadRequests(t *testing.T) {
	_, router := newTestServer(t, &stubProvider{name: "ig", fetch: func(models.Symbol) (models.Quote, error) {
		return models.Quote{}, nil
	}})

	for name, body := range map[string]string{
		"empty list":   `{"symbols":[]}`,
		"not json":     `{symbols`,
		"over budget":  `{"symbols":[` + strings.Repeat(`"AAPL",`, 100) + `"AAPL"]}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/quotes/bulk", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestHandleProviderStatus(t *testing.T) {
	_, router := newTestServer(t, &stubProvider{name: "ig", fetch: func(models.Symbol) (models.Quote, error) {
		return models.Quote{}, nil
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Providers []health.ProviderHealth `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Providers) != 1 || resp.Providers[0].State != "HEALTHY" {
		t.Errorf("unexpected snapshot: %+v", resp.Providers)
	}
}

func TestHandleListSymbolsWithoutStore(t *testing.T) {
	_, router := newTestServer(t, &stubProvider{name: "ig", fetch: func(models.Symbol) (models.Quote, error) {
		return models.Quote{}, nil
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/symbols", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}
