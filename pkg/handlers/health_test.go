package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/config"
	"github.com/ekaya-inc/ekaya-erp-assistant/pkg/llm"
)

type fakePinger struct{ err error }

func (f fakePinger) TestConnection(context.Context) error { return f.err }

type fakeModels []llm.ModelStatus

func (f fakeModels) Statuses() []llm.ModelStatus { return f }

func testConfig() *config.Config {
	return &config.Config{
		Version: "1.2.3",
		Env:     "test",
		Oracle:  config.OracleConfig{Name: "erp"},
	}
}

func TestHealthHandler_Health_WithoutDependencies(t *testing.T) {
	handler := NewHealthHandler(testConfig(), nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}
	if response.Oracle != nil {
		t.Error("expected no oracle status when no pinger is provided")
	}
	if response.Models != nil {
		t.Error("expected no models when no status source is provided")
	}
}

func TestHealthHandler_Health_ReportsModels(t *testing.T) {
	models := fakeModels{
		{Role: "api", Model: "claude-sonnet-4-5", Available: true},
		{Role: "local", Model: "sqlcoder:15b", Available: false, ErrorType: llm.ErrorTypeEndpoint},
	}
	handler := NewHealthHandler(testConfig(), fakePinger{}, models, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("an unavailable model must not fail the check: got %d", rec.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Oracle == nil || !response.Oracle.Reachable || response.Oracle.Name != "erp" {
		t.Errorf("expected reachable oracle 'erp', got %+v", response.Oracle)
	}
	if len(response.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(response.Models))
	}
	if response.Models[1].Available {
		t.Error("expected local model to be reported unavailable")
	}
}

func TestHealthHandler_Health_OracleDown(t *testing.T) {
	pinger := fakePinger{err: errors.New("ORA-12541: TNS:no listener at oracle://erp:secret@db:1521/FREEPDB1")}
	handler := NewHealthHandler(testConfig(), pinger, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "degraded" {
		t.Errorf("expected status 'degraded', got '%s'", response.Status)
	}
	if response.Oracle == nil || response.Oracle.Reachable {
		t.Fatalf("expected unreachable oracle, got %+v", response.Oracle)
	}
	if strings.Contains(response.Oracle.Error, "secret") {
		t.Errorf("password leaked into health output: %q", response.Oracle.Error)
	}
}

func TestHealthHandler_Ping(t *testing.T) {
	handler := NewHealthHandler(testConfig(), nil, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	handler.Ping(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response PingResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}
	if response.Version != "1.2.3" {
		t.Errorf("expected version '1.2.3', got '%s'", response.Version)
	}
	if response.Service != ServiceName {
		t.Errorf("expected service '%s', got '%s'", ServiceName, response.Service)
	}
	if response.Environment != "test" {
		t.Errorf("expected environment 'test', got '%s'", response.Environment)
	}
	if response.GoVersion == "" {
		t.Error("expected non-empty go_version")
	}
	if response.Hostname == "" {
		t.Error("expected non-empty hostname")
	}
}

func TestRegisterRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "erp_assistant_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	mux := http.NewServeMux()
	NewHealthHandler(testConfig(), nil, nil, zap.NewNop()).RegisterRoutes(mux)
	NewMetricsHandler(reg, zap.NewNop()).RegisterRoutes(mux)

	for _, path := range []string{"/health", "/ping", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusOK, rec.Code)
		}
		if path == "/metrics" && !strings.Contains(rec.Body.String(), "erp_assistant_test_total 1") {
			t.Errorf("/metrics: expected test counter in body, got %q", rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /health: expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
