package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfold/backtester/internal/api"
	"github.com/quantfold/backtester/internal/engine"
	"github.com/quantfold/backtester/pkg/types"
)

type stubStrategy struct{}

func (stubStrategy) State() engine.State { return engine.StateRunning }
func (stubStrategy) CurrentTime() time.Time {
	return time.Date(2018, 6, 1, 16, 0, 0, 0, time.UTC)
}
func (stubStrategy) Positions() map[string]int64 { return map[string]int64{"IBM": 500} }
func (stubStrategy) Holdings() map[string]string {
	return map[string]string{types.FieldHeldCash: "49999"}
}
func (stubStrategy) EquityCurve() []types.EquityCurvePoint {
	return []types.EquityCurvePoint{{Timestamp: time.Date(2018, 6, 1, 16, 0, 0, 0, time.UTC), Equity: decimal.NewFromFloat(0.05)}}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := prometheus.NewRegistry()
	engine.NewMetrics(registry)
	server := api.NewServer(zap.NewNop(), types.ServerConfig{}, stubStrategy{}, registry)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decoding %s: %v", url, err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)
	var status struct {
		State string `json:"state"`
	}
	getJSON(t, ts.URL+"/api/v1/status", &status)
	if status.State != "running" {
		t.Errorf("state = %q, want running", status.State)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	var payload struct {
		Positions map[string]int64  `json:"positions"`
		Holdings  map[string]string `json:"holdings"`
	}
	getJSON(t, ts.URL+"/api/v1/positions", &payload)
	if payload.Positions["IBM"] != 500 {
		t.Errorf("IBM position = %d, want 500", payload.Positions["IBM"])
	}
	if payload.Holdings[types.FieldHeldCash] != "49999" {
		t.Errorf("held cash = %q, want 49999", payload.Holdings[types.FieldHeldCash])
	}
}

func TestEquityEndpoint(t *testing.T) {
	ts := newTestServer(t)
	var payload struct {
		Count int `json:"count"`
	}
	getJSON(t, ts.URL+"/api/v1/equity", &payload)
	if payload.Count != 1 {
		t.Errorf("count = %d, want 1", payload.Count)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
