package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rule-persistence/internal/service"
)

type fakeTicks struct {
	last    *service.TickReport
	report  service.TickReport
	err     error
	execCnt int
}

func (f *fakeTicks) Execute(context.Context) (service.TickReport, error) {
	f.execCnt++
	if f.err != nil {
		return service.TickReport{}, f.err
	}
	f.last = &f.report
	return f.report, nil
}

func (f *fakeTicks) LastReport() (service.TickReport, bool) {
	if f.last == nil {
		return service.TickReport{}, false
	}
	return *f.last, true
}

func newTestRouter(ticks *fakeTicks, health HealthFunc) http.Handler {
	reg := prometheus.NewRegistry()
	service.NewMetrics(reg)
	ops := NewOpsHandler(ticks, health, zap.NewNop())
	return NewRouter(ops, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), zap.NewNop())
}

func healthy(context.Context) map[string]error { return nil }

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	rec := serve(newTestRouter(&fakeTicks{}, healthy), http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !decode(t, rec).Success {
		t.Fatal("expected success")
	}

	unhealthy := func(context.Context) map[string]error {
		return map[string]error{"redis": errors.New("dial tcp: refused")}
	}
	rec = serve(newTestRouter(&fakeTicks{}, unhealthy), http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "refused") {
		t.Fatalf("expected failure detail in body, got %s", rec.Body.String())
	}
}

func TestLastTick(t *testing.T) {
	ticks := &fakeTicks{}
	router := newTestRouter(ticks, healthy)

	if rec := serve(router, http.MethodGet, "/api/v1/ticks/last"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any tick, got %d", rec.Code)
	}

	ticks.last = &service.TickReport{TickID: "t-1", Now: time.Unix(1709294400, 0).UTC()}
	rec := serve(router, http.MethodGet, "/api/v1/ticks/last")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"tick_id":"t-1"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestTriggerTick(t *testing.T) {
	ticks := &fakeTicks{report: service.TickReport{TickID: "manual"}}
	rec := serve(newTestRouter(ticks, healthy), http.MethodPost, "/api/v1/ticks")
	if rec.Code != http.StatusOK || ticks.execCnt != 1 {
		t.Fatalf("expected one tick and 200, got %d after %d calls", rec.Code, ticks.execCnt)
	}

	busy := &fakeTicks{err: service.ErrTickInProgress}
	rec = serve(newTestRouter(busy, healthy), http.MethodPost, "/api/v1/ticks")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while a tick is running, got %d", rec.Code)
	}
	if resp := decode(t, rec); resp.Success || resp.Error == "" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}

func TestMetricsAndFallbacks(t *testing.T) {
	router := newTestRouter(&fakeTicks{}, healthy)

	rec := serve(router, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "rule_persistence_tick_duration_seconds") {
		t.Fatalf("expected job metrics, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := serve(router, http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := serve(router, http.MethodDelete, "/health"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
