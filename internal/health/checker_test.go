package health_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ErlanBelekov/prospect-portal/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(context.Context) error { return p.err }

func newChecker(checks ...health.Check) (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return health.NewChecker(slog.New(slog.DiscardHandler), reg, checks...), reg
}

func TestLiveness_IgnoresDependencies(t *testing.T) {
	c, _ := newChecker(health.PingCheck("airtable", &stubPinger{err: errors.New("store down")}))

	report := c.Liveness(context.Background())
	if report.Status != "up" || report.Checks != nil {
		t.Fatalf("report = %+v, want bare up", report)
	}
}

func TestReadiness_StoreUp(t *testing.T) {
	c, reg := newChecker(health.PingCheck("airtable", &stubPinger{}))

	report := c.Readiness(context.Background())
	if report.Status != "up" || report.Checks["airtable"].Status != "up" {
		t.Fatalf("report = %+v", report)
	}

	want := `
# HELP portal_health_check_up Whether a dependency answered its last readiness probe. 1 = up, 0 = down.
# TYPE portal_health_check_up gauge
portal_health_check_up{dependency="airtable"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "portal_health_check_up"); err != nil {
		t.Error(err)
	}
}

func TestReadiness_OneFailureMarksReportDown(t *testing.T) {
	c, reg := newChecker(
		health.PingCheck("postgres", &stubPinger{err: errors.New("connection refused")}),
		health.Check{Name: "other", Ping: func(context.Context) error { return nil }},
	)

	report := c.Readiness(context.Background())
	if report.Status != "down" {
		t.Fatalf("status = %s, want down", report.Status)
	}
	if report.Checks["postgres"].Error != "connection refused" {
		t.Errorf("postgres = %+v", report.Checks["postgres"])
	}
	if report.Checks["other"].Status != "up" {
		t.Errorf("other = %+v", report.Checks["other"])
	}
	if n := testutil.CollectAndCount(reg, "portal_health_check_up"); n != 2 {
		t.Errorf("series = %d, want 2", n)
	}
}

func TestReadinessHandler_Returns503WhenDown(t *testing.T) {
	c, _ := newChecker(health.PingCheck("airtable", &stubPinger{err: errors.New("down")}))

	w := httptest.NewRecorder()
	c.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
}
