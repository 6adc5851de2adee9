// Package health serves liveness and readiness probes for the portal.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const checkTimeout = 3 * time.Second

// Pinger is satisfied by every repository.RecordStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one dependency probed on readiness.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// PingCheck probes p under name.
func PingCheck(name string, p Pinger) Check {
	return Check{Name: name, Ping: p.Ping}
}

type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type Checker struct {
	checks []Check
	logger *slog.Logger
	up     *prometheus.GaugeVec
}

// NewChecker registers portal_health_check_up{dependency} on reg.
func NewChecker(logger *slog.Logger, reg prometheus.Registerer, checks ...Check) *Checker {
	up := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "portal",
		Name:      "health_check_up",
		Help:      "Whether a dependency answered its last readiness probe. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(up)

	return &Checker{
		checks: checks,
		logger: logger.With("component", "health"),
		up:     up,
	}
}

// Liveness reports up while the process can serve HTTP.
func (c *Checker) Liveness(context.Context) Report {
	return Report{Status: "up"}
}

// Readiness probes every dependency. One failure marks the whole report down.
func (c *Checker) Readiness(ctx context.Context) Report {
	report := Report{Status: "up", Checks: make(map[string]CheckResult, len(c.checks))}

	for _, check := range c.checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check.Ping(checkCtx)
		cancel()

		if err != nil {
			c.logger.WarnContext(ctx, "readiness probe failed", "dependency", check.Name, "error", err)
			report.Status = "down"
			report.Checks[check.Name] = CheckResult{Status: "down", Error: err.Error()}
			c.up.WithLabelValues(check.Name).Set(0)
			continue
		}
		report.Checks[check.Name] = CheckResult{Status: "up"}
		c.up.WithLabelValues(check.Name).Set(1)
	}
	return report
}

func (c *Checker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeReport(w, c.Liveness(r.Context()))
}

func (c *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	writeReport(w, c.Readiness(r.Context()))
}

func writeReport(w http.ResponseWriter, report Report) {
	w.Header().Set("Content-Type", "application/json")
	if report.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}
