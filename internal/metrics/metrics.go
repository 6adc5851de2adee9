package metrics

import (
	"net/http"

	"github.com/ErlanBelekov/prospect-portal/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Magic link metrics

	MagicLinksIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "magic_links_issued_total",
		Help:      "Magic link requests, by outcome.",
	}, []string{"outcome"})

	MagicLinkRedemptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "magic_link_redemptions_total",
		Help:      "Magic link redemptions, by result and the path that resolved the token.",
	}, []string{"result", "path"})

	TokenLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "durable_lookups_total",
		Help:      "Durable-store lookup strategy attempts, by strategy and result.",
	}, []string{"strategy", "result"})

	MirrorWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "magic_link_mirror_writes_total",
		Help:      "Writes of issued tokens to the durable user record, by outcome.",
	}, []string{"outcome"})

	EmailDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "email_deliveries_total",
		Help:      "Outbound sign-in emails, by outcome.",
	}, []string{"outcome"})

	// Token store

	TokenStoreEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "portal",
		Name:      "token_store_entries",
		Help:      "Entries currently held by the in-memory token store.",
	})

	TokenSweepEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "token_sweep_evicted_total",
		Help:      "Expired in-memory tokens removed by the sweeper.",
	})

	// Logins

	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "logins_total",
		Help:      "Login attempts, by method and outcome.",
	}, []string{"method", "outcome"})

	// Durable store

	StoreCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portal",
		Name:      "store_call_duration_seconds",
		Help:      "Latency of durable-store calls.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"backend", "op", "outcome"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portal",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "portal",
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served.",
	})
)

func Register() {
	prometheus.MustRegister(
		MagicLinksIssuedTotal,
		MagicLinkRedemptionsTotal,
		TokenLookupsTotal,
		MirrorWritesTotal,
		EmailDeliveriesTotal,
		TokenStoreEntries,
		TokenSweepEvictedTotal,
		LoginsTotal,
		StoreCallDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HTTPRequestsInFlight,
	)
}

// NewServer serves /metrics plus liveness and readiness probes.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", checker.LivenessHandler)
	mux.HandleFunc("/readyz", checker.ReadinessHandler)
	return &http.Server{Addr: addr, Handler: mux}
}
