package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "askql_api_build_info",
			Help: "Build information of the AskQL API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askql_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askql_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askql_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askql_api_turns_total",
			Help: "Total number of conversation turns by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	SQLStatementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askql_api_sql_statements_total",
			Help: "Total number of executed SQL statements by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	SQLStatementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askql_api_sql_statement_duration_seconds",
			Help:    "Duration of SQL statements in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askql_api_llm_calls_total",
			Help: "Total number of language model calls by provider, method and status",
		},
		[]string{"provider", "method", "status"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askql_api_llm_call_duration_seconds",
			Help:    "Duration of language model calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider", "method"},
	)

	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "askql_api_event_streams_active",
			Help: "Number of open server-sent event streams",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// ObserveTurn records a finished conversation turn.
func ObserveTurn(mode, outcome string) {
	TurnsTotal.WithLabelValues(mode, outcome).Inc()
}

// ObserveStatement records one executed SQL statement.
func ObserveStatement(kind string, success bool, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	SQLStatementsTotal.WithLabelValues(kind, outcome).Inc()
	SQLStatementDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveLLMCall records one provider call.
func ObserveLLMCall(provider, method string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LLMCallsTotal.WithLabelValues(provider, method, status).Inc()
	LLMCallDuration.WithLabelValues(provider, method).Observe(elapsed.Seconds())
}
