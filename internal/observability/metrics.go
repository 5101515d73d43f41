package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seo_http_requests_total",
			Help: "Total HTTP requests by status code",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "seo_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "seo_http_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seo_http_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)

	// engine side
	RuleFetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seo_rule_fetch_attempts_total",
			Help: "Rule fetch attempts by outcome (ok, empty, client_error, retryable)",
		}, []string{"outcome"},
	)
	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seo_mutations_total",
			Help: "Tag mutations by kind and outcome",
		}, []string{"kind", "outcome"},
	)
	PipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "seo_pipeline_duration_seconds",
		Help:    "Time spent applying all selected rules to one page",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})
	ImpressionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seo_impressions_total",
			Help: "Rule impressions by outcome (sent, failed, dropped, recorded)",
		}, []string{"outcome"},
	)
	SnapshotRules = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "seo_snapshot_rules",
		Help: "Active rules held by the delivery snapshot",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RequestErrors)
	prometheus.MustRegister(RuleFetchAttempts, MutationsTotal, PipelineDuration, ImpressionsTotal, SnapshotRules)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper.
func (r *rec) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
