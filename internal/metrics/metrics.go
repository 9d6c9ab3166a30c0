package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	controlActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_control_actions_total",
			Help: "Session control actions by outcome",
		},
		[]string{"action", "outcome"},
	)

	answersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_answers_total",
			Help: "Answer submissions by question type and result",
		},
		[]string{"type", "result"},
	)

	aggregationExcludedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "survey_aggregation_excluded_total",
			Help: "Answers excluded from aggregation because of an invalid shape",
		},
	)

	wsConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "survey_ws_connections",
			Help: "Number of open websocket connections",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "survey_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method"},
	)
)

// RecordControl counts one admin control action and its outcome.
func RecordControl(action, outcome string) {
	controlActionsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordAnswer counts a submission; result is "accepted" or the rejection reason.
func RecordAnswer(questionType, result string) {
	answersTotal.WithLabelValues(questionType, result).Inc()
}

func RecordExcluded(n int) {
	if n > 0 {
		aggregationExcludedTotal.Add(float64(n))
	}
}

func ConnectionOpened() { wsConnections.Inc() }
func ConnectionClosed() { wsConnections.Dec() }

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
