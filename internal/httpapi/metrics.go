package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daybridge_sync_cycles_total",
		Help: "Completed sync cycles per record kind.",
	}, []string{"kind"})

	syncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daybridge_sync_records_total",
		Help: "Records processed by sync, by kind and outcome.",
	}, []string{"kind", "outcome"})

	conflictsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "daybridge_conflicts_total",
		Help: "Records put into conflict state per kind.",
	}, []string{"kind"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "daybridge_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

func metricsHandler() http.Handler { return promhttp.Handler() }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
