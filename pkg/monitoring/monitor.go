package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AnswersRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_answers_recorded_total",
			Help: "Answers recorded by response value",
		},
		[]string{"response"},
	)

	AuditSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_saves_total",
			Help: "Audit save attempts by resulting status or failure",
		},
		[]string{"result"},
	)

	PersistenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_persistence_failures_total",
			Help: "Failed persistence calls issued by audit sessions",
		},
		[]string{"op"},
	)

	RecomputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audit_recompute_duration_seconds",
			Help:    "Time spent aggregating section scores",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		},
	)

	OpenSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_open_sessions",
			Help: "Audit sessions currently held in memory",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(AnswersRecorded)
	prometheus.MustRegister(AuditSaves)
	prometheus.MustRegister(PersistenceFailures)
	prometheus.MustRegister(RecomputeDuration)
	prometheus.MustRegister(OpenSessions)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
