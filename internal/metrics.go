package internal

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's prometheus collectors. Each server gets its own
// registry so several can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	posts       prometheus.Counter
	duplicates  prometheus.Counter
	commands    *prometheus.CounterVec
	reactions   *prometheus.CounterVec
	uploads     prometheus.Counter
	uploadBytes prometheus.Counter
	rateLimited prometheus.Counter
	activeConns prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "termpost_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "termpost_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		posts: factory.NewCounter(prometheus.CounterOpts{
			Name: "termpost_posts_created_total",
			Help: "Posts stored",
		}),
		duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "termpost_posts_deduplicated_total",
			Help: "Post retries answered from an earlier pending post id",
		}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "termpost_commands_total",
			Help: "Slash commands executed, by trigger and result",
		}, []string{"trigger", "result"}),
		reactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "termpost_reactions_total",
			Help: "Reactions added or removed",
		}, []string{"action"}),
		uploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "termpost_uploads_total",
			Help: "Files uploaded",
		}),
		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "termpost_upload_bytes_total",
			Help: "Bytes received in uploads",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "termpost_rate_limited_total",
			Help: "Requests and websocket frames rejected by the rate limiter",
		}),
		activeConns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "termpost_active_connections",
			Help: "Open websocket connections",
		}),
	}
}

func (m *Metrics) IncPost()      { m.posts.Inc() }
func (m *Metrics) IncDuplicate() { m.duplicates.Inc() }
func (m *Metrics) IncConn()      { m.activeConns.Inc() }
func (m *Metrics) DecConn()      { m.activeConns.Dec() }
func (m *Metrics) IncLimited()   { m.rateLimited.Inc() }

func (m *Metrics) ObserveCommand(trigger, result string) {
	m.commands.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) ObserveReaction(action string) {
	m.reactions.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveUpload(size int64) {
	m.uploads.Inc()
	m.uploadBytes.Add(float64(size))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request counts and latency. route names the handler
// so ids in paths don't blow up label cardinality.
func (m *Metrics) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
