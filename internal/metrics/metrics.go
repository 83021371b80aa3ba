// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsTotal counts bid submissions by outcome (accepted or the
	// rejection kind).
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_total",
		Help: "Bid submissions by outcome",
	}, []string{"outcome"})

	// ArbitrationLatency measures time spent inside the per-auction
	// exclusive scope, including lock wait.
	ArbitrationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_arbitration_latency_seconds",
		Help:    "Latency of serialized auction mutations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"op"})

	// Extensions counts anti-snipe extensions.
	Extensions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_antisnipe_extensions_total",
		Help: "Anti-snipe extensions of auction close time",
	})

	BuyNowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_buy_now_total",
		Help: "Buy-now attempts by outcome",
	}, []string{"outcome"})

	// Settlements counts auctions closed by the sweep, by terminal status.
	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_settlements_total",
		Help: "Auctions settled by the sweep",
	}, []string{"status"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auction_sweep_duration_seconds",
		Help:    "Duration of one settlement sweep",
		Buckets: prometheus.DefBuckets,
	})

	SweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_sweep_errors_total",
		Help: "Per-auction settlement failures left for the next tick",
	})

	// SweepBacklog tracks auctions found expired but not yet settled at
	// the end of a sweep.
	SweepBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_sweep_backlog",
		Help: "Expired auctions still active after the last sweep",
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_notifications_sent_total",
		Help: "Notifications delivered by kind",
	}, []string{"kind"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_notifications_dropped_total",
		Help: "Notifications dropped because a queue was full",
	})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_notification_failures_total",
		Help: "Notifications that failed delivery",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSince records the time elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps auction IDs out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
