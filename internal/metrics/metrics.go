// Package metrics provides Prometheus instrumentation for the ledger core.
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
	// LedgerEntriesTotal counts ledger entries appended, partitioned by kind.
	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_ledger_entries_total",
		Help: "Total ledger entries appended",
	}, []string{"kind"})

	// DecisionsTotal counts workflow decisions by request kind and outcome.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_workflow_decisions_total",
		Help: "Total workflow request decisions",
	}, []string{"kind", "status"})

	// TradesTotal counts position trades executed, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_trades_total",
		Help: "Total position trades executed",
	}, []string{"side"})

	// TimedTradeSettlements counts timed-trade settlements by result.
	TimedTradeSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_timed_trade_settlements_total",
		Help: "Total timed-trade settlements",
	}, []string{"result"})

	// IpoDecisionsTotal counts IPO application decisions by outcome.
	IpoDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_ipo_decisions_total",
		Help: "Total IPO application decisions",
	}, []string{"status"})

	// RejectedOperations counts operations refused by validation,
	// partitioned by reason (insufficient_funds, invalid_amount, ...).
	RejectedOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_rejected_operations_total",
		Help: "Operations refused by validation",
	}, []string{"reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brokerage_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerage_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "brokerage_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

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

		// Use the raw path for the label; route population is small.
		path := r.URL.Path
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
