package obs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"buddypay.org/internal/ledger"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "buddypay_ready",
		Help: "1 when the ledger store answers pings, 0 otherwise.",
	})
)

// Метрики леджера
var (
	transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buddypay_transactions_total",
			Help: "Transfers by outcome.",
		},
		[]string{"outcome"},
	)

	cancellationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "buddypay_cancellations_total",
		Help: "Canceled transfers.",
	})

	feeRevenue = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "buddypay_fee_revenue_minor_total",
		Help: "Fees collected, in minor units. Cancellations are not subtracted.",
	})
)

// Регистрация метрик в default-регистре.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		transactionsTotal, cancellationsTotal, feeRevenue,
	)
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// routes lists the paths with identifier segments; ":id" matches any
// single non-empty segment.
var routes = [][]string{
	{"v1", "transactions", ":id"},
	{"v1", "transactions", ":id", "cancel"},
	{"v1", "me", "relations", ":id"},
	{"v1", "me", "bank-accounts", ":id"},
	{"v1", "me", "bank-accounts", ":id", "deposit"},
	{"v1", "me", "bank-accounts", ":id", "withdraw"},
	{"v1", "me", "bank-accounts", ":id", "active"},
	{"v1", "admin", "fees", ":id"},
	{"v1", "admin", "monetization", ":id"},
	{"v1", "admin", "roles", ":id"},
	{"v1", "admin", "users", ":id"},
	{"v1", "admin", "users", ":id", "role"},
	{"v1", "admin", "users", ":id", "transactions"},
}

// CanonicalPath collapses identifiers in known routes so the path label
// keeps a bounded cardinality. The query string is dropped.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for _, route := range routes {
		if matchRoute(route, segs) {
			return "/" + strings.Join(route, "/")
		}
	}
	return p
}

func matchRoute(route, segs []string) bool {
	if len(route) != len(segs) {
		return false
	}
	for i, part := range route {
		if part == ":id" {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if part != segs[i] {
			return false
		}
	}
	return true
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Flush keeps SSE responses streaming through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LedgerMetrics counts ledger outcomes. It is registered on the engine as
// a ledger.Observer.
type LedgerMetrics struct{}

func (LedgerMetrics) TransactionCommitted(tx ledger.Transaction) {
	transactionsTotal.WithLabelValues("committed").Inc()
	feeRevenue.Add(float64(tx.Fee()))
}

func (LedgerMetrics) TransactionCanceled(ledger.Transaction) {
	cancellationsTotal.Inc()
}

func (LedgerMetrics) TransactionRejected(reason error) {
	transactionsTotal.WithLabelValues(Outcome(reason)).Inc()
}

// Outcome maps a ledger error to a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, ledger.ErrDailyLimitExceeded):
		return "daily_limit"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
