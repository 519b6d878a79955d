package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"buddypay.org/internal/ledger"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                 "/",
		"/metrics":                         "/metrics",
		"/v1/transactions/01HZX":           "/v1/transactions/:id",
		"/v1/transactions/01HZX/cancel":    "/v1/transactions/:id/cancel",
		"/v1/transactions/01HZX/extra":     "/v1/transactions/01HZX/extra",
		"/v1/me/transactions":              "/v1/me/transactions",
		"/v1/me/transactions?limit=10":     "/v1/me/transactions",
		"/v1/me/bank-accounts/abc/deposit": "/v1/me/bank-accounts/:id/deposit",
		"/v1/admin/users/u1/role":          "/v1/admin/users/:id/role",
		"/v1/admin/fees":                   "/v1/admin/fees",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestOutcome(t *testing.T) {
	limit := &ledger.Error{Kind: ledger.ErrInsufficientBalance, Reason: ledger.ErrDailyLimitExceeded, Msg: "limit"}
	cases := []struct {
		err  error
		want string
	}{
		{nil, "committed"},
		{limit, "daily_limit"},
		{ledger.NewError(ledger.ErrInsufficientBalance, "low"), "insufficient_balance"},
		{ledger.NewError(ledger.ErrNotFound, "gone"), "not_found"},
		{ledger.NewError(ledger.ErrInvalidArgument, "bad"), "invalid_argument"},
		{errors.New("boom"), "error"},
	}
	for _, tc := range cases {
		if got := Outcome(tc.err); got != tc.want {
			t.Fatalf("Outcome(%v)=%q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestLedgerMetricsCounts(t *testing.T) {
	m := LedgerMetrics{}
	committed := testutil.ToFloat64(transactionsTotal.WithLabelValues("committed"))
	revenue := testutil.ToFloat64(feeRevenue)
	canceled := testutil.ToFloat64(cancellationsTotal)

	m.TransactionCommitted(ledger.Transaction{Amount: 10000, AmountWithFee: 10500})
	m.TransactionCanceled(ledger.Transaction{})

	if got := testutil.ToFloat64(transactionsTotal.WithLabelValues("committed")) - committed; got != 1 {
		t.Fatalf("committed delta=%v", got)
	}
	if got := testutil.ToFloat64(feeRevenue) - revenue; got != 500 {
		t.Fatalf("revenue delta=%v", got)
	}
	if got := testutil.ToFloat64(cancellationsTotal) - canceled; got != 1 {
		t.Fatalf("cancellations delta=%v", got)
	}
}

func TestInstrumentUsesCanonicalLabel(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/v1/transactions/:id/cancel", "202"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/transactions/abc/cancel", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/v1/transactions/:id/cancel", "202"))
	if after-before != 1 {
		t.Fatalf("expected one labelled request, got %v", after-before)
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("json", "warn", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "hidden") {
		t.Fatalf("info line should be filtered: %s", line)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["msg"] != "shown" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewLoggerText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("text", "debug", &buf).Debug("hello", "user", "u1")
	if !strings.Contains(buf.String(), "hello") || !strings.Contains(buf.String(), "u1") {
		t.Fatalf("unexpected text output: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}
