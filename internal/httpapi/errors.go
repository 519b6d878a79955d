package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"buddypay.org/internal/ledger"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

var ledgerStatus = []struct {
	kind   error
	status int
	code   string
}{
	{ledger.ErrNotFound, http.StatusNotFound, "not_found"},
	{ledger.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{ledger.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{ledger.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{ledger.ErrSave, http.StatusInternalServerError, "save_failed"},
	{ledger.ErrDelete, http.StatusInternalServerError, "delete_failed"},
	{ledger.ErrIllegalState, http.StatusConflict, "illegal_state"},
	{ledger.ErrInvalidBalance, http.StatusConflict, "invalid_balance"},
	{ledger.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var le *ledger.Error
	if !errors.As(err, &le) {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	for _, m := range ledgerStatus {
		if le.Kind != m.kind {
			continue
		}
		body := errorBody{Error: le.Msg, Code: m.code, RequestID: RequestIDFromContext(r.Context())}
		if errors.Is(le, ledger.ErrDailyLimitExceeded) {
			body.Reason = "daily_limit_exceeded"
		}
		writeJSON(w, m.status, body)
		return
	}
	writeError(w, r, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg, RequestID: RequestIDFromContext(r.Context())})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
