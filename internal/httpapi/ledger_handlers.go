package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"buddypay.org/internal/ledger"
)

type createTransactionRequest struct {
	ReceiverID  string `json:"receiver_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

type accountResponse struct {
	ledger.Account
	BalanceDisplay string `json:"balance_display"`
}

type limitsResponse struct {
	SpentToday int64  `json:"spent_today"`
	DailyLimit int64  `json:"daily_limit"`
	Remaining  int64  `json:"remaining"`
	Display    string `json:"display"`
}

type listTransactionsResponse struct {
	Items []ledger.Transaction `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Directory.Principal(r.Context(), caller(r).UserID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) myAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := a.svc.Accounts.Account(r.Context(), caller(r).UserID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: acc, BalanceDisplay: ledger.FormatAmount(acc.Balance)})
}

func (a *API) myLimits(w http.ResponseWriter, r *http.Request) {
	spent, limit, err := a.svc.Engine.SpentToday(r.Context(), caller(r).UserID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	remaining := max(limit-spent, 0)
	writeJSON(w, http.StatusOK, limitsResponse{
		SpentToday: spent,
		DailyLimit: limit,
		Remaining:  remaining,
		Display:    ledger.FormatAmount(spent) + " / " + ledger.FormatAmount(limit),
	})
}

func (a *API) myTransactions(w http.ResponseWriter, r *http.Request) {
	a.writeHistory(w, r, caller(r).UserID)
}

func (a *API) userTransactions(w http.ResponseWriter, r *http.Request) {
	a.writeHistory(w, r, chi.URLParam(r, "id"))
}

func (a *API) writeHistory(w http.ResponseWriter, r *http.Request, userID string) {
	items, err := a.svc.Engine.History(r.Context(), userID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.Transaction{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	receiver := strings.TrimSpace(req.ReceiverID)
	if receiver == "" {
		writeError(w, r, http.StatusBadRequest, "receiver_id is required")
		return
	}
	if len(receiver) > 64 {
		writeError(w, r, http.StatusBadRequest, "receiver_id must be <=64 characters")
		return
	}

	sender := caller(r).UserID
	receipt, err := a.svc.Engine.CreateTransaction(r.Context(), sender, receiver, req.Amount, req.Description)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.logAudit(r.Context(), "ledger.transaction.create", map[string]any{
		"transaction_id": receipt.Transaction.ID,
		"receiver_id":    receiver,
		"amount":         receipt.Transaction.Amount,
		"fee":            receipt.Fee,
	})

	w.Header().Set("Location", "/v1/transactions/"+receipt.Transaction.ID)
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := a.svc.Engine.Transaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	p := caller(r)
	if p.UserID != tx.SenderID && p.UserID != tx.ReceiverID && !p.HasRole(string(ledger.RoleAdmin)) {
		// Other users' transactions are reported as absent.
		handleLedgerError(w, r, ledger.NewError(ledger.ErrNotFound, "transaction not found with ID: %s", tx.ID))
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := caller(r)
	if !p.HasRole(string(ledger.RoleAdmin)) {
		tx, err := a.svc.Engine.Transaction(r.Context(), id)
		if err != nil {
			handleLedgerError(w, r, err)
			return
		}
		if tx.SenderID != p.UserID {
			if tx.ReceiverID == p.UserID {
				writeError(w, r, http.StatusForbidden, "only the sender can cancel a transaction")
				return
			}
			handleLedgerError(w, r, ledger.NewError(ledger.ErrNotFound, "transaction not found with ID: %s", id))
			return
		}
	}

	tx, err := a.svc.Engine.CancelTransaction(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "ledger.transaction.cancel", map[string]any{
		"transaction_id": tx.ID,
		"amount":         tx.Amount,
		"fee":            tx.Fee(),
	})
	writeJSON(w, http.StatusOK, tx)
}
