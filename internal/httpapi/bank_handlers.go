package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"buddypay.org/internal/ledger"
)

type linkBankAccountRequest struct {
	ExternalNumber string `json:"external_number"`
	OpeningBalance int64  `json:"opening_balance"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

func (a *API) listBankAccounts(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Banking.List(r.Context(), caller(r).UserID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.BankAccount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) linkBankAccount(w http.ResponseWriter, r *http.Request) {
	var req linkBankAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ba, err := a.svc.Banking.Link(r.Context(), caller(r).UserID, req.ExternalNumber, req.OpeningBalance)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "bank_account.link", map[string]any{"bank_account_id": ba.ID})
	writeJSON(w, http.StatusCreated, ba)
}

func (a *API) deposit(w http.ResponseWriter, r *http.Request) {
	a.bankTransfer(w, r, "bank_account.deposit", a.svc.Banking.Deposit)
}

func (a *API) withdraw(w http.ResponseWriter, r *http.Request) {
	a.bankTransfer(w, r, "bank_account.withdraw", a.svc.Banking.Withdraw)
}

type bankMove func(ctx context.Context, userID, bankAccountID string, amount int64) (ledger.Account, error)

func (a *API) bankTransfer(w http.ResponseWriter, r *http.Request, event string, move bankMove) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	acc, err := move(r.Context(), caller(r).UserID, id, req.Amount)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), event, map[string]any{"bank_account_id": id, "amount": req.Amount})
	writeJSON(w, http.StatusOK, accountResponse{Account: acc, BalanceDisplay: ledger.FormatAmount(acc.Balance)})
}

func (a *API) setBankAccountActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ba, err := a.svc.Banking.SetActive(r.Context(), caller(r).UserID, chi.URLParam(r, "id"), req.Active)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "bank_account.active", map[string]any{"bank_account_id": ba.ID, "active": ba.Active})
	writeJSON(w, http.StatusOK, ba)
}
