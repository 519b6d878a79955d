package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"buddypay.org/internal/ledger"
)

type feeRequest struct {
	Percentage int64 `json:"percentage"`
}

type feeResponse struct {
	ledger.Fee
	Display string `json:"display"`
}

type revenueResponse struct {
	TotalRevenue int64  `json:"total_revenue"`
	TotalFees    int64  `json:"total_fees"`
	Display      string `json:"display"`
}

func newFeeResponse(f ledger.Fee) feeResponse {
	return feeResponse{Fee: f, Display: ledger.FormatPercentage(f.Percentage)}
}

func (a *API) listFees(w http.ResponseWriter, r *http.Request) {
	fees, err := a.svc.Fees.ListFees(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	items := make([]feeResponse, 0, len(fees))
	for _, f := range fees {
		items = append(items, newFeeResponse(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) activeFee(w http.ResponseWriter, r *http.Request) {
	fee, err := a.svc.Fees.ActiveFee(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFeeResponse(fee))
}

func (a *API) createFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fee, err := a.svc.Fees.CreateFee(r.Context(), req.Percentage)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "fee.create", map[string]any{"fee_id": fee.ID, "percentage": fee.Percentage})
	w.Header().Set("Location", "/v1/admin/fees/"+fee.ID)
	writeJSON(w, http.StatusCreated, newFeeResponse(fee))
}

func (a *API) updateFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fee, err := a.svc.Fees.UpdatePercentage(r.Context(), chi.URLParam(r, "id"), req.Percentage)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "fee.update", map[string]any{"fee_id": fee.ID, "percentage": fee.Percentage})
	writeJSON(w, http.StatusOK, newFeeResponse(fee))
}

func (a *API) deleteFee(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.Fees.DeleteFee(r.Context(), id); err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "fee.delete", map[string]any{"fee_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// revenue reports booked monetization next to the fee sum recomputed from
// committed transactions; the two agree.
func (a *API) revenue(w http.ResponseWriter, r *http.Request) {
	total, err := a.svc.Monetization.TotalRevenue(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	fees, err := a.svc.Engine.CalculateTotalFees(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revenueResponse{
		TotalRevenue: total,
		TotalFees:    fees,
		Display:      ledger.FormatAmount(total),
	})
}

func (a *API) monetizationEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.svc.Monetization.FindByTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
