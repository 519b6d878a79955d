package httpapi

import (
	"net/http"
	"strings"
	"time"

	"buddypay.org/internal/ledger"
)

type tokenRequest struct {
	Email string `json:"email"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// register signs a new USER up together with its empty account.
func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Directory.RegisterUser(r.Context(), req.Email, req.DisplayName, ledger.RoleUser)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "user.register", map[string]any{"user_id": user.ID})
	w.Header().Set("Location", "/v1/me")
	writeJSON(w, http.StatusCreated, user)
}

// issueToken hands out a bearer token for a registered email. Development only:
// identity proofing belongs to the deployment's identity provider.
func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	if !a.devTokens || a.tokens == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	user, err := a.svc.Directory.UserByEmail(r.Context(), req.Email)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	principal, err := a.svc.Directory.Principal(r.Context(), user.ID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	token, expiresAt, err := a.tokens.Issue(user.ID, string(principal.Role.Name))
	if err != nil {
		a.log.Error("token generation failed", "user_id", user.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.logAudit(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    user.ID,
		"role":       principal.Role.Name,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    user.ID,
		Role:      string(principal.Role.Name),
	})
}
