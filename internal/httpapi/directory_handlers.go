package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"buddypay.org/internal/ledger"
)

type addRelationRequest struct {
	Email string `json:"email"`
}

type createUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

type updateUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type roleLimitRequest struct {
	DailyLimit int64 `json:"daily_limit"`
}

func (a *API) listRelations(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.Relations.Related(r.Context(), caller(r).UserID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	if items == nil {
		items = []ledger.RelatedUser{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) addRelation(w http.ResponseWriter, r *http.Request) {
	var req addRelationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	related, err := a.svc.Relations.AddMutual(r.Context(), caller(r).UserID, req.Email)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "relation.add", map[string]any{"related_user_id": related.ID})
	writeJSON(w, http.StatusCreated, related)
}

func (a *API) removeRelation(w http.ResponseWriter, r *http.Request) {
	related := chi.URLParam(r, "id")
	if err := a.svc.Relations.Remove(r.Context(), caller(r).UserID, related); err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "relation.remove", map[string]any{"related_user_id": related})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.svc.Directory.Roles(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": roles})
}

func (a *API) setRoleLimit(w http.ResponseWriter, r *http.Request) {
	var req roleLimitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name, ok := parseRole(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}
	role, err := a.svc.Directory.SetRoleDailyLimit(r.Context(), name, req.DailyLimit)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "role.limit.update", map[string]any{"role": role.Name, "daily_limit": role.DailyLimit})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := ledger.RoleUser
	if req.Role != "" {
		var ok bool
		if role, ok = parseRole(req.Role); !ok {
			writeError(w, r, http.StatusBadRequest, "unknown role")
			return
		}
	}
	user, err := a.svc.Directory.RegisterUser(r.Context(), req.Email, req.DisplayName, role)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "user.create", map[string]any{"created_user_id": user.ID, "role": role})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.Directory.Users(r.Context())
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Directory.UpdateUser(r.Context(), chi.URLParam(r, "id"), req.Email, req.DisplayName)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "user.update", map[string]any{"target_user_id": user.ID})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, ok := parseRole(req.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}
	p, err := a.svc.Directory.ChangeRole(r.Context(), chi.URLParam(r, "id"), role)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "user.role.change", map[string]any{"target_user_id": p.User.ID, "role": role})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.Directory.DeleteUser(r.Context(), id); err != nil {
		handleLedgerError(w, r, err)
		return
	}
	a.logAudit(r.Context(), "user.delete", map[string]any{"target_user_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func parseRole(raw string) (ledger.RoleName, bool) {
	name := ledger.RoleName(strings.ToUpper(strings.TrimSpace(raw)))
	return name, name.Valid()
}
