package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"graphgate.org/internal/access"
	"graphgate.org/internal/account"
	"graphgate.org/internal/auth"
	"graphgate.org/internal/graph"
	"graphgate.org/internal/identity"
)

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "graphgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":      msg,
		"request_id": RequestIDFromContext(r.Context()),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// mapDomainError translates service errors to stable status categories.
func mapDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, account.ErrInvalidCredentials),
		errors.Is(err, account.ErrUnknownIdentity):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, account.ErrNotActivated):
		writeError(w, r, http.StatusBadRequest, "account not activated; verification code sent")
	case errors.Is(err, account.ErrInvalidCode):
		writeError(w, r, http.StatusBadRequest, "invalid or expired code")
	case errors.Is(err, account.ErrDuplicateIdentity),
		errors.Is(err, account.ErrAlreadyAttached),
		errors.Is(err, identity.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "identity already registered")
	case errors.Is(err, account.ErrRegistrationFailed):
		writeError(w, r, http.StatusConflict, "registration failed")
	case errors.Is(err, access.ErrPermissionDenied),
		errors.Is(err, access.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, graph.ErrNotFound),
		errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// requireIdentity pulls the authenticated identity set by withAuth.
func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return id, ok
}

// pathTail splits the path remainder after prefix into segments.
func pathTail(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
