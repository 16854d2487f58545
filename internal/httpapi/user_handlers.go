package httpapi

import (
	"net/http"

	"graphgate.org/internal/audit"
	"graphgate.org/internal/auth"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a password account. The account starts deactivated; a
// verification code is delivered out of band.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := a.accounts.RegisterPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		mapDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.register", map[string]any{
		"user_id": user.ID, "method": "password",
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    user.Serialize(),
		"message": "verification code sent",
	})
}

// Login authenticates credentials and returns a session token.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := a.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		mapDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.login", map[string]any{
		"user_id": sess.User["id"], "method": "password",
	})
	writeJSON(w, http.StatusOK, sess)
}

// Logout revokes the presented token.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	raw, ok := auth.TokenFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.accounts.Logout(r.Context(), raw); err != nil {
		mapDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

// Verify activates an account with a verification code.
func (a *API) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.accounts.Activate(r.Context(), req.Code); err != nil {
		mapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "activated"})
}

// ChangePassword verifies the old password and stores a new one.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.accounts.ChangePassword(r.Context(), id.User.ID, req.OldPassword, req.NewPassword); err != nil {
		mapDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.password_changed", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

// ForgotPassword issues a reset code. Always succeeds from the caller's
// point of view so the endpoint does not enumerate accounts.
func (a *API) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.accounts.ForgotPassword(r.Context(), req.Email); err != nil {
		mapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset_code_sent"})
}

// ResetPassword redeems a reset code and stores the new password.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.accounts.ResetPassword(r.Context(), req.Code, req.NewPassword); err != nil {
		mapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_reset"})
}

// CurrentUser returns the authenticated user.
func (a *API) CurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": id.User.Serialize(),
		"root": id.Root,
	})
}
