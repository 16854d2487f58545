package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"graphgate.org/internal/audit"
	"graphgate.org/internal/auth"
)

// ssoState rides the OAuth2 state parameter through the provider redirect.
// The bearer token is carried only for attach, where the callback has to
// know which account to bind; it is re-verified by the gateway before use.
type ssoState struct {
	Op    string `json:"op"`
	Nonce string `json:"nonce"`
	Token string `json:"token,omitempty"`
}

func encodeState(s ssoState) string {
	raw, _ := json.Marshal(s)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeState(raw string) (ssoState, error) {
	var s ssoState
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return s, fmt.Errorf("decode state: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse state: %w", err)
	}
	return s, nil
}

// SSO routes /v1/sso/{provider}/{login|register|attach|detach|callback}.
func (a *API) SSO(w http.ResponseWriter, r *http.Request) {
	parts := pathTail(r.URL.Path, "/v1/sso/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	providerName, op := parts[0], parts[1]

	if op == "detach" {
		a.ssoDetach(w, r, providerName)
		return
	}

	if a.providers == nil {
		writeError(w, r, http.StatusNotImplemented, "sso is not configured")
		return
	}
	provider, ok := a.providers.Get(providerName)
	if !ok {
		writeError(w, r, http.StatusNotImplemented, fmt.Sprintf("provider %q is not supported", providerName))
		return
	}

	switch op {
	case "login", "register", "attach":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		state := ssoState{Op: op, Nonce: uuid.NewString()}
		if op == "attach" {
			// The redirect leg must prove the actor before we bind anything.
			_, _, err := a.gateway.Authenticate(r.Context(), r.Header.Get(authHeader))
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "authentication required to attach")
				return
			}
			state.Token, _ = bearerToken(r.Header.Get(authHeader))
		}
		target, err := provider.LoginRedirect(r.URL.Query().Get("redirect_uri"), encodeState(state))
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "sso redirect failed")
			return
		}
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)

	case "callback":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		state, err := decodeState(r.URL.Query().Get("state"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid state parameter")
			return
		}
		rec, err := provider.VerifyAndProcess(r.Context(), r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "provider verification failed")
			return
		}

		switch state.Op {
		case "register":
			sess, err := a.accounts.RegisterExternal(r.Context(), *rec)
			if err != nil {
				mapDomainError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "user.register", map[string]any{
				"user_id": sess.User["id"], "method": "sso", "provider": providerName,
			})
			writeJSON(w, http.StatusOK, sess)
		case "login":
			sess, err := a.accounts.LoginExternal(r.Context(), *rec)
			if err != nil {
				mapDomainError(w, r, err)
				return
			}
			_ = audit.LogEvent(r.Context(), "user.login", map[string]any{
				"user_id": sess.User["id"], "method": "sso", "provider": providerName,
			})
			writeJSON(w, http.StatusOK, sess)
		case "attach":
			user, root, err := a.gateway.Authenticate(r.Context(), "Bearer "+state.Token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "authentication required to attach")
				return
			}
			ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{User: user, Root: root})
			if err := a.accounts.Attach(ctx, user, *rec); err != nil {
				mapDomainError(w, r, err)
				return
			}
			_ = audit.LogEvent(ctx, "user.sso_attached", map[string]any{"provider": providerName})
			writeJSON(w, http.StatusOK, map[string]any{"status": "attached", "provider": providerName})
		default:
			writeError(w, r, http.StatusBadRequest, "unknown sso operation")
		}

	default:
		writeError(w, r, http.StatusNotFound, "unknown sso operation")
	}
}

// ssoDetach removes a provider binding from the authenticated user. The
// provider does not have to be configured anymore; detaching stale
// bindings must keep working after a provider is retired.
func (a *API) ssoDetach(w http.ResponseWriter, r *http.Request, providerName string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	user, root, err := a.gateway.Authenticate(r.Context(), r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{User: user, Root: root})
	if err := a.accounts.Detach(ctx, user, providerName); err != nil {
		mapDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, "user.sso_detached", map[string]any{"provider": providerName})
	writeJSON(w, http.StatusOK, map[string]any{"status": "detached", "provider": providerName})
}
