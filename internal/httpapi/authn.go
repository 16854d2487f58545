package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"graphgate.org/internal/audit"
	"graphgate.org/internal/auth"
)

const authHeader = "Authorization"

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/user/register",
	"/v1/user/login",
	"/v1/user/verify",
	"/v1/user/forgot",
	"/v1/user/reset",
	"/",
}

var publicPrefixes = []string{
	// SSO legs authenticate through provider redirects; attach binds the
	// actor via the state parameter at callback time.
	"/v1/sso/",
}

// withAuth runs the authentication gateway on every non-public request and
// stashes the verified identity and raw token in the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.gateway == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithRequestID(r.Context(), RequestIDFromContext(r.Context()))
		r = r.WithContext(ctx)

		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		user, root, err := a.gateway.Authenticate(ctx, r.Header.Get(authHeader))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingCredential):
				writeError(w, r, http.StatusUnauthorized, "missing bearer credential")
			case errors.Is(err, auth.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			case errors.Is(err, auth.ErrExpired):
				writeError(w, r, http.StatusUnauthorized, "token expired")
			case errors.Is(err, auth.ErrRevoked):
				writeError(w, r, http.StatusUnauthorized, "token revoked")
			case errors.Is(err, auth.ErrUnknownSubject):
				writeError(w, r, http.StatusUnauthorized, "unknown subject")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx = auth.ContextWithIdentity(ctx, auth.Identity{User: user, Root: root})
		if raw, ok := bearerToken(r.Header.Get(authHeader)); ok {
			ctx = auth.ContextWithToken(ctx, raw)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(header[7:])
	return raw, raw != ""
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
