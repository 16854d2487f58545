package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"graphgate.org/internal/graph"
	"graphgate.org/internal/identity"
	"graphgate.org/internal/obs"
	"graphgate.org/internal/session"
	"graphgate.org/internal/token"
)

const bearerPrefix = "bearer "

// Gateway turns an inbound bearer credential into a verified (user, root)
// identity. It composes the token codec, the session registry and the
// credential store; every check is local, synchronous and non-retried.
type Gateway struct {
	codec    *token.Codec
	sessions session.Registry
	users    identity.Store
	roots    graph.RootStore
	now      func() time.Time
}

// GatewayOption configures Gateway behavior.
type GatewayOption func(*Gateway)

// WithClock overrides the time source (useful for expiry tests).
func WithClock(fn func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if fn != nil {
			g.now = fn
		}
	}
}

func NewGateway(codec *token.Codec, sessions session.Registry, users identity.Store, roots graph.RootStore, opts ...GatewayOption) (*Gateway, error) {
	if codec == nil || sessions == nil || users == nil || roots == nil {
		return nil, errors.New("auth: codec, sessions, users and roots are all required")
	}
	g := &Gateway{
		codec:    codec,
		sessions: sessions,
		users:    users,
		roots:    roots,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authenticate verifies the Authorization header value and resolves the
// subject. Checks run in a fixed order: header shape, token signature,
// embedded expiry, registry liveness, user lookup, root lookup. Both the
// embedded expiry and the registry entry must pass; the registry is the
// authoritative early-revocation mechanism, the expiry is the ceiling.
func (g *Gateway) Authenticate(ctx context.Context, header string) (*identity.User, *graph.Root, error) {
	raw, err := extractBearer(header)
	if err != nil {
		obs.ObserveAuth("missing_credential")
		return nil, nil, err
	}

	claims, err := g.codec.Decode(raw)
	if err != nil {
		obs.ObserveAuth("invalid_token")
		return nil, nil, ErrInvalidToken
	}

	if !claims.ExpiresAt.Time.After(g.now()) {
		obs.ObserveAuth("expired")
		return nil, nil, ErrExpired
	}

	live, err := g.sessions.Check(ctx, raw)
	if err != nil {
		obs.ObserveAuth("registry_error")
		return nil, nil, fmt.Errorf("auth: session check: %w", err)
	}
	if !live {
		obs.ObserveAuth("revoked")
		return nil, nil, ErrRevoked
	}

	user, err := g.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			obs.ObserveAuth("unknown_subject")
			return nil, nil, ErrUnknownSubject
		}
		return nil, nil, err
	}

	root, err := g.roots.FindRoot(ctx, user.RootID)
	if err != nil {
		if errors.Is(err, graph.ErrNotFound) {
			obs.ObserveAuth("internal_inconsistency")
			obs.LogRequest(map[string]any{
				"level":   "error",
				"msg":     "user has no resolvable root",
				"user_id": user.ID,
				"root_id": user.RootID,
			})
			return nil, nil, fmt.Errorf("%w: user %s references root %s", ErrInternalInconsistency, user.ID, user.RootID)
		}
		return nil, nil, err
	}

	obs.ObserveAuth("ok")
	return user, root, nil
}

func extractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingCredential
	}
	if !strings.HasPrefix(strings.ToLower(header), bearerPrefix) {
		return "", ErrMissingCredential
	}
	raw := strings.TrimSpace(header[len(bearerPrefix):])
	if raw == "" {
		return "", ErrMissingCredential
	}
	return raw, nil
}
