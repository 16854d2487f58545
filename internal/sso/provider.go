package sso

import (
	"context"
	"fmt"
	"net/http"

	"graphgate.org/internal/config"
)

// Identity is the normalized record produced by an external identity
// provider. The orchestrator never talks to provider APIs directly; this
// is the whole contract.
type Identity struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"id"`
	Email      string `json:"email"`
}

// Provider is one external identity provider. Implementations redirect the
// browser out for login and turn the callback request into a verified
// Identity.
type Provider interface {
	// LoginRedirect returns the provider authorization URL the client
	// should be redirected to.
	LoginRedirect(redirectURI, state string) (string, error)
	// VerifyAndProcess completes the callback leg and returns the
	// provider-asserted identity.
	VerifyAndProcess(ctx context.Context, r *http.Request) (*Identity, error)
}

// Registry holds the providers enabled by configuration, keyed by name.
// Providers are constructed once at startup; an unknown name at request
// time means the deployment does not support that provider.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds providers from the configuration table. OIDC
// construction performs issuer discovery, so it needs a context.
func NewRegistry(ctx context.Context, cfg config.SSOConfig) (*Registry, error) {
	reg := &Registry{providers: make(map[string]Provider, len(cfg.Providers))}
	for name, pc := range cfg.Providers {
		var (
			p   Provider
			err error
		)
		switch pc.Type {
		case "oauth2":
			p, err = NewOAuth2Provider(name, pc)
		case "oidc":
			p, err = NewOIDCProvider(ctx, name, pc)
		default:
			err = fmt.Errorf("sso: provider %q has unsupported type %q", name, pc.Type)
		}
		if err != nil {
			return nil, err
		}
		reg.providers[name] = p
	}
	return reg, nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
