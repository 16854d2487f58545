package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"graphgate.org/internal/config"
)

// OAuth2Provider implements Provider against a plain OAuth2 authorization
// server with a userinfo endpoint.
type OAuth2Provider struct {
	name       string
	cfg        config.ProviderConfig
	oauth2Cfg  *oauth2.Config
	idField    string
	emailField string
}

func NewOAuth2Provider(name string, cfg config.ProviderConfig) (*OAuth2Provider, error) {
	if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("sso: provider %q missing oauth2 endpoints", name)
	}
	idField := cfg.IDField
	if idField == "" {
		idField = "id"
	}
	emailField := cfg.EmailField
	if emailField == "" {
		emailField = "email"
	}
	return &OAuth2Provider{
		name: name,
		cfg:  cfg,
		oauth2Cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		idField:    idField,
		emailField: emailField,
	}, nil
}

func (p *OAuth2Provider) LoginRedirect(redirectURI, state string) (string, error) {
	cfg := *p.oauth2Cfg
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (p *OAuth2Provider) VerifyAndProcess(ctx context.Context, r *http.Request) (*Identity, error) {
	code := r.URL.Query().Get("code")
	if code == "" {
		return nil, fmt.Errorf("sso: missing authorization code")
	}

	tok, err := p.oauth2Cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("sso: code exchange: %w", err)
	}

	client := p.oauth2Cfg.Client(ctx, tok)
	resp, err := client.Get(p.cfg.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("sso: fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sso: userinfo returned %d: %s", resp.StatusCode, string(body))
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("sso: decode userinfo: %w", err)
	}

	id := &Identity{
		Provider:   p.name,
		ExternalID: stringField(info, p.idField),
		Email:      stringField(info, p.emailField),
	}
	if id.ExternalID == "" {
		return nil, fmt.Errorf("sso: userinfo missing %q", p.idField)
	}
	return id, nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		// Numeric ids (GitHub and friends) arrive as JSON numbers.
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
