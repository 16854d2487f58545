package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Graphgate API.
// All configuration is loaded from YAML; secrets and connection strings can
// be overridden by environment variables so the file itself stays free of
// credentials.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Token    TokenConfig    `yaml:"token"`
	Session  SessionConfig  `yaml:"session"`
	Verify   VerifyConfig   `yaml:"verify"`
	SSO      SSOConfig      `yaml:"sso"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	RateLimitPerSec   int           `yaml:"rate_limit_per_sec"`
	RateLimitBurst    int           `yaml:"rate_limit_burst"`
	ShutdownGraceSecs int           `yaml:"shutdown_grace_secs"`
}

// PostgresConfig contains document store connection settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig contains session registry connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TokenConfig fixes the signing key and algorithm for the whole process.
// Rotating the secret invalidates every previously issued token; that is
// documented behavior, not a bug.
type TokenConfig struct {
	Secret    string        `yaml:"secret"`
	Algorithm string        `yaml:"algorithm"`
	Issuer    string        `yaml:"issuer"`
	TTL       time.Duration `yaml:"ttl"`
}

// SessionConfig controls the registry-side lifetime ceiling.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// VerifyConfig controls verification / reset code lifetime.
type VerifyConfig struct {
	CodeTTL time.Duration `yaml:"code_ttl"`
}

// SSOConfig declares the external identity providers. Providers are selected
// by name at request time; a provider absent from this table is not
// supported by the deployment.
type SSOConfig struct {
	Host      string                    `yaml:"host"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig configures one external identity provider.
type ProviderConfig struct {
	Type         string   `yaml:"type"` // "oauth2" or "oidc"
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	IssuerURL    string   `yaml:"issuer_url"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"user_info_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	IDField      string   `yaml:"id_field"`
	EmailField   string   `yaml:"email_field"`
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. An empty path yields defaults plus env overrides,
// which is enough for tests and local runs.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxBodyBytes:      1 << 20,
			RateLimitPerSec:   20,
			RateLimitBurst:    40,
			ShutdownGraceSecs: 10,
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Token: TokenConfig{
			Algorithm: "HS256",
			Issuer:    "graphgate",
			TTL:       12 * time.Hour,
		},
		Session: SessionConfig{TTL: 12 * time.Hour},
		Verify:  VerifyConfig{CodeTTL: 30 * time.Minute},
		SSO:     SSOConfig{Host: "http://localhost:8080/v1/sso"},
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GRAPHGATE_PG_DSN")); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("GRAPHGATE_REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("GRAPHGATE_REDIS_PASSWORD")); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("GRAPHGATE_TOKEN_SECRET")); v != "" {
		cfg.Token.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv("GRAPHGATE_HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Token.Secret) == "" {
		return errors.New("config: token secret is required (set token.secret or GRAPHGATE_TOKEN_SECRET)")
	}
	if c.Token.Algorithm != "HS256" {
		return fmt.Errorf("config: unsupported token algorithm %q", c.Token.Algorithm)
	}
	if c.Token.TTL <= 0 {
		return errors.New("config: token ttl must be positive")
	}
	if c.Session.TTL < c.Token.TTL {
		// The registry entry must outlive the embedded expiry so revocation
		// stays authoritative for the whole token lifetime.
		c.Session.TTL = c.Token.TTL
	}
	for name, p := range c.SSO.Providers {
		switch p.Type {
		case "oauth2":
			if p.AuthURL == "" || p.TokenURL == "" || p.UserInfoURL == "" {
				return fmt.Errorf("config: sso provider %q missing oauth2 endpoints", name)
			}
		case "oidc":
			if p.IssuerURL == "" {
				return fmt.Errorf("config: sso provider %q missing issuer_url", name)
			}
		default:
			return fmt.Errorf("config: sso provider %q has unsupported type %q", name, p.Type)
		}
		if p.ClientID == "" || p.ClientSecret == "" {
			return fmt.Errorf("config: sso provider %q missing client credentials", name)
		}
	}
	return nil
}
