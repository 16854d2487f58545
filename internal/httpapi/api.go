package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/go-redis/redis/v8"

	"graphgate.org/internal/access"
	"graphgate.org/internal/account"
	"graphgate.org/internal/auth"
	"graphgate.org/internal/config"
	"graphgate.org/internal/graph"
	"graphgate.org/internal/obs"
	"graphgate.org/internal/sso"
)

// ReadyProbe pings the backing stores for /readyz.
type ReadyProbe struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP surface: account lifecycle, SSO routing, node access
// operations and the health/metrics endpoints.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	gateway   *auth.Gateway
	accounts  *account.Service
	access    *access.Service
	nodes     graph.NodeStore
	providers *sso.Registry

	maxBodyBytes int64
	rateBurst    int
	ratePerSec   int
}

func New(cfg config.HTTPConfig, rp ReadyProbe, version string, gateway *auth.Gateway, accounts *account.Service, accessSvc *access.Service, nodes graph.NodeStore, providers *sso.Registry) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   rp,
		version:      version,
		gateway:      gateway,
		accounts:     accounts,
		access:       accessSvc,
		nodes:        nodes,
		providers:    providers,
		maxBodyBytes: cfg.MaxBodyBytes,
		rateBurst:    cfg.RateLimitBurst,
		ratePerSec:   cfg.RateLimitPerSec,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}

	// health/ready/metrics
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	// account lifecycle
	a.mux.HandleFunc("/v1/user/register", a.Register)
	a.mux.HandleFunc("/v1/user/login", a.Login)
	a.mux.HandleFunc("/v1/user/logout", a.Logout)
	a.mux.HandleFunc("/v1/user/verify", a.Verify)
	a.mux.HandleFunc("/v1/user/password", a.ChangePassword)
	a.mux.HandleFunc("/v1/user/forgot", a.ForgotPassword)
	a.mux.HandleFunc("/v1/user/reset", a.ResetPassword)
	a.mux.HandleFunc("/v1/user", a.CurrentUser)

	// sso: /v1/sso/{provider}/{login|register|attach|detach|callback}
	a.mux.HandleFunc("/v1/sso/", a.SSO)

	// node access: /v1/node and /v1/node/{id}/{access|grant|revoke}
	a.mux.HandleFunc("/v1/node", a.CreateNode)
	a.mux.HandleFunc("/v1/node/", a.Node)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
