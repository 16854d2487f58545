package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"graphgate.org/internal/access"
	"graphgate.org/internal/account"
	"graphgate.org/internal/auth"
	"graphgate.org/internal/config"
	"graphgate.org/internal/graph"
	"graphgate.org/internal/identity"
	"graphgate.org/internal/session"
	"graphgate.org/internal/token"
)

// --- in-memory fakes -------------------------------------------------------

type memUsers struct {
	users map[string]*identity.User
}

func (f *memUsers) FindByID(ctx context.Context, id string) (*identity.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, identity.ErrNotFound
}

func (f *memUsers) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (f *memUsers) FindByExternalIdentity(ctx context.Context, provider, externalID, email string) (*identity.User, error) {
	for _, u := range f.users {
		if rec, ok := u.SSO[provider]; ok {
			if rec.ID == externalID || (rec.Email != "" && rec.Email == email) {
				return u, nil
			}
		}
	}
	return nil, identity.ErrNotFound
}

func (f *memUsers) Insert(ctx context.Context, u *identity.User, tx *sql.Tx) error {
	if u.ID == "" {
		u.ID = "user-" + u.RootID
	}
	f.users[u.ID] = u
	return nil
}

func (f *memUsers) UpdateFields(ctx context.Context, id string, patch identity.Patch, tx *sql.Tx) error {
	u, ok := f.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.Activated != nil {
		u.Activated = *patch.Activated
	}
	for provider, rec := range patch.SetSSO {
		if u.SSO == nil {
			u.SSO = map[string]identity.ExternalIdentity{}
		}
		u.SSO[provider] = rec
	}
	for _, provider := range patch.UnsetSSO {
		delete(u.SSO, provider)
	}
	return nil
}

type memRoots struct {
	roots map[string]*graph.Root
	seq   int
}

func (f *memRoots) InsertRoot(ctx context.Context, root *graph.Root, tx *sql.Tx) error {
	f.seq++
	root.ID = "root-" + strings.Repeat("z", f.seq)
	f.roots[root.ID] = root
	return nil
}

func (f *memRoots) FindRoot(ctx context.Context, id string) (*graph.Root, error) {
	if r, ok := f.roots[id]; ok {
		return r, nil
	}
	return nil, graph.ErrNotFound
}

type memNodes struct {
	nodes map[string]*graph.Node
	seq   int
}

func (f *memNodes) InsertNode(ctx context.Context, node *graph.Node) error {
	f.seq++
	if node.ID == "" {
		node.ID = "node-" + strings.Repeat("n", f.seq)
	}
	f.nodes[node.ID] = node
	return nil
}

func (f *memNodes) FindNode(ctx context.Context, id string) (*graph.Node, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	copied := *n
	copied.Access = n.Access.Clone()
	return &copied, nil
}

func (f *memNodes) UpdateAccess(ctx context.Context, nodeID string, table graph.Table) error {
	n, ok := f.nodes[nodeID]
	if !ok {
		return graph.ErrNotFound
	}
	n.Access = table
	return nil
}

type memCodes struct {
	codes map[string][2]string // code -> (userID, purpose)
	seq   int
}

func (f *memCodes) CreateCode(ctx context.Context, userID, purpose string, ttl time.Duration) (string, error) {
	f.seq++
	code := "code-" + strings.Repeat("c", f.seq)
	f.codes[code] = [2]string{userID, purpose}
	return code, nil
}

func (f *memCodes) ConsumeCode(ctx context.Context, code, purpose string) (string, error) {
	entry, ok := f.codes[code]
	if !ok || entry[1] != purpose {
		return "", identity.ErrNotFound
	}
	delete(f.codes, code)
	return entry[0], nil
}

type capturingSender struct {
	codes []string
}

func (s *capturingSender) Send(ctx context.Context, code, email string) error {
	s.codes = append(s.codes, code)
	return nil
}

// --- harness ---------------------------------------------------------------

type apiEnv struct {
	api      *API
	handler  http.Handler
	users    *memUsers
	roots    *memRoots
	nodes    *memNodes
	codes    *memCodes
	sender   *capturingSender
	sessions *session.Memory
	codec    *token.Codec
	mock     sqlmock.Sqlmock
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	codec, err := token.NewCodec("api-test-secret", "graphgate")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	env := &apiEnv{
		users:    &memUsers{users: make(map[string]*identity.User)},
		roots:    &memRoots{roots: make(map[string]*graph.Root)},
		nodes:    &memNodes{nodes: make(map[string]*graph.Node)},
		codes:    &memCodes{codes: make(map[string][2]string)},
		sender:   &capturingSender{},
		sessions: session.NewMemory(),
		codec:    codec,
		mock:     mock,
	}

	gateway, err := auth.NewGateway(codec, env.sessions, env.users, env.roots)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	accessSvc, err := access.NewService(env.nodes)
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	accounts, err := account.NewService(db, env.users, env.codes, env.roots, codec, env.sessions,
		account.WithCodeSender(env.sender))
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}

	cfg := config.HTTPConfig{RateLimitBurst: 1000, RateLimitPerSec: 1000, MaxBodyBytes: 1 << 20}
	env.api = New(cfg, ReadyProbe{}, "test", gateway, accounts, accessSvc, env.nodes, nil)
	env.handler = env.api.Handler()
	return env
}

func (e *apiEnv) do(t *testing.T, method, path, bearer string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

// seedUser creates an activated user with a root and a live session token.
func (e *apiEnv) seedUser(t *testing.T, email string) (*identity.User, string) {
	t.Helper()
	root := &graph.Root{}
	if err := e.roots.InsertRoot(context.Background(), root, nil); err != nil {
		t.Fatalf("insert root: %v", err)
	}
	hash, _ := identity.HashPassword("pw")
	u := &identity.User{Email: email, PasswordHash: hash, Activated: true, RootID: root.ID}
	if err := e.users.Insert(context.Background(), u, nil); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	raw, _, err := e.codec.Encode(u.ID, time.Hour)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := e.sessions.Issue(context.Background(), raw, time.Hour); err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return u, raw
}

// --- tests -----------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
}

func TestProtectedEndpointTaxonomy(t *testing.T) {
	env := newAPIEnv(t)

	// no credential
	rr := env.do(t, http.MethodGet, "/v1/user", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing credential = %d", rr.Code)
	}

	// invalid token
	rr = env.do(t, http.MethodGet, "/v1/user", "garbage", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token = %d", rr.Code)
	}

	// structurally valid token that was never registered reads as revoked
	raw, _, _ := env.codec.Encode("nobody", time.Hour)
	rr = env.do(t, http.MethodGet, "/v1/user", raw, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token = %d", rr.Code)
	}
}

func TestRegisterVerifyLoginLogoutFlow(t *testing.T) {
	env := newAPIEnv(t)
	env.mock.ExpectBegin()
	env.mock.ExpectCommit()

	rr := env.do(t, http.MethodPost, "/v1/user/register", "",
		`{"email":"flow@example.com","password":"pw"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", rr.Code, rr.Body.String())
	}

	// login before verification fails and resends a code
	rr = env.do(t, http.MethodPost, "/v1/user/login", "",
		`{"email":"flow@example.com","password":"pw"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("inactive login = %d", rr.Code)
	}
	if len(env.sender.codes) < 2 {
		t.Fatalf("expected register + resend codes, got %d", len(env.sender.codes))
	}

	rr = env.do(t, http.MethodPost, "/v1/user/verify", "",
		`{"code":"`+env.sender.codes[0]+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("verify = %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/user/login", "",
		`{"email":"flow@example.com","password":"pw"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rr.Code, rr.Body.String())
	}
	tokenStr, _ := decodeBody(t, rr)["token"].(string)
	if tokenStr == "" {
		t.Fatal("no token in login response")
	}

	rr = env.do(t, http.MethodGet, "/v1/user", tokenStr, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("current user = %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/v1/user/logout", tokenStr, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("logout = %d", rr.Code)
	}

	// the token is dead immediately after logout
	rr = env.do(t, http.MethodGet, "/v1/user", tokenStr, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("post-logout = %d", rr.Code)
	}
}

func TestDuplicateRegistrationConflict(t *testing.T) {
	env := newAPIEnv(t)
	env.seedUser(t, "dup@example.com")

	rr := env.do(t, http.MethodPost, "/v1/user/register", "",
		`{"email":"dup@example.com","password":"pw"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate register = %d", rr.Code)
	}
}

func TestNodeGrantRevokeFlow(t *testing.T) {
	env := newAPIEnv(t)
	_, ownerTok := env.seedUser(t, "owner@example.com")
	grantee, granteeTok := env.seedUser(t, "grantee@example.com")

	// owner creates a node
	rr := env.do(t, http.MethodPost, "/v1/node", ownerTok, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create node = %d: %s", rr.Code, rr.Body.String())
	}
	created := decodeBody(t, rr)
	nodeID, _ := created["id"].(string)
	if nodeID == "" {
		t.Fatal("no node id in response")
	}
	// the node body uses the same snake_case keys as every other endpoint
	for _, key := range []string{"root_id", "access", "created_at"} {
		if _, ok := created[key]; !ok {
			t.Fatalf("expected key %q in create response: %v", key, created)
		}
	}

	// grantee starts with no access
	rr = env.do(t, http.MethodGet, "/v1/node/"+nodeID+"/access?level=read", granteeTok, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("access check = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["allowed"] != false || body["level"] != "none" {
		t.Fatalf("pre-grant access = %v", body)
	}

	// non-owner cannot grant
	grantBody := `{"scope":"root:` + grantee.RootID + `","level":"read"}`
	rr = env.do(t, http.MethodPost, "/v1/node/"+nodeID+"/grant", granteeTok, grantBody)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-owner grant = %d", rr.Code)
	}

	// owner grants read
	rr = env.do(t, http.MethodPost, "/v1/node/"+nodeID+"/grant", ownerTok, grantBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("grant = %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/v1/node/"+nodeID+"/access?level=read", granteeTok, "")
	if body := decodeBody(t, rr); body["allowed"] != true || body["level"] != "read" {
		t.Fatalf("post-grant access = %v", body)
	}

	// read does not satisfy write
	rr = env.do(t, http.MethodGet, "/v1/node/"+nodeID+"/access?level=write", granteeTok, "")
	if body := decodeBody(t, rr); body["allowed"] != false {
		t.Fatalf("read grant satisfied write: %v", body)
	}

	// owner revokes; grantee is back to none
	rr = env.do(t, http.MethodPost, "/v1/node/"+nodeID+"/revoke", ownerTok,
		`{"scope":"root:`+grantee.RootID+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke = %d", rr.Code)
	}
	rr = env.do(t, http.MethodGet, "/v1/node/"+nodeID+"/access?level=read", granteeTok, "")
	if body := decodeBody(t, rr); body["allowed"] != false || body["level"] != "none" {
		t.Fatalf("post-revoke access = %v", body)
	}
}

func TestNodeAccessViaPath(t *testing.T) {
	env := newAPIEnv(t)
	owner, ownerTok := env.seedUser(t, "owner2@example.com")
	_, granteeTok := env.seedUser(t, "grantee2@example.com")

	node := &graph.Node{RootID: owner.RootID, Access: graph.Table{}}
	_ = env.nodes.InsertNode(context.Background(), node)

	rr := env.do(t, http.MethodPost, "/v1/node/"+node.ID+"/grant", ownerTok,
		`{"scope":"node:gate","level":"write"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("grant = %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/v1/node/"+node.ID+"/access?level=write&via=gate", granteeTok, "")
	if body := decodeBody(t, rr); body["allowed"] != true {
		t.Fatalf("via grant not honored: %v", body)
	}

	// the grant is not transitive: a different presented node gives nothing
	rr = env.do(t, http.MethodGet, "/v1/node/"+node.ID+"/access?level=read&via=other", granteeTok, "")
	if body := decodeBody(t, rr); body["allowed"] != false {
		t.Fatalf("wrong via honored: %v", body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newAPIEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/user/login", "", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET login = %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q", rr.Header().Get("Allow"))
	}
}

func TestUnknownSSOProviderNotSupported(t *testing.T) {
	env := newAPIEnv(t)
	rr := env.do(t, http.MethodGet, "/v1/sso/unknown/login", "", "")
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("unknown provider = %d", rr.Code)
	}
}
