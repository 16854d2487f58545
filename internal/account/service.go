package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"graphgate.org/internal/graph"
	"graphgate.org/internal/identity"
	"graphgate.org/internal/obs"
	"graphgate.org/internal/session"
	"graphgate.org/internal/sso"
	"graphgate.org/internal/token"
)

var (
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	// ErrNotActivated rejects login for accounts awaiting verification; a
	// fresh code is sent as a side effect.
	ErrNotActivated = errors.New("account: not activated")
	// ErrRegistrationFailed covers any failure inside the registration
	// transaction. The transaction guarantees no partial state survives.
	ErrRegistrationFailed = errors.New("account: registration failed")
	ErrAlreadyAttached    = errors.New("account: identity already attached")
	ErrDuplicateIdentity  = errors.New("account: identity already registered")
	ErrInvalidCode        = errors.New("account: invalid or expired code")
	ErrUnknownIdentity    = errors.New("account: no account for identity")
)

const (
	defaultTokenTTL    = 12 * time.Hour
	defaultCodeTTL     = 30 * time.Minute
	defaultEmailDomain = "graphgate.org"
)

// Session is the result of a successful login or registration: the bearer
// token, its expiry and the serialized user (password always excluded).
type Session struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      map[string]any `json:"user"`
}

// Service manages the account lifecycle: registration (password and
// external identity), login, activation, password recovery and provider
// binding attach/detach.
type Service struct {
	db       *sql.DB
	users    identity.Store
	codes    identity.CodeStore
	roots    graph.RootStore
	codec    *token.Codec
	sessions session.Registry
	sender   identity.CodeSender

	now         func() time.Time
	tokenTTL    time.Duration
	sessionTTL  time.Duration
	codeTTL     time.Duration
	emailDomain string
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTokenTTL sets the embedded token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithSessionTTL sets the registry-side lifetime ceiling.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithCodeTTL sets verification / reset code lifetime.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// WithCodeSender sets the out-of-band code delivery collaborator.
func WithCodeSender(sender identity.CodeSender) Option {
	return func(s *Service) {
		if sender != nil {
			s.sender = sender
		}
	}
}

// WithEmailDomain sets the domain used for deterministic placeholder
// emails on external-identity registration.
func WithEmailDomain(domain string) Option {
	return func(s *Service) {
		if domain != "" {
			s.emailDomain = domain
		}
	}
}

func NewService(db *sql.DB, users identity.Store, codes identity.CodeStore, roots graph.RootStore, codec *token.Codec, sessions session.Registry, opts ...Option) (*Service, error) {
	if db == nil || users == nil || codes == nil || roots == nil || codec == nil || sessions == nil {
		return nil, errors.New("account: db, stores, codec and sessions are all required")
	}
	s := &Service{
		db:          db,
		users:       users,
		codes:       codes,
		roots:       roots,
		codec:       codec,
		sessions:    sessions,
		sender:      LogSender{},
		now:         time.Now,
		tokenTTL:    defaultTokenTTL,
		sessionTTL:  defaultTokenTTL,
		codeTTL:     defaultCodeTTL,
		emailDomain: defaultEmailDomain,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessionTTL < s.tokenTTL {
		s.sessionTTL = s.tokenTTL
	}
	return s, nil
}

// RegisterPassword creates an account from email and password. The root
// and the user are created inside one transaction; the account starts
// deactivated and a verification code is sent.
func (s *Service) RegisterPassword(ctx context.Context, email, password string) (*identity.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidCredentials)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidCredentials)
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		obs.ObserveRegistration("password", "duplicate")
		return nil, ErrDuplicateIdentity
	} else if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}

	hash, err := identity.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.createRootAndUser(ctx, func(rootID string) *identity.User {
		return &identity.User{
			Email:        email,
			PasswordHash: hash,
			Activated:    false,
			RootID:       rootID,
		}
	})
	if err != nil {
		obs.ObserveRegistration("password", "failed")
		return nil, err
	}
	obs.ObserveRegistration("password", "ok")

	if err := s.sendCode(ctx, user.ID, identity.PurposeActivate, user.Email); err != nil {
		// Delivery is fire-and-forget; the account exists and the code can
		// be re-requested through login.
		obs.LogRequest(map[string]any{
			"level": "warn", "msg": "verification code send failed",
			"user_id": user.ID, "error": err.Error(),
		})
	}
	return user, nil
}

// RegisterExternal registers via an external identity record. When the
// identity is already bound to an account this degrades to login, matching
// the idempotent register-or-login behavior callers expect from SSO.
func (s *Service) RegisterExternal(ctx context.Context, rec sso.Identity) (*Session, error) {
	existing, err := s.users.FindByExternalIdentity(ctx, rec.Provider, rec.ExternalID, rec.Email)
	if err == nil {
		return s.loginExisting(ctx, existing)
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return nil, err
	}

	user, err := s.createRootAndUser(ctx, func(rootID string) *identity.User {
		return &identity.User{
			// Deterministic placeholder: the provider owns the real email.
			Email:        fmt.Sprintf("%s-sso@%s", strings.ToLower(rootID), s.emailDomain),
			PasswordHash: identity.NoPassword,
			Activated:    true,
			RootID:       rootID,
			SSO: map[string]identity.ExternalIdentity{
				rec.Provider: {ID: rec.ExternalID, Email: rec.Email},
			},
		}
	})
	if err != nil {
		obs.ObserveRegistration("sso", "failed")
		return nil, err
	}
	obs.ObserveRegistration("sso", "ok")
	return s.loginExisting(ctx, user)
}

// Login authenticates email/password credentials and issues a session.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := identity.VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.loginExisting(ctx, user)
}

// LoginExternal authenticates an external identity record.
func (s *Service) LoginExternal(ctx context.Context, rec sso.Identity) (*Session, error) {
	user, err := s.users.FindByExternalIdentity(ctx, rec.Provider, rec.ExternalID, rec.Email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrUnknownIdentity
		}
		return nil, err
	}
	return s.loginExisting(ctx, user)
}

func (s *Service) loginExisting(ctx context.Context, user *identity.User) (*Session, error) {
	if !user.Activated {
		if err := s.sendCode(ctx, user.ID, identity.PurposeActivate, user.Email); err != nil {
			obs.LogRequest(map[string]any{
				"level": "warn", "msg": "verification code resend failed",
				"user_id": user.ID, "error": err.Error(),
			})
		}
		return nil, ErrNotActivated
	}

	tok, expiresAt, err := s.codec.Encode(user.ID, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Issue(ctx, tok, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("account: register session: %w", err)
	}
	return &Session{Token: tok, ExpiresAt: expiresAt, User: user.Serialize()}, nil
}

// Logout revokes the presented token in the session registry.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	return s.sessions.Revoke(ctx, rawToken)
}

// Activate redeems a verification code and flips the activation flag.
func (s *Service) Activate(ctx context.Context, code string) error {
	userID, err := s.codes.ConsumeCode(ctx, code, identity.PurposeActivate)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrInvalidCode
		}
		return err
	}
	activated := true
	return s.users.UpdateFields(ctx, userID, identity.Patch{Activated: &activated}, nil)
}

// ChangePassword verifies the old password before storing the new hash.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidCredentials)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := identity.VerifyPassword(user.PasswordHash, oldPassword); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := identity.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.users.UpdateFields(ctx, userID, identity.Patch{PasswordHash: &hash}, nil)
}

// ForgotPassword issues a reset code for the account behind email. An
// unknown email succeeds silently so the endpoint does not enumerate
// accounts.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.sendCode(ctx, user.ID, identity.PurposeReset, user.Email)
}

// ResetPassword redeems a reset code and stores the new hash.
func (s *Service) ResetPassword(ctx context.Context, code, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidCredentials)
	}
	userID, err := s.codes.ConsumeCode(ctx, code, identity.PurposeReset)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrInvalidCode
		}
		return err
	}
	hash, err := identity.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.users.UpdateFields(ctx, userID, identity.Patch{PasswordHash: &hash}, nil)
}

// Attach binds an external identity to the current user. Rejected when any
// user, including the current one, already carries that provider id or
// email.
func (s *Service) Attach(ctx context.Context, user *identity.User, rec sso.Identity) error {
	_, err := s.users.FindByExternalIdentity(ctx, rec.Provider, rec.ExternalID, rec.Email)
	if err == nil {
		return ErrAlreadyAttached
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return err
	}
	patch := identity.Patch{
		SetSSO: map[string]identity.ExternalIdentity{
			rec.Provider: {ID: rec.ExternalID, Email: rec.Email},
		},
	}
	return s.users.UpdateFields(ctx, user.ID, patch, nil)
}

// Detach removes the provider binding; idempotent.
func (s *Service) Detach(ctx context.Context, user *identity.User, provider string) error {
	return s.users.UpdateFields(ctx, user.ID, identity.Patch{UnsetSSO: []string{provider}}, nil)
}

// createRootAndUser runs the registration transaction: insert the root,
// build the user against the fresh root id, insert the user, commit. Any
// failure rolls back both inserts; an orphaned root must never persist.
func (s *Service) createRootAndUser(ctx context.Context, build func(rootID string) *identity.User) (*identity.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrRegistrationFailed, err)
	}

	root := &graph.Root{}
	if err := s.roots.InsertRoot(ctx, root, tx); err != nil {
		_ = tx.Rollback()
		return nil, s.registrationFailed(ctx, "root insert", err)
	}

	user := build(root.ID)
	if err := s.users.Insert(ctx, user, tx); err != nil {
		_ = tx.Rollback()
		return nil, s.registrationFailed(ctx, "user insert", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.registrationFailed(ctx, "commit", err)
	}
	return user, nil
}

func (s *Service) registrationFailed(ctx context.Context, stage string, err error) error {
	obs.LogRequest(map[string]any{
		"level": "error", "msg": "registration transaction failed",
		"stage": stage, "error": err.Error(),
	})
	return fmt.Errorf("%w: %s: %v", ErrRegistrationFailed, stage, err)
}

func (s *Service) sendCode(ctx context.Context, userID, purpose, email string) error {
	code, err := s.codes.CreateCode(ctx, userID, purpose, s.codeTTL)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, code, email)
}
