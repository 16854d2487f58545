package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("identity: not found")
	ErrAlreadyExists = errors.New("identity: already exists")
)

// Code purposes accepted by the verification code store.
const (
	PurposeActivate = "activate"
	PurposeReset    = "reset"
)

// Store describes persistence for user identity records. Insert and
// UpdateFields accept an optional transaction so registration can span the
// root insert and the user insert atomically.
type Store interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// FindByExternalIdentity matches a user carrying the provider binding
	// by provider-assigned id or provider email, either being sufficient.
	FindByExternalIdentity(ctx context.Context, provider, externalID, email string) (*User, error)
	Insert(ctx context.Context, u *User, tx *sql.Tx) error
	UpdateFields(ctx context.Context, id string, patch Patch, tx *sql.Tx) error
}

// Patch is a partial update of mutable user fields; nil members are left
// untouched. SetSSO/UnsetSSO address one provider binding each.
type Patch struct {
	Email        *string
	PasswordHash *string
	Activated    *bool
	SetSSO       map[string]ExternalIdentity
	UnsetSSO     []string
}

// CodeStore persists single-use verification and reset codes.
type CodeStore interface {
	// CreateCode issues a fresh code for the user and purpose, valid for ttl.
	CreateCode(ctx context.Context, userID, purpose string, ttl time.Duration) (string, error)
	// ConsumeCode redeems a code, deleting it. Expired or unknown codes
	// fail with ErrNotFound.
	ConsumeCode(ctx context.Context, code, purpose string) (string, error)
}

// CodeSender delivers a verification code out of band (email/SMS). It is
// fire-and-forget from this service's perspective.
type CodeSender interface {
	Send(ctx context.Context, code, email string) error
}
