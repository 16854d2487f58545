package identity

import "time"

// NoPassword is the stored sentinel for accounts created through an
// external identity provider. Such accounts cannot log in with a password
// until one is set explicitly.
const NoPassword = ""

// ExternalIdentity is one provider binding on a user: the provider-assigned
// id and email, keyed in User.SSO by provider name.
type ExternalIdentity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// User is the identity record behind every authenticated actor. Each user
// owns exactly one root; RootID is the tenant boundary for every ownership
// check downstream.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Activated    bool
	RootID       string
	SSO          map[string]ExternalIdentity
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether the account carries a real credential rather
// than the provider-only sentinel.
func (u *User) HasPassword() bool {
	return u.PasswordHash != NoPassword
}

// Serialize returns the externally visible representation. The password
// hash is always excluded.
func (u *User) Serialize() map[string]any {
	sso := make(map[string]ExternalIdentity, len(u.SSO))
	for k, v := range u.SSO {
		sso[k] = v
	}
	return map[string]any{
		"id":           u.ID,
		"email":        u.Email,
		"root_id":      u.RootID,
		"is_activated": u.Activated,
		"sso":          sso,
	}
}
