package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"graphgate.org/internal/ids"
)

var (
	_ Store     = (*PGStore)(nil)
	_ CodeStore = (*PGStore)(nil)
)

// PGStore implements Store and CodeStore on PostgreSQL. Provider bindings
// live in a JSONB column keyed by provider name, mirroring the document
// shape the rest of the system stores.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, email, password_hash, activated, root_id, sso, created_at, updated_at`

func (s *PGStore) FindByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (s *PGStore) FindByExternalIdentity(ctx context.Context, provider, externalID, email string) (*User, error) {
	// Providers may omit the email, storing it as "". An empty search value
	// must never match those bindings, otherwise two email-less identities
	// from the same provider would resolve to one account.
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users
		 where sso->$1->>'id' = $2 or ($3 <> '' and sso->$1->>'email' = $3)`,
		provider, externalID, email)
	return scanUser(row)
}

func (s *PGStore) Insert(ctx context.Context, u *User, tx *sql.Tx) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.SSO == nil {
		u.SSO = map[string]ExternalIdentity{}
	}
	sso, err := json.Marshal(u.SSO)
	if err != nil {
		return err
	}
	const q = `insert into users(id, email, password_hash, activated, root_id, sso)
		values($1,$2,$3,$4,$5,$6)`
	args := []any{u.ID, strings.ToLower(u.Email), u.PasswordHash, u.Activated, u.RootID, sso}
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, args...)
	} else {
		_, err = s.db.ExecContext(ctx, q, args...)
	}
	return err
}

func (s *PGStore) UpdateFields(ctx context.Context, id string, patch Patch, tx *sql.Tx) error {
	var (
		sets []string
		args []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Email != nil {
		sets = append(sets, "email = "+next(strings.ToLower(strings.TrimSpace(*patch.Email))))
	}
	if patch.PasswordHash != nil {
		sets = append(sets, "password_hash = "+next(*patch.PasswordHash))
	}
	if patch.Activated != nil {
		sets = append(sets, "activated = "+next(*patch.Activated))
	}

	ssoExpr := "sso"
	if len(patch.SetSSO) > 0 {
		merged, err := json.Marshal(patch.SetSSO)
		if err != nil {
			return err
		}
		ssoExpr = ssoExpr + " || " + next(merged) + "::jsonb"
	}
	for _, provider := range patch.UnsetSSO {
		ssoExpr = ssoExpr + " - " + next(provider)
	}
	if ssoExpr != "sso" {
		sets = append(sets, "sso = "+ssoExpr)
	}

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")
	query := "update users set " + strings.Join(sets, ", ") + " where id = " + next(id)

	var (
		res sql.Result
		err error
	)
	if tx != nil {
		res, err = tx.ExecContext(ctx, query, args...)
	} else {
		res, err = s.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Verification codes --------------------------------------------------------

func (s *PGStore) CreateCode(ctx context.Context, userID, purpose string, ttl time.Duration) (string, error) {
	code := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`insert into verification_codes(code, user_id, purpose, expires_at) values($1,$2,$3,$4)`,
		code, userID, purpose, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *PGStore) ConsumeCode(ctx context.Context, code, purpose string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`delete from verification_codes
		 where code=$1 and purpose=$2 and expires_at > now()
		 returning user_id`,
		code, purpose,
	)
	var userID string
	if err := row.Scan(&userID); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}
	return userID, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u   User
		sso []byte
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Activated, &u.RootID, &sso, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.SSO = map[string]ExternalIdentity{}
	if len(sso) > 0 {
		if err := json.Unmarshal(sso, &u.SSO); err != nil {
			return nil, err
		}
	}
	return &u, nil
}
