package graph

import (
	"context"
	"database/sql"
	"encoding/json"

	"graphgate.org/internal/ids"
)

var (
	_ RootStore = (*PGStore)(nil)
	_ NodeStore = (*PGStore)(nil)
)

// PGStore implements RootStore and NodeStore on PostgreSQL. Access tables
// are stored as a JSONB column on the node row so grant and revoke are
// single-row upserts with no cross-node locking.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) InsertRoot(ctx context.Context, root *Root, tx *sql.Tx) error {
	if root.ID == "" {
		root.ID = ids.New()
	}
	const q = `insert into roots(id) values($1)`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, root.ID)
	} else {
		_, err = s.db.ExecContext(ctx, q, root.ID)
	}
	return err
}

func (s *PGStore) FindRoot(ctx context.Context, id string) (*Root, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, created_at, updated_at from roots where id=$1`, id)
	var r Root
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// Node store ---------------------------------------------------------------

func (s *PGStore) InsertNode(ctx context.Context, node *Node) error {
	if node.ID == "" {
		node.ID = ids.New()
	}
	if node.Access == nil {
		node.Access = Table{}
	}
	access, err := json.Marshal(node.Access)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into nodes(id, root_id, access) values($1,$2,$3)`,
		node.ID, node.RootID, access,
	)
	return err
}

func (s *PGStore) FindNode(ctx context.Context, id string) (*Node, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, root_id, access, created_at, updated_at from nodes where id=$1`, id)
	var (
		n      Node
		access []byte
	)
	if err := row.Scan(&n.ID, &n.RootID, &access, &n.CreatedAt, &n.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	n.Access = Table{}
	if len(access) > 0 {
		if err := json.Unmarshal(access, &n.Access); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

func (s *PGStore) UpdateAccess(ctx context.Context, nodeID string, table Table) error {
	access, err := json.Marshal(table)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`update nodes set access=$2, updated_at=now() where id=$1`,
		nodeID, access,
	)
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
