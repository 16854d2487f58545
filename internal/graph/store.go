package graph

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("graph: not found")

// RootStore persists roots. Insert participates in the registration
// transaction when tx is non-nil so an orphaned root never survives a
// failed user insert.
type RootStore interface {
	InsertRoot(ctx context.Context, root *Root, tx *sql.Tx) error
	FindRoot(ctx context.Context, id string) (*Root, error)
}

// NodeStore persists nodes together with their access tables.
type NodeStore interface {
	InsertNode(ctx context.Context, node *Node) error
	FindNode(ctx context.Context, id string) (*Node, error)
	UpdateAccess(ctx context.Context, nodeID string, table Table) error
}
