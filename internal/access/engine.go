package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"graphgate.org/internal/graph"
	"graphgate.org/internal/obs"
)

var (
	// ErrUnauthorized is returned when a non-owner attempts to mutate a
	// node's access table.
	ErrUnauthorized = errors.New("access: unauthorized")
	// ErrPermissionDenied is returned when the resolved level does not
	// satisfy the requested one.
	ErrPermissionDenied = errors.New("access: permission denied")
)

// Resolve evaluates the effective level an actor holds on a node. Rules in
// precedence order, first match wins:
//
//  1. The owning root has full write access, regardless of table contents.
//  2. A root grant for the actor's root yields the grant's level.
//  3. When via is non-empty, a node-scoped grant keyed by exactly that node
//     id yields the grant's level. Node-scoped grants are not transitive:
//     only the immediately presented access-path node counts, never nodes
//     merely connected to it.
//  4. Otherwise no access.
func Resolve(actorRootID string, node *graph.Node, via string) graph.Level {
	if node == nil {
		return graph.LevelNone
	}
	if actorRootID != "" && actorRootID == node.RootID {
		return graph.LevelWrite
	}
	if level, ok := node.Access.Lookup(graph.RootScope(actorRootID)); ok {
		return level
	}
	if via != "" {
		if level, ok := node.Access.Lookup(graph.NodeScope(via)); ok {
			return level
		}
	}
	return graph.LevelNone
}

// Service drives authorization checks and owner-only table mutations,
// persisting mutated tables through the node store.
type Service struct {
	nodes graph.NodeStore
}

func NewService(nodes graph.NodeStore) (*Service, error) {
	if nodes == nil {
		return nil, errors.New("access: node store is required")
	}
	return &Service{nodes: nodes}, nil
}

// Authorize loads the target node and resolves the actor's effective level.
// It returns ErrPermissionDenied when the effective level does not satisfy
// requested; the resolved level accompanies the decision either way.
func (s *Service) Authorize(ctx context.Context, actorRootID, nodeID string, requested graph.Level, via string) (graph.Level, error) {
	node, err := s.nodes.FindNode(ctx, nodeID)
	if err != nil {
		return graph.LevelNone, err
	}
	level := Resolve(actorRootID, node, via)
	obs.ObserveAccessDecision(level.String())
	if !level.Satisfies(requested) {
		return level, fmt.Errorf("%w: %s requires %s, holds %s",
			ErrPermissionDenied, nodeID, requested, level)
	}
	return level, nil
}

// Grant upserts a grant on the node's access table. Only the owning root
// may mutate the table; any existing grant at the same scope is replaced.
func (s *Service) Grant(ctx context.Context, ownerRootID, nodeID string, scope graph.Scope, level graph.Level) error {
	if level == graph.LevelNone {
		return fmt.Errorf("access: grant level must be read or write")
	}
	node, err := s.ownedNode(ctx, ownerRootID, nodeID)
	if err != nil {
		return err
	}
	table := node.Access.Clone()
	table.Grant(scope, level)
	return s.nodes.UpdateAccess(ctx, nodeID, table)
}

// Revoke removes the grant at scope. Removal is destructive, not a
// tri-state: afterwards the scope is indistinguishable from one never
// granted. Revoking an absent grant is a no-op, not an error.
func (s *Service) Revoke(ctx context.Context, ownerRootID, nodeID string, scope graph.Scope) error {
	node, err := s.ownedNode(ctx, ownerRootID, nodeID)
	if err != nil {
		return err
	}
	if _, ok := node.Access.Lookup(scope); !ok {
		return nil
	}
	table := node.Access.Clone()
	table.Revoke(scope)
	return s.nodes.UpdateAccess(ctx, nodeID, table)
}

func (s *Service) ownedNode(ctx context.Context, ownerRootID, nodeID string) (*graph.Node, error) {
	if strings.TrimSpace(ownerRootID) == "" {
		return nil, ErrUnauthorized
	}
	node, err := s.nodes.FindNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.RootID != ownerRootID {
		return nil, fmt.Errorf("%w: %s does not own node %s", ErrUnauthorized, ownerRootID, nodeID)
	}
	return node, nil
}
