package access

import (
	"context"
	"errors"
	"testing"

	"graphgate.org/internal/graph"
)

type fakeNodeStore struct {
	nodes map[string]*graph.Node
}

func newFakeNodeStore(nodes ...*graph.Node) *fakeNodeStore {
	s := &fakeNodeStore{nodes: make(map[string]*graph.Node)}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s
}

func (s *fakeNodeStore) InsertNode(ctx context.Context, node *graph.Node) error {
	s.nodes[node.ID] = node
	return nil
}

func (s *fakeNodeStore) FindNode(ctx context.Context, id string) (*graph.Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	copied := *n
	copied.Access = n.Access.Clone()
	return &copied, nil
}

func (s *fakeNodeStore) UpdateAccess(ctx context.Context, nodeID string, table graph.Table) error {
	n, ok := s.nodes[nodeID]
	if !ok {
		return graph.ErrNotFound
	}
	n.Access = table
	return nil
}

func node(id, rootID string, table graph.Table) *graph.Node {
	if table == nil {
		table = graph.Table{}
	}
	return &graph.Node{ID: id, RootID: rootID, Access: table}
}

func TestResolveOwnershipAlwaysWins(t *testing.T) {
	// The stored table even tries to downgrade the owner; ownership must
	// still yield write.
	n := node("n1", "owner", graph.Table{graph.RootScope("owner"): graph.LevelRead})
	if got := Resolve("owner", n, ""); got != graph.LevelWrite {
		t.Fatalf("owner resolved %s, want write", got)
	}
}

func TestResolveRootGrant(t *testing.T) {
	n := node("n1", "owner", graph.Table{graph.RootScope("other"): graph.LevelRead})
	if got := Resolve("other", n, ""); got != graph.LevelRead {
		t.Fatalf("grantee resolved %s, want read", got)
	}
	if got := Resolve("stranger", n, ""); got != graph.LevelNone {
		t.Fatalf("stranger resolved %s, want none", got)
	}
}

func TestResolveNodeScopedGrantRequiresVia(t *testing.T) {
	n := node("n1", "owner", graph.Table{graph.NodeScope("gate"): graph.LevelWrite})

	if got := Resolve("other", n, "gate"); got != graph.LevelWrite {
		t.Fatalf("via gate resolved %s, want write", got)
	}
	// Without presenting the access-path node there is no access.
	if got := Resolve("other", n, ""); got != graph.LevelNone {
		t.Fatalf("without via resolved %s, want none", got)
	}
	// A different node, even one connected to gate, never matches.
	if got := Resolve("other", n, "neighbor-of-gate"); got != graph.LevelNone {
		t.Fatalf("wrong via resolved %s, want none", got)
	}
}

func TestResolveRootGrantPrecedesNodeGrant(t *testing.T) {
	n := node("n1", "owner", graph.Table{
		graph.RootScope("other"): graph.LevelRead,
		graph.NodeScope("gate"):  graph.LevelWrite,
	})
	if got := Resolve("other", n, "gate"); got != graph.LevelRead {
		t.Fatalf("resolved %s, want read from the earlier rule", got)
	}
}

func TestAuthorizeWriteImpliesRead(t *testing.T) {
	store := newFakeNodeStore(node("n1", "owner",
		graph.Table{graph.RootScope("other"): graph.LevelWrite}))
	svc, _ := NewService(store)

	level, err := svc.Authorize(context.Background(), "other", "n1", graph.LevelRead, "")
	if err != nil {
		t.Fatalf("write holder denied read: %v", err)
	}
	if level != graph.LevelWrite {
		t.Fatalf("resolved %s, want write", level)
	}
}

func TestAuthorizeReadDoesNotImplyWrite(t *testing.T) {
	store := newFakeNodeStore(node("n1", "owner",
		graph.Table{graph.RootScope("other"): graph.LevelRead}))
	svc, _ := NewService(store)

	if _, err := svc.Authorize(context.Background(), "other", "n1", graph.LevelWrite, ""); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestGrantOwnerOnly(t *testing.T) {
	store := newFakeNodeStore(node("n1", "owner", nil))
	svc, _ := NewService(store)

	err := svc.Grant(context.Background(), "other", "n1", graph.RootScope("x"), graph.LevelRead)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner grant: expected ErrUnauthorized, got %v", err)
	}

	if err := svc.Grant(context.Background(), "owner", "n1", graph.RootScope("x"), graph.LevelRead); err != nil {
		t.Fatalf("owner grant failed: %v", err)
	}
	n, _ := store.FindNode(context.Background(), "n1")
	if level, ok := n.Access.Lookup(graph.RootScope("x")); !ok || level != graph.LevelRead {
		t.Fatalf("grant not persisted: %v %v", level, ok)
	}
}

func TestGrantRejectsLevelNone(t *testing.T) {
	store := newFakeNodeStore(node("n1", "owner", nil))
	svc, _ := NewService(store)
	if err := svc.Grant(context.Background(), "owner", "n1", graph.RootScope("x"), graph.LevelNone); err == nil {
		t.Fatal("expected error granting none")
	}
}

func TestRevokeIsDestructive(t *testing.T) {
	store := newFakeNodeStore(node("n1", "owner",
		graph.Table{graph.RootScope("other"): graph.LevelWrite}))
	svc, _ := NewService(store)

	if err := svc.Revoke(context.Background(), "owner", "n1", graph.RootScope("other")); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// After revocation the grantee is indistinguishable from one never
	// granted: resolution falls through to none, not to a deny marker.
	n, _ := store.FindNode(context.Background(), "n1")
	if got := Resolve("other", n, ""); got != graph.LevelNone {
		t.Fatalf("resolved %s after revoke, want none", got)
	}
	if _, ok := n.Access.Lookup(graph.RootScope("other")); ok {
		t.Fatal("revoked entry still stored")
	}

	// Revoking an absent grant is a no-op, not an error.
	if err := svc.Revoke(context.Background(), "owner", "n1", graph.RootScope("other")); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
}

func TestRevokeOwnerOnly(t *testing.T) {
	store := newFakeNodeStore(node("n1", "owner",
		graph.Table{graph.RootScope("other"): graph.LevelRead}))
	svc, _ := NewService(store)
	if err := svc.Revoke(context.Background(), "other", "n1", graph.RootScope("other")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthorizeUnknownNode(t *testing.T) {
	svc, _ := NewService(newFakeNodeStore())
	if _, err := svc.Authorize(context.Background(), "r", "missing", graph.LevelRead, ""); !errors.Is(err, graph.ErrNotFound) {
		t.Fatalf("expected graph.ErrNotFound, got %v", err)
	}
}
