package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Level is the ordered access level attached to a grant. Write subsumes
// read; the zero value means no access.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
)

func (l Level) String() string {
	switch l {
	case LevelRead:
		return "read"
	case LevelWrite:
		return "write"
	default:
		return "none"
	}
}

// ParseLevel converts the wire form back into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return LevelRead, nil
	case "write":
		return LevelWrite, nil
	case "none", "":
		return LevelNone, nil
	default:
		return LevelNone, fmt.Errorf("unknown access level %q", s)
	}
}

// Satisfies reports whether a holder of level l may perform an operation
// requiring level req. A write grant satisfies a read request.
func (l Level) Satisfies(req Level) bool {
	return req != LevelNone && l >= req
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ScopeKind discriminates the two grant forms.
type ScopeKind string

const (
	ScopeRoot ScopeKind = "root"
	ScopeNode ScopeKind = "node"
)

// Scope is the tagged grantee of an access-table entry: either another
// root (tenant-wide) or a specific node the requester must present as the
// access path.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// RootScope keys a grant by the grantee's root id.
func RootScope(id string) Scope { return Scope{Kind: ScopeRoot, ID: id} }

// NodeScope keys a grant by the node the requester must access through.
func NodeScope(id string) Scope { return Scope{Kind: ScopeNode, ID: id} }

func (s Scope) String() string { return string(s.Kind) + ":" + s.ID }

// ParseScope converts the stored "kind:id" key back into a Scope.
func ParseScope(key string) (Scope, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || id == "" {
		return Scope{}, fmt.Errorf("malformed scope key %q", key)
	}
	switch ScopeKind(kind) {
	case ScopeRoot, ScopeNode:
		return Scope{Kind: ScopeKind(kind), ID: id}, nil
	default:
		return Scope{}, fmt.Errorf("unknown scope kind %q", kind)
	}
}

// Table is a node's stored access table: grantee scope to granted level.
// A missing entry means no access beyond ownership; removal is how access
// is disallowed (there is no explicit deny entry).
type Table map[Scope]Level

// Grant upserts the entry for scope. Granting LevelNone removes it.
func (t Table) Grant(scope Scope, level Level) {
	if level == LevelNone {
		delete(t, scope)
		return
	}
	t[scope] = level
}

// Revoke removes the entry for scope; a no-op when absent.
func (t Table) Revoke(scope Scope) {
	delete(t, scope)
}

// Lookup returns the granted level for scope, if any.
func (t Table) Lookup(scope Scope) (Level, bool) {
	level, ok := t[scope]
	return level, ok
}

// Clone returns an independent copy of the table.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the table as {"root:<id>":"write",...} for JSONB
// storage. Keys are sorted so stored documents are stable across writes.
func (t Table) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(t))
	byKey := make(map[string]Level, len(t))
	for scope, level := range t {
		k := scope.String()
		keys = append(keys, k)
		byKey[k] = level
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kj, _ := json.Marshal(k)
		b.Write(kj)
		b.WriteByte(':')
		vj, _ := json.Marshal(byKey[k].String())
		b.Write(vj)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func (t *Table) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Table, len(raw))
	for key, val := range raw {
		scope, err := ParseScope(key)
		if err != nil {
			return err
		}
		level, err := ParseLevel(val)
		if err != nil {
			return err
		}
		if level == LevelNone {
			continue
		}
		out[scope] = level
	}
	*t = out
	return nil
}

// Root is the tenant boundary: the top-level container each user owns
// exactly one of. It has no parent.
type Root struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Node is a graph vertex owned by a root and carrying its own access table.
type Node struct {
	ID        string    `json:"id"`
	RootID    string    `json:"root_id"`
	Access    Table     `json:"access"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
