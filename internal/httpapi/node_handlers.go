package httpapi

import (
	"errors"
	"net/http"

	"graphgate.org/internal/access"
	"graphgate.org/internal/audit"
	"graphgate.org/internal/graph"
)

// CreateNode inserts a node owned by the actor's root with an empty access
// table.
func (a *API) CreateNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	node := &graph.Node{RootID: id.Root.ID, Access: graph.Table{}}
	if err := a.nodes.InsertNode(r.Context(), node); err != nil {
		mapDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "node.created", map[string]any{"node_id": node.ID})
	writeJSON(w, http.StatusCreated, node)
}

// Node routes /v1/node/{id}/{access|grant|revoke}.
func (a *API) Node(w http.ResponseWriter, r *http.Request) {
	parts := pathTail(r.URL.Path, "/v1/node/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	nodeID, op := parts[0], parts[1]

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	switch op {
	case "access":
		a.nodeAccess(w, r, id.Root.ID, nodeID)
	case "grant":
		a.nodeGrant(w, r, id.Root.ID, nodeID)
	case "revoke":
		a.nodeRevoke(w, r, id.Root.ID, nodeID)
	default:
		writeError(w, r, http.StatusNotFound, "unknown node operation")
	}
}

// nodeAccess resolves the actor's effective level on the node. With
// ?level= it becomes a yes/no authorization check; ?via= presents an
// access-path node for node-scoped grants.
func (a *API) nodeAccess(w http.ResponseWriter, r *http.Request, actorRootID, nodeID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	requested := graph.LevelNone
	if raw := r.URL.Query().Get("level"); raw != "" {
		var err error
		requested, err = graph.ParseLevel(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid level")
			return
		}
	}
	via := r.URL.Query().Get("via")

	level, err := a.access.Authorize(r.Context(), actorRootID, nodeID, requested, via)
	if err != nil && !errors.Is(err, access.ErrPermissionDenied) {
		mapDomainError(w, r, err)
		return
	}
	// Without an explicit level the endpoint just reports the resolved
	// level; "allowed" then means any access at all.
	allowed := err == nil
	if requested == graph.LevelNone {
		allowed = level != graph.LevelNone
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id": nodeID,
		"level":   level,
		"allowed": allowed,
	})
}

type grantRequest struct {
	Scope string `json:"scope"` // "root:<id>" or "node:<id>"
	Level string `json:"level"` // grant only: "read" or "write"
}

func (a *API) nodeGrant(w http.ResponseWriter, r *http.Request, actorRootID, nodeID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req grantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scope, err := graph.ParseScope(req.Scope)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid scope")
		return
	}
	level, err := graph.ParseLevel(req.Level)
	if err != nil || level == graph.LevelNone {
		writeError(w, r, http.StatusBadRequest, "level must be read or write")
		return
	}
	if err := a.access.Grant(r.Context(), actorRootID, nodeID, scope, level); err != nil {
		mapDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "node.granted", map[string]any{
		"node_id": nodeID, "scope": scope.String(), "level": level.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "granted"})
}

func (a *API) nodeRevoke(w http.ResponseWriter, r *http.Request, actorRootID, nodeID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req grantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	scope, err := graph.ParseScope(req.Scope)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid scope")
		return
	}
	if err := a.access.Revoke(r.Context(), actorRootID, nodeID, scope); err != nil {
		mapDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "node.revoked", map[string]any{
		"node_id": nodeID, "scope": scope.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}
