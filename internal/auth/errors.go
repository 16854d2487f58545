package auth

import "errors"

// Authentication failure taxonomy. Each failure mode is distinguishable so
// callers and tests get deterministic error reporting; the HTTP layer maps
// all of them except ErrInternalInconsistency to 401.
var (
	ErrMissingCredential = errors.New("auth: missing bearer credential")
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrExpired           = errors.New("auth: token expired")
	ErrRevoked           = errors.New("auth: token revoked")
	ErrUnknownSubject    = errors.New("auth: unknown subject")
	// ErrInternalInconsistency marks a user without a resolvable root: a
	// violated invariant elsewhere in the system. Fatal for the request,
	// reported loudly, never swallowed.
	ErrInternalInconsistency = errors.New("auth: internal inconsistency")
)
