// Package session holds the legacy admin-mode session tokens. The redis
// store is used when redis is configured; the in-memory store is the
// single-process fallback.
package session

import "context"

type Store interface {
	// Create mints and records a new opaque token.
	Create(ctx context.Context) (string, error)
	// Validate reports whether the token exists and has not expired.
	Validate(ctx context.Context, token string) (bool, error)
	// Delete invalidates the token. Deleting an unknown token is not an error.
	Delete(ctx context.Context, token string) error
}
