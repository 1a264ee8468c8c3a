// Package cache holds the entitlement ownership cache.
//
// Only positive answers are cached. Entitlements are never revoked, so a
// cached "owned" can never become wrong; a miss always falls through to the
// store.
package cache

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// OwnershipCache remembers (user, track) pairs known to be owned.
type OwnershipCache interface {
	// IsOwned returns ErrCacheMiss when nothing is cached for the pair.
	IsOwned(ctx context.Context, userID, trackID uuid.UUID) error
	MarkOwned(ctx context.Context, userID uuid.UUID, trackIDs ...uuid.UUID) error
}

var ErrCacheMiss = errors.New("cache miss")

// Noop is used when caching is disabled. Every lookup misses.
type Noop struct{}

func (Noop) IsOwned(context.Context, uuid.UUID, uuid.UUID) error { return ErrCacheMiss }

func (Noop) MarkOwned(context.Context, uuid.UUID, ...uuid.UUID) error { return nil }
