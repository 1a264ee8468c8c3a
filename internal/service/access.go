package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/cache"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/metrics"
	"github.com/tunevault/platform/internal/store"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// AccessGate answers ownership questions and resolves stream targets.
// Ownership is read from the entitlement ledger only; purchases in flight
// do not grant access.
type AccessGate struct {
	store   store.Store
	cache   cache.OwnershipCache
	group   singleflight.Group
	plays   *semaphore.Weighted
	wg      sync.WaitGroup
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// maxPendingPlays bounds in-flight play count writes; beyond it increments are dropped.
const maxPendingPlays = 64

// NewAccessGate creates an AccessGate. A nil cache disables caching.
func NewAccessGate(st store.Store, c cache.OwnershipCache, m *metrics.Metrics, logger *slog.Logger) *AccessGate {
	if c == nil {
		c = cache.Noop{}
	}
	return &AccessGate{
		store:   st,
		cache:   c,
		plays:   semaphore.NewWeighted(maxPendingPlays),
		metrics: m,
		logger:  logger,
	}
}

// CheckOwnership reports whether an entitlement exists for (user, track).
func (g *AccessGate) CheckOwnership(ctx context.Context, userID, trackID uuid.UUID) (bool, error) {
	err := g.cache.IsOwned(ctx, userID, trackID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		g.logger.Warn("entitlement cache read failed", "error", err)
	}

	key := userID.String() + ":" + trackID.String()
	v, err, _ := g.group.Do(key, func() (interface{}, error) {
		return g.store.HasEntitlement(ctx, userID, trackID)
	})
	if err != nil {
		return false, storageErr("check entitlement", err)
	}

	owned := v.(bool)
	if owned {
		if err := g.cache.MarkOwned(ctx, userID, trackID); err != nil {
			g.logger.Warn("entitlement cache write failed", "error", err)
		}
	}
	return owned, nil
}

// Preview resolves the preview stream of an active track and counts the play.
func (g *AccessGate) Preview(ctx context.Context, trackID uuid.UUID) (*domain.StreamTarget, error) {
	track, err := g.store.LookupTrack(ctx, trackID)
	if err != nil {
		return nil, storageErr("lookup track", err)
	}
	if track == nil {
		return nil, domain.ErrNotFound("track", trackID.String())
	}
	if !track.Active {
		return nil, domain.ErrTrackUnavailable(trackID.String())
	}

	g.recordPlay(trackID)
	g.metrics.StreamResolved(string(domain.StreamPreview))
	return &domain.StreamTarget{TrackID: trackID, Kind: domain.StreamPreview, URL: domain.PreviewURL(track)}, nil
}

// StreamFull resolves the full-length stream. Owners keep access after the
// track is deactivated.
func (g *AccessGate) StreamFull(ctx context.Context, userID, trackID uuid.UUID) (*domain.StreamTarget, error) {
	track, err := g.store.LookupTrack(ctx, trackID)
	if err != nil {
		return nil, storageErr("lookup track", err)
	}
	if track == nil {
		return nil, domain.ErrNotFound("track", trackID.String())
	}

	owned, err := g.CheckOwnership(ctx, userID, trackID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, domain.ErrOwnershipRequired(trackID.String())
	}

	g.metrics.StreamResolved(string(domain.StreamFull))
	return &domain.StreamTarget{TrackID: trackID, Kind: domain.StreamFull, URL: domain.AudioURL(track)}, nil
}

// ResolveStreamTarget returns the full stream for owners and falls back to
// the preview otherwise. Only a missing entitlement triggers the fallback.
func (g *AccessGate) ResolveStreamTarget(ctx context.Context, userID, trackID uuid.UUID) (*domain.StreamTarget, error) {
	target, err := g.StreamFull(ctx, userID, trackID)
	if domain.HasCode(err, domain.CodeOwnershipRequired) {
		return g.Preview(ctx, trackID)
	}
	return target, err
}

// Library lists the user's entitlements, newest first.
func (g *AccessGate) Library(ctx context.Context, userID uuid.UUID) ([]domain.EntitlementRecord, error) {
	records, err := g.store.ListEntitlements(ctx, userID)
	if err != nil {
		return nil, storageErr("list entitlements", err)
	}
	return records, nil
}

// recordPlay increments the play counter in the background. Increments are
// dropped when too many are pending or the write fails.
func (g *AccessGate) recordPlay(trackID uuid.UUID) {
	if !g.plays.TryAcquire(1) {
		g.metrics.PlayDropped()
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.plays.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.store.IncrementPlayCount(ctx, trackID); err != nil {
			g.metrics.PlayDropped()
			g.logger.Warn("play count increment dropped", "track_id", trackID, "error", err)
		}
	}()
}

// Wait blocks until pending play count writes finish.
func (g *AccessGate) Wait() {
	g.wg.Wait()
}
