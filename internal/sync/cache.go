package sync

import (
	"context"
	"sync"
	"time"
)

// snapshotCache holds the last successful listing of one artifact kind
// (sites or uploads) plus its wall-clock fetch time (§3 Server snapshot
// cache). Two independent instances back the Cache type below; each fetch
// replaces the whole cache atomically so readers never see a half-updated
// listing (§5's shared-resource rule).
type snapshotCache[T any] struct {
	mu        sync.Mutex
	listing   []T
	fetchedAt time.Time
	valid     bool
}

func (c *snapshotCache[T]) fresh(now time.Time) ([]T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid || now.Sub(c.fetchedAt) > SnapshotFreshness {
		return nil, false
	}

	return c.listing, true
}

func (c *snapshotCache[T]) set(listing []T, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listing = listing
	c.fetchedAt = now
	c.valid = true
}

func (c *snapshotCache[T]) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
}

// Cache wraps the two independent server listing caches and the API calls
// that refresh them. Sites/Uploads return the cached listing when fresh;
// RefreshSites/RefreshUploads always re-fetch and replace the cache
// regardless of freshness, which the reconciler calls at the start of every
// cycle (§3).
type Cache struct {
	api    APIClient
	clock  Clock
	sites  snapshotCache[SiteRecord]
	upload snapshotCache[UploadRecord]
}

// NewCache creates a Cache backed by api. clock defaults to RealClock.
func NewCache(api APIClient, clock Clock) *Cache {
	if clock == nil {
		clock = RealClock
	}

	return &Cache{api: api, clock: clock}
}

// Sites returns the cached site listing if fresh, otherwise fetches.
func (c *Cache) Sites(ctx context.Context) ([]SiteRecord, error) {
	if listing, ok := c.sites.fresh(c.clock.Now()); ok {
		return listing, nil
	}

	return c.RefreshSites(ctx)
}

// RefreshSites force-fetches the site listing and replaces the cache.
func (c *Cache) RefreshSites(ctx context.Context) ([]SiteRecord, error) {
	listing, err := c.api.ListSites(ctx)
	if err != nil {
		return nil, err
	}

	c.sites.set(listing, c.clock.Now())

	return listing, nil
}

// Uploads returns the cached upload listing if fresh, otherwise fetches.
func (c *Cache) Uploads(ctx context.Context) ([]UploadRecord, error) {
	if listing, ok := c.upload.fresh(c.clock.Now()); ok {
		return listing, nil
	}

	return c.RefreshUploads(ctx)
}

// RefreshUploads force-fetches the upload listing and replaces the cache.
func (c *Cache) RefreshUploads(ctx context.Context) ([]UploadRecord, error) {
	listing, err := c.api.ListUploads(ctx)
	if err != nil {
		return nil, err
	}

	c.upload.set(listing, c.clock.Now())

	return listing, nil
}

// Invalidate drops both caches, forcing the next Sites/Uploads call to
// re-fetch. Called on engine stop (§5 Cancellation).
func (c *Cache) Invalidate() {
	c.sites.invalidate()
	c.upload.invalidate()
}

// SiteChecksum looks up a cached site record by filename and reports
// whether one exists with the given checksum, for the queue's
// checksum-skip optimization (§4.8). Does not force a refresh.
func (c *Cache) SiteChecksum(ctx context.Context, filename, checksum string) (bool, error) {
	listing, err := c.Sites(ctx)
	if err != nil {
		return false, err
	}

	for _, rec := range listing {
		if rec.Filename == filename && rec.Checksum == checksum {
			return true, nil
		}
	}

	return false, nil
}
