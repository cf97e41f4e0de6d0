package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Sites_FetchesOnceWhileFresh(t *testing.T) {
	t.Parallel()

	calls := 0
	api := &fakeAPIClient{ListSitesFunc: func(context.Context) ([]SiteRecord, error) {
		calls++

		return []SiteRecord{{Filename: "about.html"}}, nil
	}}

	clock := newFakeClock(time.Now())
	cache := NewCache(api, clock)

	first, err := cache.Sites(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := cache.Sites(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestCache_Sites_RefetchesAfterFreshnessWindow(t *testing.T) {
	t.Parallel()

	calls := 0
	api := &fakeAPIClient{ListSitesFunc: func(context.Context) ([]SiteRecord, error) {
		calls++

		return nil, nil
	}}

	clock := newFakeClock(time.Now())
	cache := NewCache(api, clock)

	_, err := cache.Sites(context.Background())
	require.NoError(t, err)

	clock.Advance(SnapshotFreshness + time.Second)

	_, err = cache.Sites(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_RefreshSites_AlwaysRefetches(t *testing.T) {
	t.Parallel()

	calls := 0
	api := &fakeAPIClient{ListSitesFunc: func(context.Context) ([]SiteRecord, error) {
		calls++

		return nil, nil
	}}

	cache := NewCache(api, newFakeClock(time.Now()))

	_, err := cache.RefreshSites(context.Background())
	require.NoError(t, err)
	_, err = cache.RefreshSites(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_Invalidate_ForcesRefetch(t *testing.T) {
	t.Parallel()

	calls := 0
	api := &fakeAPIClient{ListUploadsFunc: func(context.Context) ([]UploadRecord, error) {
		calls++

		return nil, nil
	}}

	cache := NewCache(api, newFakeClock(time.Now()))

	_, err := cache.Uploads(context.Background())
	require.NoError(t, err)

	cache.Invalidate()

	_, err = cache.Uploads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCache_SiteChecksum_Match(t *testing.T) {
	t.Parallel()

	api := &fakeAPIClient{ListSitesFunc: func(context.Context) ([]SiteRecord, error) {
		return []SiteRecord{{Filename: "about.html", Checksum: "abc123"}}, nil
	}}

	cache := NewCache(api, newFakeClock(time.Now()))

	match, err := cache.SiteChecksum(context.Background(), "about.html", "abc123")
	require.NoError(t, err)
	assert.True(t, match)
}

func TestCache_SiteChecksum_NoMatch(t *testing.T) {
	t.Parallel()

	api := &fakeAPIClient{ListSitesFunc: func(context.Context) ([]SiteRecord, error) {
		return []SiteRecord{{Filename: "about.html", Checksum: "abc123"}}, nil
	}}

	cache := NewCache(api, newFakeClock(time.Now()))

	match, err := cache.SiteChecksum(context.Background(), "about.html", "different")
	require.NoError(t, err)
	assert.False(t, match)
}

func TestCache_Sites_PropagatesAPIError(t *testing.T) {
	t.Parallel()

	api := &fakeAPIClient{ListSitesFunc: func(context.Context) ([]SiteRecord, error) {
		return nil, assertionError{"boom"}
	}}

	cache := NewCache(api, newFakeClock(time.Now()))

	_, err := cache.Sites(context.Background())
	assert.Error(t, err)
}

// assertionError is a minimal error type to avoid importing errors just for
// one sentinel-free test case.
type assertionError struct{ msg string }

func (e assertionError) Error() string { return e.msg }
