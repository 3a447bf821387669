package accessor

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAccessor(t *testing.T, cacheMaxBytes int64, buckets BucketSet, primary string) *Accessor {
	t.Helper()
	dir := t.TempDir()
	a, err := New(Config{
		PrimaryBucket: primary,
		LocalCacheDir: dir,
		CacheMaxBytes: cacheMaxBytes,
	}, buckets)
	require.NoError(t, err)
	return a
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

// §8 property 1: a successful writeDocument leaves the primary bucket (and,
// once present, the cache file) holding exactly those bytes.
func TestWriteDocumentUpdatesPrimaryThenCache(t *testing.T) {
	primary := NewMemBackend("primary")
	a := newTestAccessor(t, 10_000, BucketSet{"primary": primary}, "primary")

	payload := []byte("hello pod")
	require.NoError(t, a.WriteDocument(context.Background(), "https://h/alice/doc.ttl", bytes.NewReader(payload), int64(len(payload))))

	rc, _, err := primary.Get(context.Background(), "https://h/alice/doc.ttl")
	require.NoError(t, err)
	require.Equal(t, payload, readAll(t, rc))

	rc2, size, err := a.GetData(context.Background(), "https://h/alice/doc.ttl")
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), size)
	require.Equal(t, payload, readAll(t, rc2))
}

// §8 property 1 (sync fan-out): active-sync targets whose prefix covers the
// written URL receive the same bytes.
func TestWriteDocumentFansOutToActiveSyncTargets(t *testing.T) {
	primary := NewMemBackend("primary")
	secondary := NewMemBackend("eu")
	a := newTestAccessor(t, 10_000, BucketSet{"primary": primary, "eu-bucket": secondary}, "primary")
	a.cfg.Region = "us"
	a.cfg.RegionBuckets = map[string]string{"us": "primary", "eu": "eu-bucket"}

	a.SetupRealtimeSync("https://h/alice/", "eu")

	payload := []byte("synced bytes")
	require.NoError(t, a.WriteDocument(context.Background(), "https://h/alice/doc.ttl", bytes.NewReader(payload), int64(len(payload))))

	rc, _, err := secondary.Get(context.Background(), "https://h/alice/doc.ttl")
	require.NoError(t, err)
	require.Equal(t, payload, readAll(t, rc))
}

// §8 property 2: getData returns the most recent write; falling back to the
// primary bucket's own content when no write happened through this accessor.
func TestGetDataServesPrimaryOnCacheMiss(t *testing.T) {
	primary := NewMemBackend("primary")
	require.NoError(t, primary.Put(context.Background(), "https://h/alice/raw.bin", bytes.NewReader([]byte("raw bytes")), 9))

	a := newTestAccessor(t, 10_000, BucketSet{"primary": primary}, "primary")
	rc, size, err := a.GetData(context.Background(), "https://h/alice/raw.bin")
	require.NoError(t, err)
	require.Equal(t, int64(9), size)
	require.Equal(t, []byte("raw bytes"), readAll(t, rc))
	require.True(t, a.cache.contains(mustCachePath(t, "https://h/alice/raw.bin")))
}

// §8 property 2 (fallback): a primary miss falls back to a region bucket and
// schedules lazy repatriation; the fallback content is returned either way.
func TestGetDataFallsBackToRegionBucket(t *testing.T) {
	primary := NewMemBackend("primary")
	fallback := NewMemBackend("eu-bucket")
	require.NoError(t, fallback.Put(context.Background(), "https://h/alice/legacy.bin", bytes.NewReader([]byte("legacy")), 6))

	a := newTestAccessor(t, 10_000, BucketSet{"primary": primary, "eu-bucket": fallback}, "primary")
	a.cfg.Region = "us"
	a.cfg.RegionBuckets = map[string]string{"us": "primary", "eu": "eu-bucket"}

	rc, size, err := a.GetData(context.Background(), "https://h/alice/legacy.bin")
	require.NoError(t, err)
	require.Equal(t, int64(6), size)
	require.Equal(t, []byte("legacy"), readAll(t, rc))
}

func TestGetDataNotFoundWhenNoBucketHasIt(t *testing.T) {
	primary := NewMemBackend("primary")
	a := newTestAccessor(t, 10_000, BucketSet{"primary": primary}, "primary")
	_, _, err := a.GetData(context.Background(), "https://h/alice/missing.bin")
	require.Error(t, err)
}

// S3 — cache miss then hit then evict, literal values from the spec.
func TestCacheEvictionHysteresisS3(t *testing.T) {
	primary := NewMemBackend("primary")
	u1, u2, u3 := "https://h/u1", "https://h/u2", "https://h/u3"
	require.NoError(t, primary.Put(context.Background(), u1, bytes.NewReader(make([]byte, 400)), 400))
	require.NoError(t, primary.Put(context.Background(), u2, bytes.NewReader(make([]byte, 500)), 500))
	require.NoError(t, primary.Put(context.Background(), u3, bytes.NewReader(make([]byte, 300)), 300))

	a := newTestAccessor(t, 1000, BucketSet{"primary": primary}, "primary")

	_, _, err := a.GetData(context.Background(), u1)
	require.NoError(t, err)
	require.Equal(t, int64(400), a.CurrentCacheSize())

	_, _, err = a.GetData(context.Background(), u2)
	require.NoError(t, err)
	require.Equal(t, int64(900), a.CurrentCacheSize())

	// u3 pushes currentCacheSize to 1200, above cacheMaxBytes=1000: evict
	// down to <= 800 (0.8 * 1000), deleting the least-recently-touched of
	// u1/u2 (u1, touched first).
	_, _, err = a.GetData(context.Background(), u3)
	require.NoError(t, err)
	require.LessOrEqual(t, a.CurrentCacheSize(), int64(800))

	require.False(t, a.cache.contains(mustCachePath(t, u1)))
	require.True(t, a.cache.contains(mustCachePath(t, u2)))
	require.True(t, a.cache.contains(mustCachePath(t, u3)))

	// A subsequent getData of the evicted URL is served from primary again.
	rc, size, err := a.GetData(context.Background(), u1)
	require.NoError(t, err)
	require.Equal(t, int64(400), size)
	require.Equal(t, make([]byte, 400), readAll(t, rc))
}

// §8 property 3: sum(sizes) == currentCacheSize <= cacheMaxBytes after any
// sequence of cache operations.
func TestCacheSizeInvariantHoldsAfterDelete(t *testing.T) {
	primary := NewMemBackend("primary")
	require.NoError(t, primary.Put(context.Background(), "https://h/a", bytes.NewReader(make([]byte, 200)), 200))
	require.NoError(t, primary.Put(context.Background(), "https://h/b", bytes.NewReader(make([]byte, 200)), 200))

	a := newTestAccessor(t, 1000, BucketSet{"primary": primary}, "primary")
	_, _, err := a.GetData(context.Background(), "https://h/a")
	require.NoError(t, err)
	_, _, err = a.GetData(context.Background(), "https://h/b")
	require.NoError(t, err)
	require.Equal(t, int64(400), a.CurrentCacheSize())

	require.NoError(t, a.DeleteResource(context.Background(), "https://h/a"))
	require.Equal(t, int64(200), a.CurrentCacheSize())
	require.LessOrEqual(t, a.CurrentCacheSize(), int64(1000))
}

func TestMigrateToRegionCopiesAllObjectsUnderPrefix(t *testing.T) {
	primary := NewMemBackend("primary")
	target := NewMemBackend("eu-bucket")
	require.NoError(t, primary.Put(context.Background(), "https://h/p/a", bytes.NewReader([]byte("a")), 1))
	require.NoError(t, primary.Put(context.Background(), "https://h/p/b", bytes.NewReader([]byte("b")), 1))
	require.NoError(t, primary.Put(context.Background(), "https://h/other/c", bytes.NewReader([]byte("c")), 1))

	a := newTestAccessor(t, 10_000, BucketSet{"primary": primary, "eu-bucket": target}, "primary")
	a.cfg.RegionBuckets = map[string]string{"eu": "eu-bucket"}

	var progressCalls int
	err := a.MigrateToRegion(context.Background(), "https://h/p/", "eu", func(copied, total int, bytesTransferred int64) bool {
		progressCalls++
		return true
	})
	require.NoError(t, err)
	require.Equal(t, 3, progressCalls)

	keys, err := target.List(context.Background(), "https://h/p/")
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestMigrateToRegionStopsBeforeNextCopyOnCancel(t *testing.T) {
	primary := NewMemBackend("primary")
	target := NewMemBackend("eu-bucket")
	require.NoError(t, primary.Put(context.Background(), "https://h/p/a", bytes.NewReader([]byte("a")), 1))
	require.NoError(t, primary.Put(context.Background(), "https://h/p/b", bytes.NewReader([]byte("b")), 1))
	require.NoError(t, primary.Put(context.Background(), "https://h/p/c", bytes.NewReader([]byte("c")), 1))

	a := newTestAccessor(t, 10_000, BucketSet{"primary": primary, "eu-bucket": target}, "primary")
	a.cfg.RegionBuckets = map[string]string{"eu": "eu-bucket"}

	err := a.MigrateToRegion(context.Background(), "https://h/p/", "eu", func(copied, total int, bytesTransferred int64) bool {
		return copied < 1 // allow the first copy, cancel before the second
	})
	require.Error(t, err)

	keys, err := target.List(context.Background(), "https://h/p/")
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestSupportsMigrationRequiresRegionAndBuckets(t *testing.T) {
	primary := NewMemBackend("primary")
	a := newTestAccessor(t, 1000, BucketSet{"primary": primary}, "primary")
	require.False(t, a.SupportsMigration())

	a.cfg.Region = "us"
	a.cfg.RegionBuckets = map[string]string{"us": "primary"}
	require.True(t, a.SupportsMigration())
}

func mustCachePath(t *testing.T, rawURL string) string {
	t.Helper()
	p, err := (&Accessor{}).cachePath(rawURL)
	require.NoError(t, err)
	return p
}
