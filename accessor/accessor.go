package accessor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xpod/core/cmn"
	"github.com/xpod/core/metrics"
)

// Config is the tiered accessor configuration of spec §4.C.
type Config struct {
	PrimaryBucket string
	LocalCacheDir string
	CacheMaxBytes int64
	Region        string
	RegionBuckets map[string]string // regionTag -> bucket name
}

// ProgressFunc is invoked by MigrateToRegion before each object copy (spec
// §4.C: "the engine checks the flag (a) before each object copy"). Returning
// false aborts the migration before that object is copied.
type ProgressFunc func(copied, total int, bytesTransferred int64) bool

type syncTarget struct {
	prefix       string
	targetRegion string
}

// Accessor is the tiered regional storage accessor of spec §4.C.
type Accessor struct {
	cfg     Config
	buckets BucketSet // bucket name -> Backend
	cache   *cacheTracker

	syncMu  sync.RWMutex
	syncs   []syncTarget
}

func New(cfg Config, buckets BucketSet) (*Accessor, error) {
	if _, ok := buckets[cfg.PrimaryBucket]; !ok {
		return nil, cmn.NewError(cmn.KindBadRequest, "primary bucket not present in bucket set: "+cfg.PrimaryBucket)
	}
	a := &Accessor{cfg: cfg, buckets: buckets, cache: newCacheTracker()}
	if cfg.LocalCacheDir != "" {
		a.cache.coldStart(cfg.LocalCacheDir)
	}
	return a, nil
}

func (a *Accessor) primary() Backend {
	b, _ := a.buckets.Get(a.cfg.PrimaryBucket)
	return b
}

func (a *Accessor) cachePath(id string) (string, error) {
	rel, err := cmn.CanonicalCachePath(id)
	if err != nil {
		return "", cmn.Wrap(cmn.KindBadRequest, "canonicalize cache path", err)
	}
	return rel, nil
}

// SupportsMigration reports whether this accessor was configured with a
// region and non-empty regionBuckets (spec §4.C, consumed by §4.E).
func (a *Accessor) SupportsMigration() bool {
	return a.cfg.Region != "" && len(a.cfg.RegionBuckets) > 0
}

func (a *Accessor) fallbackBuckets() []Backend {
	var out []Backend
	for region, name := range a.cfg.RegionBuckets {
		if region == a.cfg.Region {
			continue
		}
		if b, ok := a.buckets.Get(name); ok && b.Name() != a.cfg.PrimaryBucket {
			out = append(out, b)
		}
	}
	return out
}

// GetData implements the read path of spec §4.C.
func (a *Accessor) GetData(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	log := cmn.Component("accessor")
	rel, err := a.cachePath(id)
	if err != nil {
		return nil, 0, err
	}
	full := filepath.Join(a.cfg.LocalCacheDir, rel)

	if a.cache.contains(rel) {
		if f, err := os.Open(full); err == nil {
			a.cache.touch(rel)
			metrics.AccessorCacheHits.Inc()
			info, _ := f.Stat()
			size := int64(0)
			if info != nil {
				size = info.Size()
			}
			return f, size, nil
		}
		// tracker/filesystem drifted apart; fall through to a re-fetch.
		a.cache.remove(rel)
	}
	metrics.AccessorCacheMisses.Inc()

	body, size, primErr := a.primary().Get(ctx, id)
	if primErr == nil {
		return a.cacheAndReturn(rel, full, body, size, "")
	}

	if !a.SupportsMigration() {
		return nil, 0, primErr
	}
	for _, fb := range a.fallbackBuckets() {
		body, size, err = fb.Get(ctx, id)
		if err == nil {
			rc, n, cerr := a.cacheAndReturn(rel, full, body, size, fb.Name())
			if cerr != nil {
				return nil, 0, cerr
			}
			metrics.AccessorFallbackHits.WithLabelValues(fb.Name()).Inc()
			log.Info().Str("id", id).Str("bucket", fb.Name()).Msg("served from fallback bucket, scheduling lazy repatriation")
			go a.lazyRepatriate(id, fb.Name())
			return rc, n, nil
		}
	}
	return nil, 0, cmn.NewError(cmn.KindNotFound, "object not found in primary or any fallback bucket: "+id)
}

// cacheAndReturn writes the fetched bytes to the cache file, adds the entry
// to the LRU tracker, triggers eviction, and returns a stream over the
// bytes (spec §4.C step 5) -- without awaiting anything the caller doesn't
// need (the fallback-copy scheduling happens in the caller).
func (a *Accessor) cacheAndReturn(rel, full string, body io.ReadCloser, size int64, _ string) (io.ReadCloser, int64, error) {
	defer body.Close()
	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, 0, cmn.Wrap(cmn.KindInternal, "read object body", err)
	}
	if err := a.writeCacheFile(rel, full, buf); err != nil {
		cmn.Component("accessor").Warn().Err(err).Str("path", full).Msg("cache write failed, serving uncached")
		return io.NopCloser(bytes.NewReader(buf)), int64(len(buf)), nil
	}
	return io.NopCloser(bytes.NewReader(buf)), int64(len(buf)), nil
}

func (a *Accessor) writeCacheFile(rel, full string, buf []byte) error {
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(full, buf, 0o644); err != nil {
		return err
	}
	a.cache.add(rel, int64(len(buf)))
	a.cache.evict(a.cfg.LocalCacheDir, a.cfg.CacheMaxBytes)
	metrics.AccessorCacheBytes.Set(float64(a.cache.size()))
	return nil
}

// lazyRepatriate copies bytes served from a fallback bucket back into the
// primary bucket in the background (spec §4.C step 6: "the user-visible
// response must not await this").
func (a *Accessor) lazyRepatriate(id, fromBucket string) {
	log := cmn.Component("accessor")
	ctx := context.Background()
	src, ok := a.buckets.Get(fromBucket)
	if !ok {
		return
	}
	body, size, err := src.Get(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("id", id).Msg("lazy repatriation: re-read failed")
		return
	}
	defer body.Close()
	if err := a.primary().Put(ctx, id, body, size); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("lazy repatriation: primary write failed")
	}
}

// WriteDocument implements the write path of spec §4.C.
func (a *Accessor) WriteDocument(ctx context.Context, id string, r io.Reader, size int64) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return cmn.Wrap(cmn.KindInternal, "drain write stream", err)
	}
	if err := a.primary().Put(ctx, id, bytes.NewReader(buf), int64(len(buf))); err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "primary put "+id, err)
	}

	log := cmn.Component("accessor")
	rel, cerr := a.cachePath(id)
	if cerr == nil {
		full := filepath.Join(a.cfg.LocalCacheDir, rel)
		if a.cache.contains(rel) {
			a.cache.remove(rel)
		}
		if werr := a.writeCacheFile(rel, full, buf); werr != nil {
			log.Warn().Err(werr).Str("id", id).Msg("cache write failed, swallowed")
		}
	}

	// Active-sync write-fanout (spec §4.C, §2 component table): each sync
	// target is written independently and best-effort, so the targets are
	// fanned out concurrently rather than paid for one at a time.
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range a.activeSyncTargetsFor(id) {
		st := st
		bucketName, ok := a.cfg.RegionBuckets[st.targetRegion]
		if !ok {
			continue
		}
		target, ok := a.buckets.Get(bucketName)
		if !ok || target.Name() == a.cfg.PrimaryBucket {
			continue
		}
		g.Go(func() error {
			if err := target.Put(gctx, id, bytes.NewReader(buf), int64(len(buf))); err != nil {
				log.Warn().Err(err).Str("id", id).Str("target", bucketName).Msg("active-sync write failed, will catch up on next bulk pass")
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// DeleteResource implements the delete path of spec §4.C: symmetric to write.
func (a *Accessor) DeleteResource(ctx context.Context, id string) error {
	if err := a.primary().Delete(ctx, id); err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "primary delete "+id, err)
	}
	log := cmn.Component("accessor")
	if rel, err := a.cachePath(id); err == nil && a.cache.contains(rel) {
		full := filepath.Join(a.cfg.LocalCacheDir, rel)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", full).Msg("cache delete failed, swallowed")
		}
		a.cache.remove(rel)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range a.activeSyncTargetsFor(id) {
		st := st
		bucketName, ok := a.cfg.RegionBuckets[st.targetRegion]
		if !ok {
			continue
		}
		target, ok := a.buckets.Get(bucketName)
		if !ok || target.Name() == a.cfg.PrimaryBucket {
			continue
		}
		g.Go(func() error {
			if err := target.Delete(gctx, id); err != nil {
				log.Warn().Err(err).Str("id", id).Str("target", bucketName).Msg("active-sync delete failed, swallowed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// GetMetadata, GetChildren, WriteContainer are thin object-store
// passthroughs (spec §4.C); they carry no cache/fallback logic of their
// own.
func (a *Accessor) GetMetadata(ctx context.Context, id string) (map[string]string, error) {
	_, size, err := a.primary().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]string{"size": fmt.Sprintf("%d", size)}, nil
}

func (a *Accessor) GetChildren(ctx context.Context, containerID string) ([]string, error) {
	prefix := strings.TrimSuffix(containerID, "/") + "/"
	return a.primary().List(ctx, prefix)
}

func (a *Accessor) WriteContainer(ctx context.Context, id string, meta map[string]string) error {
	return a.primary().Put(ctx, id+"/.meta", strings.NewReader(""), 0)
}

// CurrentCacheSize exposes the tracker invariant checked by §8 property 3.
func (a *Accessor) CurrentCacheSize() int64 { return a.cache.size() }

// activeSyncTargetsFor returns every registered sync target whose prefix
// covers id.
func (a *Accessor) activeSyncTargetsFor(id string) []syncTarget {
	a.syncMu.RLock()
	defer a.syncMu.RUnlock()
	var out []syncTarget
	for _, st := range a.syncs {
		if strings.HasPrefix(id, st.prefix) {
			out = append(out, st)
		}
	}
	return out
}

// SetupRealtimeSync registers an active-sync entry consulted on every
// write/delete (spec §4.C migration API).
func (a *Accessor) SetupRealtimeSync(prefix, targetRegion string) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()
	a.syncs = append(a.syncs, syncTarget{prefix: prefix, targetRegion: targetRegion})
}

func (a *Accessor) StopRealtimeSync(prefix, targetRegion string) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()
	out := a.syncs[:0]
	for _, st := range a.syncs {
		if st.prefix == prefix && st.targetRegion == targetRegion {
			continue
		}
		out = append(out, st)
	}
	a.syncs = out
}

// MigrateToRegion lists every object in the primary bucket under prefix and
// copies each to regionBuckets[targetRegion] (spec §4.C migration API). Each
// copy is a Get from the primary followed by a Put to the target, so the
// bytes pass through this process; no server-side copy is used. A no-op if source and target bucket coincide. Any
// per-object failure aborts the migration.
func (a *Accessor) MigrateToRegion(ctx context.Context, prefix, targetRegion string, onProgress ProgressFunc) error {
	bucketName, ok := a.cfg.RegionBuckets[targetRegion]
	if !ok {
		return cmn.NewError(cmn.KindBadRequest, "unknown target region: "+targetRegion)
	}
	target, ok := a.buckets.Get(bucketName)
	if !ok {
		return cmn.NewError(cmn.KindBadRequest, "target bucket not configured: "+bucketName)
	}
	if target.Name() == a.cfg.PrimaryBucket {
		return nil // source and target coincide: no-op
	}

	keys, err := a.primary().List(ctx, prefix)
	if err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "list primary bucket for migration", err)
	}

	var copied int
	var bytesTransferred int64
	for _, key := range keys {
		if onProgress != nil && !onProgress(copied, len(keys), bytesTransferred) {
			return cmn.NewError(cmn.KindCancelled, "migration cancelled before copying "+key)
		}
		body, size, err := a.primary().Get(ctx, key)
		if err != nil {
			return cmn.Wrap(cmn.KindUpstreamFailure, "migration read "+key, err)
		}
		err = target.Put(ctx, key, body, size)
		body.Close()
		if err != nil {
			return cmn.Wrap(cmn.KindUpstreamFailure, "migration write "+key, err)
		}
		copied++
		bytesTransferred += size
	}
	if onProgress != nil {
		onProgress(copied, len(keys), bytesTransferred)
	}
	return nil
}
