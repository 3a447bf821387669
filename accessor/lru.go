package accessor

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xpod/core/cmn"
	"github.com/xpod/core/metrics"
)

// cacheEntry is the cache entry of spec §3: keyed by canonicalized local
// file path, tracking size and lastAccess.
type cacheEntry struct {
	size       int64
	lastAccess time.Time
}

// cacheTracker is the per-process in-memory LRU tracker (spec §3, §5: "a
// per-process in-memory map; all mutations are contained in non-suspending
// critical sections so eviction cannot race with size accounting").
type cacheTracker struct {
	mu          sync.Mutex
	entries     map[string]*cacheEntry
	currentSize int64
}

func newCacheTracker() *cacheTracker {
	return &cacheTracker{entries: make(map[string]*cacheEntry)}
}

func (t *cacheTracker) touch(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[path]
	if !ok {
		return false
	}
	e.lastAccess = time.Now()
	return true
}

func (t *cacheTracker) add(path string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries[path]; ok {
		t.currentSize -= old.size
	}
	t.entries[path] = &cacheEntry{size: size, lastAccess: time.Now()}
	t.currentSize += size
}

func (t *cacheTracker) remove(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[path]; ok {
		t.currentSize -= e.size
		delete(t.entries, path)
	}
}

func (t *cacheTracker) contains(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[path]
	return ok
}

func (t *cacheTracker) size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentSize
}

// ascendingByLastAccess returns the tracked paths ordered oldest lastAccess
// first, for eviction, without holding the lock across file-deletion I/O.
func (t *cacheTracker) ascendingByLastAccess() []string {
	t.mu.Lock()
	type kv struct {
		path string
		la   time.Time
	}
	all := make([]kv, 0, len(t.entries))
	for p, e := range t.entries {
		all = append(all, kv{p, e.lastAccess})
	}
	t.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].la.Before(all[j].la) })
	paths := make([]string, len(all))
	for i, e := range all {
		paths[i] = e.path
	}
	return paths
}

// coldStart recursively scans dir to populate the tracker from existing
// files' size and mtime, continuing past per-file errors (spec §4.C
// "Cold-start").
func (t *cacheTracker) coldStart(dir string) {
	log := cmn.Component("accessor")
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("cache cold-start: skipping entry")
			return nil
		}
		if info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(dir, path)
		if rerr != nil {
			return nil
		}
		t.mu.Lock()
		t.entries[rel] = &cacheEntry{size: info.Size(), lastAccess: info.ModTime()}
		t.currentSize += info.Size()
		t.mu.Unlock()
		return nil
	})
}

// evict runs the hysteresis eviction named in spec §4.C: triggered after
// every add; no-op if currentSize <= max; otherwise deletes oldest-touched
// files one at a time until currentSize <= 0.8*max.
func (t *cacheTracker) evict(cacheDir string, maxBytes int64) {
	if t.size() <= maxBytes {
		return
	}
	lowWater := int64(float64(maxBytes) * cmn.EvictionLowWater)
	log := cmn.Component("accessor")
	for _, path := range t.ascendingByLastAccess() {
		if t.size() <= lowWater {
			return
		}
		full := filepath.Join(cacheDir, path)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", full).Msg("lru eviction: skipping entry")
			continue
		}
		t.remove(path)
		metrics.AccessorEvictionsTotal.Inc()
	}
}
