package accessor

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xpod/core/cmn"
)

// MemBackend is an in-process bucket used by tests and by single-binary
// deployments that do not (yet) have a cloud bucket configured.
type MemBackend struct {
	name string
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemBackend(name string) *MemBackend {
	return &MemBackend{name: name, data: make(map[string][]byte)}
}

func (b *MemBackend) Name() string { return b.name }

func (b *MemBackend) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, 0, cmn.NotFoundf("object %s", key)
	}
	return io.NopCloser(bytes.NewReader(v)), int64(len(v)), nil
}

func (b *MemBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return cmn.Wrap(cmn.KindInternal, "read put body", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = buf
	return nil
}

func (b *MemBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *MemBackend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
