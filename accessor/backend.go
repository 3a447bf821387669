// Package accessor implements the tiered regional storage accessor (spec
// §4.C): an LRU local cache over a bucketed object store with cross-region
// read fallback and optional active-sync replication during migration.
//
// Grounded on the teacher's cluster.BackendProvider abstraction
// (ais/backend/{ais,http}.go): one small interface, one implementation per
// cloud, selected by bucket name rather than by a global "provider" switch.
package accessor

import (
	"context"
	"io"
)

// Backend is a single object-storage bucket client. Every region bucket
// named in spec §4.C configuration (primaryBucket, regionBuckets) is bound
// to exactly one Backend.
type Backend interface {
	// Get streams the object's bytes, or a NotFound-shaped error.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
	// List returns every object key with the given prefix, used by
	// migrateToRegion's bulk-copy phase.
	List(ctx context.Context, prefix string) ([]string, error)
	Name() string
}

// BucketSet resolves a configured bucket name to its Backend. Distinct
// region buckets may be served by different cloud providers (spec §4.C:
// "regionBuckets (map regionTag -> bucketName)") -- e.g. the EU region on
// Azure Blob, the US region on S3.
type BucketSet map[string]Backend

func (bs BucketSet) Get(name string) (Backend, bool) {
	b, ok := bs[name]
	return b, ok
}
