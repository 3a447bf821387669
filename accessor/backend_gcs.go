package accessor

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/xpod/core/cmn"
	"google.golang.org/api/iterator"
)

// GCSBackend is an object-store bucket on Google Cloud Storage, grounded on
// the teacher's cloud.google.com/go/storage direct dependency (go.mod).
type GCSBackend struct {
	bucket *storage.BucketHandle
	name   string
}

func NewGCSBackend(client *storage.Client, bucket string) *GCSBackend {
	return &GCSBackend{bucket: client.Bucket(bucket), name: bucket}
}

func (b *GCSBackend) Name() string { return b.name }

func (b *GCSBackend) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	r, err := b.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, cmn.Wrap(cmn.KindNotFound, "object not found", err)
		}
		return nil, 0, cmn.Wrap(cmn.KindUpstreamFailure, "gcs get "+key, err)
	}
	return r, r.Attrs.Size, nil
}

func (b *GCSBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	w := b.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return cmn.Wrap(cmn.KindUpstreamFailure, "gcs put "+key, err)
	}
	if err := w.Close(); err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "gcs put close "+key, err)
	}
	return nil
}

func (b *GCSBackend) Delete(ctx context.Context, key string) error {
	if err := b.bucket.Object(key).Delete(ctx); err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "gcs delete "+key, err)
	}
	return nil
}

func (b *GCSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, cmn.Wrap(cmn.KindUpstreamFailure, "gcs list "+prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
