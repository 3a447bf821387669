package accessor

import (
	"context"
	"io"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/xpod/core/cmn"
)

// AzureBackend is an object-store bucket on Azure Blob Storage, grounded on
// the teacher's azure-storage-blob-go direct dependency (go.mod) -- one of
// aistore's three cloud backends alongside S3 and GCS.
type AzureBackend struct {
	container azblob.ContainerURL
	name      string
}

func NewAzureBackend(containerURL *url.URL, cred azblob.Credential, bucket string) *AzureBackend {
	pipeline := azblob.NewPipeline(cred, azblob.PipelineOptions{})
	return &AzureBackend{container: azblob.NewContainerURL(*containerURL, pipeline), name: bucket}
}

func (b *AzureBackend) Name() string { return b.name }

func (b *AzureBackend) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	blob := b.container.NewBlockBlobURL(key)
	resp, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return nil, 0, cmn.Wrap(cmn.KindNotFound, "object not found", err)
		}
		return nil, 0, cmn.Wrap(cmn.KindUpstreamFailure, "azure download "+key, err)
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	return body, resp.ContentLength(), nil
}

func (b *AzureBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	blob := b.container.NewBlockBlobURL(key)
	_, err := azblob.UploadStreamToBlockBlob(ctx, r, blob, azblob.UploadStreamToBlockBlobOptions{})
	if err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "azure upload "+key, err)
	}
	return nil
}

func (b *AzureBackend) Delete(ctx context.Context, key string) error {
	blob := b.container.NewBlockBlobURL(key)
	_, err := blob.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "azure delete "+key, err)
	}
	return nil
}

func (b *AzureBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := b.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return nil, cmn.Wrap(cmn.KindUpstreamFailure, "azure list "+prefix, err)
		}
		for _, item := range resp.Segment.BlobItems {
			keys = append(keys, item.Name)
		}
		marker = resp.NextMarker
	}
	return keys, nil
}

func isAzureNotFound(err error) bool {
	se, ok := err.(azblob.StorageError)
	return ok && se.ServiceCode() == azblob.ServiceCodeBlobNotFound
}
