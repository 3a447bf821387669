package accessor

import (
	"context"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/xpod/core/cmn"
)

// BuildBucketSet resolves the node's configured bucket specs ("scheme:
// identifier", spec §4.C / §6) into live Backend instances, one S3 session,
// Azure credential, and GCS client shared across every bucket of that
// scheme.
func BuildBucketSet(ctx context.Context, specs map[string]string) (BucketSet, error) {
	out := make(BucketSet, len(specs))

	var s3Sess *session.Session
	var gcsClient *storage.Client

	for name, spec := range specs {
		scheme, identifier, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, cmn.NewError(cmn.KindBadRequest, "malformed bucket spec for "+name+": "+spec)
		}
		switch scheme {
		case "s3":
			if s3Sess == nil {
				sess, err := session.NewSession(aws.NewConfig())
				if err != nil {
					return nil, cmn.Wrap(cmn.KindInternal, "create S3 session", err)
				}
				s3Sess = sess
			}
			out[name] = NewS3Backend(s3Sess, identifier)

		case "azure":
			cred, err := azblob.NewSharedKeyCredential(cmn.AzureAccountName(), cmn.AzureAccountKey())
			if err != nil {
				return nil, cmn.Wrap(cmn.KindInternal, "create azure credential", err)
			}
			containerURL, err := url.Parse("https://" + cmn.AzureAccountName() + ".blob.core.windows.net/" + identifier)
			if err != nil {
				return nil, cmn.Wrap(cmn.KindBadRequest, "parse azure container URL", err)
			}
			out[name] = NewAzureBackend(containerURL, cred, identifier)

		case "gcs":
			if gcsClient == nil {
				client, err := storage.NewClient(ctx)
				if err != nil {
					return nil, cmn.Wrap(cmn.KindInternal, "create GCS client", err)
				}
				gcsClient = client
			}
			out[name] = NewGCSBackend(gcsClient, identifier)

		case "http":
			out[name] = NewHTTPBackend(name, identifier)

		case "mem":
			out[name] = NewMemBackend(identifier)

		default:
			return nil, cmn.NewError(cmn.KindBadRequest, "unknown bucket scheme for "+name+": "+scheme)
		}
	}
	return out, nil
}
