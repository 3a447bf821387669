package accessor

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/xpod/core/cmn"
)

// S3Backend is an object-store bucket on AWS S3, grounded on the teacher's
// aws-sdk-go direct dependency (go.mod) -- aistore's own AWS backend
// (ais/backend, not included in the retrieval pack's file list) is the same
// idea at a larger scale: one client per bucket, plain GetObject/PutObject.
type S3Backend struct {
	bucket string
	client *s3.S3
}

func NewS3Backend(sess *session.Session, bucket string) *S3Backend {
	return &S3Backend{bucket: bucket, client: s3.New(sess)}
}

func (b *S3Backend) Name() string { return b.bucket }

func (b *S3Backend) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket), Key: aws.String(key),
	})
	if err != nil {
		return nil, 0, translateS3Error(err)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

func (b *S3Backend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return cmn.Wrap(cmn.KindInternal, "read object body", err)
	}
	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket), Key: aws.String(key), Body: bytes.NewReader(buf),
	})
	if err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "s3 put "+key, err)
	}
	return nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket), Key: aws.String(key),
	})
	if err != nil {
		return cmn.Wrap(cmn.KindUpstreamFailure, "s3 delete "+key, err)
	}
	return nil
}

func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket), Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, cmn.Wrap(cmn.KindUpstreamFailure, "s3 list "+prefix, err)
	}
	return keys, nil
}

func translateS3Error(err error) error {
	if aerr, ok := err.(interface{ Code() string }); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket:
			return cmn.Wrap(cmn.KindNotFound, "object not found", err)
		}
	}
	return cmn.Wrap(cmn.KindUpstreamFailure, "s3 get", err)
}
