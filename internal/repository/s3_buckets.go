package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3BucketAPI is the subset of the S3 client used by S3Buckets.
type S3BucketAPI interface {
	ListObjectsV2PagesWithContext(ctx aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// S3Buckets serves import file buckets as key prefixes of one S3 bucket:
// the object "<bucketID>/<key>" is the file key of bucketID.
type S3Buckets struct {
	api    S3BucketAPI
	bucket string
}

var _ BucketService = (*S3Buckets)(nil)

// NewS3Buckets creates a bucket service over bucket.
func NewS3Buckets(api S3BucketAPI, bucket string) *S3Buckets {
	return &S3Buckets{api: api, bucket: bucket}
}

// ListObjects lists the files of bucketID.
func (b *S3Buckets) ListObjects(ctx context.Context, bucketID string) ([]Object, error) {
	prefix := bucketID + "/"
	var out []Object
	err := b.api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.StringValue(obj.Key), prefix)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, Object{Key: key, Size: aws.Int64Value(obj.Size)})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list bucket %s: %w", bucketID, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// OpenObject streams one file of bucketID.
func (b *S3Buckets) OpenObject(ctx context.Context, bucketID, key string) (io.ReadCloser, error) {
	obj, err := b.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(bucketID + "/" + key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("object %s/%s: %w", bucketID, key, ErrNotFound)
		}
		return nil, fmt.Errorf("open object %s/%s: %w", bucketID, key, err)
	}
	return obj.Body, nil
}

// WriteObject uploads r as the file key of bucketID.
func (b *S3Buckets) WriteObject(ctx context.Context, bucketID, key string, r io.Reader) (Object, error) {
	// PutObject needs a seekable body to sign the payload.
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, fmt.Errorf("read object %s/%s: %w", bucketID, key, err)
	}
	_, err = b.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(bucketID + "/" + key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object %s/%s: %w", bucketID, key, err)
	}
	return Object{Key: key, Size: int64(len(data))}, nil
}
