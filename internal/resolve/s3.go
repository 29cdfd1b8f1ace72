package resolve

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3API is the subset of the S3 client used by S3Checker.
type S3API interface {
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error)
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
}

// S3Checker checks s3: references with anonymous credentials.
type S3Checker struct {
	api S3API
}

// NewS3Checker creates an anonymous S3 checker for region.
func NewS3Checker(region string) (*S3Checker, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.AnonymousCredentials,
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &S3Checker{api: s3.New(sess)}, nil
}

// NewS3CheckerWithAPI creates a checker around an existing client.
func NewS3CheckerWithAPI(api S3API) *S3Checker {
	return &S3Checker{api: api}
}

// Stat issues a HeadObject call.
func (c *S3Checker) Stat(ctx context.Context, ref string) (int64, error) {
	bucket, key := SplitObjectRef(ref)
	out, err := c.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, s3Error(err)
	}
	return aws.Int64Value(out.ContentLength), nil
}

// Open streams an S3 object.
func (c *S3Checker) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key := SplitObjectRef(ref)
	out, err := c.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error(err)
	}
	return out.Body, nil
}

func s3Error(err error) error {
	if rf, ok := err.(awserr.RequestFailure); ok {
		return &StatusError{StatusCode: rf.StatusCode(), Err: fmt.Errorf("%s: %s", rf.Code(), rf.Message())}
	}
	return err
}
