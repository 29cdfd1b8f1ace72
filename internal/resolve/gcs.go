package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// GCSChecker checks gs: references without authentication.
type GCSChecker struct {
	svc *storage.Service
}

// NewGCSChecker creates an anonymous GCS checker. Extra options, such as an
// endpoint override, are passed to the storage client.
func NewGCSChecker(ctx context.Context, opts ...option.ClientOption) (*GCSChecker, error) {
	opts = append([]option.ClientOption{option.WithoutAuthentication()}, opts...)
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSChecker{svc: svc}, nil
}

// Stat reads the object metadata.
func (c *GCSChecker) Stat(ctx context.Context, ref string) (int64, error) {
	bucket, key := SplitObjectRef(ref)
	obj, err := c.svc.Objects.Get(bucket, key).Context(ctx).Do()
	if err != nil {
		return 0, gcsError(err)
	}
	return int64(obj.Size), nil
}

// Open streams the object content.
func (c *GCSChecker) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key := SplitObjectRef(ref)
	resp, err := c.svc.Objects.Get(bucket, key).Context(ctx).Download()
	if err != nil {
		return nil, gcsError(err)
	}
	return resp.Body, nil
}

func gcsError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusNotFound {
			return ErrObjectNotFound
		}
		return &StatusError{StatusCode: gerr.Code, Err: errors.New(gerr.Message)}
	}
	return err
}
