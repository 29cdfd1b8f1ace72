package resolve

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bulkimport/bulkimport/internal/resilience"
)

// Doer executes HTTP requests.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPChecker checks URL references with a HEAD request and streams them
// with a GET.
type HTTPChecker struct {
	client Doer
	stream Doer
}

// NewHTTPChecker creates a URL checker. check sends the HEAD requests and
// should carry a short timeout; stream downloads the files and must not
// bound the time spent reading a body. A nil check client gets a resilient
// client with default settings, a nil stream client reuses check.
func NewHTTPChecker(check, stream Doer) *HTTPChecker {
	if check == nil {
		check = resilience.NewClient(resilience.DefaultClientConfig("file-url"))
	}
	if stream == nil {
		stream = check
	}
	return &HTTPChecker{client: check, stream: stream}
}

// Stat sends a HEAD request and returns the Content-Length, or -1 when the
// server does not report one.
func (c *HTTPChecker) Stat(ctx context.Context, ref string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.DoWithContext(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return 0, &StatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", http.StatusText(resp.StatusCode))}
	}
	return resp.ContentLength, nil
}

// Open streams a URL reference.
func (c *HTTPChecker) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.stream.DoWithContext(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", http.StatusText(resp.StatusCode))}
	}
	return resp.Body, nil
}
