package invenio

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// InitFiles registers file keys on a draft.
func (c *Client) InitFiles(ctx context.Context, draftID string, keys []string) error {
	body := make([]map[string]string, 0, len(keys))
	for _, k := range keys {
		body = append(body, map[string]string{"key": k})
	}
	return c.call(ctx, http.MethodPost, recordPath(draftID, "/draft/files"), body, nil)
}

// SetContent uploads the content of a registered file.
func (c *Client) SetContent(ctx context.Context, draftID, key string, r io.Reader, size int64) error {
	path := recordPath(draftID, "/draft/files/", url.PathEscape(key), "/content")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint(path, nil), r)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.send(c.upload, req, nil)
}

// CommitFile completes an upload.
func (c *Client) CommitFile(ctx context.Context, draftID, key string) error {
	path := recordPath(draftID, "/draft/files/", url.PathEscape(key), "/commit")
	return c.call(ctx, http.MethodPost, path, nil, nil)
}
