// Package invenio talks to an InvenioRDM instance over its REST API.
package invenio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/repository"
)

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the InvenioRDM client.
type Config struct {
	// BaseURL of the instance, e.g. https://inveniordm.example.org.
	BaseURL string

	// Token is a personal access token sent as a bearer token.
	Token string

	// HTTP sends the requests. Use a resilience.Client in production.
	HTTP Doer

	// Upload sends file contents. It must not bound the time spent on a
	// request body. Defaults to HTTP.
	Upload Doer

	Logger zerolog.Logger
}

// Client is a repository.Platform backed by the InvenioRDM REST API. The
// file bucket of an import is served separately, see repository.S3Buckets.
type Client struct {
	base   *url.URL
	token  string
	http   Doer
	upload Doer
	logger zerolog.Logger
}

var (
	_ repository.RecordService     = (*Client)(nil)
	_ repository.FileService       = (*Client)(nil)
	_ repository.ReviewService     = (*Client)(nil)
	_ repository.CommunityService  = (*Client)(nil)
	_ repository.VocabularyService = (*Client)(nil)
	_ repository.UnitOfWork        = (*Client)(nil)

	_ importerr.Detailed = (*APIError)(nil)
)

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("invenio base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse invenio base url: %w", err)
	}
	if cfg.HTTP == nil {
		cfg.HTTP = http.DefaultClient
	}
	if cfg.Upload == nil {
		cfg.Upload = cfg.HTTP
	}
	return &Client{base: base, token: cfg.Token, http: cfg.HTTP, upload: cfg.Upload, logger: cfg.Logger}, nil
}

// APIError is a non-success response of the API.
type APIError struct {
	StatusCode int
	Message    string
	// Fields holds the field-level validation failures of a rejected
	// record, flattened into dotted locations.
	Fields importerr.List
}

// Details returns the field-level failures.
func (e *APIError) Details() importerr.List {
	return e.Fields
}

// errorBody is the JSON body of a failed request.
type errorBody struct {
	Message string `json:"message"`
	Errors  []struct {
		Field    string      `json:"field"`
		Messages interface{} `json:"messages"`
	} `json:"errors"`
}

func (b errorBody) fields() importerr.List {
	var out importerr.List
	for _, fe := range b.Errors {
		out.Extend(importerr.Flatten(fe.Messages, fe.Field, importerr.TypeRecordService))
	}
	return out
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("invenio: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("invenio: %s: %s", http.StatusText(e.StatusCode), e.Message)
}

// Unwrap maps well-known statuses onto the repository errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return repository.ErrNotFound
	case http.StatusGone:
		return repository.ErrDeleted
	case http.StatusConflict:
		return repository.ErrConflict
	}
	return nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// call sends a JSON request and decodes the JSON response into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, nil), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(c.http, req, out)
}

func (c *Client) send(doer Doer, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := doer.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload errorBody
		if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); readErr == nil {
			if json.Unmarshal(raw, &payload) == nil {
				apiErr.Message = payload.Message
				apiErr.Fields = payload.fields()
			}
		}
		c.logger.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Str("message", apiErr.Message).
			Int("field_errors", len(apiErr.Fields)).
			Msg("invenio request failed")
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
