package invenio

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/repository"
)

// Submit attaches a community submission review to a draft and submits it.
func (c *Client) Submit(ctx context.Context, draftID, communityID string) (string, error) {
	review := map[string]any{
		"type":     "community-submission",
		"receiver": map[string]string{"community": communityID},
	}
	if err := c.call(ctx, http.MethodPut, recordPath(draftID, "/draft/review"), review, nil); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	body := map[string]any{"payload": map[string]string{"content": ""}}
	if err := c.call(ctx, http.MethodPost, recordPath(draftID, "/draft/actions/submit-review"), body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Include requests inclusion of a published record in a community.
func (c *Client) Include(ctx context.Context, recordID, communityID string) (string, error) {
	body := map[string]any{
		"communities": []map[string]string{{"id": communityID}},
	}
	var out struct {
		Processed []struct {
			RequestID string `json:"request_id"`
		} `json:"processed"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := c.call(ctx, http.MethodPost, recordPath(recordID, "/communities"), body, &out); err != nil {
		return "", err
	}
	if len(out.Errors) > 0 {
		return "", errors.New("invenio: " + out.Errors[0].Message)
	}
	if len(out.Processed) == 0 {
		return "", errors.New("invenio: inclusion request was not created")
	}
	return out.Processed[0].RequestID, nil
}

// Accept accepts a request.
func (c *Client) Accept(ctx context.Context, requestID string) error {
	path := "/api/requests/" + url.PathEscape(requestID) + "/actions/accept"
	return c.call(ctx, http.MethodPost, path, map[string]any{}, nil)
}

// ReadCommunity looks a community up by slug or id.
func (c *Client) ReadCommunity(ctx context.Context, slugOrID string) (*repository.Community, error) {
	var out struct {
		ID       string `json:"id"`
		Slug     string `json:"slug"`
		Metadata struct {
			Title string `json:"title"`
		} `json:"metadata"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/communities/"+url.PathEscape(slugOrID), nil, &out); err != nil {
		return nil, err
	}
	return &repository.Community{ID: out.ID, Slug: out.Slug, Title: out.Metadata.Title}, nil
}

// SearchSubjects returns the subjects of scheme whose label equals subject.
func (c *Client) SearchSubjects(ctx context.Context, subject, scheme string) ([]record.Subject, error) {
	query := url.Values{}
	query.Set("q", `subject:"`+subject+`"`)
	query.Set("size", "25")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/subjects", query), http.NoBody)
	if err != nil {
		return nil, err
	}
	var out struct {
		Hits struct {
			Hits []struct {
				ID      string `json:"id"`
				Subject string `json:"subject"`
				Scheme  string `json:"scheme"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := c.send(c.http, req, &out); err != nil {
		return nil, err
	}

	var subjects []record.Subject
	for _, h := range out.Hits.Hits {
		if h.Scheme == scheme && strings.EqualFold(h.Subject, subject) {
			subjects = append(subjects, record.Subject{ID: h.ID, Subject: h.Subject})
		}
	}
	return subjects, nil
}
