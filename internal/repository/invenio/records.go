package invenio

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/bulkimport/bulkimport/internal/record"
	"github.com/bulkimport/bulkimport/internal/repository"
)

// apiRecord is a record or draft as serialized by the records API.
type apiRecord struct {
	ID     string `json:"id"`
	Parent struct {
		ID          string `json:"id"`
		Communities struct {
			IDs []string `json:"ids"`
		} `json:"communities"`
	} `json:"parent"`
	Versions struct {
		Index int `json:"index"`
	} `json:"versions"`
	RevisionID   int                    `json:"revision_id"`
	IsPublished  bool                   `json:"is_published"`
	Access       record.Access          `json:"access"`
	Metadata     record.Metadata        `json:"metadata"`
	CustomFields map[string]interface{} `json:"custom_fields,omitempty"`
	PIDs         map[string]record.PID  `json:"pids,omitempty"`
	Files        apiFilesOptions        `json:"files"`
}

type apiFilesOptions struct {
	Enabled bool                    `json:"enabled"`
	Entries map[string]apiFileEntry `json:"entries,omitempty"`
}

type apiFileEntry struct {
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	Status string `json:"status"`
}

func (r *apiRecord) draft() *repository.Draft {
	d := &repository.Draft{
		ID:       r.ID,
		ParentID: r.Parent.ID,
		Record: record.Record{
			Access:       r.Access,
			Metadata:     r.Metadata,
			CustomFields: r.CustomFields,
			PIDs:         r.PIDs,
			Files:        record.FilesOptions{Enabled: r.Files.Enabled},
		},
		VersionIndex: r.Versions.Index,
		RevisionID:   r.RevisionID,
		Published:    r.IsPublished,
		Communities:  r.Parent.Communities.IDs,
	}
	for key, f := range r.Files.Entries {
		if f.Key == "" {
			f.Key = key
		}
		d.Files = append(d.Files, f.entry())
	}
	sort.Slice(d.Files, func(i, j int) bool { return d.Files[i].Key < d.Files[j].Key })
	return d
}

func (f apiFileEntry) entry() repository.FileEntry {
	return repository.FileEntry{Key: f.Key, Size: f.Size, Committed: f.Status == "completed"}
}

func recordPath(id string, parts ...string) string {
	return "/api/records/" + url.PathEscape(id) + strings.Join(parts, "")
}

func (c *Client) decodeDraft(ctx context.Context, method, path string, in any) (*repository.Draft, error) {
	var out apiRecord
	if err := c.call(ctx, method, path, in, &out); err != nil {
		return nil, err
	}
	return out.draft(), nil
}

// Create starts a new record draft.
func (c *Client) Create(ctx context.Context, rec record.Record) (*repository.Draft, error) {
	d, err := c.decodeDraft(ctx, http.MethodPost, "/api/records", rec)
	if err != nil {
		return nil, err
	}
	journalFrom(ctx).add(d.ID)
	return d, nil
}

// Read returns a published record.
func (c *Client) Read(ctx context.Context, id string) (*repository.Draft, error) {
	return c.decodeDraft(ctx, http.MethodGet, recordPath(id), nil)
}

// ReadDraft returns the pending draft of a record.
func (c *Client) ReadDraft(ctx context.Context, id string) (*repository.Draft, error) {
	d, err := c.decodeDraft(ctx, http.MethodGet, recordPath(id, "/draft"), nil)
	if err != nil {
		return nil, err
	}
	return c.withFiles(ctx, d)
}

// Edit opens a draft of a published record.
func (c *Client) Edit(ctx context.Context, id string) (*repository.Draft, error) {
	d, err := c.decodeDraft(ctx, http.MethodPost, recordPath(id, "/draft"), nil)
	if err != nil {
		return nil, err
	}
	journalFrom(ctx).add(d.ID)
	return c.withFiles(ctx, d)
}

// NewVersion opens a draft for the next version of a published record.
func (c *Client) NewVersion(ctx context.Context, id string) (*repository.Draft, error) {
	d, err := c.decodeDraft(ctx, http.MethodPost, recordPath(id, "/versions"), nil)
	if err != nil {
		return nil, err
	}
	journalFrom(ctx).add(d.ID)
	return d, nil
}

// UpdateDraft replaces the payload of a draft.
func (c *Client) UpdateDraft(ctx context.Context, id string, rec record.Record) (*repository.Draft, error) {
	return c.decodeDraft(ctx, http.MethodPut, recordPath(id, "/draft"), rec)
}

// ReserveDOI reserves a DOI for a draft.
func (c *Client) ReserveDOI(ctx context.Context, id string) (string, error) {
	var out struct {
		PIDs map[string]record.PID `json:"pids"`
	}
	err := c.call(ctx, http.MethodPost, recordPath(id, "/draft/pids/", record.PIDSchemeDOI), nil, &out)
	if err != nil {
		return "", err
	}
	return out.PIDs[record.PIDSchemeDOI].Identifier, nil
}

// Publish publishes a draft.
func (c *Client) Publish(ctx context.Context, id string) (*repository.Draft, error) {
	return c.decodeDraft(ctx, http.MethodPost, recordPath(id, "/draft/actions/publish"), nil)
}

// Delete removes a published record, leaving a tombstone with note.
func (c *Client) Delete(ctx context.Context, id, note string) error {
	body := map[string]any{
		"removal_reason": map[string]string{"id": "other"},
		"note":           note,
	}
	return c.call(ctx, http.MethodPost, recordPath(id, "/delete"), body, nil)
}

func (c *Client) discardDraft(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, recordPath(id, "/draft"), nil, nil)
}

func (c *Client) withFiles(ctx context.Context, d *repository.Draft) (*repository.Draft, error) {
	var out struct {
		Entries []apiFileEntry `json:"entries"`
	}
	if err := c.call(ctx, http.MethodGet, recordPath(d.ID, "/draft/files"), nil, &out); err != nil {
		return nil, err
	}
	d.Files = d.Files[:0]
	for _, f := range out.Entries {
		d.Files = append(d.Files, f.entry())
	}
	return d, nil
}
