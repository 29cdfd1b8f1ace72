// Package serializer turns rows of an uploaded source file into structured
// record payloads. Each serializer owns its source format: it loads rows
// from a stream and transforms one row at a time.
package serializer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"

	"github.com/bulkimport/bulkimport/internal/grouping"
	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/record"
)

// ErrUnknownSerializer is returned when a serializer name is not registered.
var ErrUnknownSerializer = errors.New("unknown serializer")

// Data is the output of a transform: the record payload plus the side
// channel of the row, i.e. its declared id, files and communities.
type Data struct {
	ID          string        `json:"id,omitempty"`
	Files       []string      `json:"files"`
	Communities []string      `json:"communities"`
	Record      record.Record `json:"record"`
}

// SideChannel holds the entries of a row that are not part of the record
// payload.
type SideChannel struct {
	ID          string
	Files       []string
	Communities []string
}

// Split separates the side channel from the record payload. The returned
// record is a copy and never carries side-channel entries.
func (d *Data) Split() (SideChannel, record.Record) {
	side := SideChannel{
		ID:          d.ID,
		Files:       append([]string(nil), d.Files...),
		Communities: append([]string(nil), d.Communities...),
	}
	return side, d.Record
}

// RowError is a row the loader could not decode. Other rows stay readable.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Serializer loads and transforms rows of one source format.
type Serializer interface {
	// Name identifies the serializer in task configuration.
	Name() string
	// Load reads the header of r and returns the remaining rows. A failing
	// header aborts loading. Undecodable rows are yielded as *RowError.
	Load(r io.Reader) (iter.Seq2[grouping.Row, error], error)
	// Transform converts one row. Errors are returned collected, never
	// raised; a non-empty list means the row failed.
	Transform(ctx context.Context, row grouping.Row, mode record.Mode) (*Data, importerr.List)
}

// Registry looks serializers up by name.
type Registry struct {
	serializers map[string]Serializer
}

// NewRegistry creates a registry holding the given serializers.
func NewRegistry(serializers ...Serializer) *Registry {
	r := &Registry{serializers: make(map[string]Serializer, len(serializers))}
	for _, s := range serializers {
		r.serializers[s.Name()] = s
	}
	return r
}

// Get returns the serializer registered under name.
func (r *Registry) Get(name string) (Serializer, error) {
	s, ok := r.serializers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSerializer, name)
	}
	return s, nil
}

// Names returns the registered serializer names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.serializers))
	for n := range r.serializers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
