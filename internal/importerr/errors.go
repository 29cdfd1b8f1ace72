// Package importerr defines the structured error shape shared by every
// validation source of the importer: the transform engine, the record schema
// layer, file and community resolution, and the import orchestrator.
package importerr

import (
	"fmt"
	"strconv"
	"strings"
)

// Well-known error types.
const (
	TypeValidation             = "validation_error"
	TypeMissing                = "missing"
	TypeValue                  = "value_error"
	TypeCSVParse               = "csv_parse_error"
	TypeSerializedNotProvided  = "serialized_record_not_provided"
	TypeSubjectNotMatched      = "subject_not_matched"
	TypeExistingRecordNotFound = "existing_record_not_found"
	TypeCommunityNotProvided   = "community_not_provided"
	TypeCommunityNotFound      = "community_not_found"
	TypeFileNotAccessible      = "file_not_accessible"
	TypeFileNotFound           = "file_not_found"
	TypeFileUpload             = "file_upload_error"
	TypeRecordService          = "record_service_error"
	TypeUnexpected             = "unexpected_error"
)

// Error is a single collected failure. The JSON shape is the wire contract
// for every validation failure.
type Error struct {
	Type string `json:"type"`
	Loc  string `json:"loc"`
	Msg  string `json:"msg"`
}

func (e Error) String() string {
	if e.Loc == "" {
		return e.Type + ": " + e.Msg
	}
	return e.Type + " at " + e.Loc + ": " + e.Msg
}

// List accumulates errors. The zero value is ready to use.
type List []Error

// Add appends an error.
func (l *List) Add(typ, loc, msg string) {
	*l = append(*l, Error{Type: typ, Loc: loc, Msg: msg})
}

// Addf appends an error with a formatted message.
func (l *List) Addf(typ, loc, format string, args ...interface{}) {
	l.Add(typ, loc, fmt.Sprintf(format, args...))
}

// Extend appends all errors of other.
func (l *List) Extend(other List) {
	*l = append(*l, other...)
}

// Empty reports whether no error was collected.
func (l List) Empty() bool {
	return len(l) == 0
}

// HasType reports whether an error of the given type was collected.
func (l List) HasType(typ string) bool {
	for _, e := range l {
		if e.Type == typ {
			return true
		}
	}
	return false
}

// Count returns the number of errors of the given type.
func (l List) Count(typ string) int {
	n := 0
	for _, e := range l {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Types returns the distinct error types in collection order.
func (l List) Types() []string {
	seen := make(map[string]bool, len(l))
	var out []string
	for _, e := range l {
		if !seen[e.Type] {
			seen[e.Type] = true
			out = append(out, e.Type)
		}
	}
	return out
}

// Summary joins all messages, one per line.
func (l List) Summary() string {
	parts := make([]string, 0, len(l))
	for _, e := range l {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, "\n")
}

// Join builds a dotted location path, skipping empty segments.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

// Index appends a list index to a location path.
func Index(prefix string, i int) string {
	return Join(prefix, strconv.Itoa(i))
}
