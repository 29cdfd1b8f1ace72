package serializer

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/bulkimport/bulkimport/internal/grouping"
)

// ErrMissingHeader is returned when a source file has no header row.
var ErrMissingHeader = errors.New("missing header")

func loadCSV(r io.Reader) (iter.Seq2[grouping.Row, error], error) {
	br := stripUTF8BOM(bufio.NewReader(r))
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := readHeader(cr)
	if err != nil {
		return nil, err
	}

	return func(yield func(grouping.Row, error) bool) {
		for {
			cells, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var pe *csv.ParseError
				if !errors.As(err, &pe) {
					yield(nil, err)
					return
				}
				if !yield(nil, &RowError{Line: pe.StartLine, Err: pe.Err}) {
					return
				}
				continue
			}
			if blank(cells) {
				continue
			}
			row := make(grouping.Row, len(header))
			for i, name := range header {
				if name == "" {
					continue
				}
				if i < len(cells) {
					row[name] = cells[i]
				} else {
					row[name] = ""
				}
			}
			if !yield(row, nil) {
				return
			}
		}
	}, nil
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

func readHeader(r *csv.Reader) ([]string, error) {
	h, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingHeader
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range h {
		h[i] = strings.TrimSpace(h[i])
		if !utf8.ValidString(h[i]) {
			return nil, fmt.Errorf("invalid header encoding in column %d", i+1)
		}
	}
	if blank(h) {
		return nil, ErrMissingHeader
	}
	return h, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
