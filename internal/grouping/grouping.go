// Package grouping reconstructs repeated and nested structures from a flat
// tabular row whose cells join several values with delimiters.
//
// A cell holding "a\nb" under column "creators.name" contributes "a" to the
// first creator and "b" to the second. Within one item a cell may be split
// again on ";" to describe a nested list such as a creator's affiliations.
package grouping

import (
	"sort"
	"strings"
)

const (
	// ItemSeparator separates the items of a repeated field.
	ItemSeparator = "\n"
	// SubItemSeparator separates the entries of a nested list inside one item.
	SubItemSeparator = ";"
)

// Row is one source row, keyed by column header.
type Row map[string]string

// Get returns the trimmed value of a column, or "" when absent.
func (r Row) Get(column string) string {
	return strings.TrimSpace(r[column])
}

// List splits a column into its trimmed, non-blank items.
func (r Row) List(column string) []string {
	return splitNonBlank(r[column], ItemSeparator)
}

// Columns returns the sorted columns under prefix, i.e. the headers that
// start with "prefix.".
func (r Row) Columns(prefix string) []string {
	p := prefix + "."
	var cols []string
	for k := range r {
		if strings.HasPrefix(k, p) {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	return cols
}

// HasAny reports whether any of the given columns holds a non-blank value.
func (r Row) HasAny(columns ...string) bool {
	for _, c := range columns {
		if r.Get(c) != "" {
			return true
		}
	}
	return false
}

// Item is one reconstructed entry of a repeated field. Keys are the column
// suffixes after the prefix, values are trimmed and never blank.
type Item map[string]string

// Get returns the value for key, or "".
func (it Item) Get(key string) string {
	return it[key]
}

// Has reports whether the item carries a value for key.
func (it Item) Has(key string) bool {
	_, ok := it[key]
	return ok
}

// Group rebuilds the items of the repeated field named prefix.
//
// Every column "prefix.<key>" is split on ItemSeparator. The number of items
// is the longest split across the columns. Item i takes the i-th value of
// each column, keyed by <key>; blank and missing values are left out, and
// items left without any value are dropped.
func Group(row Row, prefix string) []Item {
	return group(row, prefix, ItemSeparator)
}

// Nested rebuilds a nested list stored inside an item, such as the
// "affiliations.id" and "affiliations.name" keys of one creator, splitting
// on SubItemSeparator.
func Nested(item Item, prefix string) []Item {
	return group(Row(item), prefix, SubItemSeparator)
}

func group(row Row, prefix, sep string) []Item {
	cols := row.Columns(prefix)
	if len(cols) == 0 {
		return nil
	}

	split := make(map[string][]string, len(cols))
	n := 0
	for _, col := range cols {
		raw := row[col]
		if strings.TrimSpace(raw) == "" {
			continue
		}
		values := strings.Split(raw, sep)
		split[col] = values
		if len(values) > n {
			n = len(values)
		}
	}

	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		item := Item{}
		for _, col := range cols {
			values := split[col]
			if i >= len(values) {
				continue
			}
			v := strings.TrimSpace(values[i])
			if v == "" {
				continue
			}
			item[strings.TrimPrefix(col, prefix+".")] = v
		}
		if len(item) > 0 {
			items = append(items, item)
		}
	}
	return items
}

// Titled is one value of a column-title grouped field.
type Titled struct {
	Value string
	Type  string
	Lang  string
}

// ByColumnTitle reads fields whose type and language live in the column
// header instead of a cell, e.g. "description.abstract.eng". Every
// non-blank item of such a column becomes one entry with the type and
// optional language taken from the header segments. Two-segment headers
// carry no language; deeper headers are ignored.
func ByColumnTitle(row Row, prefix string) []Titled {
	var out []Titled
	for _, col := range row.Columns(prefix) {
		parts := strings.Split(strings.TrimPrefix(col, prefix+"."), ".")
		if len(parts) > 2 || parts[0] == "" {
			continue
		}
		lang := ""
		if len(parts) == 2 {
			lang = parts[1]
		}
		for _, v := range row.List(col) {
			out = append(out, Titled{Value: v, Type: parts[0], Lang: lang})
		}
	}
	return out
}

func splitNonBlank(raw, sep string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SplitSub splits a single cell value on SubItemSeparator, dropping blanks.
func SplitSub(raw string) []string {
	return splitNonBlank(raw, SubItemSeparator)
}
