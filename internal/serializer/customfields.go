package serializer

import (
	"fmt"

	"github.com/bulkimport/bulkimport/internal/grouping"
)

// Transformer builds the value of one custom field from a row. It reports
// false when the row carries nothing for the field.
type Transformer func(row grouping.Row) (interface{}, bool)

// CustomField binds a custom field name to its transformer.
type CustomField struct {
	Field     string
	Transform Transformer
}

// imprintColumns are the "imprint.*" columns read by ImprintTransformer.
var imprintColumns = []string{"isbn", "pages", "edition", "place", "volume", "series_name"}

// ImprintTransformer reads a single imprint from the "imprint.*" columns.
// Only the first item is used.
func ImprintTransformer(row grouping.Row) (interface{}, bool) {
	items := grouping.Group(row, "imprint")
	if len(items) == 0 {
		return nil, false
	}
	out := make(map[string]interface{}, len(imprintColumns))
	for _, col := range imprintColumns {
		if v := items[0].Get(col); v != "" {
			out[col] = v
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// builtinTransformers are the transformers custom fields can be bound to
// by name in the record type configuration.
var builtinTransformers = map[string]Transformer{
	"imprint": ImprintTransformer,
}

// LookupTransformer returns the built-in transformer called name.
func LookupTransformer(name string) (Transformer, error) {
	t, ok := builtinTransformers[name]
	if !ok {
		return nil, fmt.Errorf("unknown custom field transformer %q", name)
	}
	return t, nil
}
