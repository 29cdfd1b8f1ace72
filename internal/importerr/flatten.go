package importerr

import (
	"fmt"
	"sort"
)

// Flatten converts nested validator messages into a flat List.
//
// A map recurses per key, a list whose items are all structures recurses per
// index, and a list of leaves yields one terminal message per leaf. Every
// produced error carries errType and the dotted path of its position.
func Flatten(messages interface{}, prefix, errType string) List {
	var out List
	flatten(&out, messages, prefix, errType)
	return out
}

func flatten(out *List, messages interface{}, prefix, errType string) {
	switch v := messages.(type) {
	case nil:
		return
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(out, v[k], Join(prefix, k), errType)
		}
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out.Add(errType, Join(prefix, k), v[k])
		}
	case []interface{}:
		if allStructures(v) {
			for i, item := range v {
				flatten(out, item, Index(prefix, i), errType)
			}
			return
		}
		for _, item := range v {
			out.Add(errType, prefix, leafMessage(item))
		}
	case []string:
		for _, msg := range v {
			out.Add(errType, prefix, msg)
		}
	default:
		out.Add(errType, prefix, leafMessage(v))
	}
}

func allStructures(items []interface{}) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		switch item.(type) {
		case map[string]interface{}, map[string]string, []interface{}, []string:
		default:
			return false
		}
	}
	return true
}

func leafMessage(v interface{}) string {
	switch m := v.(type) {
	case string:
		return m
	case error:
		return m.Error()
	default:
		return fmt.Sprint(m)
	}
}
