package spreadsheet

import (
	"fmt"
	"sort"
	"strings"

	"plastron.evalgo.org/model"
)

// ParseIndex parses an INDEX cell of "attr[i]=#fragment" entries separated
// by semicolons.
func ParseIndex(value string) (model.Index, error) {
	index := make(model.Index)
	for _, entry := range splitGroups(value) {
		key, frag, found := strings.Cut(entry, "=")
		if !found {
			return nil, &MetadataError{Reason: fmt.Sprintf("malformed INDEX entry: %q", entry)}
		}
		key = strings.TrimSpace(key)
		frag = strings.TrimSpace(frag)
		if !strings.HasPrefix(frag, "#") {
			return nil, &MetadataError{Reason: fmt.Sprintf("INDEX fragment %q must start with #", frag)}
		}
		index[key] = frag
	}
	return index, nil
}

// SerializeIndex renders an index in INDEX-cell form, sorted by key for
// stable output.
func SerializeIndex(index model.Index) string {
	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]string, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, k+"="+index[k])
	}
	return strings.Join(entries, ";")
}
