package engine

import "sort"

// FlattenProperties converts a property map into the engine-native layout:
// key, value, key, value, ..., nil. Keys are sorted so the layout is stable.
func FlattenProperties(props map[string]string) []*string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*string, 0, 2*len(keys)+1)
	for _, k := range keys {
		key, value := k, props[k]
		out = append(out, &key, &value)
	}
	return append(out, nil)
}
