package reshape

import (
	"reflect"
	"sort"
	"strconv"
)

// Conflict is a response key whose disambiguated scalar values are non-null
// and differ. Reshape keeps the lowest index; a conflict means two fragments
// disagreed about the same field.
type Conflict struct {
	Path   string
	Key    string
	Values []any
}

// Conflicts reports every conflict in an unreshaped value, ordered by path
// and key.
func Conflicts(v any) []Conflict {
	var out []Conflict
	collectConflicts(v, "", &out)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func collectConflicts(v any, path string, out *[]Conflict) {
	switch t := v.(type) {
	case []any:
		for i, item := range t {
			collectConflicts(item, path+"["+strconv.Itoa(i)+"]", out)
		}
	case map[string]any:
		groups := make(map[string][]candidate)
		for key, value := range t {
			base, idx, ok := ParseKey(key)
			if !ok {
				base, idx = key, -1
			}
			groups[base] = append(groups[base], candidate{index: idx, value: value})
			collectConflicts(value, join(path, base), out)
		}
		for base, candidates := range groups {
			if len(candidates) < 2 {
				continue
			}
			sort.Slice(candidates, func(i, j int) bool { return candidates[i].index < candidates[j].index })
			var distinct []any
			for _, cand := range candidates {
				if cand.value == nil || isComposite(cand.value) {
					continue
				}
				if !containsValue(distinct, cand.value) {
					distinct = append(distinct, cand.value)
				}
			}
			if len(distinct) > 1 {
				*out = append(*out, Conflict{Path: path, Key: base, Values: distinct})
			}
		}
	}
}

func isComposite(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func containsValue(values []any, v any) bool {
	for _, existing := range values {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
