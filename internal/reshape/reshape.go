// Package reshape turns the JSON value returned by a compiled query into the
// response shape of the selection set.
//
// The transpiler suffixes projections that come from fragments with
// Split and the fragment's position ("name§2") so overlapping fragments never
// produce duplicate SQL aliases. Reshape folds those keys back into "name".
package reshape

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Split separates a response key from its disambiguation index.
const Split = "§"

// SuffixedKey returns the disambiguated form of a response key.
func SuffixedKey(base string, index int) string {
	return base + Split + strconv.Itoa(index)
}

// ParseKey splits a disambiguated key into its base and index.
func ParseKey(key string) (base string, index int, ok bool) {
	i := strings.LastIndex(key, Split)
	if i <= 0 {
		return "", 0, false
	}
	index, err := strconv.Atoi(key[i+len(Split):])
	if err != nil || index < 0 {
		return "", 0, false
	}
	return key[:i], index, true
}

type candidate struct {
	index int
	value any
}

// Reshape folds every "base§index" key into "base" and drops the suffixed
// keys, recursing through objects and arrays. Candidates are taken in
// ascending index order after an unsuffixed "base" if present: the first
// non-null scalar wins, objects are merged key by key and arrays of objects
// are merged by identity (id plus union type tag). Reshape never modifies v
// and Reshape(Reshape(v)) equals Reshape(v).
func Reshape(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return reshapeObject(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Reshape(item)
		}
		return out
	default:
		return v
	}
}

func reshapeObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	suffixed := make(map[string][]candidate)
	for key, value := range obj {
		if base, idx, ok := ParseKey(key); ok {
			suffixed[base] = append(suffixed[base], candidate{index: idx, value: value})
			continue
		}
		out[key] = Reshape(value)
	}

	for base, candidates := range suffixed {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].index < candidates[j].index })
		merged, present := out[base]
		for _, cand := range candidates {
			if !present {
				merged, present = Reshape(cand.value), true
				continue
			}
			merged = merge(merged, Reshape(cand.value))
		}
		out[base] = merged
	}
	return out
}

// merge combines two already reshaped values for the same response key.
func merge(a, b any) any {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	switch at := a.(type) {
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok {
			return a
		}
		out := make(map[string]any, len(at)+len(bt))
		for k, v := range at {
			out[k] = v
		}
		for k, v := range bt {
			if existing, ok := out[k]; ok {
				out[k] = merge(existing, v)
			} else {
				out[k] = v
			}
		}
		return out
	case []any:
		bt, ok := b.([]any)
		if !ok {
			return a
		}
		return mergeLists(at, bt)
	default:
		return a
	}
}

func mergeLists(a, b []any) []any {
	aIDs, aOK := identities(a)
	bIDs, bOK := identities(b)
	if !aOK || !bOK {
		out := make([]any, 0, max(len(a), len(b)))
		for i := 0; i < len(a) || i < len(b); i++ {
			switch {
			case i >= len(a):
				out = append(out, b[i])
			case i >= len(b):
				out = append(out, a[i])
			default:
				out = append(out, merge(a[i], b[i]))
			}
		}
		return out
	}

	out := make([]any, len(a), len(a)+len(b))
	copy(out, a)
	pos := make(map[string]int, len(a))
	for i, id := range aIDs {
		if _, dup := pos[id]; !dup {
			pos[id] = i
		}
	}
	for j, id := range bIDs {
		if i, ok := pos[id]; ok {
			out[i] = merge(out[i], b[j])
			continue
		}
		pos[id] = len(out)
		out = append(out, b[j])
	}
	return out
}

// identities returns a correlation key per element, or false when any element
// is not an object carrying an id.
func identities(list []any) ([]string, bool) {
	ids := make([]string, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		id, ok := obj["id"]
		if !ok || id == nil {
			return nil, false
		}
		ids[i] = fmt.Sprintf("%v\x00%v", obj["type"], id)
	}
	return ids, true
}

// Unwrap returns the value under key when v is an object, or nil.
func Unwrap(v any, key string) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return obj[key]
}
