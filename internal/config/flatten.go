package config

import (
	"fmt"
	"sort"
	"strings"
)

// Sep is the path separator for flattened keys.
const Sep = "."

// Flatten converts a nested map value into dotted-path leaves. Lists and
// scalars are leaves; only maps recurse. Keys follow declaration order.
func Flatten(v *Value) []FlatEntry {
	var out []FlatEntry
	flattenInto(v, "", &out)
	return out
}

// FlatEntry is one dotted-path leaf of a flattened configuration.
type FlatEntry struct {
	Key   string
	Value *Value
}

func flattenInto(v *Value, prefix string, out *[]FlatEntry) {
	if v.Kind() != KindMap {
		*out = append(*out, FlatEntry{Key: prefix, Value: v})
		return
	}
	for _, k := range v.Keys() {
		child, _ := v.Get(k)
		key := k
		if prefix != "" {
			key = prefix + Sep + k
		}
		flattenInto(child, key, out)
	}
}

// FlatMap returns the flattened tree as plain Go data keyed by dotted path.
func FlatMap(v *Value) map[string]any {
	out := map[string]any{}
	for _, e := range Flatten(v) {
		out[e.Key] = e.Value.Interface()
	}
	return out
}

// Unflatten converts dotted-path overrides into a nested map value. Override
// keys are applied in sorted order so the result is deterministic regardless
// of map iteration.
func Unflatten(flat map[string]any) (*Value, error) {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := NewMap()
	for _, key := range keys {
		v, err := FromInterface(flat[key])
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", key, err)
		}
		if err := setPath(root, key, v); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func setPath(root *Value, dotted string, v *Value) error {
	parts := strings.Split(dotted, Sep)
	cur := root
	for i, p := range parts {
		if p == "" {
			return fmt.Errorf("override %q: empty path segment", dotted)
		}
		if i == len(parts)-1 {
			cur.Set(p, v)
			return nil
		}
		next, ok := cur.Get(p)
		if !ok || next.Kind() != KindMap {
			next = NewMap()
			cur.Set(p, next)
		}
		cur = next
	}
	return nil
}

// Override applies dotted-path overrides to a config without mutating it.
// Merge semantics are last-write-wins: map overrides merge recursively, any
// other override replaces the existing subtree.
func Override(base *Value, overrides map[string]any) (*Value, error) {
	if len(overrides) == 0 {
		return base, nil
	}
	nested, err := Unflatten(overrides)
	if err != nil {
		return nil, err
	}
	out := base.Clone()
	if out.Kind() != KindMap {
		return nil, fmt.Errorf("override: base config is a %s, not a map", base.Kind())
	}
	deepMerge(out, nested)
	return out, nil
}

func deepMerge(dst, src *Value) {
	for _, k := range src.Keys() {
		sv, _ := src.Get(k)
		dv, ok := dst.Get(k)
		if ok && dv.Kind() == KindMap && sv.Kind() == KindMap {
			deepMerge(dv, sv)
			continue
		}
		dst.Set(k, sv.Clone())
	}
}

// DiffEntry records a single differing dotted path between two configs.
type DiffEntry struct {
	Left  any
	Right any
}

// Diff returns the dotted paths whose leaf values differ between two configs,
// including paths present on only one side.
func Diff(a, b *Value) map[string]DiffEntry {
	fa := FlatMap(a)
	fb := FlatMap(b)

	out := map[string]DiffEntry{}
	for k, av := range fa {
		bv, ok := fb[k]
		if !ok {
			out[k] = DiffEntry{Left: av, Right: nil}
			continue
		}
		lv, _ := FromInterface(av)
		rv, _ := FromInterface(bv)
		if !Equal(lv, rv) {
			out[k] = DiffEntry{Left: av, Right: bv}
		}
	}
	for k, bv := range fb {
		if _, ok := fa[k]; !ok {
			out[k] = DiffEntry{Left: nil, Right: bv}
		}
	}
	return out
}
