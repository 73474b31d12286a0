// Package config models the experiment configuration as a recursive tagged
// value: a scalar, an ordered list, or an ordered key-value map. Key order is
// preserved from the source document because sweep expansion order depends on
// parameter declaration order.
//
// Values are constructed from YAML, mutated only through explicit operations
// (Set, Override), and converted to plain Go data for JSON persistence.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the three value shapes.
type Kind int

const (
	KindScalar Kind = iota
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is one node of the configuration tree.
//
// A scalar holds one of: nil, bool, int, int64, float64, string.
// A map preserves the declaration order of its keys.
type Value struct {
	kind     Kind
	scalar   any
	list     []*Value
	keys     []string
	children map[string]*Value
}

// Scalar wraps a plain scalar value.
func Scalar(v any) *Value { return &Value{kind: KindScalar, scalar: v} }

// List wraps an ordered list of values.
func List(items ...*Value) *Value {
	return &Value{kind: KindList, list: items}
}

// NewMap returns an empty ordered map value.
func NewMap() *Value {
	return &Value{kind: KindMap, children: map[string]*Value{}}
}

// Kind returns the shape of the value.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindScalar
	}
	return v.kind
}

// IsNil reports whether the value is absent or a nil scalar.
func (v *Value) IsNil() bool {
	return v == nil || (v.kind == KindScalar && v.scalar == nil)
}

// ScalarValue returns the wrapped scalar, or nil for non-scalars.
func (v *Value) ScalarValue() any {
	if v == nil || v.kind != KindScalar {
		return nil
	}
	return v.scalar
}

// Items returns the list elements. Nil for non-lists.
func (v *Value) Items() []*Value {
	if v == nil || v.kind != KindList {
		return nil
	}
	return v.list
}

// Keys returns map keys in declaration order. Nil for non-maps.
func (v *Value) Keys() []string {
	if v == nil || v.kind != KindMap {
		return nil
	}
	return v.keys
}

// Get returns the child value for key. The second result reports presence.
func (v *Value) Get(key string) (*Value, bool) {
	if v == nil || v.kind != KindMap {
		return nil, false
	}
	c, ok := v.children[key]
	return c, ok
}

// Set inserts or replaces a child, appending new keys at the end of the
// declaration order. Set panics on non-map receivers: shape errors here are
// programmer errors, not input errors.
func (v *Value) Set(key string, child *Value) {
	if v.kind != KindMap {
		panic(fmt.Sprintf("config: Set on %s value", v.kind))
	}
	if _, ok := v.children[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.children[key] = child
}

// Len returns the number of list elements or map keys; 0 for scalars.
func (v *Value) Len() int {
	switch v.Kind() {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.keys)
	default:
		return 0
	}
}

// Clone returns a deep copy. Scalars are copied by value.
func (v *Value) Clone() *Value {
	if v == nil {
		return nil
	}
	switch v.kind {
	case KindScalar:
		return Scalar(v.scalar)
	case KindList:
		items := make([]*Value, len(v.list))
		for i, it := range v.list {
			items[i] = it.Clone()
		}
		return List(items...)
	default:
		out := NewMap()
		for _, k := range v.keys {
			out.Set(k, v.children[k].Clone())
		}
		return out
	}
}

// Interface converts the tree to plain Go data (any, []any,
// map[string]any) for JSON persistence. Map key order is not preserved by
// the Go map; use Flatten where ordering matters.
func (v *Value) Interface() any {
	if v == nil {
		return nil
	}
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindList:
		out := make([]any, len(v.list))
		for i, it := range v.list {
			out[i] = it.Interface()
		}
		return out
	default:
		out := make(map[string]any, len(v.keys))
		for _, k := range v.keys {
			out[k] = v.children[k].Interface()
		}
		return out
	}
}

// FromInterface builds a Value from plain Go data as produced by JSON
// decoding. Map keys are inserted in sorted order since Go maps carry none.
func FromInterface(data any) (*Value, error) {
	switch d := data.(type) {
	case nil, bool, int, int64, float64, string:
		return Scalar(d), nil
	case []any:
		items := make([]*Value, len(d))
		for i, it := range d {
			v, err := FromInterface(it)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := NewMap()
		for _, k := range keys {
			v, err := FromInterface(d[k])
			if err != nil {
				return nil, err
			}
			out.Set(k, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("config: unsupported value type %T", data)
	}
}

// Equal reports deep equality. Map key order is ignored: two maps with the
// same entries in different declaration order are equal.
func Equal(a, b *Value) bool {
	if a.IsNil() && b.IsNil() {
		return true
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindScalar:
		return scalarEqual(a.scalar, b.scalar)
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	default:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for _, k := range a.keys {
			bc, ok := b.Get(k)
			if !ok || !Equal(a.children[k], bc) {
				return false
			}
		}
		return true
	}
}

// scalarEqual compares scalars with numeric tolerance for the int/int64/
// float64 representations produced by the YAML and JSON decoders.
func scalarEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// String renders a compact debug representation.
func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	switch v.kind {
	case KindScalar:
		return fmt.Sprintf("%v", v.scalar)
	case KindList:
		parts := make([]string, len(v.list))
		for i, it := range v.list {
			parts[i] = it.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		parts := make([]string, len(v.keys))
		for i, k := range v.keys {
			parts[i] = k + ": " + v.children[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
}
