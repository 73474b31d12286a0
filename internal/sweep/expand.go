// Package sweep turns a declarative parameter-variation spec into the
// ordered list of concrete parameter-override sets that staging materializes.
//
// A spec node is one of:
//
//	leaf:  {param: [v, ...], ...}      cartesian product over the lists,
//	                                   last-declared key fastest-varying
//	zip:   {zip: {param: [...], ...}}  positional pairing of equal-length lists
//	grid:  {grid: [node, ...]}         cartesian product across child results,
//	                                   merged per combination
//	list:  [node, ...]                 implicit grid of its elements
//
// Nodes nest arbitrarily. Expansion is pure: no I/O, deterministic output
// order.
package sweep

import (
	"errors"
	"fmt"

	"rem/internal/config"
	"rem/internal/stamp"
)

// ErrInvalidSpec wraps all spec shape and merge failures.
var ErrInvalidSpec = errors.New("invalid sweep spec")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidSpec}, args...)...)
}

// Element is one concrete parameter combination, identified by its position
// in expansion order.
type Element struct {
	SweepID   string
	Overrides map[string]any
}

// Elements expands a spec and assigns sequential sweep ids starting at 1.
// An absent, null, false or empty spec yields a single anonymous element
// with no overrides.
func Elements(spec *config.Value) ([]Element, error) {
	combos, err := Expand(spec)
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(combos))
	for i, c := range combos {
		out[i] = Element{SweepID: stamp.FormatSweepID(i + 1), Overrides: c}
	}
	return out, nil
}

// Expand returns the ordered override maps for a spec.
func Expand(spec *config.Value) ([]map[string]any, error) {
	if isAbsent(spec) {
		return []map[string]any{{}}, nil
	}
	return expandNode(spec)
}

// isAbsent reports a spec that means "no sweep": nil, null, false, or an
// empty container.
func isAbsent(spec *config.Value) bool {
	if spec.IsNil() {
		return true
	}
	switch spec.Kind() {
	case config.KindScalar:
		b, ok := spec.ScalarValue().(bool)
		return ok && !b
	case config.KindList, config.KindMap:
		return spec.Len() == 0
	default:
		return false
	}
}

func expandNode(node *config.Value) ([]map[string]any, error) {
	switch node.Kind() {
	case config.KindMap:
		if grid, ok := node.Get("grid"); ok {
			return expandGrid(grid)
		}
		if zip, ok := node.Get("zip"); ok {
			return expandZip(zip)
		}
		return expandLeaf(node)
	case config.KindList:
		// A plain list is an implicit grid of its elements.
		return expandGrid(node)
	default:
		return nil, invalidf("node must be a map or list, got %s (%v)", node.Kind(), node)
	}
}

// expandLeaf takes the cartesian product over per-parameter candidate lists.
// Iteration follows declaration order with the last key fastest-varying.
func expandLeaf(node *config.Value) ([]map[string]any, error) {
	keys := node.Keys()
	lists := make([][]any, len(keys))
	for i, k := range keys {
		v, _ := node.Get(k)
		if v.Kind() != config.KindList {
			return nil, invalidf("leaf value for %q must be a list, got %s", k, v.Kind())
		}
		items := v.Items()
		vals := make([]any, len(items))
		for j, it := range items {
			vals[j] = it.Interface()
		}
		lists[i] = vals
	}

	total := 1
	for _, l := range lists {
		total *= len(l)
	}
	if total == 0 {
		return nil, nil
	}

	out := make([]map[string]any, 0, total)
	idx := make([]int, len(keys))
	for {
		combo := make(map[string]any, len(keys))
		for i, k := range keys {
			combo[k] = lists[i][idx[i]]
		}
		out = append(out, combo)

		// Odometer increment, last position fastest.
		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(lists[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return out, nil
		}
	}
}

// expandZip pairs the i-th value of every list positionally. All lists must
// have the same length.
func expandZip(block *config.Value) ([]map[string]any, error) {
	if block.Kind() != config.KindMap {
		return nil, invalidf("zip must map to a map of equal-length lists, got %s", block.Kind())
	}
	keys := block.Keys()
	if len(keys) == 0 {
		return nil, invalidf("zip block must not be empty")
	}

	length := -1
	lists := make([][]any, len(keys))
	for i, k := range keys {
		v, _ := block.Get(k)
		if v.Kind() != config.KindList {
			return nil, invalidf("zip value for %q must be a list, got %s", k, v.Kind())
		}
		items := v.Items()
		if length == -1 {
			length = len(items)
		} else if len(items) != length {
			return nil, invalidf("zip lists must have equal length: %q has %d, %q has %d",
				keys[0], length, k, len(items))
		}
		vals := make([]any, len(items))
		for j, it := range items {
			vals[j] = it.Interface()
		}
		lists[i] = vals
	}

	out := make([]map[string]any, length)
	for i := 0; i < length; i++ {
		combo := make(map[string]any, len(keys))
		for j, k := range keys {
			combo[k] = lists[j][i]
		}
		out[i] = combo
	}
	return out, nil
}

// expandGrid expands each child node independently and takes the cartesian
// product across the child result lists, merging per combination. The first
// child varies slowest.
func expandGrid(children *config.Value) ([]map[string]any, error) {
	if children.Kind() != config.KindList {
		return nil, invalidf("grid must map to a list of sub-nodes, got %s", children.Kind())
	}
	subs := make([][]map[string]any, len(children.Items()))
	for i, c := range children.Items() {
		sub, err := expandNode(c)
		if err != nil {
			return nil, err
		}
		subs[i] = sub
	}

	out := []map[string]any{{}}
	for _, sub := range subs {
		next := make([]map[string]any, 0, len(out)*len(sub))
		for _, acc := range out {
			for _, combo := range sub {
				merged, err := mergeCombos(acc, combo)
				if err != nil {
					return nil, err
				}
				next = append(next, merged)
			}
		}
		out = next
	}
	return out, nil
}

// mergeCombos merges two override maps; a key produced by both is an
// ambiguous override and fatal.
func mergeCombos(a, b map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if _, dup := out[k]; dup {
			return nil, invalidf("duplicate key %q produced by two grid children", k)
		}
		out[k] = v
	}
	return out, nil
}
