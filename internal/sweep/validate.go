package sweep

import (
	"errors"
	"fmt"

	"rem/internal/config"
)

// ErrUndefinedParam reports a sweep parameter that the experiment does not
// declare.
var ErrUndefinedParam = errors.New("undefined sweep parameter")

// Validate mirrors the recursive expansion structure without materializing
// combinations: it checks spec shape and verifies every referenced parameter
// name is declared in the experiment's parameter set.
func Validate(spec *config.Value, declared []string) error {
	if isAbsent(spec) {
		return nil
	}
	declaredSet := make(map[string]bool, len(declared))
	for _, d := range declared {
		declaredSet[d] = true
	}
	names, err := CollectParams(spec)
	if err != nil {
		return err
	}
	for _, n := range names {
		if !declaredSet[n] {
			return fmt.Errorf("%w: %q is not declared under params", ErrUndefinedParam, n)
		}
	}
	return nil
}

// CollectParams returns the parameter names referenced by a spec, in
// declaration order, failing on any shape error. Names referenced more than
// once appear once.
func CollectParams(spec *config.Value) ([]string, error) {
	if isAbsent(spec) {
		return nil, nil
	}
	var out []string
	seen := map[string]bool{}
	if err := collect(spec, &out, seen); err != nil {
		return nil, err
	}
	return out, nil
}

func collect(node *config.Value, out *[]string, seen map[string]bool) error {
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			*out = append(*out, name)
		}
	}

	switch node.Kind() {
	case config.KindMap:
		if grid, ok := node.Get("grid"); ok {
			if grid.Kind() != config.KindList {
				return invalidf("grid must map to a list of sub-nodes, got %s", grid.Kind())
			}
			for _, c := range grid.Items() {
				if err := collect(c, out, seen); err != nil {
					return err
				}
			}
			return nil
		}
		if zip, ok := node.Get("zip"); ok {
			if zip.Kind() != config.KindMap {
				return invalidf("zip must map to a map of equal-length lists, got %s", zip.Kind())
			}
			for _, k := range zip.Keys() {
				v, _ := zip.Get(k)
				if v.Kind() != config.KindList {
					return invalidf("zip value for %q must be a list, got %s", k, v.Kind())
				}
				add(k)
			}
			return nil
		}
		for _, k := range node.Keys() {
			v, _ := node.Get(k)
			if v.Kind() != config.KindList {
				return invalidf("leaf value for %q must be a list, got %s", k, v.Kind())
			}
			add(k)
		}
		return nil
	case config.KindList:
		for _, c := range node.Items() {
			if err := collect(c, out, seen); err != nil {
				return err
			}
		}
		return nil
	default:
		return invalidf("node must be a map or list, got %s (%v)", node.Kind(), node)
	}
}
