package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML document into a Value, preserving map key order.
func LoadFile(path string) (*Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	v, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return v, nil
}

// Parse decodes YAML bytes into a Value. An empty document yields a nil
// scalar.
func Parse(data []byte) (*Value, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return Scalar(nil), nil
	}
	return fromNode(root.Content[0])
}

// ValidateSyntax reports whether the file at path is syntactically valid YAML.
func ValidateSyntax(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var any yaml.Node
	return yaml.Unmarshal(data, &any) == nil
}

// SaveFile writes the value as a YAML document. The write is not atomic; the
// manifest store owns durability for state the orchestrator depends on, and
// config snapshots are rewritten wholesale on restage.
func SaveFile(v *Value, path string) error {
	node, err := toNode(v)
	if err != nil {
		return fmt.Errorf("save config %s: %w", path, err)
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("save config %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save config %s: %w", path, err)
	}
	return nil
}

func fromNode(n *yaml.Node) (*Value, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, err
		}
		switch v.(type) {
		case nil, bool, int, int64, float64, string:
			return Scalar(v), nil
		default:
			return nil, fmt.Errorf("line %d: unsupported scalar type %T", n.Line, v)
		}
	case yaml.SequenceNode:
		items := make([]*Value, len(n.Content))
		for i, c := range n.Content {
			v, err := fromNode(c)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return List(items...), nil
	case yaml.MappingNode:
		out := NewMap()
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode, valNode := n.Content[i], n.Content[i+1]
			var key string
			if err := keyNode.Decode(&key); err != nil {
				return nil, fmt.Errorf("line %d: map key must be a string: %w", keyNode.Line, err)
			}
			if _, dup := out.Get(key); dup {
				return nil, fmt.Errorf("line %d: duplicate map key %q", keyNode.Line, key)
			}
			v, err := fromNode(valNode)
			if err != nil {
				return nil, err
			}
			out.Set(key, v)
		}
		return out, nil
	case yaml.AliasNode:
		return fromNode(n.Alias)
	default:
		return nil, fmt.Errorf("line %d: unsupported YAML node kind %d", n.Line, n.Kind)
	}
}

func toNode(v *Value) (*yaml.Node, error) {
	if v == nil {
		v = Scalar(nil)
	}
	switch v.kind {
	case KindScalar:
		n := &yaml.Node{}
		if err := n.Encode(v.scalar); err != nil {
			return nil, err
		}
		return n, nil
	case KindList:
		n := &yaml.Node{Kind: yaml.SequenceNode}
		for _, it := range v.list {
			c, err := toNode(it)
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, c)
		}
		return n, nil
	default:
		n := &yaml.Node{Kind: yaml.MappingNode}
		for _, k := range v.keys {
			keyNode := &yaml.Node{}
			if err := keyNode.Encode(k); err != nil {
				return nil, err
			}
			valNode, err := toNode(v.children[k])
			if err != nil {
				return nil, err
			}
			n.Content = append(n.Content, keyNode, valNode)
		}
		return n, nil
	}
}
