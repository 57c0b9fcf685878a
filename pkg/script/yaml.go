package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML parses a YAML document into a Node tree, keeping the line and
// column of every yaml.Node. Anchors and aliases are expanded.
func ParseYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &Error{Line: 1, Column: 1, Message: "empty document"}
		}
		return nil, &Error{Line: 1, Column: 1, Message: fmt.Sprintf("yaml: %v", err), Cause: err}
	}
	return (&yamlWalker{}).node(&doc, 0)
}

const (
	maxAliasDepth = 64
	// maxYAMLNodes bounds the tree after alias expansion, which can grow
	// exponentially in the size of the source.
	maxYAMLNodes = 100_000
)

// yamlWalker converts yaml.Nodes, counting every node it produces.
type yamlWalker struct {
	nodes int
}

func (w *yamlWalker) node(y *yaml.Node, depth int) (*Node, error) {
	if depth > maxAliasDepth {
		return nil, yamlError(y, "document nesting too deep")
	}
	if w.nodes++; w.nodes > maxYAMLNodes {
		return nil, yamlError(y, "document expands to more than %d nodes", maxYAMLNodes)
	}
	pos := &Node{Line: y.Line, Column: y.Column}
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return nil, yamlError(y, "empty document")
		}
		return w.node(y.Content[0], depth+1)
	case yaml.AliasNode:
		if y.Alias == nil {
			return nil, yamlError(y, "unresolved alias")
		}
		return w.node(y.Alias, depth+1)
	case yaml.MappingNode:
		n := NewObjectNode(pos)
		for i := 0; i+1 < len(y.Content); i += 2 {
			k, v := y.Content[i], y.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, yamlError(k, "object keys must be scalars")
			}
			if k.Tag == "!!merge" {
				return nil, yamlError(k, "merge keys are not supported")
			}
			if _, dup := n.Fields.Get(k.Value); dup {
				return nil, yamlError(k, "duplicate key %q", k.Value)
			}
			child, err := w.node(v, depth+1)
			if err != nil {
				return nil, err
			}
			n.Fields.Set(k.Value, child)
		}
		return n, nil
	case yaml.SequenceNode:
		n := NewArrayNode(pos)
		for _, item := range y.Content {
			child, err := w.node(item, depth+1)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, child)
		}
		return n, nil
	case yaml.ScalarNode:
		return yamlScalar(y, pos)
	default:
		return nil, yamlError(y, "unsupported yaml node kind %d", y.Kind)
	}
}

func yamlScalar(y *yaml.Node, pos *Node) (*Node, error) {
	switch y.ShortTag() {
	case "!!null":
		return NewNull(pos), nil
	case "!!bool":
		var b bool
		if err := y.Decode(&b); err != nil {
			return nil, yamlError(y, "invalid boolean %q", y.Value)
		}
		return NewBoolean(b, pos), nil
	case "!!int":
		var i int64
		if err := y.Decode(&i); err != nil {
			return nil, yamlError(y, "invalid integer %q", y.Value)
		}
		return NewNumber(float64(i), pos), nil
	case "!!float":
		switch strings.ToLower(y.Value) {
		case ".inf", "+.inf":
			return NewNumber(math.Inf(1), pos), nil
		case "-.inf":
			return NewNumber(math.Inf(-1), pos), nil
		case ".nan":
			return NewNumber(math.NaN(), pos), nil
		}
		f, err := strconv.ParseFloat(y.Value, 64)
		if err != nil {
			return nil, yamlError(y, "invalid number %q", y.Value)
		}
		return NewNumber(f, pos), nil
	default:
		return NewString(y.Value, pos), nil
	}
}

func yamlError(y *yaml.Node, format string, args ...any) *Error {
	return &Error{Line: y.Line, Column: y.Column, Message: fmt.Sprintf(format, args...)}
}
