// Package script defines the position-tagged document model for converge
// scripts, the JSON5 and YAML readers that produce it, and the loader that
// validates and resolves includes.
package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Kind is the type tag of a Node.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindBoolean
	KindString
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Node is one value in a parsed script document. Only the field matching
// Kind is meaningful.
type Node struct {
	Kind   Kind
	Num    float64
	Bool   bool
	Str    string
	Fields *Object
	Items  []*Node

	Filename string
	Line     int
	Column   int
}

// Object is an insertion-ordered map of child nodes.
type Object struct {
	keys []string
	m    map[string]*Node
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{m: make(map[string]*Node)}
}

// Get returns the child stored under key.
func (o *Object) Get(key string) (*Node, bool) {
	if o == nil {
		return nil, false
	}
	n, ok := o.m[key]
	return n, ok
}

// Set stores a child, keeping the original position of an existing key.
func (o *Object) Set(key string, n *Node) {
	if _, ok := o.m[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.m[key] = n
}

// Delete removes key if present.
func (o *Object) Delete(key string) {
	if _, ok := o.m[key]; !ok {
		return
	}
	delete(o.m, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.keys...)
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// NewNull, NewString, etc. build detached nodes; the position is copied from
// at when non-nil.
func NewNull(at *Node) *Node { return withPos(&Node{Kind: KindNull}, at) }

func NewString(s string, at *Node) *Node { return withPos(&Node{Kind: KindString, Str: s}, at) }

func NewNumber(f float64, at *Node) *Node { return withPos(&Node{Kind: KindNumber, Num: f}, at) }

func NewBoolean(b bool, at *Node) *Node { return withPos(&Node{Kind: KindBoolean, Bool: b}, at) }

func NewObjectNode(at *Node) *Node {
	return withPos(&Node{Kind: KindObject, Fields: NewObject()}, at)
}

func NewArrayNode(at *Node) *Node {
	return withPos(&Node{Kind: KindArray, Items: []*Node{}}, at)
}

func withPos(n, at *Node) *Node {
	if at != nil {
		n.Filename, n.Line, n.Column = at.Filename, at.Line, at.Column
	}
	return n
}

// Get is a convenience accessor for object children. It returns nil for
// non-objects and missing keys.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != KindObject {
		return nil
	}
	c, _ := n.Fields.Get(key)
	return c
}

// Has reports whether an object node carries key.
func (n *Node) Has(key string) bool {
	if n == nil || n.Kind != KindObject {
		return false
	}
	_, ok := n.Fields.Get(key)
	return ok
}

// Position renders filename:line:column.
func (n *Node) Position() string {
	if n == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", n.Filename, n.Line, n.Column)
}

// SetFilename stamps filename on n and every descendant.
func (n *Node) SetFilename(filename string) {
	if n == nil {
		return
	}
	n.Filename = filename
	switch n.Kind {
	case KindObject:
		for _, k := range n.Fields.keys {
			n.Fields.m[k].SetFilename(filename)
		}
	case KindArray:
		for _, item := range n.Items {
			item.SetFilename(filename)
		}
	}
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	switch n.Kind {
	case KindObject:
		c.Fields = NewObject()
		for _, k := range n.Fields.keys {
			c.Fields.Set(k, n.Fields.m[k].Clone())
		}
	case KindArray:
		c.Items = make([]*Node, len(n.Items))
		for i, item := range n.Items {
			c.Items[i] = item.Clone()
		}
	}
	return &c
}

// Interface converts the tree into plain Go values: nil, float64, bool,
// string, map[string]any and []any.
func (n *Node) Interface() any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindNumber:
		return n.Num
	case KindBoolean:
		return n.Bool
	case KindString:
		return n.Str
	case KindObject:
		m := make(map[string]any, n.Fields.Len())
		for _, k := range n.Fields.keys {
			m[k] = n.Fields.m[k].Interface()
		}
		return m
	case KindArray:
		out := make([]any, len(n.Items))
		for i, item := range n.Items {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromValue builds a node tree from a plain Go value, copying the position
// of at onto every created node. Map keys are sorted for determinism.
func FromValue(v any, at *Node) (*Node, error) {
	switch val := v.(type) {
	case nil:
		return NewNull(at), nil
	case *Node:
		return val.Clone(), nil
	case bool:
		return NewBoolean(val, at), nil
	case string:
		return NewString(val, at), nil
	case float64:
		return NewNumber(val, at), nil
	case float32:
		return NewNumber(float64(val), at), nil
	case int:
		return NewNumber(float64(val), at), nil
	case int64:
		return NewNumber(float64(val), at), nil
	case int32:
		return NewNumber(float64(val), at), nil
	case uint:
		return NewNumber(float64(val), at), nil
	case uint64:
		return NewNumber(float64(val), at), nil
	case map[string]any:
		obj := NewObjectNode(at)
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, err := FromValue(val[k], at)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			obj.Fields.Set(k, child)
		}
		return obj, nil
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return FromValue(m, at)
	case []any:
		arr := NewArrayNode(at)
		for i, item := range val {
			child, err := FromValue(item, at)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			arr.Items = append(arr.Items, child)
		}
		return arr, nil
	case []string:
		arr := NewArrayNode(at)
		for _, s := range val {
			arr.Items = append(arr.Items, NewString(s, at))
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// MarshalJSON writes the node as plain JSON, keeping object key order.
// Non-finite numbers have no JSON form and are written as null.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) writeJSON(buf *bytes.Buffer) error {
	if n == nil {
		buf.WriteString("null")
		return nil
	}
	switch n.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindBoolean:
		buf.WriteString(strconv.FormatBool(n.Bool))
	case KindNumber:
		if math.IsInf(n.Num, 0) || math.IsNaN(n.Num) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(strconv.FormatFloat(n.Num, 'g', -1, 64))
	case KindString:
		b, err := json.Marshal(n.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindObject:
		buf.WriteByte('{')
		for i, k := range n.Fields.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := n.Fields.m[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case KindArray:
		buf.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unknown node kind %v", n.Kind)
	}
	return nil
}
