package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Top-level sections of a script document.
const (
	SectionIncludes   = "includes"
	SectionSettings   = "settings"
	SectionVars       = "vars"
	SectionAssertions = "assertions"
)

// LocalVarsKey marks vars that are always interpolated on the invoking host.
const LocalVarsKey = "local"

// LoadFile parses one script file, fills in missing optional sections and
// validates its structure. Every returned node carries path as its filename.
func LoadFile(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Load(path, data)
}

// Parse parses a document without interpreting it as a script. The syntax
// is chosen from the extension of filename: .yaml and .yml are YAML,
// anything else JSON5.
func Parse(filename string, data []byte) (*Node, error) {
	var (
		root *Node
		err  error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		root, err = ParseYAML(data)
	default:
		root, err = ParseJSON5(data)
	}
	if err != nil {
		var se *Error
		if errors.As(err, &se) && se.Filename == "" {
			se.Filename = filename
		}
		return nil, err
	}
	root.SetFilename(filename)
	return root, nil
}

// Load is LoadFile for content already in memory.
func Load(filename string, data []byte) (*Node, error) {
	root, err := Parse(filename, data)
	if err != nil {
		return nil, err
	}
	if root.Kind != KindObject {
		return nil, NewError(root, "script must be an object, not %s", root.Kind)
	}
	normalize(root)
	if err := validate(root); err != nil {
		return nil, err
	}
	return root, nil
}

// normalize materializes absent sections as empty nodes positioned at the
// document root.
func normalize(root *Node) {
	ensure := func(key string, mk func(*Node) *Node) {
		if !root.Has(key) {
			root.Fields.Set(key, mk(root))
		}
	}
	ensure(SectionIncludes, NewArrayNode)
	ensure(SectionSettings, NewObjectNode)
	ensure(SectionVars, NewObjectNode)
	ensure(SectionAssertions, NewArrayNode)

	for _, a := range root.Get(SectionAssertions).Items {
		if a.Kind == KindObject && !a.Has("with") {
			a.Fields.Set("with", NewObjectNode(a))
		}
	}
}

func validate(root *Node) error {
	includes := root.Get(SectionIncludes)
	if includes.Kind != KindArray {
		return NewError(includes, "'includes' must be an array")
	}
	for _, inc := range includes.Items {
		if inc.Kind != KindString {
			return NewError(inc, "include must be a string")
		}
		if inc.Str == "" {
			return NewError(inc, "include path is empty")
		}
		if filepath.IsAbs(inc.Str) || strings.HasPrefix(inc.Str, "/") {
			return NewError(inc, "include path %q must be relative", inc.Str)
		}
	}

	settings := root.Get(SectionSettings)
	if settings.Kind != KindObject {
		return NewError(settings, "'settings' must be an object")
	}
	if d := settings.Get("description"); d != nil && d.Kind != KindString {
		return NewError(d, "'settings.description' must be a string")
	}
	if w := settings.Get("when"); w != nil && w.Kind != KindString && w.Kind != KindBoolean {
		return NewError(w, "'settings.when' must be a string or boolean")
	}

	if vars := root.Get(SectionVars); vars.Kind != KindObject {
		return NewError(vars, "'vars' must be an object")
	}

	assertions := root.Get(SectionAssertions)
	if assertions.Kind != KindArray {
		return NewError(assertions, "'assertions' must be an array")
	}
	for _, a := range assertions.Items {
		if err := validateAssertion(a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a *Node) error {
	if a.Kind != KindObject {
		return NewError(a, "assertion must be an object")
	}
	name := a.Get("assert")
	if name == nil {
		return NewError(a, "assertion has no 'assert' property")
	}
	if name.Kind != KindString {
		return NewError(name, "'assert' must be a string")
	}
	if d := a.Get("description"); d != nil && d.Kind != KindString {
		return NewError(d, "'description' must be a string")
	}
	if w := a.Get("when"); w != nil && w.Kind != KindString && w.Kind != KindBoolean {
		return NewError(w, "'when' must be a string or boolean")
	}
	if with := a.Get("with"); with.Kind != KindObject {
		return NewError(with, "'with' must be an object")
	}
	if b := a.Get("become"); b != nil && b.Kind != KindString && b.Kind != KindBoolean {
		return NewError(b, "'become' must be a boolean or string")
	}
	return nil
}

// HasBecomes reports whether any assertion in doc carries a become key.
func HasBecomes(doc *Node) bool {
	for _, a := range doc.Get(SectionAssertions).Items {
		if a.Has("become") {
			return true
		}
	}
	return false
}
