package script

import (
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNewContext_OrderRootLast(t *testing.T) {
	dir := t.TempDir()
	root := writeScript(t, dir, "a.json5", `{includes: ['b.json5', 'lib/c.json5']}`)
	writeScript(t, dir, "b.json5", `{includes: ['lib/c.json5']}`)
	writeScript(t, dir, "lib/c.json5", `{}`)

	c, err := NewContext(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"lib/c.json5", "b.json5", "a.json5"}
	if !reflect.DeepEqual(c.Paths, want) {
		t.Errorf("paths = %v, want %v", c.Paths, want)
	}
	if len(c.Nodes) != 3 {
		t.Errorf("nodes = %d, want 3", len(c.Nodes))
	}
	if rel, _ := c.Root(); rel != "a.json5" {
		t.Errorf("root = %q", rel)
	}
}

func TestNewContext_DuplicateIncludeLoadedOnce(t *testing.T) {
	dir := t.TempDir()
	root := writeScript(t, dir, "root.json5", `{includes: ['x/one.json5', 'y/two.json5']}`)
	writeScript(t, dir, "x/one.json5", `{includes: ['../shared.json5']}`)
	writeScript(t, dir, "y/two.json5", `{includes: ['../shared.json5']}`)
	writeScript(t, dir, "shared.json5", `{}`)

	c, err := NewContext(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	count := 0
	for _, p := range c.Paths {
		if p == "shared.json5" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("shared.json5 listed %d times in %v", count, c.Paths)
	}
	if c.Paths[0] != "shared.json5" {
		t.Errorf("shared.json5 should run first, got %v", c.Paths)
	}
}

func TestNewContext_IncludeEscapesRoot(t *testing.T) {
	dir := t.TempDir()
	root := writeScript(t, dir, "site/root.json5", `{includes: ['../outside.json5']}`)
	writeScript(t, dir, "outside.json5", `{}`)

	_, err := NewContext(root)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected script error, got %v", err)
	}
	if se.Filename != root {
		t.Errorf("error filename = %q, want %q", se.Filename, root)
	}
}

func TestNewContext_NestedIncludeEscapesRoot(t *testing.T) {
	dir := t.TempDir()
	root := writeScript(t, dir, "site/root.json5", `{includes: ['sub/a.json5']}`)
	writeScript(t, dir, "site/sub/a.json5", `{includes: ['../../outside.json5']}`)
	writeScript(t, dir, "outside.json5", `{}`)

	_, err := NewContext(root)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected script error, got %v", err)
	}
}

func TestNewContext_AbsoluteInclude(t *testing.T) {
	dir := t.TempDir()
	other := writeScript(t, dir, "other.json5", `{}`)
	js, _ := json.Marshal(other)
	root := writeScript(t, dir, "root.json5", `{includes: [`+string(js)+`]}`)

	_, err := NewContext(root)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected script error, got %v", err)
	}
}

func TestNewContext_CycleIsHarmless(t *testing.T) {
	dir := t.TempDir()
	root := writeScript(t, dir, "a.json5", `{includes: ['b.json5']}`)
	writeScript(t, dir, "b.json5", `{includes: ['a.json5']}`)

	c, err := NewContext(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"b.json5", "a.json5"}
	if !reflect.DeepEqual(c.Paths, want) {
		t.Errorf("paths = %v, want %v", c.Paths, want)
	}
}

func TestNewContext_AnyScriptHasBecomes(t *testing.T) {
	tests := []struct {
		name  string
		inner string
		want  bool
	}{
		{"included become", `{assertions: [{assert: 'X', become: true}]}`, true},
		{"become false still counts", `{assertions: [{assert: 'X', become: false}]}`, true},
		{"no become", `{assertions: [{assert: 'X'}]}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			root := writeScript(t, dir, "root.json5", `{includes: ['a.json5'], assertions: [{assert: 'X'}]}`)
			writeScript(t, dir, "a.json5", tt.inner)
			c, err := NewContext(root)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.AnyScriptHasBecomes != tt.want {
				t.Errorf("AnyScriptHasBecomes = %v, want %v", c.AnyScriptHasBecomes, tt.want)
			}
		})
	}
}

func TestNewContext_MissingInclude(t *testing.T) {
	dir := t.TempDir()
	root := writeScript(t, dir, "root.json5", `{includes: ['nope.json5']}`)
	_, err := NewContext(root)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if se.Filename != root || se.Line != 1 || se.Column != 13 {
		t.Errorf("error at %s:%d:%d, want the includes entry", se.Filename, se.Line, se.Column)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want not-exist cause", err)
	}

	// A missing nested include points into the script that names it.
	writeScript(t, dir, "mid.json5", "{\n  includes: ['gone.json5'],\n}")
	root = writeScript(t, dir, "root.json5", `{includes: ['mid.json5']}`)
	_, err = NewContext(root)
	if !errors.As(err, &se) || filepath.Base(se.Filename) != "mid.json5" || se.Line != 2 {
		t.Errorf("nested err = %v", err)
	}
}

func TestSerialize_RewritesIncludesAndLocals(t *testing.T) {
	dir := t.TempDir()
	root := writeScript(t, dir, "root.json5", `{includes: ['./sub/../sub/a.json5'], vars: {local: {key: '{fs.readFile("k")}'}, x: 1}}`)
	writeScript(t, dir, "sub/a.json5", `{includes: ['../b.json5']}`)
	writeScript(t, dir, "b.json5", `{}`)

	c, err := NewContext(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := Serialize(c, "root.json5", map[string]any{"key": "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, data)
	}
	if inc := got["includes"].([]any); len(inc) != 1 || inc[0] != "sub/a.json5" {
		t.Errorf("includes = %v", inc)
	}
	local := got["vars"].(map[string]any)["local"].(map[string]any)
	if local["key"] != "secret" {
		t.Errorf("local.key = %v", local["key"])
	}

	data, err = Serialize(c, "sub/a.json5", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reloaded, err := Load(filepath.Join("stage", "a.json5"), data)
	if err != nil {
		t.Fatalf("serialized script does not reload: %v", err)
	}
	if got := reloaded.Get(SectionIncludes).Items[0].Str; got != "../b.json5" {
		t.Errorf("include = %q", got)
	}
}
