package script

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Context is the resolved set of script documents for one run: the root
// script and everything it transitively includes.
type Context struct {
	// RootDir is the absolute directory of the root script. Every script in
	// the context lives at or below it.
	RootDir string
	// Nodes maps a script's slash-separated path relative to RootDir to its
	// document.
	Nodes map[string]*Node
	// Paths lists the keys of Nodes in execution order: every script follows
	// the scripts it includes and the root script is last.
	Paths               []string
	AnyScriptHasBecomes bool
}

// NewContext loads rootPath and all of its includes.
func NewContext(rootPath string) (*Context, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve script path: %w", err)
	}
	c := &Context{
		RootDir: filepath.Dir(abs),
		Nodes:   make(map[string]*Node),
	}
	if err := c.visit(abs, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// Root returns the relative path and document of the root script.
func (c *Context) Root() (string, *Node) {
	if len(c.Paths) == 0 {
		return "", nil
	}
	p := c.Paths[len(c.Paths)-1]
	return p, c.Nodes[p]
}

// Documents returns the documents in execution order.
func (c *Context) Documents() []*Node {
	docs := make([]*Node, len(c.Paths))
	for i, p := range c.Paths {
		docs[i] = c.Nodes[p]
	}
	return docs
}

// AbsPath converts a relative script path from Paths to an absolute path.
func (c *Context) AbsPath(rel string) string {
	return filepath.Join(c.RootDir, filepath.FromSlash(rel))
}

func (c *Context) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(c.RootDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (c *Context) visit(abs string, seen map[string]bool) error {
	rel, ok := c.relPath(abs)
	if !ok {
		return fmt.Errorf("script %s is outside %s", abs, c.RootDir)
	}
	if seen[rel] {
		return nil
	}
	seen[rel] = true

	doc, err := LoadFile(abs)
	if err != nil {
		return err
	}
	c.Nodes[rel] = doc
	c.AnyScriptHasBecomes = c.AnyScriptHasBecomes || HasBecomes(doc)

	dir := filepath.Dir(abs)
	for _, inc := range doc.Get(SectionIncludes).Items {
		target := filepath.Join(dir, filepath.FromSlash(inc.Str))
		if _, ok := c.relPath(target); !ok {
			return NewError(inc, "include %q resolves outside of %s", inc.Str, c.RootDir)
		}
		if err := c.visit(target, seen); err != nil {
			// Errors inside the included script already carry its position.
			var se *Error
			if errors.As(err, &se) {
				return err
			}
			return WrapError(inc, err, "include %q: %v", inc.Str, err)
		}
	}

	c.Paths = append(c.Paths, rel)
	return nil
}

// IncludeTargets returns the relative paths, as keys of c.Nodes, that the
// includes of the script at rel resolve to.
func (c *Context) IncludeTargets(rel string) []string {
	doc := c.Nodes[rel]
	if doc == nil {
		return nil
	}
	dir := filepath.Dir(c.AbsPath(rel))
	var out []string
	for _, inc := range doc.Get(SectionIncludes).Items {
		if target, ok := c.relPath(filepath.Join(dir, filepath.FromSlash(inc.Str))); ok {
			out = append(out, target)
		}
	}
	return out
}
