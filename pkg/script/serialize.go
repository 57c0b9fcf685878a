package script

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Serialize re-encodes the script at rel for upload to a staging directory
// that mirrors the layout below c.RootDir. Includes are rewritten to clean
// paths relative to the script's own directory. When localVars is non-nil it
// replaces vars.local, so values already interpolated on the invoking host
// are carried as literals. The output is RFC 8785 canonical JSON, which is
// also valid JSON5.
func Serialize(c *Context, rel string, localVars map[string]any) ([]byte, error) {
	doc, ok := c.Nodes[rel]
	if !ok {
		return nil, fmt.Errorf("serialize: unknown script %q", rel)
	}
	out := doc.Clone()

	includes := NewArrayNode(out.Get(SectionIncludes))
	dir := path.Dir(rel)
	for _, target := range c.IncludeTargets(rel) {
		r, err := filepath.Rel(filepath.FromSlash(dir), filepath.FromSlash(target))
		if err != nil {
			return nil, fmt.Errorf("serialize %s: %w", rel, err)
		}
		includes.Items = append(includes.Items, NewString(filepath.ToSlash(r), includes))
	}
	out.Fields.Set(SectionIncludes, includes)

	if localVars != nil {
		vars := out.Get(SectionVars)
		if vars.Has(LocalVarsKey) {
			n, err := FromValue(localVars, vars.Get(LocalVarsKey))
			if err != nil {
				return nil, fmt.Errorf("serialize %s: local vars: %w", rel, err)
			}
			vars.Fields.Set(LocalVarsKey, n)
		}
	}

	raw, err := out.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", rel, err)
	}
	canon, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize %s: %w", rel, err)
	}
	return canon, nil
}
