package runctx

import (
	"github.com/ormasoftchile/converge/pkg/script"
)

// UpdateOptions control how a script's vars are merged.
type UpdateOptions struct {
	// InterpolateOnlyLocalVars leaves vars outside vars.local as raw strings.
	// It is set when preparing scripts for execution on a remote host, where
	// those vars must be interpolated instead.
	InterpolateOnlyLocalVars bool
	// LocalVarsResolved takes vars.local literally. It is set on the remote
	// side, where the invoking host already interpolated them.
	LocalVarsResolved bool
}

// Update points rc at doc and merges doc's vars into rc.Vars. Keys are
// merged in document order, so a var can refer to earlier vars of the same
// script through vars.<name>.
func Update(rc *RunContext, interp *Interpolator, doc *script.Node, opts UpdateOptions) error {
	rc.setScript(doc.Filename)

	vars := doc.Get(script.SectionVars)
	if vars == nil {
		return nil
	}
	for _, key := range vars.Fields.Keys() {
		local := key == script.LocalVarsKey
		interpolate := !opts.InterpolateOnlyLocalVars
		if local {
			interpolate = !opts.LocalVarsResolved
		}
		v, err := flatten(interp, vars.Get(key), interpolate)
		if err != nil {
			return err
		}
		rc.Vars[key] = v
	}
	return nil
}

func flatten(interp *Interpolator, n *script.Node, interpolate bool) (any, error) {
	switch n.Kind {
	case script.KindString:
		if !interpolate {
			return n.Str, nil
		}
		return interp.Interpolate(n)
	case script.KindObject:
		m := make(map[string]any, n.Fields.Len())
		for _, k := range n.Fields.Keys() {
			v, err := flatten(interp, n.Get(k), interpolate)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case script.KindArray:
		out := make([]any, len(n.Items))
		for i, item := range n.Items {
			v, err := flatten(interp, item, interpolate)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default:
		return n.Interface(), nil
	}
}
