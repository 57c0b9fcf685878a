package runctx

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ormasoftchile/converge/pkg/script"
)

// env is the complete set of bindings an expression can reach.
type env struct {
	Vars    map[string]any    `expr:"vars"`
	Env     map[string]string `expr:"env"`
	OS      map[string]any    `expr:"os"`
	User    map[string]any    `expr:"user"`
	Sys     map[string]any    `expr:"sys"`
	FS      fsBinding         `expr:"fs"`
	Path    pathBinding       `expr:"path"`
	Results resultsBinding    `expr:"results"`
}

type fsBinding struct {
	ReadFile func(name string) (string, error) `expr:"readFile"`
}

type pathBinding struct {
	Join     func(elem ...string) string `expr:"join"`
	Dirname  func(p string) string       `expr:"dirname"`
	Basename func(p string) string       `expr:"basename"`
	Extname  func(p string) string       `expr:"extname"`
}

type resultsBinding struct {
	Last   func() any   `expr:"last"`
	All    func() []any `expr:"all"`
	Length int          `expr:"length"`
}

// Interpolator evaluates {expression} strings against a RunContext.
type Interpolator struct {
	rc *RunContext

	mu       sync.Mutex
	programs map[string]*vm.Program
}

// NewInterpolator returns an interpolator bound to rc.
func NewInterpolator(rc *RunContext) *Interpolator {
	return &Interpolator{rc: rc, programs: make(map[string]*vm.Program)}
}

// Expression returns the expression inside a {...} string and whether s
// is one.
func Expression(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if len(t) < 2 || t[0] != '{' || t[len(t)-1] != '}' {
		return "", false
	}
	return t[1 : len(t)-1], true
}

// Interpolate resolves a string node. Strings of the form {expr} are
// evaluated; any other string is returned unchanged. Passing a non-string
// node is a programming error. Evaluation failures are script errors located
// at n.
func (i *Interpolator) Interpolate(n *script.Node) (any, error) {
	if n == nil || n.Kind != script.KindString {
		kind := "nil"
		if n != nil {
			kind = n.Kind.String()
		}
		return nil, fmt.Errorf("interpolate: expected string node, got %s", kind)
	}
	src, ok := Expression(n.Str)
	if !ok {
		return n.Str, nil
	}
	out, err := i.Eval(src)
	if err != nil {
		return nil, script.WrapError(n, err, "bad expression %q: %v", src, err)
	}
	return out, nil
}

// Eval evaluates a bare expression.
func (i *Interpolator) Eval(src string) (any, error) {
	prog, err := i.compile(src)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(prog, i.bindings())
	if err != nil {
		return nil, err
	}
	return normalize(out), nil
}

func (i *Interpolator) compile(src string) (*vm.Program, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok := i.programs[src]; ok {
		return p, nil
	}
	p, err := expr.Compile(src, expr.Env(env{}))
	if err != nil {
		return nil, err
	}
	i.programs[src] = p
	return p, nil
}

func (i *Interpolator) bindings() env {
	rc := i.rc
	return env{
		Vars: rc.Vars,
		Env:  rc.Env,
		OS:   rc.OS,
		User: rc.User,
		Sys: map[string]any{
			"scriptFile": rc.Sys.ScriptFile,
			"scriptDir":  rc.Sys.ScriptDir,
		},
		FS: fsBinding{ReadFile: rc.readFile},
		Path: pathBinding{
			Join:     filepath.Join,
			Dirname:  filepath.Dir,
			Basename: filepath.Base,
			Extname:  filepath.Ext,
		},
		Results: resultsBinding{
			Last:   rc.Results.Last,
			All:    rc.Results.All,
			Length: rc.Results.Len(),
		},
	}
}

// normalize folds whole floats produced by expr arithmetic to int so that
// {1+1} and {2.0} both yield 2.
func normalize(v any) any {
	if f, ok := v.(float64); ok && f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1<<53 {
		return int(f)
	}
	return v
}

// Truthy applies JavaScript truthiness: false, 0, NaN, "", and nil are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0 && !math.IsNaN(val)
	default:
		return true
	}
}

// Condition evaluates a when/become guard node: booleans are taken as-is,
// strings are interpolated and tested for truthiness, absent guards pass.
func (i *Interpolator) Condition(n *script.Node, absent bool) (bool, error) {
	if n == nil {
		return absent, nil
	}
	switch n.Kind {
	case script.KindBoolean:
		return n.Bool, nil
	case script.KindString:
		v, err := i.Interpolate(n)
		if err != nil {
			return false, err
		}
		return Truthy(v), nil
	default:
		return false, script.NewError(n, "condition must be a boolean or string, not %s", n.Kind)
	}
}
