package asserters

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ormasoftchile/converge/pkg/script"
)

// args reads interpolated values out of an assertion's with object.
type args struct {
	env  *Env
	with *script.Node
}

func newArgs(env *Env, assertion *script.Node) args {
	return args{env: env, with: assertion.Get("with")}
}

func (a args) value(key string) (*script.Node, any, error) {
	n := a.with.Get(key)
	if n == nil {
		return nil, nil, nil
	}
	if n.Kind != script.KindString {
		return n, n.Interface(), nil
	}
	v, err := a.env.Interpolator.Interpolate(n)
	return n, v, err
}

// str returns a string argument. Missing required arguments and
// non-string values are script errors.
func (a args) str(key string, required bool) (string, error) {
	n, v, err := a.value(key)
	if err != nil {
		return "", err
	}
	if n == nil {
		if required {
			return "", script.NewError(a.with, "'%s' argument is required", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", script.NewError(n, "'%s' must be a string", key)
	}
	if required && s == "" {
		return "", script.NewError(n, "'%s' must not be empty", key)
	}
	return s, nil
}

func (a args) strs(key string) ([]string, error) {
	n := a.with.Get(key)
	if n == nil {
		return nil, nil
	}
	if n.Kind != script.KindArray {
		return nil, script.NewError(n, "'%s' must be an array of strings", key)
	}
	out := make([]string, 0, len(n.Items))
	for _, item := range n.Items {
		if item.Kind != script.KindString {
			return nil, script.NewError(item, "'%s' must be an array of strings", key)
		}
		v, err := a.env.Interpolator.Interpolate(item)
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprint(v))
	}
	return out, nil
}

// mode parses an octal permission string such as "0644".
func (a args) mode(key string, def os.FileMode) (os.FileMode, error) {
	s, err := a.str(key, false)
	if err != nil || s == "" {
		return def, err
	}
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, script.NewError(a.with.Get(key), "'%s' must be an octal mode, got %q", key, s)
	}
	return os.FileMode(m), nil
}
