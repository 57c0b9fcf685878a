// Package asserters defines the Asserter contract, the name registry the
// engine dispatches through, and the builtin asserters.
package asserters

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ormasoftchile/converge/pkg/providers"
	"github.com/ormasoftchile/converge/pkg/runctx"
	"github.com/ormasoftchile/converge/pkg/script"
)

// Asserter checks one piece of desired state and fixes it when unmet. An
// instance serves a single assertion: fields set in Assert are read back
// by Rectify and Result.
type Asserter interface {
	Assert(ctx context.Context, assertion *script.Node) (bool, error)
	Rectify(ctx context.Context) error
	Result(rectified bool) any
}

// Env is what an asserter is constructed with.
type Env struct {
	Interpolator *runctx.Interpolator
	RunContext   *runctx.RunContext
	Privilege    providers.Privilege
	Executor     providers.CommandExecutor
	Logger       *slog.Logger
}

// Factory builds a fresh asserter for one assertion.
type Factory func(env *Env) Asserter

// Registry maps assert names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a name twice is a programming error.
func (r *Registry) Register(name string, f Factory) {
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("asserter %q already registered", name))
	}
	r.factories[name] = f
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a registry holding every builtin asserter.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("AlwaysTrue", func(env *Env) Asserter { return &alwaysTrue{} })
	r.Register("FileExists", func(env *Env) Asserter { return &fileExists{env: env} })
	r.Register("FileDeleted", func(env *Env) Asserter { return &fileDeleted{env: env} })
	r.Register("DirectoryExists", func(env *Env) Asserter { return &directoryExists{env: env} })
	r.Register("FileContains", func(env *Env) Asserter { return &fileContains{env: env} })
	r.Register("CommandRun", func(env *Env) Asserter { return &commandRun{env: env} })
	return r
}

type alwaysTrue struct{}

func (a *alwaysTrue) Assert(ctx context.Context, assertion *script.Node) (bool, error) {
	return true, nil
}

func (a *alwaysTrue) Rectify(ctx context.Context) error { return nil }

func (a *alwaysTrue) Result(rectified bool) any { return map[string]any{} }
