// Package engine runs the assertions of a script context in order,
// rectifying unmet ones and streaming an Output per assertion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ormasoftchile/converge/pkg/asserters"
	"github.com/ormasoftchile/converge/pkg/providers"
	"github.com/ormasoftchile/converge/pkg/runctx"
	"github.com/ormasoftchile/converge/pkg/script"
)

// ErrCannotEscalate is returned when a script asks for become but the
// process has no root privilege to grant.
var ErrCannotEscalate = errors.New("scripts use 'become' but converge is not running as root; re-run with sudo")

// Engine is the reconciliation engine. The zero value is not usable; set
// Registry and Executor at least.
type Engine struct {
	Registry *asserters.Registry
	Executor providers.CommandExecutor
	Sink     Sink
	Logger   *slog.Logger

	// AssertOnly reports unmet assertions without rectifying them.
	AssertOnly bool
	// LocalVarsResolved takes vars.local literally; see runctx.UpdateOptions.
	LocalVarsResolved bool

	// Identity reports the process identity. Defaults to
	// providers.EffectiveIdentity.
	Identity func() providers.Identity
	// Baseline computes the privilege of assertions without become.
	// Defaults to providers.Baseline.
	Baseline func() (providers.Privilege, error)
}

// Run executes every script in sc. A false settings.when ends the whole
// run without error. Any error aborts the remaining assertions.
func (e *Engine) Run(ctx context.Context, sc *script.Context, rc *runctx.RunContext, interp *runctx.Interpolator) error {
	identity := e.Identity
	if identity == nil {
		identity = providers.EffectiveIdentity
	}
	if sc.AnyScriptHasBecomes && !identity().IsRoot() {
		return ErrCannotEscalate
	}
	baselineFn := e.Baseline
	if baselineFn == nil {
		baselineFn = providers.Baseline
	}
	baseline, err := baselineFn()
	if err != nil {
		return fmt.Errorf("resolve baseline privilege: %w", err)
	}

	log := e.logger()
	for _, rel := range sc.Paths {
		doc := sc.Nodes[rel]
		if err := runctx.Update(rc, interp, doc, runctx.UpdateOptions{LocalVarsResolved: e.LocalVarsResolved}); err != nil {
			return err
		}
		when, err := interp.Condition(doc.Get(script.SectionSettings).Get("when"), true)
		if err != nil {
			return err
		}
		if !when {
			log.Info("settings.when is false, stopping", "script", rel)
			return nil
		}
		log.Debug("running script", "script", rel)

		for _, a := range doc.Get(script.SectionAssertions).Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.runAssertion(ctx, a, rc, interp, baseline); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) runAssertion(ctx context.Context, a *script.Node, rc *runctx.RunContext, interp *runctx.Interpolator, baseline providers.Privilege) error {
	when, err := interp.Condition(a.Get("when"), true)
	if err != nil {
		return err
	}
	nameNode := a.Get("assert")
	if !when {
		e.logger().Debug("assertion skipped", "assert", nameNode.Str, "at", a.Position())
		return nil
	}

	name := nameNode.Str
	factory, ok := e.Registry.Lookup(name)
	if !ok {
		return script.NewError(nameNode, "unknown asserter %q", name)
	}
	if with := a.Get("with"); with == nil || with.Kind != script.KindObject {
		return script.NewError(a, "'with' must be an object")
	}

	become, err := interp.Condition(a.Get("become"), false)
	if err != nil {
		return err
	}
	priv := baseline
	if become {
		priv = providers.Elevated()
	}

	var description string
	if d := a.Get("description"); d != nil {
		v, err := interp.Interpolate(d)
		if err != nil {
			return err
		}
		description = fmt.Sprint(v)
	}

	sink := e.sink()
	sink.Started(name, description)

	asserter := factory(&asserters.Env{
		Interpolator: interp,
		RunContext:   rc,
		Privilege:    priv,
		Executor:     e.Executor,
		Logger:       e.logger().With("assert", name),
	})

	out := &Output{Description: description}
	rectified := false
	held, err := asserter.Assert(ctx, a)
	if err != nil {
		return assertionError(a, name, "assert", err)
	}
	switch {
	case held:
		out.Asserted = name
	case e.AssertOnly:
		out.WouldRectify = name
	default:
		if err := asserter.Rectify(ctx); err != nil {
			return assertionError(a, name, "rectify", err)
		}
		rectified = true
		out.Rectified = name
	}

	out.Result = asserter.Result(rectified)
	rc.Results.Append(out.Result)
	return sink.Emit(out)
}

// assertionError attaches the assertion location to asserter failures.
// Script errors already carry their own location.
func assertionError(a *script.Node, name, phase string, err error) error {
	var se *script.Error
	if errors.As(err, &se) {
		return err
	}
	return fmt.Errorf("%s: %s %s: %w", a.Position(), name, phase, err)
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) sink() Sink {
	if e.Sink == nil {
		return Discard
	}
	return e.Sink
}
