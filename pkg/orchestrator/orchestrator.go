// Package orchestrator runs a script locally or against a list of hosts,
// staging the resolved scripts on each remote host and relaying its results.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ormasoftchile/converge/pkg/asserters"
	"github.com/ormasoftchile/converge/pkg/engine"
	"github.com/ormasoftchile/converge/pkg/logging"
	"github.com/ormasoftchile/converge/pkg/providers"
	"github.com/ormasoftchile/converge/pkg/runctx"
	"github.com/ormasoftchile/converge/pkg/script"
	"github.com/ormasoftchile/converge/pkg/transport"
)

// HostsFailedError is returned when at least one host of a multi-host run
// failed. The individual errors have already been logged.
type HostsFailedError struct {
	Failed int
	Total  int
}

func (e *HostsFailedError) Error() string {
	return fmt.Sprintf("%d of %d hosts failed", e.Failed, e.Total)
}

// Options describe one invocation.
type Options struct {
	ScriptPath string
	// Hosts to run against. Empty means the local machine.
	Hosts []Host

	// Defaults for host entries that leave them out.
	User     string
	Port     int
	Identity string

	AssertOnly bool
	// Embedded marks a run started by a remote invocation: vars.local was
	// already resolved by the invoking host.
	Embedded bool

	// Concurrency bounds how many hosts run at once. Values below 1 mean 1.
	Concurrency int
	// Timeout bounds each remote command and upload. Zero means none.
	Timeout time.Duration

	KnownHosts     []string
	NoHostKeyCheck bool
	UseAgent       bool
}

// Orchestrator ties the engine to the local machine or remote hosts.
type Orchestrator struct {
	Registry *asserters.Registry
	Executor providers.CommandExecutor
	Sink     engine.Sink

	// Dial opens a remote. Defaults to an SSH connection.
	Dial DialFunc
	// Solicitor builds the secret prompter of a host. Defaults to the
	// terminal.
	Solicitor func(host string) transport.Solicitor
	// Executable locates the binary uploaded to hosts without converge.
	// Defaults to os.Executable.
	Executable func() (string, error)
	// Identity is handed to local engines; see engine.Engine.
	Identity func() providers.Identity
}

// Run executes opts.ScriptPath. A multi-host run returns a HostsFailedError
// when any host failed; a local run returns the engine error as is.
func (o *Orchestrator) Run(ctx context.Context, opts Options) error {
	sc, err := script.NewContext(opts.ScriptPath)
	if err != nil {
		return err
	}
	if len(opts.Hosts) == 0 {
		return o.runLocal(ctx, sc, opts)
	}
	return o.runHosts(ctx, sc, opts)
}

func (o *Orchestrator) runLocal(ctx context.Context, sc *script.Context, opts Options) error {
	rc, interp := runctx.New()
	e := &engine.Engine{
		Registry:          o.Registry,
		Executor:          o.Executor,
		Sink:              o.Sink,
		Logger:            logging.FromContext(ctx),
		AssertOnly:        opts.AssertOnly,
		LocalVarsResolved: opts.Embedded,
		Identity:          o.Identity,
	}
	return e.Run(ctx, sc, rc, interp)
}

func (o *Orchestrator) runHosts(ctx context.Context, sc *script.Context, opts Options) error {
	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	log := logging.FromContext(ctx)

	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(limit)
	for _, h := range opts.Hosts {
		h = withDefaults(h, opts)
		g.Go(func() error {
			hlog := log.With("host", h.Host)
			hctx := logging.WithLogger(ctx, hlog)
			if err := o.runRemote(hctx, sc, h, opts); err != nil {
				failed.Add(1)
				hlog.Error("host failed", "error", err)
			}
			return nil
		})
	}
	g.Wait()

	if n := int(failed.Load()); n > 0 {
		return &HostsFailedError{Failed: n, Total: len(opts.Hosts)}
	}
	return ctx.Err()
}

func withDefaults(h Host, opts Options) Host {
	if h.User == "" {
		h.User = opts.User
	}
	if h.Port == 0 {
		h.Port = opts.Port
	}
	if h.Identity == "" {
		h.Identity = opts.Identity
	}
	return h
}
