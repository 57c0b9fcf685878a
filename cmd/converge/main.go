package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/converge/pkg/asserters"
	"github.com/ormasoftchile/converge/pkg/config"
	"github.com/ormasoftchile/converge/pkg/engine"
	"github.com/ormasoftchile/converge/pkg/logging"
	"github.com/ormasoftchile/converge/pkg/orchestrator"
	"github.com/ormasoftchile/converge/pkg/providers"
	"github.com/ormasoftchile/converge/pkg/transport"
	"github.com/ormasoftchile/converge/pkg/ui"
)

// Set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := config.LoadDotEnv("."); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, err, debug)
		os.Exit(1)
	}
}

// reportError prints err. With full set, each wrapped cause follows on its
// own line.
func reportError(w io.Writer, err error, full bool) {
	fmt.Fprintf(w, "error: %v\n", err)
	if !full {
		return
	}
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		fmt.Fprintf(w, "  caused by: %v\n", cause)
	}
}

var (
	hostFlags      []string
	hostFile       string
	user           string
	identity       string
	port           int
	assertOnly     bool
	noSpinner      bool
	debug          bool
	concurrency    int
	timeout        time.Duration
	configPath     string
	logFormat      string
	noHostKeyCheck bool
	embedded       bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "converge [flags] <script-file>",
	Short: "Converge hosts to the state a script asserts",
	Long: "converge runs the assertions of a script, and everything it includes, against the " +
		"local machine or a list of hosts over SSH, rectifying whatever does not hold.",
	Args:              cobra.ExactArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE:              runScript,
}

// setup loads the config file beneath the flags and installs the logger.
func setup(cmd *cobra.Command, args []string) error {
	path, explicit := configPath, cmd.Flags().Changed("config")
	if !explicit {
		path = config.DefaultPath()
	}
	var err error
	if cfg, err = config.Load(path, explicit); err != nil {
		return err
	}
	applyConfig(cmd, cfg)

	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	logger := logging.New(level, logFormat, os.Stderr)
	slog.SetDefault(logger)
	cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
	return nil
}

// applyConfig copies file values into flags the user left unset.
func applyConfig(cmd *cobra.Command, c *config.Config) {
	changed := cmd.Flags().Changed
	if !changed("user") && c.User != "" {
		user = c.User
	}
	if !changed("identity") && c.Identity != "" {
		identity = c.Identity
	}
	if !changed("port") && c.Port != 0 {
		port = c.Port
	}
	if !changed("concurrency") && c.Concurrency != 0 {
		concurrency = c.Concurrency
	}
	if !changed("timeout") && c.Timeout != 0 {
		timeout = c.Timeout
	}
	if !changed("logFormat") && c.LogFormat != "" {
		logFormat = c.LogFormat
	}
	if !changed("noHostKeyCheck") && c.NoHostKeyCheck {
		noHostKeyCheck = true
	}
}

func runScript(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hosts, err := collectHosts()
	if err != nil {
		return err
	}

	var spinner *ui.SpinnerSink
	var sink engine.Sink
	switch {
	case embedded:
		sink = engine.NewJSONLSink(os.Stdout)
	case noSpinner || debug || !readline.IsTerminal(int(os.Stdout.Fd())):
		sink = &ui.LineSink{W: os.Stdout, Width: screenWidth(0)}
	default:
		spinner = ui.NewSpinnerSink(os.Stdout, screenWidth(80))
		defer spinner.Close()
		sink = spinner
	}

	o := &orchestrator.Orchestrator{
		Registry:  asserters.Builtin(),
		Executor:  &providers.RealExecutor{},
		Sink:      sink,
		Solicitor: solicitorFor(spinner),
	}
	useAgent := cfg.UseAgent == nil || *cfg.UseAgent
	return o.Run(ctx, orchestrator.Options{
		ScriptPath:     args[0],
		Hosts:          hosts,
		User:           user,
		Port:           port,
		Identity:       identity,
		AssertOnly:     assertOnly,
		Embedded:       embedded,
		Concurrency:    concurrency,
		Timeout:        timeout,
		KnownHosts:     cfg.KnownHosts,
		NoHostKeyCheck: noHostKeyCheck,
		UseAgent:       useAgent,
	})
}

// solicitorFor prompts on the terminal, pausing the spinner if one runs.
func solicitorFor(spinner *ui.SpinnerSink) func(string) transport.Solicitor {
	return func(host string) transport.Solicitor {
		term := &transport.TerminalSolicitor{Out: os.Stderr, Host: host}
		if spinner == nil {
			return term
		}
		return transport.SolicitorFunc(func(prompt string) (string, error) {
			var answer string
			err := spinner.Suspend(func() error {
				var err error
				answer, err = term.Solicit(prompt)
				return err
			})
			return answer, err
		})
	}
}

func screenWidth(fallback int) int {
	if w := readline.GetScreenWidth(); w > 0 {
		return w
	}
	return fallback
}

// collectHosts merges --hostFile entries with --host flags.
func collectHosts() ([]orchestrator.Host, error) {
	var hosts []orchestrator.Host
	if hostFile != "" {
		hs, err := orchestrator.LoadHosts(hostFile)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, hs...)
	}
	for _, f := range hostFlags {
		h, err := parseHostFlag(f)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// parseHostFlag accepts host, user@host, host:port and user@host:port.
func parseHostFlag(s string) (orchestrator.Host, error) {
	var h orchestrator.Host
	if at := strings.LastIndex(s, "@"); at >= 0 {
		h.User, s = s[:at], s[at+1:]
	}
	if name, p, err := net.SplitHostPort(s); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return h, fmt.Errorf("invalid port in --host %q", s)
		}
		h.Host, h.Port = name, n
	} else {
		h.Host = s
	}
	if h.Host == "" {
		return h, errors.New("--host must name a host")
	}
	return h, nil
}

func init() {
	f := rootCmd.PersistentFlags()
	f.BoolVar(&debug, "debug", false, "Log at debug level and print full error chains")
	f.StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/converge/config.yaml)")
	f.StringVar(&logFormat, "logFormat", "text", "Log format: text or json")

	rf := rootCmd.Flags()
	rf.StringArrayVar(&hostFlags, "host", nil, "Run against [user@]host[:port], repeatable")
	rf.StringVar(&hostFile, "hostFile", "", "JSON5 or YAML file listing hosts")
	rf.StringVar(&user, "user", "", "Remote user (default $USER)")
	rf.StringVar(&identity, "identity", "", "Private key file for SSH authentication")
	rf.IntVar(&port, "port", 22, "Remote SSH port")
	rf.BoolVar(&assertOnly, "assertOnly", false, "Check assertions without rectifying")
	rf.BoolVar(&noSpinner, "noSpinner", false, "Print plain result lines without a spinner")
	rf.IntVar(&concurrency, "concurrency", 1, "Hosts to run at once")
	rf.DurationVar(&timeout, "timeout", 0, "Limit for each remote command and upload (0 = none)")
	rf.BoolVar(&noHostKeyCheck, "noHostKeyCheck", false, "Skip known_hosts verification")
	rf.BoolVar(&embedded, "embedded", false, "Run as invoked by a remote converge")
	rf.MarkHidden("embedded")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
	schemaCmd.AddCommand(schemaHostsCmd)
}

