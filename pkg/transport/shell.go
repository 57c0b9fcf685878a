package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	// ErrPermissionDenied means the server rejected every credential.
	ErrPermissionDenied = errors.New("permission denied (bad password or key)")
	// ErrNotConnected is returned by operations on a session that is not open.
	ErrNotConnected = errors.New("session is not connected")
	// ErrSessionBusy is returned when a command is issued while another one
	// is still running on the same session.
	ErrSessionBusy = errors.New("session is busy")
)

// ExitError reports a remote command that exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// State is the lifecycle state of a ShellSession.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateReady
	StateBusy
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateClosed:
		return "closed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// ConnectOptions configure a ShellSession.
type ConnectOptions struct {
	Host string
	Port int
	User string
	// Identity is a private key file. Encrypted keys are unlocked with a
	// solicited passphrase.
	Identity string
	// UseAgent offers the keys of the agent at SSH_AUTH_SOCK.
	UseAgent bool
	// KnownHosts files verify the host key. Defaults to ~/.ssh/known_hosts.
	KnownHosts     []string
	NoHostKeyCheck bool
	Solicitor      Solicitor
	// Timeout bounds the TCP dial and handshake.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (o *ConnectOptions) address() string {
	port := o.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(port))
}

// ShellSession runs commands on one host. Commands on a session are
// strictly sequential.
type ShellSession struct {
	opts      ConnectOptions
	user      string
	solicitor *MemoSolicitor
	log       *slog.Logger

	mu     sync.Mutex
	state  State
	client *ssh.Client
}

// Connect dials and authenticates.
func Connect(ctx context.Context, opts ConnectOptions) (*ShellSession, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &ShellSession{
		opts:      opts,
		solicitor: Memoize(opts.Solicitor),
		log:       log,
		state:     StateConnecting,
	}

	user := opts.User
	if user == "" {
		user = os.Getenv("USER")
	}
	s.user = user

	hostKeys, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	auth, closeAgent, err := s.authMethods()
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         opts.Timeout,
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	addr := opts.address()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	s.setState(StateAuthenticating)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	close(done)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connect %s: %w", addr, ctx.Err())
		}
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("connect %s as %s: %w", addr, user, ErrPermissionDenied)
		}
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	s.client = ssh.NewClient(c, chans, reqs)
	s.setState(StateReady)
	log.Debug("connected", "addr", addr, "user", user)
	return s, nil
}

func (s *ShellSession) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.opts.NoHostKeyCheck {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	files := s.opts.KnownHosts
	if len(files) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		files = []string{filepath.Join(home, ".ssh", "known_hosts")}
	}
	cb, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}

func (s *ShellSession) authMethods() ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	if s.opts.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				s.log.Debug("ssh agent unavailable", "error", err)
			} else {
				closeAgent = func() { conn.Close() }
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if s.opts.Identity != "" {
		signer, err := s.loadIdentity(s.opts.Identity)
		if err != nil {
			closeAgent()
			return nil, nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	prompt := func() string {
		return fmt.Sprintf("%s@%s's password:", s.user, s.opts.Host)
	}
	methods = append(methods,
		ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i, q := range questions {
				if ClassifyLine(q).Class == ClassLoginPrompt || strings.EqualFold(strings.TrimSpace(q), "password:") {
					q = prompt()
				}
				a, err := s.solicitor.Solicit(strings.TrimSpace(q))
				if err != nil {
					return nil, err
				}
				answers[i] = a
			}
			return answers, nil
		}),
		ssh.PasswordCallback(func() (string, error) {
			return s.solicitor.Solicit(prompt())
		}),
	)
	return methods, closeAgent, nil
}

func (s *ShellSession) loadIdentity(path string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		pass, serr := s.solicitor.Solicit(fmt.Sprintf("Enter passphrase for key '%s':", path))
		if serr != nil {
			return nil, serr
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(pass))
	}
	if err != nil {
		return nil, fmt.Errorf("parse identity %s: %w", path, err)
	}
	return signer, nil
}

// State returns the current lifecycle state.
func (s *ShellSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ShellSession) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Client returns the underlying SSH client.
func (s *ShellSession) Client() *ssh.Client {
	return s.client
}

// RunOptions modify a single Run.
type RunOptions struct {
	Cwd  string
	Sudo bool
	// Timeout bounds the command in addition to the context deadline.
	Timeout time.Duration
	// NoThrow returns non-zero exits as a result instead of an ExitError.
	NoThrow bool
	// OnLine streams classified stdout and stderr lines as they arrive.
	OnLine func(Line)
}

// RunResult is the outcome of a command.
type RunResult struct {
	ExitCode int
	Output   string
	Stderr   string
}

const sudoPrompt = "[sudo] password for %u: "

// ComposeCommand builds the remote command line for opts.
func ComposeCommand(command string, opts RunOptions) string {
	var b strings.Builder
	if opts.Cwd != "" {
		b.WriteString("cd " + ShellQuote(opts.Cwd) + " 2>/dev/null; ")
	}
	if opts.Sudo {
		b.WriteString("sudo -S -p " + ShellQuote(sudoPrompt) + " -E ")
	}
	b.WriteString(command)
	return b.String()
}

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Run executes command and waits for it. When ctx ends or the timeout
// expires the remote command is killed and its channel closed; the session
// stays usable.
func (s *ShellSession) Run(ctx context.Context, command string, opts RunOptions) (*RunResult, error) {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.state = StateBusy
	case StateBusy:
		s.mu.Unlock()
		return nil, ErrSessionBusy
	default:
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.state == StateBusy {
			s.state = StateReady
		}
		s.mu.Unlock()
	}()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	// stdin stays empty unless sudo may need a password on it.
	var stdin io.WriteCloser
	if opts.Sudo {
		if stdin, err = sess.StdinPipe(); err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	line := ComposeCommand(command, opts)
	s.log.Debug("run", "command", line)
	if err := sess.Start(line); err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}

	var out, errOut bytes.Buffer
	var wg sync.WaitGroup
	var solicitErr, readErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		readErr = s.scanLines(stdout, &out, opts.OnLine)
	}()
	go func() {
		defer wg.Done()
		solicitErr = s.watchStderr(stderr, stdin, &errOut, opts.OnLine)
	}()

	waitErr := make(chan error, 1)
	go func() {
		wg.Wait()
		waitErr <- sess.Wait()
	}()

	var werr error
	select {
	case werr = <-waitErr:
	case <-ctx.Done():
		if err := sess.Signal(ssh.SIGKILL); err != nil {
			s.log.Debug("signal remote command", "error", err)
		}
		sess.Close()
		return nil, fmt.Errorf("run %q: %w", command, ctx.Err())
	}
	if solicitErr != nil {
		return nil, solicitErr
	}
	if readErr != nil {
		return nil, fmt.Errorf("read output of %q: %w", command, readErr)
	}

	res := &RunResult{
		Output: strings.TrimRight(out.String(), "\n"),
		Stderr: strings.TrimSpace(errOut.String()),
	}
	var exitErr *ssh.ExitError
	switch {
	case werr == nil:
	case errors.As(werr, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	default:
		return nil, fmt.Errorf("run %q: %w", command, werr)
	}
	if res.ExitCode != 0 && !opts.NoThrow {
		return res, &ExitError{Command: command, Code: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

// scanLines copies r into buf line by line, whatever the line length. On a
// read error the rest of r is drained so the remote side never blocks.
func (s *ShellSession) scanLines(r io.Reader, buf *bytes.Buffer, onLine func(Line)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		text, err := br.ReadString('\n')
		if text != "" {
			text = strings.TrimSuffix(strings.TrimSuffix(text, "\n"), "\r")
			buf.WriteString(text)
			buf.WriteByte('\n')
			if onLine != nil {
				if l := ClassifyLine(text); l.Class != ClassBlank {
					onLine(l)
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			io.Copy(io.Discard, r)
			return err
		}
	}
}

// watchStderr collects stderr and answers sudo prompts, which arrive
// without a trailing newline.
func (s *ShellSession) watchStderr(r io.Reader, stdin io.WriteCloser, buf *bytes.Buffer, onLine func(Line)) error {
	if stdin != nil {
		defer stdin.Close()
	}
	var pending []byte
	prompts := 0
	chunk := make([]byte, 4096)
	var failure error
	for {
		n, err := r.Read(chunk)
		pending = append(pending, chunk[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			text := string(pending[:i])
			pending = pending[i+1:]
			buf.WriteString(text + "\n")
			if l := ClassifyLine(text); l.Class != ClassBlank && onLine != nil {
				onLine(l)
			}
		}
		if l := ClassifyLine(string(pending)); stdin != nil && l.Class == ClassSudoPrompt && failure == nil {
			pending = pending[:0]
			prompts++
			if prompts > 1 {
				s.solicitor.Forget(l.Text)
			}
			secret, serr := s.solicitor.Solicit(l.Text)
			if serr != nil {
				failure = fmt.Errorf("sudo password: %w", serr)
				stdin.Close()
			} else if _, werr := io.WriteString(stdin, secret+"\n"); werr != nil {
				failure = fmt.Errorf("send sudo password: %w", werr)
			}
		}
		if err != nil {
			if len(pending) > 0 {
				buf.Write(pending)
			}
			return failure
		}
	}
}

// Close disconnects. Closing a session that is not connected fails.
func (s *ShellSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.state == StateClosed {
		return ErrNotConnected
	}
	s.state = StateClosed
	return s.client.Close()
}
