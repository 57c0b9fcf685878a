package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/ormasoftchile/converge/pkg/engine"
	"github.com/ormasoftchile/converge/pkg/logging"
	"github.com/ormasoftchile/converge/pkg/runctx"
	"github.com/ormasoftchile/converge/pkg/script"
	"github.com/ormasoftchile/converge/pkg/transport"
)

// Remote is an open connection to one host.
type Remote interface {
	Run(ctx context.Context, command string, opts transport.RunOptions) (*transport.RunResult, error)
	PutContent(ctx context.Context, remotePath string, data []byte, opts transport.PutOptions) error
	Close() error
}

// DialFunc opens a Remote.
type DialFunc func(ctx context.Context, opts transport.ConnectOptions) (Remote, error)

// sshRemote pairs a shell session with an sftp session on the same
// connection.
type sshRemote struct {
	*transport.ShellSession
	files *transport.SFTPSession
}

func (r *sshRemote) PutContent(ctx context.Context, remotePath string, data []byte, opts transport.PutOptions) error {
	return r.files.PutContent(ctx, remotePath, data, opts)
}

func (r *sshRemote) Close() error {
	r.files.Close()
	return r.ShellSession.Close()
}

// DialSSH is the default DialFunc.
func DialSSH(ctx context.Context, opts transport.ConnectOptions) (Remote, error) {
	shell, err := transport.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	files, err := transport.OpenSFTP(shell)
	if err != nil {
		shell.Close()
		return nil, err
	}
	return &sshRemote{ShellSession: shell, files: files}, nil
}

const binaryName = "converge"

func (o *Orchestrator) runRemote(ctx context.Context, sc *script.Context, h Host, opts Options) error {
	log := logging.FromContext(ctx)

	uploads, err := prepareUploads(sc)
	if err != nil {
		return err
	}

	dial := o.Dial
	if dial == nil {
		dial = DialSSH
	}
	var solicitor transport.Solicitor
	if o.Solicitor != nil {
		solicitor = o.Solicitor(h.Host)
	} else {
		solicitor = &transport.TerminalSolicitor{Host: h.Host}
	}
	remote, err := dial(ctx, transport.ConnectOptions{
		Host:           h.Host,
		Port:           h.Port,
		User:           h.User,
		Identity:       h.Identity,
		UseAgent:       opts.UseAgent,
		KnownHosts:     opts.KnownHosts,
		NoHostKeyCheck: opts.NoHostKeyCheck,
		Solicitor:      solicitor,
		Timeout:        opts.Timeout,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer remote.Close()

	stage := "/tmp/converge-" + uuid.NewString()
	defer func() {
		// Best effort.
		cleanup := context.WithoutCancel(ctx)
		if _, err := remote.Run(cleanup, "rm -rf "+transport.ShellQuote(stage), transport.RunOptions{NoThrow: true, Timeout: opts.Timeout}); err != nil {
			log.Warn("remove staging directory", "dir", stage, "error", err)
		}
	}()

	bin, err := o.ensureBinary(ctx, remote, stage, opts)
	if err != nil {
		return err
	}

	for _, u := range uploads {
		dest := path.Join(stage, u.rel)
		if err := remote.PutContent(ctx, dest, u.data, transport.PutOptions{Timeout: opts.Timeout}); err != nil {
			return fmt.Errorf("upload %s: %w", u.rel, err)
		}
	}

	rootRel, _ := sc.Root()
	command := transport.ShellQuote(bin) + " --embedded"
	if opts.AssertOnly {
		command += " --assertOnly"
	}
	command += " " + transport.ShellQuote(rootRel)

	_, err = remote.Run(ctx, command, transport.RunOptions{
		Cwd:     stage,
		Sudo:    sc.AnyScriptHasBecomes,
		Timeout: opts.Timeout,
		OnLine:  o.relay(ctx, h.Host),
	})
	return err
}

// relay re-emits the JSON result lines of a remote run locally.
func (o *Orchestrator) relay(ctx context.Context, host string) func(transport.Line) {
	log := logging.FromContext(ctx)
	sink := o.Sink
	if sink == nil {
		sink = engine.Discard
	}
	return func(l transport.Line) {
		switch l.Class {
		case transport.ClassJSON:
			var out engine.Output
			if err := json.Unmarshal([]byte(l.Text), &out); err != nil {
				log.Debug("undecodable remote line", "line", l.Text, "error", err)
				return
			}
			out.Host = host
			if err := sink.Emit(&out); err != nil {
				log.Warn("emit remote result", "error", err)
			}
		case transport.ClassError:
			log.Warn(l.Text)
		default:
			log.Debug("remote", "line", l.Text)
		}
	}
}

// ensureBinary returns the converge binary to invoke on the remote,
// uploading the running executable when the remote has none and shares
// the local platform.
func (o *Orchestrator) ensureBinary(ctx context.Context, remote Remote, stage string, opts Options) (string, error) {
	res, err := remote.Run(ctx, "command -v "+binaryName, transport.RunOptions{NoThrow: true, Timeout: opts.Timeout})
	if err != nil {
		return "", err
	}
	if res.ExitCode == 0 && strings.TrimSpace(res.Output) != "" {
		return binaryName, nil
	}

	res, err = remote.Run(ctx, "uname -s -m", transport.RunOptions{Timeout: opts.Timeout})
	if err != nil {
		return "", err
	}
	goos, goarch := remotePlatform(res.Output)
	if goos != runtime.GOOS || goarch != runtime.GOARCH {
		return "", fmt.Errorf("%s is not installed on the host and cannot be uploaded: host is %s/%s, local binary is %s/%s",
			binaryName, goos, goarch, runtime.GOOS, runtime.GOARCH)
	}

	executable := o.Executable
	if executable == nil {
		executable = os.Executable
	}
	self, err := executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	data, err := os.ReadFile(self)
	if err != nil {
		return "", fmt.Errorf("read executable: %w", err)
	}
	dest := path.Join(stage, binaryName)
	if err := remote.PutContent(ctx, dest, data, transport.PutOptions{Mode: 0o755, Timeout: opts.Timeout}); err != nil {
		return "", fmt.Errorf("upload %s: %w", binaryName, err)
	}
	logging.FromContext(ctx).Debug("uploaded executable", "path", dest)
	return dest, nil
}

// remotePlatform maps `uname -s -m` output to GOOS/GOARCH names.
func remotePlatform(uname string) (goos, goarch string) {
	fields := strings.Fields(uname)
	if len(fields) < 2 {
		return "unknown", "unknown"
	}
	goos = strings.ToLower(fields[0])
	switch arch := fields[1]; arch {
	case "x86_64", "amd64":
		goarch = "amd64"
	case "aarch64", "arm64":
		goarch = "arm64"
	case "i386", "i686":
		goarch = "386"
	default:
		if strings.HasPrefix(arch, "armv") {
			goarch = "arm"
		} else {
			goarch = arch
		}
	}
	return goos, goarch
}

type upload struct {
	rel  string
	data []byte
}

// prepareUploads serializes every script of sc with vars.local resolved
// here. Other vars stay raw and are interpolated on the host.
func prepareUploads(sc *script.Context) ([]upload, error) {
	rc, interp := runctx.New()
	var uploads []upload
	for _, rel := range sc.Paths {
		doc := sc.Nodes[rel]
		delete(rc.Vars, script.LocalVarsKey)
		if err := runctx.Update(rc, interp, doc, runctx.UpdateOptions{InterpolateOnlyLocalVars: true}); err != nil {
			return nil, err
		}
		var locals map[string]any
		if v, ok := rc.Vars[script.LocalVarsKey]; ok {
			m, isMap := v.(map[string]any)
			if !isMap {
				return nil, script.NewError(doc.Get(script.SectionVars).Get(script.LocalVarsKey), "'vars.local' must be an object")
			}
			locals = m
		}
		data, err := script.Serialize(sc, rel, locals)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, upload{rel: rel, data: data})
	}
	return uploads, nil
}
