package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const testPassword = "hunter2"

const bigLine = 5 << 20

// testServer is an in-process SSH server. exec requests are answered by a
// tiny fake shell; the sftp subsystem serves the local filesystem.
type testServer struct {
	addr    string
	release chan struct{}
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %s", c.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := &testServer{addr: ln.Addr().String(), release: make(chan struct{})}
	t.Cleanup(func() {
		close(srv.release)
		ln.Close()
	})
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(nc, cfg)
		}
	}()
	return srv
}

func (srv *testServer) serveConn(nc net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go srv.serveSession(ch, chReqs)
	}
}

func (srv *testServer) serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			ssh.Unmarshal(req.Payload, &payload)
			req.Reply(true, nil)
			go func() {
				code := srv.exec(payload.Command, ch)
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
				ch.Close()
			}()
		case "subsystem":
			req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(ch)
				if err != nil {
					ch.Close()
					return
				}
				server.Serve()
				ch.Close()
			}()
		case "signal":
			ch.Close()
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// exec fakes a shell: it echoes the command line, fails on "fail", blocks
// on "hang", prints one huge line on "bigline", and implements a
// password-checking sudo.
func (srv *testServer) exec(cmd string, ch ssh.Channel) uint32 {
	switch {
	case strings.HasPrefix(cmd, "sudo -S"):
		io.WriteString(ch.Stderr(), "[sudo] password for bob: ")
		pass, _ := bufio.NewReader(ch).ReadString('\n')
		if strings.TrimSpace(pass) != testPassword {
			io.WriteString(ch.Stderr(), "Sorry, try again.\n")
			return 1
		}
		io.WriteString(ch, "root\n")
		return 0
	case strings.Contains(cmd, "fail"):
		io.WriteString(ch.Stderr(), "error: boom\n")
		return 3
	case strings.Contains(cmd, "hang"):
		<-srv.release
		return 0
	case strings.Contains(cmd, "bigline"):
		ch.Write(bytes.Repeat([]byte("x"), bigLine))
		io.WriteString(ch, "\ntail\n")
		return 0
	default:
		io.WriteString(ch, "ran: "+cmd+"\n")
		io.WriteString(ch, `{"asserted":"AlwaysTrue"}`+"\n")
		return 0
	}
}

func connect(t *testing.T, srv *testServer, password string, asked *int32) *ShellSession {
	t.Helper()
	host, portStr, _ := net.SplitHostPort(srv.addr)
	port, _ := strconv.Atoi(portStr)
	s, err := Connect(context.Background(), ConnectOptions{
		Host:           host,
		Port:           port,
		User:           "bob",
		NoHostKeyCheck: true,
		Timeout:        5 * time.Second,
		Solicitor: SolicitorFunc(func(prompt string) (string, error) {
			if asked != nil {
				atomic.AddInt32(asked, 1)
			}
			return password, nil
		}),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShellSession_Run(t *testing.T) {
	srv := startServer(t)
	s := connect(t, srv, testPassword, nil)
	if s.State() != StateReady {
		t.Fatalf("state = %s", s.State())
	}

	var mu sync.Mutex
	var classes []LineClass
	res, err := s.Run(context.Background(), "ls", RunOptions{
		Cwd: "/tmp",
		OnLine: func(l Line) {
			mu.Lock()
			classes = append(classes, l.Class)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Output, "ran: cd /tmp 2>/dev/null; ls") {
		t.Errorf("output = %q", res.Output)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(classes) != 2 || classes[1] != ClassJSON {
		t.Errorf("streamed classes = %v", classes)
	}
}

func TestShellSession_ExitError(t *testing.T) {
	srv := startServer(t)
	s := connect(t, srv, testPassword, nil)

	_, err := s.Run(context.Background(), "fail", RunOptions{})
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExitError", err)
	}
	if ee.Code != 3 || ee.Stderr != "error: boom" {
		t.Errorf("exit error = %+v", ee)
	}

	res, err := s.Run(context.Background(), "fail", RunOptions{NoThrow: true})
	if err != nil {
		t.Fatalf("NoThrow returned %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
}

func TestShellSession_LongLine(t *testing.T) {
	srv := startServer(t)
	s := connect(t, srv, testPassword, nil)

	var last string
	res, err := s.Run(context.Background(), "bigline", RunOptions{
		OnLine: func(l Line) { last = l.Text },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Output) != bigLine+len("\ntail") {
		t.Errorf("output length = %d, want %d", len(res.Output), bigLine+len("\ntail"))
	}
	if !strings.HasSuffix(res.Output, "x\ntail") {
		t.Errorf("output ends with %q", res.Output[max(0, len(res.Output)-16):])
	}
	if last != "tail" {
		t.Errorf("last streamed line = %.16q", last)
	}
}

func TestShellSession_TimeoutKillsAndStaysUsable(t *testing.T) {
	srv := startServer(t)
	s := connect(t, srv, testPassword, nil)

	start := time.Now()
	_, err := s.Run(context.Background(), "hang", RunOptions{Timeout: 100 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout did not return promptly")
	}
	if s.State() != StateReady {
		t.Errorf("state after timeout = %s", s.State())
	}
	if _, err := s.Run(context.Background(), "echo again", RunOptions{}); err != nil {
		t.Errorf("session unusable after timeout: %v", err)
	}
}

func TestShellSession_Busy(t *testing.T) {
	srv := startServer(t)
	s := connect(t, srv, testPassword, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, "hang", RunOptions{})
		close(done)
	}()
	deadline := time.Now().Add(3 * time.Second)
	for s.State() != StateBusy && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := s.Run(context.Background(), "ls", RunOptions{}); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("err = %v, want ErrSessionBusy", err)
	}
	cancel()
	<-done
}

func TestShellSession_SudoPasswordMemoized(t *testing.T) {
	srv := startServer(t)
	var asked int32
	s := connect(t, srv, testPassword, &asked)
	loginPrompts := atomic.LoadInt32(&asked)

	for i := 0; i < 2; i++ {
		res, err := s.Run(context.Background(), "id -un", RunOptions{Sudo: true})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if res.Output != "root" {
			t.Errorf("output = %q", res.Output)
		}
	}
	if got := atomic.LoadInt32(&asked) - loginPrompts; got != 1 {
		t.Errorf("sudo password asked %d times, want 1", got)
	}
}

func TestConnect_PermissionDenied(t *testing.T) {
	srv := startServer(t)
	host, portStr, _ := net.SplitHostPort(srv.addr)
	port, _ := strconv.Atoi(portStr)
	_, err := Connect(context.Background(), ConnectOptions{
		Host:           host,
		Port:           port,
		User:           "bob",
		NoHostKeyCheck: true,
		Solicitor:      SolicitorFunc(func(string) (string, error) { return "wrong", nil }),
	})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestShellSession_CloseTwice(t *testing.T) {
	srv := startServer(t)
	s := connect(t, srv, testPassword, nil)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("second Close = %v", err)
	}
	if _, err := s.Run(context.Background(), "ls", RunOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Run after Close = %v", err)
	}
}

func TestSFTPSession_PutContent(t *testing.T) {
	srv := startServer(t)
	s := connect(t, srv, testPassword, nil)

	f, err := OpenSFTP(s)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dest := filepath.Join(t.TempDir(), "stage", "a.json5")
	if err := f.PutContent(context.Background(), filepath.ToSlash(dest), []byte("{}"), PutOptions{Mode: 0o600}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("content = %q", data)
	}
	info, _ := os.Stat(dest)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v", info.Mode().Perm())
	}
}
