package providers

import (
	"context"
	"os/exec"
	"strings"
	"testing"
)

func TestRealExecutorEcho(t *testing.T) {
	r := &RealExecutor{}
	result, err := r.Execute(context.Background(), "echo", []string{"hello"}, nil, Privilege{As: EffectiveIdentity()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := strings.TrimSpace(string(result.Stdout))
	if out != "hello" {
		t.Errorf("stdout = %q, want %q", out, "hello")
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestRealExecutorExitCode(t *testing.T) {
	r := &RealExecutor{}
	result, err := r.Execute(context.Background(), "sh", []string{"-c", "exit 3"}, nil, Privilege{As: EffectiveIdentity()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestRealExecutorNotFound(t *testing.T) {
	r := &RealExecutor{}
	_, err := r.Execute(context.Background(), "converge-no-such-binary", nil, nil, Privilege{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v", err)
	}
}

func TestIsExecNotFound(t *testing.T) {
	if !isExecNotFound(exec.ErrNotFound) {
		t.Error("expected ErrNotFound to be detected")
	}
	err := &exec.Error{Name: "bogus", Err: exec.ErrNotFound}
	if !isExecNotFound(err) {
		t.Error("expected exec.Error wrapping ErrNotFound to be detected")
	}
}

func TestPrivilegeNeedsDrop(t *testing.T) {
	user := Identity{UID: 1000, GID: 1000}
	tests := []struct {
		name    string
		priv    Privilege
		current Identity
		want    bool
	}{
		{"root acting for user", Privilege{As: user}, Root, true},
		{"root elevated", Elevated(), Root, false},
		{"user acting for self", Privilege{As: user}, user, false},
		{"user cannot switch", Privilege{As: Identity{UID: 5, GID: 5}}, user, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.priv.NeedsDrop(tt.current); got != tt.want {
				t.Errorf("NeedsDrop = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSudoIdentity(t *testing.T) {
	t.Setenv("SUDO_UID", "1234")
	t.Setenv("SUDO_GID", "99")
	id, err := SudoIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if id != (Identity{UID: 1234, GID: 99}) {
		t.Errorf("id = %+v", id)
	}

	t.Setenv("SUDO_UID", "abc")
	if _, err := SudoIdentity(); err == nil {
		t.Error("expected parse error")
	}

	t.Setenv("SUDO_UID", "")
	id, err = SudoIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if id != EffectiveIdentity() {
		t.Errorf("fallback id = %+v, want effective identity", id)
	}
}
