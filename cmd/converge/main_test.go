package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/converge/pkg/config"
	"github.com/ormasoftchile/converge/pkg/orchestrator"
)

func TestParseHostFlag(t *testing.T) {
	tests := []struct {
		in      string
		want    orchestrator.Host
		wantErr bool
	}{
		{in: "web1", want: orchestrator.Host{Host: "web1"}},
		{in: "deploy@web1", want: orchestrator.Host{Host: "web1", User: "deploy"}},
		{in: "web1:2222", want: orchestrator.Host{Host: "web1", Port: 2222}},
		{in: "deploy@10.0.0.5:2200", want: orchestrator.Host{Host: "10.0.0.5", User: "deploy", Port: 2200}},
		{in: "[::1]:22", want: orchestrator.Host{Host: "::1", Port: 22}},
		{in: "web1:0", wantErr: true},
		{in: "web1:ssh", wantErr: true},
		{in: "deploy@", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseHostFlag(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReportError(t *testing.T) {
	err := fmt.Errorf("run: %w", errors.New("disk full"))

	var short bytes.Buffer
	reportError(&short, err, false)
	if short.String() != "error: run: disk full\n" {
		t.Errorf("short = %q", short.String())
	}

	var full bytes.Buffer
	reportError(&full, err, true)
	if !strings.Contains(full.String(), "caused by: disk full") {
		t.Errorf("full = %q", full.String())
	}
}

func TestApplyConfig_FlagsWin(t *testing.T) {
	defer func(u string, p int) { user, port = u, p }(user, port)

	cmd := &cobra.Command{}
	cmd.Flags().StringVar(&user, "user", "", "")
	cmd.Flags().IntVar(&port, "port", 22, "")
	if err := cmd.Flags().Parse([]string{"--port", "2022"}); err != nil {
		t.Fatal(err)
	}

	c := config.Default()
	c.User = "ops"
	c.Port = 2200
	applyConfig(cmd, c)
	if user != "ops" {
		t.Errorf("user = %q, want config value", user)
	}
	if port != 2022 {
		t.Errorf("port = %d, want flag value", port)
	}
}

func TestCollectHosts(t *testing.T) {
	defer func(f string, h []string) { hostFile, hostFlags = f, h }(hostFile, hostFlags)

	dir := t.TempDir()
	hostFile = filepath.Join(dir, "hosts.yaml")
	os.WriteFile(hostFile, []byte("- host: db1\n  port: 2200\n"), 0o644)
	hostFlags = []string{"root@web1"}

	hosts, err := collectHosts()
	if err != nil {
		t.Fatal(err)
	}
	want := []orchestrator.Host{{Host: "db1", Port: 2200}, {Host: "web1", User: "root"}}
	if len(hosts) != len(want) || hosts[0] != want[0] || hosts[1] != want[1] {
		t.Errorf("hosts = %+v", hosts)
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "base.json5"), []byte(`{assertions: [{assert: "AlwaysTrue"}]}`), 0o644)
	main := filepath.Join(dir, "main.json5")
	os.WriteFile(main, []byte(`{includes: ["base.json5"], assertions: [{assert: "AlwaysTrue", become: true}]}`), 0o644)

	var out bytes.Buffer
	validateCmd.SetOut(&out)
	defer validateCmd.SetOut(nil)
	if err := runValidate(validateCmd, []string{main}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "main.json5 is valid (2 scripts, 2 assertions)") {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "need root") {
		t.Errorf("become not reported: %q", out.String())
	}
}

func TestValidateCommand_ReportsPosition(t *testing.T) {
	main := filepath.Join(t.TempDir(), "main.json5")
	os.WriteFile(main, []byte("{\n  assertions: [{with: {}}]\n}"), 0o644)
	err := runValidate(validateCmd, []string{main})
	if err == nil || !strings.Contains(err.Error(), "main.json5:2:") {
		t.Errorf("err = %v", err)
	}
}
