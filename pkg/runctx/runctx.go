// Package runctx holds the mutable state shared by the assertions of one run
// and the sandboxed interpolator that evaluates {expressions} against it.
package runctx

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

// Sys describes the script currently being processed.
type Sys struct {
	ScriptFile string
	ScriptDir  string
}

// RunContext is the state visible to interpolated expressions. Vars
// accumulate across the scripts of a run; Sys is replaced per script.
type RunContext struct {
	Vars    map[string]any
	Env     map[string]string
	OS      map[string]any
	User    map[string]any
	Sys     Sys
	Results *Results
}

// Results is the append-only sequence of assertion results of a run.
type Results struct {
	items []any
}

// Append records a result.
func (r *Results) Append(v any) {
	r.items = append(r.items, v)
}

// Last returns the most recent result, or nil when there is none.
func (r *Results) Last() any {
	if len(r.items) == 0 {
		return nil
	}
	return r.items[len(r.items)-1]
}

// All returns a copy of every result in order.
func (r *Results) All() []any {
	return append([]any(nil), r.items...)
}

// Len returns the number of recorded results.
func (r *Results) Len() int {
	return len(r.items)
}

// New creates a RunContext seeded from the live process and its interpolator.
func New() (*RunContext, *Interpolator) {
	rc := &RunContext{
		Vars:    make(map[string]any),
		Env:     environ(),
		OS:      osInfo(),
		User:    userInfo(),
		Results: &Results{},
	}
	return rc, NewInterpolator(rc)
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			env[k] = v
		}
	}
	return env
}

func osInfo() map[string]any {
	hostname, _ := os.Hostname()
	return map[string]any{
		"platform": runtime.GOOS,
		"arch":     runtime.GOARCH,
		"hostname": hostname,
		"cpus":     runtime.NumCPU(),
		"tmpdir":   os.TempDir(),
	}
}

func userInfo() map[string]any {
	info := map[string]any{
		"uid":      os.Getuid(),
		"gid":      os.Getgid(),
		"username": "",
		"homedir":  "",
		"shell":    os.Getenv("SHELL"),
	}
	if u, err := user.Current(); err == nil {
		info["username"] = u.Username
		info["homedir"] = u.HomeDir
	}
	return info
}

// setScript points Sys at the script being processed.
func (rc *RunContext) setScript(filename string) {
	rc.Sys = Sys{ScriptFile: filename, ScriptDir: filepath.Dir(filename)}
}

// readFile resolves relative paths against the current script directory.
func (rc *RunContext) readFile(name string) (string, error) {
	if !filepath.IsAbs(name) && rc.Sys.ScriptDir != "" {
		name = filepath.Join(rc.Sys.ScriptDir, name)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("readFile: %w", err)
	}
	return string(data), nil
}
