package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
)

// Solicitor obtains a secret for a prompt such as "user@host's password:".
type Solicitor interface {
	Solicit(prompt string) (string, error)
}

// SolicitorFunc adapts a function to Solicitor.
type SolicitorFunc func(prompt string) (string, error)

// Solicit calls f.
func (f SolicitorFunc) Solicit(prompt string) (string, error) { return f(prompt) }

// ErrNoSolicitor is returned when a secret is needed but nobody can be asked.
var ErrNoSolicitor = errors.New("a secret is required but no solicitor is configured")

// MemoSolicitor asks its parent once per distinct prompt. Verification
// code prompts are never cached since codes are single use.
type MemoSolicitor struct {
	next Solicitor

	mu      sync.Mutex
	answers map[string]string
}

// Memoize wraps next. A nil next fails every prompt with ErrNoSolicitor.
func Memoize(next Solicitor) *MemoSolicitor {
	return &MemoSolicitor{next: next, answers: make(map[string]string)}
}

// Solicit returns the cached answer for prompt or asks the parent.
func (m *MemoSolicitor) Solicit(prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.answers[prompt]; ok {
		return a, nil
	}
	if m.next == nil {
		return "", ErrNoSolicitor
	}
	a, err := m.next.Solicit(prompt)
	if err != nil {
		return "", err
	}
	if ClassifyLine(prompt).Class != ClassVerificationPrompt {
		m.answers[prompt] = a
	}
	return a, nil
}

// Forget drops the cached answer for prompt, typically after it was
// rejected.
func (m *MemoSolicitor) Forget(prompt string) {
	m.mu.Lock()
	delete(m.answers, prompt)
	m.mu.Unlock()
}

// TerminalSolicitor reads secrets from the controlling terminal without
// echo. Prompts are serialized so concurrent hosts do not interleave.
type TerminalSolicitor struct {
	// Out receives the prompt. Defaults to os.Stderr.
	Out io.Writer
	// Host prefixes prompts when set.
	Host string
}

var terminalMu sync.Mutex

// Solicit prompts on the terminal.
func (t *TerminalSolicitor) Solicit(prompt string) (string, error) {
	terminalMu.Lock()
	defer terminalMu.Unlock()

	out := t.Out
	if out == nil {
		out = os.Stderr
	}
	rl, err := readline.NewEx(&readline.Config{Stdout: out, Stderr: out})
	if err != nil {
		return "", fmt.Errorf("open terminal: %w", err)
	}
	defer rl.Close()

	if t.Host != "" {
		prompt = "[" + t.Host + "] " + prompt
	}
	if prompt != "" && prompt[len(prompt)-1] != ' ' {
		prompt += " "
	}
	secret, err := rl.ReadPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return string(secret), nil
}
