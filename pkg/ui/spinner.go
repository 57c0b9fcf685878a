package ui

import (
	"io"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ormasoftchile/converge/pkg/engine"
)

type startedMsg struct{ label string }

type spinnerModel struct {
	sp    spinner.Model
	label string
	width *atomic.Int32
}

func newSpinnerModel(width *atomic.Int32) spinnerModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = wouldRectifyStyle
	return spinnerModel{sp: sp, width: width}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.sp.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case startedMsg:
		m.label = msg.label
		return m, nil
	case tea.WindowSizeMsg:
		m.width.Store(int32(msg.Width))
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.sp, cmd = m.sp.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.label == "" {
		return ""
	}
	return m.sp.View() + " " + m.label
}

// SpinnerSink shows the running assertion under a spinner and prints
// result lines above it.
type SpinnerSink struct {
	p     *tea.Program
	done  chan struct{}
	width atomic.Int32
}

// NewSpinnerSink starts the spinner on out. Call Close when the run ends.
func NewSpinnerSink(out io.Writer, width int) *SpinnerSink {
	s := &SpinnerSink{done: make(chan struct{})}
	s.width.Store(int32(width))
	s.p = tea.NewProgram(newSpinnerModel(&s.width),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	go func() {
		defer close(s.done)
		s.p.Run()
	}()
	return s
}

// Started shows name and description next to the spinner.
func (s *SpinnerSink) Started(name, description string) {
	label := name
	if description != "" {
		label += " " + descriptionStyle.Render(description)
	}
	s.p.Send(startedMsg{label: label})
}

// Emit prints a result line above the spinner.
func (s *SpinnerSink) Emit(out *engine.Output) error {
	s.p.Println(FormatLine(out, int(s.width.Load())))
	return nil
}

// Suspend hands the terminal to fn, typically to prompt for a secret.
func (s *SpinnerSink) Suspend(fn func() error) error {
	if err := s.p.ReleaseTerminal(); err != nil {
		return err
	}
	defer s.p.RestoreTerminal()
	return fn()
}

// Close stops the spinner and waits for the terminal to be restored.
func (s *SpinnerSink) Close() {
	s.p.Send(startedMsg{})
	s.p.Quit()
	<-s.done
}
