// Package transport runs commands on and uploads files to remote hosts
// over SSH, with interactive secret prompting and cancellation.
package transport

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Ready markers. They only need to be unlikely to occur in command output.
const (
	ShellReadyMarker        = "PS1>"
	ShellContinuationMarker = "PS2>"
	SFTPReadyMarker         = "sftp>"
)

// LineClass is what a line of terminal output was recognised as.
type LineClass int

const (
	ClassOutput LineClass = iota
	ClassBlank
	ClassError
	ClassExitCode
	ClassVersion
	ClassPath
	ClassJSON
	ClassSudoPrompt
	ClassLoginPrompt
	ClassPermissionDenied
	ClassVerificationPrompt
	ClassReady
)

var classNames = [...]string{
	ClassOutput:             "output",
	ClassBlank:              "blank",
	ClassError:              "error",
	ClassExitCode:           "exitCode",
	ClassVersion:            "version",
	ClassPath:               "path",
	ClassJSON:               "json",
	ClassSudoPrompt:         "sudoPrompt",
	ClassLoginPrompt:        "loginPrompt",
	ClassPermissionDenied:   "permissionDenied",
	ClassVerificationPrompt: "verificationPrompt",
	ClassReady:              "ready",
}

func (c LineClass) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return "LineClass(" + strconv.Itoa(int(c)) + ")"
}

var (
	exitCodeRe     = regexp.MustCompile(`^\d+$`)
	versionRe      = regexp.MustCompile(`^v?\d+\.\d+\.\d+(?:[-+][0-9A-Za-z.+-]+)?$`)
	sudoPromptRe   = regexp.MustCompile(`^\[sudo\] password for [^:]*:\s*$`)
	loginPromptRe  = regexp.MustCompile(`^[^\s@]+@[^\s']+'s password:\s*$`)
	deniedRe       = regexp.MustCompile(`^[^\s@]+@[^\s:]+: Permission denied`)
	verificationRe = regexp.MustCompile(`(?i)^verification code:`)
)

// Line is one classified line. Text is trimmed and free of ANSI escapes.
type Line struct {
	Text  string
	Class LineClass
	// Code is the parsed value of a ClassExitCode line.
	Code int
}

// ClassifyLine classifies a single line. readyMarkers name the prompt
// suffixes that mean the remote side is waiting for input.
func ClassifyLine(raw string, readyMarkers ...string) Line {
	text := strings.TrimSpace(ansi.Strip(raw))
	l := Line{Text: text}
	lower := strings.ToLower(text)
	switch {
	case text == "":
		l.Class = ClassBlank
	case hasReadyMarker(text, readyMarkers):
		l.Class = ClassReady
	case sudoPromptRe.MatchString(text):
		l.Class = ClassSudoPrompt
	case loginPromptRe.MatchString(text):
		l.Class = ClassLoginPrompt
	case deniedRe.MatchString(text):
		l.Class = ClassPermissionDenied
	case verificationRe.MatchString(text):
		l.Class = ClassVerificationPrompt
	case strings.HasPrefix(lower, "error:"), strings.HasPrefix(lower, "warning:"):
		l.Class = ClassError
	case exitCodeRe.MatchString(text):
		code, err := strconv.Atoi(text)
		if err != nil {
			l.Class = ClassOutput
			break
		}
		l.Class, l.Code = ClassExitCode, code
	case versionRe.MatchString(text):
		l.Class = ClassVersion
	case strings.HasPrefix(text, "/"):
		l.Class = ClassPath
	case strings.HasPrefix(text, "{"):
		l.Class = ClassJSON
	default:
		l.Class = ClassOutput
	}
	return l
}

func hasReadyMarker(text string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.HasSuffix(text, m) {
			return true
		}
	}
	return false
}

// Summary folds the lines of a chunk of output.
type Summary struct {
	Lines            []Line
	Ready            bool
	PermissionDenied bool
	HasExitCode      bool
	ExitCode         int
	// Prompt is the last secret prompt seen, if any.
	Prompt      string
	PromptClass LineClass
	Errors      []string
	// Output holds the lines that are neither prompts nor errors.
	Output []string
}

// Classify splits chunk into lines and classifies each one.
func Classify(chunk string, readyMarkers ...string) Summary {
	var s Summary
	for _, raw := range strings.Split(strings.ReplaceAll(chunk, "\r\n", "\n"), "\n") {
		l := ClassifyLine(raw, readyMarkers...)
		switch l.Class {
		case ClassBlank:
			continue
		case ClassReady:
			s.Ready = true
		case ClassPermissionDenied:
			s.PermissionDenied = true
		case ClassExitCode:
			s.HasExitCode, s.ExitCode = true, l.Code
		case ClassSudoPrompt, ClassLoginPrompt, ClassVerificationPrompt:
			s.Prompt, s.PromptClass = l.Text, l.Class
		case ClassError:
			s.Errors = append(s.Errors, l.Text)
		default:
			s.Output = append(s.Output, l.Text)
		}
		s.Lines = append(s.Lines, l)
	}
	return s
}

// IsPrompt reports whether c asks for a secret.
func (c LineClass) IsPrompt() bool {
	return c == ClassSudoPrompt || c == ClassLoginPrompt || c == ClassVerificationPrompt
}
