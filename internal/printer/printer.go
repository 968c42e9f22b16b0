// Package printer renders CLI messages: coloured status lines on stdout and
// titled errors with suggestions on stderr.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/dyluth/nlbayes/pkg/jobstore"
)

func init() {
	// colour stays on when piped; NO_COLOR turns it off
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	blue   = color.New(color.FgBlue)
)

// SetOutput redirects messages and returns a func restoring the previous writers.
func SetOutput(out, errOut io.Writer) (restore func()) {
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	return func() { stdout, stderr = prevOut, prevErr }
}

// Success prints msg in green behind a check mark.
func Success(format string, a ...any) {
	green.Fprint(stdout, withMark("✓ ", fmt.Sprintf(format, a...)))
}

// Info prints an uncoloured message.
func Info(format string, a ...any) {
	fmt.Fprintf(stdout, format, a...)
}

// Warning prints msg in yellow behind a warning sign.
func Warning(format string, a ...any) {
	yellow.Fprint(stdout, withMark("⚠️  ", fmt.Sprintf(format, a...)))
}

// Println prints a plain line.
func Println(a ...any) {
	fmt.Fprintln(stdout, a...)
}

// Printf prints a plain formatted message.
func Printf(format string, a ...any) {
	fmt.Fprintf(stdout, format, a...)
}

// Error prints title, explanation and suggestions to stderr and returns an
// error carrying only the title, for commands that silence cobra's own output.
func Error(title, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details (printed sorted by key)
// between the explanation and the suggestions.
func ErrorWithContext(title, explanation string, details map[string]string, suggestions []string) error {
	red.Fprintf(stderr, "%s\n\n", title)
	if explanation != "" {
		fmt.Fprintf(stderr, "%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(stderr)
		for _, k := range keys {
			fmt.Fprintf(stderr, "  %s: %s\n", k, details[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(stderr, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(stderr, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}

// Phase returns the phase name coloured by how far the task has progressed.
func Phase(p jobstore.Phase) string {
	switch p {
	case jobstore.PhaseComplete:
		return green.Sprint(p)
	case jobstore.PhaseFailed:
		return red.Sprint(p)
	case jobstore.PhaseSampling:
		return cyan.Sprint(p)
	case jobstore.PhaseBurnin:
		return blue.Sprint(p)
	default:
		return yellow.Sprint(p)
	}
}

func withMark(mark, msg string) string {
	if strings.HasPrefix(msg, strings.TrimSpace(mark)) {
		return msg
	}
	return mark + msg
}
