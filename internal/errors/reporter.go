// Package errors formats the pipeline's own error classes (spec §7) for
// the CLI: a configuration rejection, a recovered invariant violation, or
// a pass's wrapped failure. There is no surface-language source text to
// point a caret at here (IR textual parsing is out of scope - see
// SPEC_FULL.md §1), so this is a flag/value diagnostics reporter rather
// than the teacher's line/column source reporter: it keeps the same
// "error[CODE]: message" plus colored suggestions/notes shape, stripped
// of everything that assumed a source file existed to quote from.
//
// Ported from kanso's internal/errors/reporter.go FormatError.
package errors

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Level mirrors the teacher's ErrorLevel, renamed to avoid stutter with
// the package name.
type Level string

const (
	Error   Level = "error"
	Warning Level = "warning"
	Note    Level = "note"
)

// Diagnostic is a structured error with an optional code, suggestions,
// and notes - the config/runtime equivalent of the teacher's
// CompilerError, minus the ast.Position/Length fields a text-free domain
// has no use for.
type Diagnostic struct {
	Level       Level
	Code        string // e.g. a flag name, or "E-INVARIANT"
	Message     string
	Suggestions []string
	Notes       []string
}

// Reporter formats Diagnostics with the teacher's colored styling.
type Reporter struct{}

func NewReporter() *Reporter { return &Reporter{} }

// Format renders d the way kanso's ErrorReporter renders a CompilerError,
// minus the context-line/caret block a text source would have supplied.
func (r *Reporter) Format(d Diagnostic) string {
	var sb strings.Builder
	levelColor := r.levelColor(d.Level)
	if d.Code != "" {
		fmt.Fprintf(&sb, "%s[%s]: %s\n", levelColor(string(d.Level)), d.Code, d.Message)
	} else {
		fmt.Fprintf(&sb, "%s: %s\n", levelColor(string(d.Level)), d.Message)
	}

	helpColor := color.New(color.FgCyan).SprintFunc()
	for i, s := range d.Suggestions {
		if i == 0 {
			fmt.Fprintf(&sb, "  %s %s: %s\n", helpColor("help"), helpColor("try"), s)
		} else {
			fmt.Fprintf(&sb, "  %s %s\n", helpColor("    "), s)
		}
	}

	noteColor := color.New(color.FgBlue).SprintFunc()
	for _, n := range d.Notes {
		fmt.Fprintf(&sb, "  %s %s\n", noteColor("note:"), n)
	}

	return sb.String()
}

func (r *Reporter) levelColor(level Level) func(...interface{}) string {
	switch level {
	case Error:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	case Warning:
		return color.New(color.FgYellow, color.Bold).SprintFunc()
	case Note:
		return color.New(color.FgBlue, color.Bold).SprintFunc()
	default:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	}
}

// FromConfigError adapts an obfconfig.ValidationError (or any error) into
// a Diagnostic, so the CLI has one formatting path for both classes of
// fatal error spec §7 distinguishes.
func FromConfigError(err error) Diagnostic {
	return Diagnostic{
		Level:   Error,
		Code:    "E-CONFIG",
		Message: err.Error(),
		Notes:   []string{"configuration errors abort before any pass runs"},
	}
}

// FromInvariantError adapts a recovered invariant-violation error into a
// Diagnostic.
func FromInvariantError(err error) Diagnostic {
	return Diagnostic{
		Level:   Error,
		Code:    "E-INVARIANT",
		Message: err.Error(),
		Notes:   []string{"this indicates corrupted IR a pass could not safely route around"},
	}
}
