package compiler

import (
	"fmt"
	"strings"
)

// Severity classifies a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic is one message produced while compiling.
type Diagnostic struct {
	Severity Severity
	Line     int // 0 when the location is unknown
	Message  string
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", d.Line, d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Severity, d.Message)
}

// Error is returned when compilation fails. It carries every diagnostic
// collected for the unit, warnings included.
type Error struct {
	Identity    string
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			msgs = append(msgs, d.String())
		}
	}
	prefix := "compile failed"
	if e.Identity != "" {
		prefix = fmt.Sprintf("compile %s failed", e.Identity)
	}
	return prefix + ": " + strings.Join(msgs, "; ")
}

// Messages returns the rendered diagnostics.
func (e *Error) Messages() []string {
	out := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		out[i] = d.String()
	}
	return out
}

// diagnostics accumulates messages for one compile call.
type diagnostics struct {
	list []Diagnostic
}

func (d *diagnostics) errorf(line int, format string, args ...interface{}) {
	d.list = append(d.list, Diagnostic{Severity: SeverityError, Line: line, Message: fmt.Sprintf(format, args...)})
}

func (d *diagnostics) warnf(line int, format string, args ...interface{}) {
	d.list = append(d.list, Diagnostic{Severity: SeverityWarning, Line: line, Message: fmt.Sprintf(format, args...)})
}

func (d *diagnostics) hasErrors() bool {
	for _, x := range d.list {
		if x.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (d *diagnostics) warnings() []Diagnostic {
	var out []Diagnostic
	for _, x := range d.list {
		if x.Severity == SeverityWarning {
			out = append(out, x)
		}
	}
	return out
}
