package patch

import (
	"fmt"
	"strings"

	"github.com/chazu/repatch/compiler"
	"github.com/chazu/repatch/ir"
)

// ---------------------------------------------------------------------------
// Object code errors
// ---------------------------------------------------------------------------

// ObjectCodeReason says why a target's stored object code is unusable.
type ObjectCodeReason string

const (
	MissingObjectCode   ObjectCodeReason = "missingObjectCode"
	UnknownIRFormat     ObjectCodeReason = "unknownIRFormat"
	MissingIRChunk      ObjectCodeReason = "missingIRChunk"
	MissingOptionsChunk ObjectCodeReason = "missingOptionsChunk"
)

// ObjectCodeError is returned when the target unit's object code cannot
// be turned back into IR.
type ObjectCodeError struct {
	Target string
	Reason ObjectCodeReason
	Err    error
}

func (e *ObjectCodeError) Error() string {
	msg := fmt.Sprintf("object code for %s: %s", e.Target, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ObjectCodeError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Directive errors
// ---------------------------------------------------------------------------

// DirectiveReason says why the patch's override directives are invalid.
type DirectiveReason string

const (
	// UnresolvedOverride: a directive is followed by another directive or
	// by the end of the patch instead of a function.
	UnresolvedOverride DirectiveReason = "unresolvedOverride"
	// InvalidOptions: a directive carries unknown or ill-typed options.
	InvalidOptions DirectiveReason = "invalidOptions"
	// NoBaseImplementation: a directive overrides a signature the target
	// does not define.
	NoBaseImplementation DirectiveReason = "noBaseImplementation"
	// DuplicateOverride: two directives override the same signature.
	DuplicateOverride DirectiveReason = "duplicateOverride"
)

// InvalidDirectiveError is returned for malformed patch directives. Keys is
// set for InvalidOptions; Signatures for NoBaseImplementation and
// DuplicateOverride.
type InvalidDirectiveError struct {
	Reason     DirectiveReason
	Keys       []string
	Signatures []ir.Signature
	Line       int
}

func (e *InvalidDirectiveError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid directive: ")
	sb.WriteString(string(e.Reason))
	if len(e.Keys) > 0 {
		fmt.Fprintf(&sb, " [%s]", strings.Join(e.Keys, ", "))
	}
	if len(e.Signatures) > 0 {
		fmt.Fprintf(&sb, " [%s]", ir.FormatSignatures(e.Signatures))
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, " (line %d)", e.Line)
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Synthesis errors
// ---------------------------------------------------------------------------

// Stage names the compile that failed.
type Stage string

const (
	// StagePatch is the compile of the patch declarations in the synthetic
	// unit. Patch parse errors are reported here too.
	StagePatch Stage = "patch"
	// StageFinal is the compile of the merged unit.
	StageFinal Stage = "final"
)

// SynthesisError is returned when the compiler rejects the patch or the
// merged unit.
type SynthesisError struct {
	Stage       Stage
	Diagnostics []string
	Err         error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s compile failed: %s", e.Stage, strings.Join(e.Diagnostics, "; "))
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func synthesisError(stage Stage, err *compiler.Error) *SynthesisError {
	var msgs []string
	for _, d := range err.Diagnostics {
		if d.Severity == compiler.SeverityError {
			msgs = append(msgs, d.String())
		}
	}
	return &SynthesisError{Stage: stage, Diagnostics: msgs, Err: err}
}

// ---------------------------------------------------------------------------
// Load and internal errors
// ---------------------------------------------------------------------------

// LoadError is returned when the loader rejects a resolved patch. The
// previously installed code stays in place.
type LoadError struct {
	Target string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s", e.Target, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

// InternalError wraps any failure outside the taxonomy above, including
// recovered panics.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Err.Error()
}

func (e *InternalError) Unwrap() error { return e.Err }
