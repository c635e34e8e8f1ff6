package compiler

import (
	"fmt"
	"strings"
)

// Flag is a single compile option.
type Flag string

const (
	// FlagEmbedIR stores the IR chunk in the object so the unit can be
	// patched later.
	FlagEmbedIR Flag = "embed_ir"
	// FlagAllowRedefine permits compiling a unit whose identity is already
	// present in the catalog.
	FlagAllowRedefine Flag = "allow_redefine"
	// FlagNoWarnUndefined silences warnings about remote calls to unknown
	// units or functions.
	FlagNoWarnUndefined Flag = "nowarn_undefined"
	// FlagNoInfer disables effect inference.
	FlagNoInfer Flag = "no_infer"
	// FlagWarningsAsErrors promotes warnings to errors.
	FlagWarningsAsErrors Flag = "warnings_as_errors"
	// FlagDebugInfo keeps line and doc annotations.
	FlagDebugInfo Flag = "debug_info"
	// FlagFromSource records that the unit was compiled from a source file.
	// Meaningless when compiling IR directly.
	FlagFromSource Flag = "from_source"
	// FlagListing asks for a textual listing next to the artifact. Only
	// honoured by source builds.
	FlagListing Flag = "listing"
)

var knownFlags = map[Flag]bool{
	FlagEmbedIR:          true,
	FlagAllowRedefine:    true,
	FlagNoWarnUndefined:  true,
	FlagNoInfer:          true,
	FlagWarningsAsErrors: true,
	FlagDebugInfo:        true,
	FlagFromSource:       true,
	FlagListing:          true,
}

// formsIncompatible lists flags that only make sense for source builds.
var formsIncompatible = map[Flag]bool{
	FlagFromSource: true,
	FlagListing:    true,
}

// Options is an ordered set of compile flags.
type Options []Flag

// Has reports whether f is set.
func (o Options) Has(f Flag) bool {
	for _, x := range o {
		if x == f {
			return true
		}
	}
	return false
}

// With returns a copy of o with the given flags added (once each).
func (o Options) With(flags ...Flag) Options {
	out := append(Options(nil), o...)
	for _, f := range flags {
		if !out.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Without returns a copy of o without the given flags.
func (o Options) Without(flags ...Flag) Options {
	drop := make(map[Flag]bool, len(flags))
	for _, f := range flags {
		drop[f] = true
	}
	var out Options
	for _, f := range o {
		if !drop[f] {
			out = append(out, f)
		}
	}
	return out
}

// ForForms drops the flags that cannot be replayed when compiling IR
// directly.
func (o Options) ForForms() Options {
	var out Options
	for _, f := range o {
		if !formsIncompatible[f] {
			out = append(out, f)
		}
	}
	return out
}

// Strings converts the options for storage in an object's options chunk.
func (o Options) Strings() []string {
	out := make([]string, len(o))
	for i, f := range o {
		out[i] = string(f)
	}
	return out
}

func (o Options) String() string {
	return strings.Join(o.Strings(), ",")
}

// OptionsFromStrings converts a stored options chunk back to Options.
// Unknown flags are kept so that replaying them is lossless.
func OptionsFromStrings(ss []string) Options {
	out := make(Options, len(ss))
	for i, s := range ss {
		out[i] = Flag(s)
	}
	return out
}

// ParseFlags parses a comma separated flag list, rejecting unknown flags.
func ParseFlags(s string) (Options, error) {
	var out Options
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f := Flag(part)
		if !knownFlags[f] {
			return nil, fmt.Errorf("unknown compiler flag %q", part)
		}
		out = out.With(f)
	}
	return out, nil
}
