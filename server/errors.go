package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/chazu/repatch/compiler"
	"github.com/chazu/repatch/image"
	"github.com/chazu/repatch/patch"
)

// Metadata keys attached to error responses so clients can branch on the
// failure without parsing messages.
const (
	ErrorKindHeader   = "Repatch-Error-Kind"
	ErrorReasonHeader = "Repatch-Error-Reason"
)

// Error kinds.
const (
	KindObjectCode = "objectCode"
	KindDirective  = "invalidDirective"
	KindSynthesis  = "synthesis"
	KindLoad       = "load"
	KindCompile    = "compile"
	KindRuntime    = "runtime"
	KindInternal   = "internal"
)

// toConnectError maps engine, compiler and image errors onto Connect
// codes.
func toConnectError(err error) error {
	var (
		oe *patch.ObjectCodeError
		de *patch.InvalidDirectiveError
		se *patch.SynthesisError
		le *patch.LoadError
		ce *compiler.Error
		ue *image.UndefinedFunctionError
		re *image.RuntimeError
	)

	code, kind, reason := connect.CodeInternal, KindInternal, ""
	switch {
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	case errors.As(err, &oe):
		code, kind, reason = connect.CodeFailedPrecondition, KindObjectCode, string(oe.Reason)
		if oe.Reason == patch.MissingObjectCode {
			code = connect.CodeNotFound
		}
	case errors.As(err, &de):
		code, kind, reason = connect.CodeInvalidArgument, KindDirective, string(de.Reason)
	case errors.As(err, &se):
		code, kind, reason = connect.CodeInvalidArgument, KindSynthesis, string(se.Stage)
	case errors.As(err, &le):
		code, kind = connect.CodeAborted, KindLoad
		if errors.Is(err, image.ErrProtected) {
			code = connect.CodePermissionDenied
		}
	case errors.As(err, &ce):
		code, kind = connect.CodeInvalidArgument, KindCompile
	case errors.Is(err, image.ErrNotLoaded), errors.As(err, &ue):
		code, kind = connect.CodeNotFound, KindRuntime
	case errors.Is(err, image.ErrProtected):
		code, kind = connect.CodePermissionDenied, KindLoad
	case errors.Is(err, image.ErrDepth):
		code, kind = connect.CodeResourceExhausted, KindRuntime
	case errors.As(err, &re):
		code, kind = connect.CodeAborted, KindRuntime
	}

	cerr := connect.NewError(code, err)
	cerr.Meta().Set(ErrorKindHeader, kind)
	if reason != "" {
		cerr.Meta().Set(ErrorReasonHeader, reason)
	}
	return cerr
}
