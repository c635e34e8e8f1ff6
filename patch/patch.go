// Package patch resolves patch source against a unit loaded in a running
// image and produces a replacement unit that can be hot-swapped in.
//
// A patch is ordinary unit source in which functions may be preceded by an
// @override directive:
//
//	@override(original: [renameTo: add_v1, exported: false])
//	def add(a, b) = add_v1(a, b) * 2
//
// Resolve reads the target's IR back out of its object code, rewrites the
// overridden functions, compiles the patch inside a throwaway unit that
// can see every retained function, merges the result and recompiles it
// with the target's original options. Load installs the result.
package patch

import (
	"context"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/repatch/compiler"
	"github.com/chazu/repatch/image"
	"github.com/chazu/repatch/ir"
	"github.com/chazu/repatch/objcode"
)

var log = commonlog.GetLogger("repatch.patch")

// Compiler compiles parsed source and IR units.
type Compiler interface {
	CompileSource(ctx context.Context, src compiler.Source, opts compiler.Options) (*compiler.Output, error)
	CompileForms(ctx context.Context, identity string, unit *ir.Unit, opts compiler.Options) (*compiler.Output, error)
}

// ObjectSource returns the object code currently loaded for a unit. An
// error matching image.ErrNotLoaded means the unit is absent.
type ObjectSource interface {
	ObjectCode(ctx context.Context, identity string) ([]byte, error)
}

// Loader installs object code into the running image.
type Loader interface {
	Install(ctx context.Context, identity, sourceTag string, object []byte) error
}

// Patch is a resolved patch ready to be loaded.
type Patch struct {
	Target    string
	SourceTag string
	Object    []byte
}

// Engine resolves and loads patches. It keeps no per-call state and is
// safe for concurrent use.
type Engine struct {
	compiler    Compiler
	objects     ObjectSource
	loader      Loader
	newIdentity func(target string) string
}

// New creates an engine.
func New(c Compiler, objects ObjectSource, loader Loader) *Engine {
	return &Engine{
		compiler:    c,
		objects:     objects,
		loader:      loader,
		newIdentity: SyntheticIdentity,
	}
}

// Resolve builds the patched unit for target from patch source. It has no
// side effects on the image.
func (e *Engine) Resolve(ctx context.Context, target, source string) (p *Patch, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, &InternalError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	original, opts, sourceTag, err := e.loadTarget(ctx, target)
	if err != nil {
		return nil, err
	}

	file, err := compiler.Parse(source)
	if err != nil {
		var ce *compiler.Error
		if errors.As(err, &ce) {
			ce.Identity = target
			return nil, synthesisError(StagePatch, ce)
		}
		return nil, &InternalError{Err: err}
	}
	if file.Unit != nil && file.Unit.Name != target {
		return nil, &SynthesisError{
			Stage:       StagePatch,
			Diagnostics: []string{fmt.Sprintf("line %d: error: patch is for unit %s, not %s", file.Unit.SpanVal.Start.Line, file.Unit.Name, target)},
		}
	}

	mapping, nodes, err := ParseDirectives(file.Nodes)
	if err != nil {
		return nil, err
	}
	vis := ScanVisibility(nodes)

	rewritten, err := Rewrite(original, mapping)
	if err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	fns, err := e.synthesize(ctx, target, rewritten, nodes, opts)
	if err != nil {
		return nil, err
	}
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	exports := MergeExports(original.Exports(), mapping, vis)
	merged := Merge(rewritten, fns, exports)

	out, err := e.compiler.CompileForms(compiler.Detached(ctx), target, merged, opts.ForForms())
	if err != nil {
		var ce *compiler.Error
		if errors.As(err, &ce) {
			return nil, synthesisError(StageFinal, ce)
		}
		return nil, &InternalError{Err: err}
	}

	log.Infof("resolved patch for %s: %d overrides, %d patch functions", target, len(mapping), len(fns))
	return &Patch{Target: target, SourceTag: sourceTag, Object: out.Object}, nil
}

// Load installs a resolved patch. On failure the previously loaded code is
// left in place.
func (e *Engine) Load(ctx context.Context, p *Patch) error {
	if p == nil {
		return &InternalError{Err: errors.New("nil patch")}
	}
	if err := e.loader.Install(ctx, p.Target, p.SourceTag, p.Object); err != nil {
		log.Warningf("load of %s rejected: %s", p.Target, err)
		return &LoadError{Target: p.Target, Reason: err.Error(), Err: err}
	}
	log.Infof("loaded patch for %s", p.Target)
	return nil
}

// ResolveAndLoad resolves a patch and loads it.
func (e *Engine) ResolveAndLoad(ctx context.Context, target, source string) error {
	p, err := e.Resolve(ctx, target, source)
	if err != nil {
		return err
	}
	return e.Load(ctx, p)
}

// MustResolve is like Resolve but panics with the typed error.
func (e *Engine) MustResolve(ctx context.Context, target, source string) *Patch {
	p, err := e.Resolve(ctx, target, source)
	if err != nil {
		panic(err)
	}
	return p
}

// MustLoad is like Load but panics with the typed error.
func (e *Engine) MustLoad(ctx context.Context, p *Patch) {
	if err := e.Load(ctx, p); err != nil {
		panic(err)
	}
}

// MustResolveAndLoad is like ResolveAndLoad but panics with the typed
// error.
func (e *Engine) MustResolveAndLoad(ctx context.Context, target, source string) {
	if err := e.ResolveAndLoad(ctx, target, source); err != nil {
		panic(err)
	}
}

// loadTarget reads the target's IR, compile options and source tag back
// out of its object code.
func (e *Engine) loadTarget(ctx context.Context, target string) (*ir.Unit, compiler.Options, string, error) {
	data, err := e.objects.ObjectCode(ctx, target)
	if err != nil {
		if errors.Is(err, image.ErrNotLoaded) {
			return nil, nil, "", &ObjectCodeError{Target: target, Reason: MissingObjectCode, Err: err}
		}
		return nil, nil, "", &InternalError{Err: err}
	}

	obj, err := objcode.Decode(data)
	if err != nil {
		return nil, nil, "", objectCodeError(target, err)
	}
	unit, err := obj.Unit()
	if err != nil {
		return nil, nil, "", objectCodeError(target, err)
	}
	flags, err := obj.Options()
	if err != nil {
		return nil, nil, "", objectCodeError(target, err)
	}
	if id := unit.Identity(); id != target {
		return nil, nil, "", &ObjectCodeError{
			Target: target,
			Reason: UnknownIRFormat,
			Err:    fmt.Errorf("IR names unit %q", id),
		}
	}

	sourceTag := obj.SourceTag()
	if sourceTag == "" {
		sourceTag = unit.SourceTag()
	}
	return unit, compiler.OptionsFromStrings(flags), sourceTag, nil
}

// objectCodeError classifies an objcode reader failure.
func objectCodeError(target string, err error) error {
	reason := UnknownIRFormat
	var mc *objcode.MissingChunkError
	switch {
	case errors.Is(err, objcode.ErrMissing):
		reason = MissingObjectCode
	case errors.As(err, &mc) && mc.Name == objcode.ChunkIR:
		reason = MissingIRChunk
	case errors.As(err, &mc) && mc.Name == objcode.ChunkOptions:
		reason = MissingOptionsChunk
	}
	return &ObjectCodeError{Target: target, Reason: reason, Err: err}
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &InternalError{Err: err}
	}
	return nil
}

func unknownDeclaration(d ir.Declaration) error {
	return fmt.Errorf("unknown declaration %T", d)
}
