// Package compiler is the reference toolchain for unit source: it parses
// source text, lowers it to ir, checks and annotates the result and encodes
// it as object code.
//
// Configuration is per call. Compile flags are an explicit Options
// argument, diagnostics are returned to the caller, and whether a compile
// belongs to a persistent build is carried by the context (WithBuild,
// Detached). Concurrent compiles therefore never observe each other.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/repatch/ir"
	"github.com/chazu/repatch/objcode"
)

var log = commonlog.GetLogger("repatch.compiler")

// Catalog answers questions about units already present in the process
// image. A nil Catalog means nothing is loaded.
type Catalog interface {
	Loaded(identity string) bool
	Exports(identity string) ([]ir.Signature, bool)
}

// Source is parsed unit source ready for compilation.
type Source struct {
	Identity string
	File     string // source-file tag, may be empty
	Nodes    []Node
}

// Output is the result of a successful compile.
type Output struct {
	Unit     *ir.Unit
	Object   []byte
	Warnings []Diagnostic
}

// Compiler compiles unit source and IR forms. It holds no mutable state
// and is safe for concurrent use.
type Compiler struct {
	catalog Catalog
}

// New creates a compiler that resolves remote references against catalog.
func New(catalog Catalog) *Compiler {
	return &Compiler{catalog: catalog}
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// CompileSource lowers src to IR and compiles it.
func (c *Compiler) CompileSource(ctx context.Context, src Source, opts Options) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src.Identity == "" {
		return nil, fmt.Errorf("compiler: source has no unit identity")
	}
	diags := &diagnostics{}
	l := &lowerer{diags: diags}
	u := l.lowerSource(src)
	return c.finish(ctx, src.Identity, u, opts, diags, true)
}

// CompileForms compiles an existing IR unit. The unit is not modified; the
// returned Output holds the compiled copy. A missing reflection function
// is generated and exported.
func (c *Compiler) CompileForms(ctx context.Context, identity string, unit *ir.Unit, opts Options) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	diags := &diagnostics{}
	for _, f := range opts {
		if formsIncompatible[f] {
			diags.errorf(0, "flag %s cannot be used when compiling forms", f)
		}
	}
	u := unit.Clone()
	if u.Lookup(ir.Reflection) == nil {
		u.Decls = append(u.Decls, reflectionFunction())
	}
	if exp := u.Attribute(ir.AttrExport); exp != nil {
		found := false
		for _, sig := range exp.Signatures {
			if sig == ir.Reflection {
				found = true
				break
			}
		}
		if !found {
			exp.Signatures = append(exp.Signatures, ir.Reflection)
		}
	}
	return c.finish(ctx, identity, u, opts, diags, false)
}

// finish runs the shared back half of both entry points: checks, debug-info
// stripping, effect inference, encoding and artifact output.
func (c *Compiler) finish(ctx context.Context, identity string, u *ir.Unit, opts Options, diags *diagnostics, source bool) (*Output, error) {
	ch := newChecker(diags, c.catalog, opts, identity, u)
	ch.source = source
	ch.check()

	if opts.Has(FlagWarningsAsErrors) {
		for i := range diags.list {
			diags.list[i].Severity = SeverityError
		}
	}
	if diags.hasErrors() {
		log.Debugf("compile %s failed with %d diagnostics", identity, len(diags.list))
		return nil, &Error{Identity: identity, Diagnostics: diags.list}
	}

	if !opts.Has(FlagDebugInfo) {
		stripDebugInfo(u)
	}
	if !opts.Has(FlagNoInfer) {
		inferEffects(u)
	}

	obj, err := objcode.New(u, opts.Strings(), opts.Has(FlagEmbedIR))
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}
	data, err := obj.Encode()
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}

	if b := BuildFrom(ctx); b != nil {
		if err := b.write(identity, u, data, opts); err != nil {
			return nil, err
		}
	}

	log.Debugf("compiled %s: %d functions, %d warnings", identity, len(u.Functions()), len(diags.list))
	return &Output{Unit: u, Object: data, Warnings: diags.warnings()}, nil
}

func stripDebugInfo(u *ir.Unit) {
	for _, fn := range u.Functions() {
		fn.Line = 0
		if fn.Annotations == nil {
			continue
		}
		delete(fn.Annotations, ir.AttrDoc)
		if len(fn.Annotations) == 0 {
			fn.Annotations = nil
		}
	}
}

// ---------------------------------------------------------------------------
// Source loading
// ---------------------------------------------------------------------------

// ParseSource parses source text. The identity comes from the unit header
// or, failing that, from the file name without its extension.
func ParseSource(file, text string) (Source, error) {
	f, err := Parse(text)
	identity := ""
	if f != nil && f.Unit != nil {
		identity = f.Unit.Name
	} else if file != "" {
		base := filepath.Base(file)
		identity = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.Identity = identity
		}
		return Source{}, err
	}
	if identity == "" {
		return Source{}, fmt.Errorf("compiler: source has no unit header and no file name")
	}
	return Source{Identity: identity, File: file, Nodes: f.Nodes}, nil
}

// LoadSource reads and parses a source file.
func LoadSource(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("compiler: %w", err)
	}
	return ParseSource(path, string(data))
}

// ---------------------------------------------------------------------------
// Build context
// ---------------------------------------------------------------------------

// Build collects the artifacts of a persistent build. Every compile whose
// context carries the build writes <identity>.rpo into Dir.
type Build struct {
	Dir string

	mu    sync.Mutex
	units []string
}

// NewBuild creates a build writing into dir.
func NewBuild(dir string) *Build {
	return &Build{Dir: dir}
}

// Units returns the identities written so far, in write order.
func (b *Build) Units() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.units...)
}

// ArtifactPath returns the object file path for identity.
func (b *Build) ArtifactPath(identity string) string {
	return filepath.Join(b.Dir, identity+".rpo")
}

func (b *Build) write(identity string, u *ir.Unit, object []byte, opts Options) error {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return fmt.Errorf("compiler: create build dir: %w", err)
	}
	if err := os.WriteFile(b.ArtifactPath(identity), object, 0o644); err != nil {
		return fmt.Errorf("compiler: write artifact: %w", err)
	}
	if opts.Has(FlagListing) {
		listing := filepath.Join(b.Dir, identity+".rpl")
		if err := os.WriteFile(listing, []byte(u.Format()), 0o644); err != nil {
			return fmt.Errorf("compiler: write listing: %w", err)
		}
	}
	b.mu.Lock()
	b.units = append(b.units, identity)
	b.mu.Unlock()
	return nil
}

type buildKey struct{}

type detachedKey struct{}

// WithBuild returns a context whose compiles write artifacts into b.
func WithBuild(ctx context.Context, b *Build) context.Context {
	ctx = context.WithValue(ctx, detachedKey{}, false)
	return context.WithValue(ctx, buildKey{}, b)
}

// Detached returns a context whose compiles ignore any build carried by
// ctx. Cancellation and deadlines are kept.
func Detached(ctx context.Context) context.Context {
	return context.WithValue(ctx, detachedKey{}, true)
}

// BuildFrom returns the build compiles under ctx write into, or nil.
func BuildFrom(ctx context.Context) *Build {
	if d, _ := ctx.Value(detachedKey{}).(bool); d {
		return nil
	}
	b, _ := ctx.Value(buildKey{}).(*Build)
	return b
}
