package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chazu/repatch/compiler"
	"github.com/chazu/repatch/image"
	"github.com/chazu/repatch/ir"
	"github.com/chazu/repatch/objcode"
	"github.com/chazu/repatch/patch"
	"github.com/chazu/repatch/server"
)

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// ---------------------------------------------------------------------------
// compile
// ---------------------------------------------------------------------------

func (c *cli) compile(ctx context.Context, args []string) error {
	fs := c.flagSet("compile")
	out := fs.String("o", c.m.OutputDir(), "Output directory for .rpo files")
	flags := fs.String("flags", "", "Extra compile flags, comma separated")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("compile: no source files")
	}
	extra, err := compiler.ParseFlags(*flags)
	if err != nil {
		return err
	}
	opts := c.m.CompileOptions().With(extra...)

	build := compiler.NewBuild(*out)
	bctx := compiler.WithBuild(ctx, build)
	comp := compiler.New(nil)

	failed := false
	for _, path := range fs.Args() {
		src, err := compiler.LoadSource(path)
		if err != nil {
			c.reportCompileError(path, err)
			failed = true
			continue
		}
		res, err := comp.CompileSource(bctx, src, opts.With(compiler.FlagFromSource))
		if err != nil {
			c.reportCompileError(path, err)
			failed = true
			continue
		}
		for _, w := range res.Warnings {
			c.warnf("%s: %s", path, w)
		}
		c.printf("%s -> %s\n", path, build.ArtifactPath(src.Identity))
	}
	if failed {
		return fmt.Errorf("compile failed")
	}
	return nil
}

func (c *cli) reportCompileError(path string, err error) {
	var ce *compiler.Error
	if !errors.As(err, &ce) {
		c.errorf("%s: %v", path, err)
		return
	}
	for _, d := range ce.Diagnostics {
		if d.Severity == compiler.SeverityError {
			c.errorf("%s: %s", path, d)
		} else {
			c.warnf("%s: %s", path, d)
		}
	}
}

// ---------------------------------------------------------------------------
// patch
// ---------------------------------------------------------------------------

func (c *cli) patch(ctx context.Context, args []string) error {
	fs := c.flagSet("patch")
	target := fs.String("target", "", "Object file of the unit to patch")
	out := fs.String("o", "", "Output object file (default <unit>.patched.rpo next to the target)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == "" || fs.NArg() != 1 {
		return fmt.Errorf("patch: need -target and exactly one patch file")
	}
	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}

	im := image.New()
	defer im.Close()
	ids, err := im.Preload(ctx, *target)
	if err != nil {
		return err
	}
	identity := ids[0]

	engine := patch.New(compiler.New(im), im, im)
	p, err := engine.Resolve(ctx, identity, string(source))
	if err != nil {
		c.reportPatchError(err)
		return fmt.Errorf("patch of %s failed", identity)
	}

	dest := *out
	if dest == "" {
		dest = filepath.Join(filepath.Dir(*target), identity+".patched.rpo")
	}
	if err := os.WriteFile(dest, p.Object, 0o644); err != nil {
		return err
	}
	c.printf("%s -> %s\n", fs.Arg(0), dest)
	return nil
}

func (c *cli) reportPatchError(err error) {
	var se *patch.SynthesisError
	if errors.As(err, &se) {
		for _, d := range se.Diagnostics {
			c.errorf("%s stage: %s", se.Stage, d)
		}
		return
	}
	c.errorf("%v", err)
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func (c *cli) run(ctx context.Context, args []string) error {
	fs := c.flagSet("run")
	call := fs.String("call", "", "Function to call, as unit.fn")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var objects, callArgs []string
	rest := fs.Args()
	for i, a := range rest {
		if a == "--" {
			callArgs = rest[i+1:]
			break
		}
		objects = append(objects, a)
	}

	im, err := c.newImage(ctx, objects)
	if err != nil {
		return err
	}
	defer im.Close()

	if *call == "" {
		return c.listUnits(ctx, im)
	}
	unit, fn, ok := strings.Cut(*call, ".")
	if !ok {
		return fmt.Errorf("run: -call must be unit.fn, got %q", *call)
	}
	vals := make([]image.Value, len(callArgs))
	for i, a := range callArgs {
		vals[i] = image.ParseValue(a)
	}
	v, err := im.Call(ctx, unit, fn, vals...)
	if err != nil {
		return err
	}
	c.printf("%s\n", v)
	return nil
}

// newImage creates an image holding the configured preloads, the given
// objects and the configured protections.
func (c *cli) newImage(ctx context.Context, objects []string) (*image.Image, error) {
	im := image.New()
	if c.m.Image.MaxDepth > 0 {
		im.SetMaxDepth(c.m.Image.MaxDepth)
	}
	paths := append(c.m.PreloadPaths(), objects...)
	if _, err := im.Preload(ctx, paths...); err != nil {
		im.Close()
		return nil, err
	}
	for _, id := range c.m.Image.Protected {
		im.Protect(id)
	}
	return im, nil
}

func (c *cli) listUnits(ctx context.Context, im *image.Image) error {
	units, err := im.Units(ctx)
	if err != nil {
		return err
	}
	c.printUnits(units)
	return nil
}

func (c *cli) printUnits(units []image.UnitInfo) {
	for _, u := range units {
		note := ""
		if u.Protected {
			note = " (protected)"
		}
		c.printf("%s%s  %s\n", u.Identity, note, u.SourceTag)
		c.printf("  exports: %s\n", ir.FormatSignatures(u.Exports))
	}
}

// ---------------------------------------------------------------------------
// dump
// ---------------------------------------------------------------------------

func (c *cli) dump(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("dump: need exactly one object file")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	obj, err := objcode.Decode(data)
	if err != nil {
		return err
	}

	c.printf("unit %s\n", obj.Identity)
	names := make([]string, 0, len(obj.Chunks))
	for name := range obj.Chunks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch := obj.Chunks[name]
		c.printf("chunk %-5s %-9s %d bytes\n", name, ch.Format, len(ch.Data))
	}
	if flags, err := obj.Options(); err == nil {
		c.printf("options: %s\n", strings.Join(flags, ","))
	}

	u, err := obj.Unit()
	if err != nil {
		var mc *objcode.MissingChunkError
		if errors.As(err, &mc) {
			c.printf("(no IR; compile with embed_ir)\n")
			return nil
		}
		return err
	}
	c.printf("\n%s", u.Format())
	return nil
}

// ---------------------------------------------------------------------------
// serve, apply, units
// ---------------------------------------------------------------------------

func (c *cli) serve(ctx context.Context, args []string) error {
	fs := c.flagSet("serve")
	addr := fs.String("addr", c.m.Server.Addr, "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	im, err := c.newImage(ctx, fs.Args())
	if err != nil {
		return err
	}
	defer im.Close()

	srv := server.New(im, server.WithDefaultFlags(c.m.CompileOptions()))
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(*addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Stop(shutdown)
	}
}

func (c *cli) client(addr string) *server.Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return server.NewClient(http.DefaultClient, addr)
}

func (c *cli) apply(ctx context.Context, args []string) error {
	fs := c.flagSet("apply")
	addr := fs.String("addr", c.m.Server.Addr, "Server address")
	target := fs.String("target", "", "Unit to patch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == "" || fs.NArg() != 1 {
		return fmt.Errorf("apply: need -target and exactly one patch file")
	}
	source, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := c.client(*addr).Apply(ctx, *target, string(source)); err != nil {
		return err
	}
	c.printf("patched %s\n", *target)
	return nil
}

func (c *cli) units(ctx context.Context, args []string) error {
	fs := c.flagSet("units")
	addr := fs.String("addr", c.m.Server.Addr, "Server address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	units, err := c.client(*addr).Units(ctx)
	if err != nil {
		return err
	}
	c.printUnits(units)
	return nil
}
