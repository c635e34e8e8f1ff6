// repatch compiles units, resolves patches against them and serves a live
// image that patches can be applied to.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/repatch/manifest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cli carries the state shared by every subcommand.
type cli struct {
	stdout io.Writer
	stderr io.Writer
	color  bool
	m      *manifest.Manifest
}

type command struct {
	name  string
	usage string
	run   func(c *cli, ctx context.Context, args []string) error
}

var commands = []command{
	{"compile", "compile [-o dir] [-flags f1,f2] file.rp...", (*cli).compile},
	{"patch", "patch -target unit.rpo [-o out.rpo] patch.rp", (*cli).patch},
	{"run", "run [-call unit.fn] unit.rpo... [-- args...]", (*cli).run},
	{"dump", "dump file.rpo", (*cli).dump},
	{"serve", "serve [-addr host:port] [unit.rpo...]", (*cli).serve},
	{"apply", "apply [-addr host:port] -target unit patch.rp", (*cli).apply},
	{"units", "units [-addr host:port]", (*cli).units},
}

func usage(w io.Writer, global *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: repatch [options] <command> [arguments]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %s\n", cmd.usage)
	}
	fmt.Fprintf(w, "\nOptions:\n")
	global.SetOutput(w)
	global.PrintDefaults()
	fmt.Fprintf(w, "\nSettings are read from the nearest %s, if any.\n", manifest.FileName)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("repatch", flag.ContinueOnError)
	global.SetOutput(stderr)
	verbose := global.Int("v", 0, "Log verbosity (-1 warnings, 0 notices, 1 info, 2 debug); overrides repatch.toml")
	dir := global.String("C", ".", "Directory to search for repatch.toml")
	global.Usage = func() { usage(stderr, global) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		usage(stderr, global)
		return 2
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading manifest: %v\n", err)
		return 1
	}
	if m == nil {
		m = manifest.Default(*dir)
	}

	verbosity := m.Log.Verbosity
	global.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			verbosity = *verbose
		}
	})
	commonlog.Configure(verbosity, m.LogFile())

	c := &cli{stdout: stdout, stderr: stderr, color: isTerminal(stderr), m: m}
	name, rest := global.Arg(0), global.Args()[1:]
	for _, cmd := range commands {
		if cmd.name == name {
			if err := cmd.run(c, ctx, rest); err != nil {
				c.errorf("%v", err)
				return 1
			}
			return 0
		}
	}
	fmt.Fprintf(stderr, "Unknown command %q\n\n", name)
	usage(stderr, global)
	return 2
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

const (
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

func (c *cli) paint(color, s string) string {
	if !c.color {
		return s
	}
	return color + s + colorReset
}

func (c *cli) errorf(format string, args ...interface{}) {
	fmt.Fprintf(c.stderr, "%s %s\n", c.paint(colorRed, "Error:"), fmt.Sprintf(format, args...))
}

func (c *cli) warnf(format string, args ...interface{}) {
	fmt.Fprintf(c.stderr, "%s %s\n", c.paint(colorYellow, "Warning:"), fmt.Sprintf(format, args...))
}

func (c *cli) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.stdout, format, args...)
}
