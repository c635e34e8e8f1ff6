package server

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/repatch/compiler"
	"github.com/chazu/repatch/image"
	"github.com/chazu/repatch/patch"
)

const calcSource = `unit calc
def add(a, b) = a + b
def div(a, b) = a / b
`

func newTestServer(t *testing.T) (*image.Image, *Client) {
	t.Helper()
	im := image.New()
	t.Cleanup(im.Close)
	s := New(im, WithDefaultFlags(compiler.Options{compiler.FlagEmbedIR}))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return im, NewClient(srv.Client(), srv.URL)
}

func compileCalc(t *testing.T, c *Client) *CompileResponse {
	t.Helper()
	resp, err := c.Compile(context.Background(), &CompileRequest{File: "calc.rp", Source: calcSource, Install: true})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return resp
}

func TestCompileApplyCall(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	resp := compileCalc(t, c)
	if resp.Identity != "calc" || len(resp.Object) == 0 {
		t.Fatalf("Compile response = %+v", resp)
	}

	got, err := c.Call(ctx, "calc", "add", image.Int(2), image.Int(3))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !got.Equal(image.Int(5)) {
		t.Errorf("add(2, 3) = %s, want 5", got)
	}

	if err := c.Apply(ctx, "calc", "@override(original: [renameTo: add_v1])\ndef add(a, b) = add_v1(a, b) * 2\n"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, err = c.Call(ctx, "calc", "add", image.Int(2), image.Int(3))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !got.Equal(image.Int(10)) {
		t.Errorf("patched add(2, 3) = %s, want 10", got)
	}
}

func TestResolveThenLoad(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()
	compileCalc(t, c)

	p, err := c.Resolve(ctx, "calc", "def sub(a, b) = a - b\n")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Target != "calc" || p.SourceTag != "calc.rp" {
		t.Errorf("Resolve response = %+v", p)
	}

	// Resolving has no effect on the running code.
	if _, err := c.Call(ctx, "calc", "sub", image.Int(5), image.Int(3)); connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("sub before load: err = %v, want NotFound", err)
	}

	if err := c.Load(ctx, p); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := c.Call(ctx, "calc", "sub", image.Int(5), image.Int(3))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !got.Equal(image.Int(2)) {
		t.Errorf("sub(5, 3) = %s, want 2", got)
	}
}

func TestUnits(t *testing.T) {
	im, c := newTestServer(t)
	compileCalc(t, c)
	im.Protect("calc")

	units, err := c.Units(context.Background())
	if err != nil {
		t.Fatalf("Units: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	u := units[0]
	if u.Identity != "calc" || u.SourceTag != "calc.rp" || !u.Protected {
		t.Errorf("unit = %+v", u)
	}
	if len(u.Exports) != 3 {
		t.Errorf("exports = %v, want __info__/1, add/2, div/2", u.Exports)
	}
}

func TestErrorCodes(t *testing.T) {
	im, c := newTestServer(t)
	ctx := context.Background()
	compileCalc(t, c)
	if _, err := c.Compile(ctx, &CompileRequest{Source: "unit locked\ndef f() = 1\n", Install: true}); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	im.Protect("locked")

	tests := []struct {
		name   string
		call   func() error
		code   connect.Code
		kind   string
		reason string
	}{
		{
			name:   "missing target",
			call:   func() error { return c.Apply(ctx, "nothere", "") },
			code:   connect.CodeNotFound,
			kind:   KindObjectCode,
			reason: string(patch.MissingObjectCode),
		},
		{
			name:   "unresolved directive",
			call:   func() error { return c.Apply(ctx, "calc", "@override\n") },
			code:   connect.CodeInvalidArgument,
			kind:   KindDirective,
			reason: string(patch.UnresolvedOverride),
		},
		{
			name:   "no base implementation",
			call:   func() error { return c.Apply(ctx, "calc", "@override\ndef mul(a, b) = a\n") },
			code:   connect.CodeInvalidArgument,
			kind:   KindDirective,
			reason: string(patch.NoBaseImplementation),
		},
		{
			name:   "patch compile error",
			call:   func() error { return c.Apply(ctx, "calc", "def f() = g()\n") },
			code:   connect.CodeInvalidArgument,
			kind:   KindSynthesis,
			reason: string(patch.StagePatch),
		},
		{
			name: "protected unit",
			call: func() error { return c.Apply(ctx, "locked", "def g() = 2\n") },
			code: connect.CodePermissionDenied,
			kind: KindLoad,
		},
		{
			name: "compile error",
			call: func() error {
				_, err := c.Compile(ctx, &CompileRequest{Source: "unit bad\ndef f() = x\n"})
				return err
			},
			code: connect.CodeInvalidArgument,
			kind: KindCompile,
		},
		{
			name: "unexported function",
			call: func() error {
				_, err := c.Call(ctx, "calc", "missing")
				return err
			},
			code: connect.CodeNotFound,
			kind: KindRuntime,
		},
		{
			name: "runtime error",
			call: func() error {
				_, err := c.Call(ctx, "calc", "div", image.Int(1), image.Int(0))
				return err
			},
			code: connect.CodeAborted,
			kind: KindRuntime,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if err == nil {
				t.Fatal("call succeeded")
			}
			if got := connect.CodeOf(err); got != tc.code {
				t.Errorf("code = %s, want %s (%v)", got, tc.code, err)
			}
			cerr, ok := err.(*connect.Error)
			if !ok {
				t.Fatalf("err = %T, want *connect.Error", err)
			}
			if got := cerr.Meta().Get(ErrorKindHeader); got != tc.kind {
				t.Errorf("kind = %q, want %q", got, tc.kind)
			}
			if got := cerr.Meta().Get(ErrorReasonHeader); got != tc.reason {
				t.Errorf("reason = %q, want %q", got, tc.reason)
			}
			if cerr.Meta().Get(RequestIDHeader) == "" {
				t.Error("error response has no request id")
			}
		})
	}
}

func TestRequestValidation(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	if err := c.Apply(ctx, "", "def f() = 1\n"); connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Apply without target: err = %v", err)
	}
	if _, err := c.Compile(ctx, &CompileRequest{Source: "def f() = 1\n"}); connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Compile without identity: err = %v", err)
	}
	if _, err := c.Compile(ctx, &CompileRequest{File: "x.rp", Source: "def f() = 1\n", Flags: []string{"turbo"}}); connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Compile with unknown flag: err = %v", err)
	}
	if err := c.Load(ctx, &ResolveResponse{Target: "calc"}); connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Load without object: err = %v", err)
	}
}

func TestStop(t *testing.T) {
	tests := []struct {
		name      string
		stopFirst bool
	}{
		{name: "before serving", stopFirst: true},
		{name: "while starting"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			im := image.New()
			t.Cleanup(im.Close)
			s := New(im)
			ctx := context.Background()

			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				t.Fatal(err)
			}
			addr := ln.Addr().String()

			if tc.stopFirst {
				if err := s.Stop(ctx); err != nil {
					t.Fatalf("Stop: %v", err)
				}
			}
			done := make(chan error, 1)
			go func() { done <- s.Serve(ln) }()
			if !tc.stopFirst {
				if err := s.Stop(ctx); err != nil {
					t.Fatalf("Stop: %v", err)
				}
			}

			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Serve = %v, want nil", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Serve still running after Stop")
			}

			if conn, err := net.Dial("tcp", addr); err == nil {
				conn.Close()
				t.Error("server still accepts connections after Stop")
			}
		})
	}
}
