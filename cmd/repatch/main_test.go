package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func repatch(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCompilePatchRun(t *testing.T) {
	dir := t.TempDir()
	writeManifestFile(t, dir, "[compiler]\nflags = [\"embed_ir\"]\n")
	src := filepath.Join(dir, "calc.rp")
	writeFile(t, src, "unit calc\ndef add(a, b) = a + b\n")
	patchFile := filepath.Join(dir, "double.rp")
	writeFile(t, patchFile, "@override(original: [renameTo: add_v1])\ndef add(a, b) = add_v1(a, b) * 2\n")
	out := filepath.Join(dir, "build")

	if _, stderr, code := repatch(t, "-C", dir, "compile", "-o", out, src); code != 0 {
		t.Fatalf("compile exited %d: %s", code, stderr)
	}
	object := filepath.Join(out, "calc.rpo")
	if _, err := os.Stat(object); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}

	stdout, stderr, code := repatch(t, "-C", dir, "run", "-call", "calc.add", object, "--", "2", "3")
	if code != 0 {
		t.Fatalf("run exited %d: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "5" {
		t.Errorf("run output = %q, want 5", stdout)
	}

	patched := filepath.Join(dir, "calc.patched.rpo")
	if _, stderr, code := repatch(t, "-C", dir, "patch", "-target", object, "-o", patched, patchFile); code != 0 {
		t.Fatalf("patch exited %d: %s", code, stderr)
	}

	stdout, stderr, code = repatch(t, "-C", dir, "run", "-call", "calc.add", patched, "--", "2", "3")
	if code != 0 {
		t.Fatalf("run exited %d: %s", code, stderr)
	}
	if strings.TrimSpace(stdout) != "10" {
		t.Errorf("patched run output = %q, want 10", stdout)
	}

	stdout, stderr, code = repatch(t, "-C", dir, "dump", patched)
	if code != 0 {
		t.Fatalf("dump exited %d: %s", code, stderr)
	}
	for _, want := range []string{"unit calc", "chunk IR", "add_v1"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("dump output missing %q:\n%s", want, stdout)
		}
	}
}

func TestPatchReportsErrors(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "calc.rp")
	writeFile(t, src, "unit calc\ndef add(a, b) = a + b\n")
	patchFile := filepath.Join(dir, "bad.rp")
	writeFile(t, patchFile, "@override\ndef sub(a, b) = a - b\n")
	out := filepath.Join(dir, "build")

	if _, stderr, code := repatch(t, "-C", dir, "compile", "-o", out, "-flags", "embed_ir", src); code != 0 {
		t.Fatalf("compile exited %d: %s", code, stderr)
	}
	_, stderr, code := repatch(t, "-C", dir, "patch", "-target", filepath.Join(out, "calc.rpo"), patchFile)
	if code != 1 {
		t.Fatalf("patch exited %d, want 1", code)
	}
	if !strings.Contains(stderr, "noBaseImplementation") {
		t.Errorf("stderr = %q, want a noBaseImplementation report", stderr)
	}
}

func TestCompileReportsDiagnostics(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.rp")
	writeFile(t, src, "unit bad\ndef f() = g()\n")

	_, stderr, code := repatch(t, "-C", dir, "compile", "-o", filepath.Join(dir, "build"), src)
	if code != 1 {
		t.Fatalf("compile exited %d, want 1", code)
	}
	if !strings.Contains(stderr, "undefined function g/0") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestUsage(t *testing.T) {
	dir := t.TempDir()
	if _, stderr, code := repatch(t, "-C", dir); code != 2 || !strings.Contains(stderr, "Usage: repatch") {
		t.Errorf("no command: code %d, stderr %q", code, stderr)
	}
	if _, stderr, code := repatch(t, "-C", dir, "frobnicate"); code != 2 || !strings.Contains(stderr, "Unknown command") {
		t.Errorf("unknown command: code %d, stderr %q", code, stderr)
	}
}

func writeManifestFile(t *testing.T, dir, content string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "repatch.toml"), content)
}
