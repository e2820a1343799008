package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

// pybc runs the command with stderr captured through the log package.
func pybc(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	logOutput(t, &stderr)
	status := run(context.Background(), args, &stdout)
	return status, stdout.String(), stderr.String()
}

func TestRun_Executes(t *testing.T) {
	status, out, errOut := pybc(t, "-run", "testdata/hello.yaml")
	if status != 0 {
		t.Fatalf("status = %d, stderr:\n%s", status, errOut)
	}
	if want := "hello [3, 2, 1]\n0.5\n"; out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestRun_Disassembles(t *testing.T) {
	status, out, errOut := pybc(t, "-color", "never", "testdata/hello.yaml")
	if status != 0 {
		t.Fatalf("status = %d, stderr:\n%s", status, errOut)
	}
	for _, want := range []string{"countdown", "YIELD_VALUE", "BINARY_OP"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("color codes with -color never")
	}
}

func TestRun_Verify(t *testing.T) {
	status, out, _ := pybc(t, "-verify", "testdata/hello.yaml")
	if status != 0 || !strings.HasPrefix(out, "testdata/hello.yaml: ok, max stack ") {
		t.Errorf("status %d, output %q", status, out)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"compile error", []string{"testdata/broken.yaml"}, "testdata/broken.yaml:7:"},
		{"runtime error", []string{"-run", "testdata/raises.yaml"}, "ValueError: nope"},
		{"missing file", []string{"testdata/absent.yaml"}, "absent.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _, errOut := pybc(t, tt.args...)
			if status != 1 {
				t.Errorf("status = %d, want 1", status)
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("stderr %q lacks %q", errOut, tt.want)
			}
		})
	}
}

func TestRun_Usage(t *testing.T) {
	if status, _, _ := pybc(t); status != 2 {
		t.Errorf("status without files = %d, want 2", status)
	}
}

func TestRun_StoreReusesBundles(t *testing.T) {
	db := filepath.Join(t.TempDir(), "bundles.db")
	status, _, errOut := pybc(t, "-v", "-store", db, "-run", "testdata/hello.yaml")
	if status != 0 || !strings.Contains(errOut, "compiled") {
		t.Fatalf("first run: status %d, stderr %q", status, errOut)
	}
	status, out, errOut := pybc(t, "-v", "-store", db, "-run", "testdata/hello.yaml")
	if status != 0 || !strings.Contains(errOut, "cached") {
		t.Fatalf("second run: status %d, stderr %q", status, errOut)
	}
	if want := "hello [3, 2, 1]\n0.5\n"; out != want {
		t.Errorf("cached output = %q, want %q", out, want)
	}
}

func TestRun_StoreKeepsWarnings(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "late.yaml")
	writeFile(t, doc, `node: Module
body:
  - node: FunctionDef
    name: f
    body:
      - {node: Expr, value: {node: Name, id: x}}
      - {node: Global, names: [x]}
`)
	db := filepath.Join(dir, "bundles.db")
	for _, state := range []string{"compiled", "cached"} {
		status, _, errOut := pybc(t, "-v", "-store", db, "-verify", doc)
		if status != 0 || !strings.Contains(errOut, state) {
			t.Fatalf("%s run: status %d, stderr %q", state, status, errOut)
		}
		if !strings.Contains(errOut, "S002") {
			t.Errorf("%s run lost the warning: %q", state, errOut)
		}
	}
}

func TestRun_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "expr.yaml")
	writeFile(t, doc, "node: Module\nbody:\n  - {node: Expr, value: {node: BinOp, left: {node: Num, n: 1}, op: div, right: {node: Num, n: 4}}}\n")
	writeFile(t, filepath.Join(dir, "pybc.yaml"), "futures: [division]\nprint_results: true\njobs: 2\n")

	status, out, errOut := pybc(t, "-run", doc)
	if status != 0 {
		t.Fatalf("status = %d, stderr:\n%s", status, errOut)
	}
	if out != "0.25\n" {
		t.Errorf("output = %q, want %q", out, "0.25\n")
	}
}
