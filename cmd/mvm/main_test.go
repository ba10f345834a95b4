package main

import (
	"bytes"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/mvm/codec"
	"github.com/chazu/mvm/manifest"
)

const sum = `; two plus three
new-int 2
new-int 3
calc-add
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newCLI() (*cli, *bytes.Buffer) {
	var out bytes.Buffer
	return &cli{m: manifest.Default(), stdout: &out}, &out
}

func TestRunPrintsAccumulator(t *testing.T) {
	t.Setenv(manifest.TraceEnv, "")
	path := writeFile(t, t.TempDir(), "sum.mvm", sum)
	c, out := newCLI()
	if err := runVerb(c, []string{path}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "5" {
		t.Errorf("run printed %q, want 5", got)
	}
}

func TestRunReportsErrors(t *testing.T) {
	t.Setenv(manifest.TraceEnv, "")
	dir := t.TempDir()
	path := writeFile(t, dir, "div.mvm", "new-int 1\nnew-int 0\ncalc-div\n")
	c, _ := newCLI()
	if err := runVerb(c, []string{path}); err == nil {
		t.Error("division by zero did not fail")
	}

	bad := writeFile(t, dir, "bad.mvm", "no-such-op\n")
	if err := runVerb(c, []string{bad}); err == nil || !strings.Contains(err.Error(), "bad.mvm") {
		t.Errorf("assembly error = %v, want one naming the file", err)
	}

	if err := runVerb(c, nil); !errors.Is(err, errUsage) {
		t.Errorf("run without a file: %v", err)
	}
}

func TestRunTraces(t *testing.T) {
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "trace.log")
	t.Setenv(manifest.TraceEnv, tracePath)

	path := writeFile(t, dir, "sum.mvm", sum)
	c, _ := newCLI()
	if err := runVerb(c, []string{path}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	data, err := os.ReadFile(tracePath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 || !strings.Contains(lines[2], "calc-add") {
		t.Errorf("trace =\n%s", data)
	}
}

func TestDumpAndLoad(t *testing.T) {
	t.Setenv(manifest.TraceEnv, "")
	dir := t.TempDir()
	path := writeFile(t, dir, "sum.mvm", sum)

	c, out := newCLI()
	if err := dumpVerb(c, []string{path}); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	bin := filepath.Join(dir, "sum.mvmc")
	if got := strings.TrimSpace(out.String()); got != bin {
		t.Errorf("dump wrote %q, want %q", got, bin)
	}
	data, err := os.ReadFile(bin)
	if err != nil {
		t.Fatal(err)
	}
	if !codec.IsProgram(data) {
		t.Fatal("dump output is not an encoded program")
	}

	out.Reset()
	if err := loadVerb(c, []string{bin}); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !strings.Contains(out.String(), "calc-add") {
		t.Errorf("load printed\n%s", out)
	}

	out.Reset()
	if err := runVerb(c, []string{bin}); err != nil {
		t.Fatalf("run of encoded program failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "5" {
		t.Errorf("run printed %q, want 5", got)
	}

	if err := loadVerb(c, []string{path}); !errors.Is(err, codec.ErrNotProgram) {
		t.Errorf("load of a text program: %v", err)
	}
}

func TestDumpStripsSymbols(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sum.mvm", sum)
	stripped := filepath.Join(dir, "stripped.mvmc")

	c, out := newCLI()
	if err := dumpVerb(c, []string{path, "-s", "-o", stripped}); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	out.Reset()
	if err := symVerb(c, []string{stripped}); err != nil {
		t.Fatalf("sym failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "no debug symbols") {
		t.Errorf("sym printed\n%s", out)
	}
}

func TestCat(t *testing.T) {
	t.Setenv(manifest.TraceEnv, "")
	dir := t.TempDir()
	a := writeFile(t, dir, "a.mvm", "new-int 2\n")
	b := writeFile(t, dir, "b.mvm", "new-int 3\ncalc-add\n")
	joined := filepath.Join(dir, "ab.mvmc")

	c, out := newCLI()
	if err := catVerb(c, []string{a, b, "-o", joined}); err != nil {
		t.Fatalf("cat failed: %v", err)
	}
	if err := runVerb(c, []string{joined}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "5" {
		t.Errorf("joined program printed %q, want 5", got)
	}

	out.Reset()
	if err := catVerb(c, []string{a, b}); err != nil {
		t.Fatalf("cat failed: %v", err)
	}
	if n := strings.Count(out.String(), "new-int"); n != 2 {
		t.Errorf("cat printed\n%s", out)
	}

	if err := catVerb(c, []string{a}); !errors.Is(err, errUsage) {
		t.Errorf("cat with one file: %v", err)
	}
}

func TestSym(t *testing.T) {
	path := writeFile(t, t.TempDir(), "loop.mvm", "new-int 3\nloop:\ncalc-sub 1\njumpif @loop\n")
	c, out := newCLI()
	if err := symVerb(c, []string{path}); err != nil {
		t.Fatalf("sym failed: %v", err)
	}
	got := out.String()
	for _, want := range []string{"0000 main:1", "0001 loop:3", "0001 @loop"} {
		if !strings.Contains(got, want) {
			t.Errorf("sym output missing %q:\n%s", want, got)
		}
	}
}

func TestDisasm(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sum.mvm", sum)
	c, out := newCLI()
	if err := disasmVerb(c, []string{path}); err != nil {
		t.Fatalf("disasm failed: %v", err)
	}
	if strings.Contains(out.String(), "\x1b[") {
		t.Error("listing is colored without a terminal")
	}
	if !strings.Contains(out.String(), "0002  calc-add") {
		t.Errorf("listing =\n%s", out)
	}
}

func TestParseArgs(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	out := fs.String("o", "", "")
	strip := fs.Bool("s", false, "")
	pos, err := parseArgs(fs, []string{"a", "-o", "x", "b", "-s"})
	if err != nil {
		t.Fatal(err)
	}
	if len(pos) != 2 || pos[0] != "a" || pos[1] != "b" {
		t.Errorf("positional = %v", pos)
	}
	if *out != "x" || !*strip {
		t.Errorf("flags o=%q s=%v", *out, *strip)
	}

	fs = newFlagSet("test")
	if _, err := parseArgs(fs, []string{"-bogus"}); !errors.Is(err, errUsage) {
		t.Errorf("unknown flag: %v", err)
	}
}

func TestVerbosityFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var v verbosity
	fs.Var(&v, "v", "")
	if err := fs.Parse([]string{"-v", "-v", "run"}); err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Errorf("verbosity = %d, want 2", v)
	}
	if err := fs.Parse([]string{"-v=4"}); err != nil || v != 4 {
		t.Errorf("verbosity = %d (%v), want 4", v, err)
	}
}

func TestFindManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, manifest.FileName, "[vm]\nmax-frames = 64\n")
	sub := filepath.Join(dir, "src")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, sub, "sum.mvm", sum)

	m, err := findManifest([]string{path})
	if err != nil {
		t.Fatal(err)
	}
	if m.VM.MaxFrames != 64 {
		t.Errorf("max-frames = %d, want 64", m.VM.MaxFrames)
	}
}

func TestAliases(t *testing.T) {
	for short, full := range aliases {
		if _, ok := verbs[full]; !ok {
			t.Errorf("alias %s names unknown verb %s", short, full)
		}
	}
	for _, name := range verbOrder {
		if _, ok := verbs[name]; !ok {
			t.Errorf("verb %s missing", name)
		}
	}
}
