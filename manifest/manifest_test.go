package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chazu/mvm/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[vm]
go-scope = "copy"
max-frames = 64

[trace]
path = "out/trace.db"

[log]
verbosity = 2
file = "/var/log/mvm.log"

[bridge]
grpc-target = "localhost:50051"
timeout = "1500ms"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.ScopePolicy() != vm.ScopeCopy {
		t.Errorf("scope policy = %s, want copy", m.ScopePolicy())
	}
	if m.VM.MaxFrames != 64 {
		t.Errorf("max-frames = %d, want 64", m.VM.MaxFrames)
	}
	t.Setenv(TraceEnv, "")
	if got, want := m.TracePath(), filepath.Join(m.Dir, "out", "trace.db"); got != want {
		t.Errorf("trace path = %q, want %q", got, want)
	}
	if m.Log.Verbosity != 2 || m.LogFile() != "/var/log/mvm.log" {
		t.Errorf("log = %+v", m.Log)
	}
	if m.Bridge.GRPCTarget != "localhost:50051" {
		t.Errorf("grpc-target = %q", m.Bridge.GRPCTarget)
	}
	if m.BridgeTimeout() != 1500*time.Millisecond {
		t.Errorf("timeout = %s", m.BridgeTimeout())
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[log]\nverbosity = 1\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.ScopePolicy() != vm.ScopeShared {
		t.Errorf("default scope policy = %s", m.ScopePolicy())
	}
	if m.VM.MaxFrames != vm.DefaultMaxFrames {
		t.Errorf("default max-frames = %d", m.VM.MaxFrames)
	}
	t.Setenv(TraceEnv, "")
	if m.TracePath() != "" {
		t.Errorf("trace path = %q, want none", m.TracePath())
	}
	if len(m.Options()) != 2 {
		t.Errorf("Options() returned %d options", len(m.Options()))
	}
}

func TestTraceEnvOverrides(t *testing.T) {
	m := Default()
	m.Trace.Path = "from-manifest.log"
	t.Setenv(TraceEnv, "/tmp/env.db")
	if got := m.TracePath(); got != "/tmp/env.db" {
		t.Errorf("trace path = %q, want the MVM_TRACE value", got)
	}
}

func TestSchemaRejects(t *testing.T) {
	tests := map[string]string{
		"unknown scope":   "[vm]\ngo-scope = \"forked\"\n",
		"zero frames":     "[vm]\nmax-frames = 0\n",
		"unknown section": "[project]\nname = \"x\"\n",
		"unknown key":     "[trace]\nfile = \"t.log\"\n",
		"wrong type":      "[log]\nverbosity = \"loud\"\n",
		"verbosity range": "[log]\nverbosity = 9\n",
		"bad timeout":     "[bridge]\ntimeout = \"soon\"\n",
		"bad toml":        "[vm\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(content), FileName)
			if err == nil {
				t.Fatalf("accepted %q", content)
			}
			if !strings.Contains(err.Error(), FileName) {
				t.Errorf("error %q does not name the file", err)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[vm]\nmax-frames = 10\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil || m.VM.MaxFrames != 10 {
		t.Fatalf("FindAndLoad = %+v, want the root manifest", m)
	}
	abs, _ := filepath.Abs(root)
	if m.Dir != abs {
		t.Errorf("Dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no mvm.toml exists")
	}
}
