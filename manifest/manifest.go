// Package manifest handles mvm.toml project configuration.
package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"

	"github.com/chazu/mvm/vm"
)

// FileName is the manifest file looked up by FindAndLoad.
const FileName = "mvm.toml"

// TraceEnv overrides [trace].path.
const TraceEnv = "MVM_TRACE"

//go:embed schema.cue
var schemaSrc string

// Manifest represents an mvm.toml project configuration.
type Manifest struct {
	VM     VMConfig     `toml:"vm"`
	Trace  TraceConfig  `toml:"trace"`
	Log    LogConfig    `toml:"log"`
	Bridge BridgeConfig `toml:"bridge"`

	// Dir is the directory containing the mvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMConfig configures the interpreter.
type VMConfig struct {
	GoScope   string `toml:"go-scope"`
	MaxFrames int    `toml:"max-frames"`
}

// TraceConfig configures instruction tracing.
type TraceConfig struct {
	Path string `toml:"path"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// BridgeConfig configures foreign runtimes beyond the built-in Go one.
type BridgeConfig struct {
	GRPCTarget string `toml:"grpc-target"`
	Timeout    string `toml:"timeout"`
}

// Default returns the configuration used when no mvm.toml exists.
func Default() *Manifest {
	return &Manifest{
		VM: VMConfig{GoScope: vm.ScopeShared.String(), MaxFrames: vm.DefaultMaxFrames},
	}
}

// Load parses and validates the mvm.toml file in dir.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	m, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest text. name is used in errors.
func Parse(data []byte, name string) (*Manifest, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}

	m := Default()
	if _, err := toml.Decode(string(data), m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if m.Bridge.Timeout != "" {
		if _, err := time.ParseDuration(m.Bridge.Timeout); err != nil {
			return nil, fmt.Errorf("invalid %s: bridge.timeout: %w", name, err)
		}
	}
	return m, nil
}

// validate checks the decoded TOML against the embedded schema.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Manifest"))
	if err := schema.Err(); err != nil {
		return err
	}
	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return err
	}
	return schema.Unify(value).Validate(cue.Concrete(true))
}

// FindAndLoad walks up from startDir to find an mvm.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ScopePolicy returns the configured policy for `go` contexts.
func (m *Manifest) ScopePolicy() vm.ScopePolicy {
	p, _ := vm.ParseScopePolicy(m.VM.GoScope)
	return p
}

// Options returns the VM options the manifest implies.
func (m *Manifest) Options() []vm.Option {
	return []vm.Option{
		vm.WithScopePolicy(m.ScopePolicy()),
		vm.WithMaxFrames(m.VM.MaxFrames),
	}
}

// TracePath returns the trace sink path: MVM_TRACE if set, otherwise
// [trace].path resolved against the manifest directory. Empty means no
// tracing.
func (m *Manifest) TracePath() string {
	if p := os.Getenv(TraceEnv); p != "" {
		return p
	}
	return m.resolve(m.Trace.Path)
}

// LogFile returns [log].file resolved against the manifest directory.
func (m *Manifest) LogFile() string {
	return m.resolve(m.Log.File)
}

// BridgeTimeout returns the per-call deadline for the gRPC bridge.
func (m *Manifest) BridgeTimeout() time.Duration {
	d, _ := time.ParseDuration(m.Bridge.Timeout)
	return d
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}
