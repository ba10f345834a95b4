package vm

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// DefaultMaxFrames bounds the call stack of one context.
const DefaultMaxFrames = 4096

// VM executes instruction sequences. A VM is safe for concurrent use: every
// Run and every `go` gets its own context, and only scopes are shared.
type VM struct {
	bridge    Bridge
	policy    ScopePolicy
	maxFrames int

	trace       TraceHook
	traceFailed atomic.Bool

	procs  processRegistry
	logger commonlog.Logger
}

// Option configures a VM.
type Option func(*VM)

// WithBridge sets the foreign runtime. Several bridges can be combined with
// Chain.
func WithBridge(b Bridge) Option {
	return func(vm *VM) { vm.bridge = b }
}

// WithScopePolicy sets how `go` contexts see captured scopes.
func WithScopePolicy(p ScopePolicy) Option {
	return func(vm *VM) { vm.policy = p }
}

// WithMaxFrames sets the call-depth limit. Values below 1 keep the default.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxFrames = n
		}
	}
}

// WithTrace installs a hook called before every instruction.
func WithTrace(h TraceHook) Option {
	return func(vm *VM) { vm.trace = h }
}

// NewVM creates a VM. Without WithBridge every foreign operation fails with
// a runtime error.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		bridge:    NoBridge{},
		maxFrames: DefaultMaxFrames,
		logger:    commonlog.GetLogger("mvm.vm"),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Bridge returns the VM's foreign runtime.
func (vm *VM) Bridge() Bridge { return vm.bridge }

// Result is the state of the outermost frame when a run ends.
type Result struct {
	Value  Value            // accumulator at leave or end of sequence
	Result Value            // result register
	Error  *Error           // error register, nil when empty
	Vars   map[string]Value // bindings of the program scope
}

// Run resolves, validates and executes seq in a fresh program scope.
func (vm *VM) Run(ctx context.Context, seq *ISeq, syms *DebugSymbols) (*Result, error) {
	return vm.RunScope(ctx, seq, syms, nil)
}

// RunScope is Run against a caller-supplied scope, which receives the
// program's variables. A nil scope means a fresh one.
//
// On failure the returned Result still describes the outermost frame; the
// error is a *Fault, an *UnhandledError, or the context's error.
func (vm *VM) RunScope(ctx context.Context, seq *ISeq, syms *DebugSymbols, scope *Scope) (*Result, error) {
	if err := seq.Resolve(); err != nil {
		return nil, err
	}
	if err := seq.Validate(); err != nil {
		return nil, err
	}
	if scope == nil {
		scope = NewScope(nil)
	}
	base := newFrame("main", seq, syms, 0, seq.Len(), scope)
	c := vm.newContext(ctx, base)
	v, err := vm.runGuarded(c)
	res := &Result{
		Value:  v,
		Result: base.result,
		Error:  base.err,
		Vars:   scope.Resolved(),
	}
	if err != nil {
		res.Value = base.acc
	}
	return res, err
}

// callLambda runs l to completion in a new context on this goroutine.
func (vm *VM) callLambda(ctx context.Context, l *Lambda, args []Value) (Value, error) {
	base, err := lambdaFrame(l, l.Scope, args)
	if err != nil {
		return Null, err
	}
	return vm.runGuarded(vm.newContext(ctx, base))
}

func newContextID() string {
	return uuid.NewString()
}
