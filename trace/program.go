package trace

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/chazu/mvm/asm"
	"github.com/chazu/mvm/codec"
	"github.com/chazu/mvm/vm"
)

// Program runs a trace program before every traced instruction. The
// program sees the event in the variables context, index, op, acc, symbol
// and line; an unhandled error or fault in it fails the hook.
type Program struct {
	mu   sync.Mutex
	seq  *vm.ISeq
	syms *vm.DebugSymbols
	m    *vm.VM
}

// OpenProgram loads a trace program in text or binary form.
func OpenProgram(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace program: %w", err)
	}
	var (
		seq  *vm.ISeq
		syms *vm.DebugSymbols
	)
	if codec.IsProgram(data) {
		seq, syms, err = codec.Load(data)
	} else {
		seq, syms, err = asm.Assemble(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("trace program %s: %w", path, err)
	}
	log.Infof("tracing through %s", path)
	return NewProgram(seq, syms), nil
}

// NewProgram returns a sink running seq. The program runs without a
// foreign runtime.
func NewProgram(seq *vm.ISeq, syms *vm.DebugSymbols) *Program {
	return &Program{seq: seq, syms: syms, m: vm.NewVM()}
}

func (p *Program) Hook(ev vm.TraceEvent) error {
	scope := vm.NewScope(nil)
	scope.Define("context", vm.NewStr(ev.Context))
	scope.Define("index", vm.NewLong(int64(ev.Index)))
	scope.Define("op", vm.NewStr(ev.Op.String()))
	scope.Define("acc", ev.Acc)
	if ev.Symbol != nil {
		scope.Define("symbol", vm.NewStr(ev.Symbol.Name))
		scope.Define("line", vm.NewLong(int64(ev.Symbol.Line)))
	} else {
		scope.Define("symbol", vm.Null)
		scope.Define("line", vm.Null)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.m.RunScope(context.Background(), p.seq, p.syms, scope)
	return err
}

func (p *Program) Close() error {
	p.m.Wait()
	return nil
}
