// Package trace implements the sinks MVM_TRACE can name. The sink is
// chosen by the path's extension:
//
//	trace.db, trace.sqlite   one row per instruction in a SQLite database
//	watch.mvm, watch.mvmc    a program run before every instruction
//	anything else            a text log, one line per instruction
package trace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/mvm/vm"
)

var log = commonlog.GetLogger("mvm.trace")

// Sink receives trace events. Hook is installed with vm.WithTrace.
type Sink interface {
	Hook(ev vm.TraceEvent) error
	Close() error
}

// Open returns the sink for path.
func Open(path string) (Sink, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenDB(path)
	case ".mvm", ".mvmc":
		return OpenProgram(path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace file: %w", err)
	}
	log.Infof("tracing to %s", path)
	return &Text{w: f, c: f}, nil
}

// Text writes one line per instruction.
type Text struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewText returns a text sink writing to w. Close does not close w.
func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

func (t *Text) Hook(ev vm.TraceEvent) error {
	line := Format(ev)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := io.WriteString(t.w, line+"\n")
	return err
}

func (t *Text) Close() error {
	if t.c == nil {
		return nil
	}
	return t.c.Close()
}

// Format renders an event the way the text sink writes it:
//
//	1b4e28ba 0003 calc-add       acc=5  ; loop:4
func Format(ev vm.TraceEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %04d %-14s acc=%s", shortID(ev.Context), ev.Index, ev.Op, ev.Acc)
	if ev.Symbol != nil {
		fmt.Fprintf(&sb, "  ; %s:%d", ev.Symbol.Name, ev.Symbol.Line)
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
