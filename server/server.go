// Package server hosts mvm over the network and in editors: a Connect
// execution service that assembles and runs submitted programs, and a
// language server for .mvm assembly.
package server

import (
	"net/http"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/mvm/vm"
)

var log = commonlog.GetLogger("mvm.server")

// DefaultRunTimeout bounds a submitted program unless WithRunTimeout says
// otherwise.
const DefaultRunTimeout = 30 * time.Second

// MachineServer serves the execution service over Connect (HTTP/JSON and
// binary protobuf).
type MachineServer struct {
	worker *Worker
	mux    *http.ServeMux
}

// ServerOption configures a MachineServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	runTimeout time.Duration
}

// WithRunTimeout sets the per-program time limit. Zero disables it.
func WithRunTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.runTimeout = d }
}

// New creates a MachineServer running programs on v.
func New(v *vm.VM, opts ...ServerOption) *MachineServer {
	cfg := &serverConfig{runTimeout: DefaultRunTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	worker := NewWorker(v)
	s := &MachineServer{
		worker: worker,
		mux:    http.NewServeMux(),
	}
	NewExecService(worker, cfg.runTimeout).Register(s.mux)
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *MachineServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *MachineServer) ListenAndServe(addr string) error {
	log.Noticef("mvm server listening on %s", addr)
	log.Noticef("  Connect (HTTP/JSON): http://%s%s", addr, RunProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the server's worker.
func (s *MachineServer) Stop() {
	s.worker.Stop()
}
