package vm

import "sync"

// ScopePolicy selects how a `go` context sees the spawning lambda's scope.
type ScopePolicy uint8

const (
	// ScopeShared runs spawned contexts against the captured scope itself.
	ScopeShared ScopePolicy = iota
	// ScopeCopy gives spawned contexts a flattened snapshot of it.
	ScopeCopy
)

// ParseScopePolicy maps the configuration spelling to a policy.
func ParseScopePolicy(s string) (ScopePolicy, bool) {
	switch s {
	case "", "shared":
		return ScopeShared, true
	case "copy":
		return ScopeCopy, true
	}
	return ScopeShared, false
}

func (p ScopePolicy) String() string {
	if p == ScopeCopy {
		return "copy"
	}
	return "shared"
}

// Scope is one level of named-variable bindings. Scopes are shared by
// reference between frames and the lambdas created inside them, so every
// access takes the scope's lock: writes are exclusive, reads run together.
type Scope struct {
	mu     sync.RWMutex
	vars   map[string]Value
	parent *Scope
}

// NewScope creates a scope nested in parent (which may be nil).
func NewScope(parent *Scope) *Scope {
	return &Scope{vars: make(map[string]Value), parent: parent}
}

// Parent returns the enclosing scope.
func (s *Scope) Parent() *Scope { return s.parent }

// Lookup walks the chain from s outward.
func (s *Scope) Lookup(name string) (Value, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		sc.mu.RLock()
		v, ok := sc.vars[name]
		sc.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return Null, false
}

// Set assigns name in the nearest scope that binds it, or defines it in s.
func (s *Scope) Set(name string, v Value) {
	for sc := s; sc != nil; sc = sc.parent {
		sc.mu.Lock()
		if _, ok := sc.vars[name]; ok {
			sc.vars[name] = v
			sc.mu.Unlock()
			return
		}
		sc.mu.Unlock()
	}
	s.Define(name, v)
}

// Define binds name in s, shadowing any outer binding.
func (s *Scope) Define(name string, v Value) {
	s.mu.Lock()
	s.vars[name] = v
	s.mu.Unlock()
}

// Delete removes the nearest binding of name and reports whether one existed.
func (s *Scope) Delete(name string) bool {
	for sc := s; sc != nil; sc = sc.parent {
		sc.mu.Lock()
		if _, ok := sc.vars[name]; ok {
			delete(sc.vars, name)
			sc.mu.Unlock()
			return true
		}
		sc.mu.Unlock()
	}
	return false
}

// Clear drops every binding held directly by s.
func (s *Scope) Clear() {
	s.mu.Lock()
	clear(s.vars)
	s.mu.Unlock()
}

// Resolved returns every visible binding, inner scopes shadowing outer ones.
func (s *Scope) Resolved() map[string]Value {
	var chain []*Scope
	for sc := s; sc != nil; sc = sc.parent {
		chain = append(chain, sc)
	}
	out := make(map[string]Value)
	for i := len(chain) - 1; i >= 0; i-- {
		sc := chain[i]
		sc.mu.RLock()
		for k, v := range sc.vars {
			out[k] = v
		}
		sc.mu.RUnlock()
	}
	return out
}

// Flatten returns a parentless copy of everything visible from s.
func (s *Scope) Flatten() *Scope {
	return &Scope{vars: s.Resolved()}
}
