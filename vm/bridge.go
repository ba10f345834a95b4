package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Foreign call bridge
// ---------------------------------------------------------------------------

// Callable is VM code exposed to the host, typically a Lambda bound to an
// interface method by impl.
type Callable func(args []Value) (Value, error)

// Bridge is the VM's only contact with the embedding runtime. Every failure
// is reported as an ordinary error and surfaces as a runtime Error in the
// program, never as a fault.
type Bridge interface {
	ResolveClass(name string) (*ClassRef, error)
	ResolveMethod(target Value, id string) (*MethodRef, error)
	ResolveField(target Value, id string) (*FieldRef, error)
	Invoke(m *MethodRef, recv Value, args []Value) (Value, error)
	Construct(c *ClassRef, args []Value) (Value, error)
	GetField(f *FieldRef, target Value) (Value, error)
	SetField(f *FieldRef, target Value, v Value) error
	IsAccessible(target Value, member string) (bool, error)
	SetAccessible(target Value, member string, flag bool) error
	IsInstance(v Value, c *ClassRef) (bool, error)
	ImplementInterface(c *ClassRef, methods map[string]Callable) (Value, error)
}

// ClassRef is a bridge-resolved class or interface.
type ClassRef struct {
	Name   string
	Handle any
	owner  Bridge
}

// MethodRef is a bridge-resolved method. Static methods ignore the receiver.
type MethodRef struct {
	Name   string
	Class  *ClassRef
	Static bool
	Handle any
	owner  Bridge
}

// FieldRef is a bridge-resolved field.
type FieldRef struct {
	Name   string
	Handle any
	owner  Bridge
}

// NewClassRef creates a class reference owned by b.
func NewClassRef(b Bridge, name string, handle any) *ClassRef {
	return &ClassRef{Name: name, Handle: handle, owner: b}
}

// NewMethodRef creates a method reference owned by b.
func NewMethodRef(b Bridge, class *ClassRef, name string, static bool, handle any) *MethodRef {
	return &MethodRef{Name: name, Class: class, Static: static, Handle: handle, owner: b}
}

// NewFieldRef creates a field reference owned by b.
func NewFieldRef(b Bridge, name string, handle any) *FieldRef {
	return &FieldRef{Name: name, Handle: handle, owner: b}
}

var errNoRuntime = errors.New("no foreign runtime configured")

// NoBridge rejects every request. It is the default for a VM without a host.
type NoBridge struct{}

func (NoBridge) ResolveClass(name string) (*ClassRef, error) {
	return nil, fmt.Errorf("class %s: %w", name, errNoRuntime)
}

func (NoBridge) ResolveMethod(_ Value, id string) (*MethodRef, error) {
	return nil, fmt.Errorf("method %s: %w", id, errNoRuntime)
}

func (NoBridge) ResolveField(_ Value, id string) (*FieldRef, error) {
	return nil, fmt.Errorf("field %s: %w", id, errNoRuntime)
}

func (NoBridge) Invoke(*MethodRef, Value, []Value) (Value, error) { return Null, errNoRuntime }
func (NoBridge) Construct(*ClassRef, []Value) (Value, error)      { return Null, errNoRuntime }
func (NoBridge) GetField(*FieldRef, Value) (Value, error)          { return Null, errNoRuntime }
func (NoBridge) SetField(*FieldRef, Value, Value) error            { return errNoRuntime }
func (NoBridge) IsAccessible(Value, string) (bool, error)          { return false, errNoRuntime }
func (NoBridge) SetAccessible(Value, string, bool) error           { return errNoRuntime }
func (NoBridge) IsInstance(Value, *ClassRef) (bool, error)         { return false, nil }

func (NoBridge) ImplementInterface(*ClassRef, map[string]Callable) (Value, error) {
	return Null, errNoRuntime
}

// ---------------------------------------------------------------------------
// Chain: several bridges behind one
// ---------------------------------------------------------------------------

type chain []Bridge

// Chain combines bridges. Resolution tries each in order; operations on a
// resolved ref go back to the bridge that produced it.
func Chain(bridges ...Bridge) Bridge {
	if len(bridges) == 1 {
		return bridges[0]
	}
	return chain(bridges)
}

func (c chain) ResolveClass(name string) (*ClassRef, error) {
	var errs []error
	for _, b := range c {
		ref, err := b.ResolveClass(name)
		if err == nil {
			return ref, nil
		}
		errs = append(errs, err)
	}
	return nil, notResolved("class", name, errs)
}

func (c chain) ResolveMethod(target Value, id string) (*MethodRef, error) {
	if b := refOwner(target); b != nil {
		return b.ResolveMethod(target, id)
	}
	var errs []error
	for _, b := range c {
		ref, err := b.ResolveMethod(target, id)
		if err == nil {
			return ref, nil
		}
		errs = append(errs, err)
	}
	return nil, notResolved("method", id, errs)
}

func (c chain) ResolveField(target Value, id string) (*FieldRef, error) {
	if b := refOwner(target); b != nil {
		return b.ResolveField(target, id)
	}
	var errs []error
	for _, b := range c {
		ref, err := b.ResolveField(target, id)
		if err == nil {
			return ref, nil
		}
		errs = append(errs, err)
	}
	return nil, notResolved("field", id, errs)
}

func (c chain) Invoke(m *MethodRef, recv Value, args []Value) (Value, error) {
	if m.owner == nil {
		return Null, fmt.Errorf("method %s has no owning bridge", m.Name)
	}
	return m.owner.Invoke(m, recv, args)
}

func (c chain) Construct(cl *ClassRef, args []Value) (Value, error) {
	if cl.owner == nil {
		return Null, fmt.Errorf("class %s has no owning bridge", cl.Name)
	}
	return cl.owner.Construct(cl, args)
}

func (c chain) GetField(f *FieldRef, target Value) (Value, error) {
	if f.owner == nil {
		return Null, fmt.Errorf("field %s has no owning bridge", f.Name)
	}
	return f.owner.GetField(f, target)
}

func (c chain) SetField(f *FieldRef, target Value, v Value) error {
	if f.owner == nil {
		return fmt.Errorf("field %s has no owning bridge", f.Name)
	}
	return f.owner.SetField(f, target, v)
}

func (c chain) IsAccessible(target Value, member string) (bool, error) {
	if b := refOwner(target); b != nil {
		return b.IsAccessible(target, member)
	}
	var errs []error
	for _, b := range c {
		ok, err := b.IsAccessible(target, member)
		if err == nil {
			return ok, nil
		}
		errs = append(errs, err)
	}
	return false, notResolved("member", member, errs)
}

func (c chain) SetAccessible(target Value, member string, flag bool) error {
	if b := refOwner(target); b != nil {
		return b.SetAccessible(target, member, flag)
	}
	var errs []error
	for _, b := range c {
		err := b.SetAccessible(target, member, flag)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return notResolved("member", member, errs)
}

func (c chain) IsInstance(v Value, cl *ClassRef) (bool, error) {
	if cl.owner == nil {
		return false, nil
	}
	return cl.owner.IsInstance(v, cl)
}

func (c chain) ImplementInterface(cl *ClassRef, methods map[string]Callable) (Value, error) {
	if cl.owner == nil {
		return Null, fmt.Errorf("interface %s has no owning bridge", cl.Name)
	}
	return cl.owner.ImplementInterface(cl, methods)
}

// refOwner returns the bridge that produced a class or method value.
func refOwner(v Value) Bridge {
	switch v.Kind() {
	case KindClass:
		return v.Class().owner
	case KindMethod:
		return v.Method().owner
	}
	return nil
}

func notResolved(what, name string, errs []error) error {
	return fmt.Errorf("%s %s not found: %w", what, name, errors.Join(errs...))
}
