// Package hostbridge is a reflection-based foreign call bridge: Go types,
// functions and interfaces registered under class names become classes,
// methods and interfaces that programs reach through new, call, get-field and
// impl.
package hostbridge

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"
	"unsafe"

	"github.com/chazu/mvm/vm"
)

// ---------------------------------------------------------------------------
// Type registry
// ---------------------------------------------------------------------------

// Adapter builds a Go implementation of an interface from VM callables
// keyed by method id.
type Adapter func(methods map[string]vm.Callable) (any, error)

// TypeInfo describes a registered class or interface.
type TypeInfo struct {
	Name      string
	GoType    reflect.Type // nil for a class that only holds functions
	Interface bool

	ctor    reflect.Value
	statics map[string]reflect.Value
	adapter Adapter
}

// Option configures a registered class.
type Option func(*TypeInfo)

// WithConstructor makes new call fn with the program's arguments.
func WithConstructor(fn any) Option {
	return func(info *TypeInfo) { info.ctor = reflect.ValueOf(fn) }
}

// WithFunc adds a static method.
func WithFunc(name string, fn any) Option {
	return func(info *TypeInfo) { info.statics[name] = reflect.ValueOf(fn) }
}

type accessKey struct {
	t      reflect.Type
	member string
}

// Registry maps class names to Go types and implements vm.Bridge. It is safe
// for concurrent registration and lookup.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*TypeInfo
	byType map[reflect.Type]*TypeInfo
	access map[accessKey]bool
}

var _ vm.Bridge = (*Registry)(nil)

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]*TypeInfo),
		byType: make(map[reflect.Type]*TypeInfo),
		access: make(map[accessKey]bool),
	}
}

// Register adds a class. sample is a value of the Go type (a pointer sample
// registers the pointed-to type) or nil for a class of functions only.
// Registering a name again extends the existing class.
func (r *Registry) Register(name string, sample any, opts ...Option) *TypeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.byName[name]
	if !ok {
		info = &TypeInfo{Name: name, statics: make(map[string]reflect.Value)}
		r.byName[name] = info
	}
	if sample != nil {
		t := reflect.TypeOf(sample)
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		info.GoType = t
		r.byType[t] = info
	}
	for _, opt := range opts {
		opt(info)
	}
	return info
}

// RegisterInterface adds an interface. ifacePtr is a nil pointer to the
// interface type, e.g. (*fmt.Stringer)(nil). adapter may be nil, in which
// case impl produces an *Impl.
func (r *Registry) RegisterInterface(name string, ifacePtr any, adapter Adapter) *TypeInfo {
	t := reflect.TypeOf(ifacePtr).Elem()
	r.mu.Lock()
	defer r.mu.Unlock()
	info := &TypeInfo{Name: name, GoType: t, Interface: true, adapter: adapter, statics: make(map[string]reflect.Value)}
	r.byName[name] = info
	r.byType[t] = info
	return info
}

// Lookup returns the class registered under name.
func (r *Registry) Lookup(name string) *TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// LookupByType returns the class registered for a Go type.
func (r *Registry) LookupByType(t reflect.Type) *TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t.Kind() == reflect.Pointer {
		if info, ok := r.byType[t.Elem()]; ok {
			return info
		}
	}
	return r.byType[t]
}

// Count returns the number of registered classes and interfaces.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// ---------------------------------------------------------------------------
// vm.Bridge
// ---------------------------------------------------------------------------

func (r *Registry) ResolveClass(name string) (*vm.ClassRef, error) {
	info := r.Lookup(name)
	if info == nil {
		return nil, fmt.Errorf("no class %s registered", name)
	}
	return vm.NewClassRef(r, name, info), nil
}

func typeInfo(c *vm.ClassRef) (*TypeInfo, error) {
	info, ok := c.Handle.(*TypeInfo)
	if !ok {
		return nil, fmt.Errorf("class %s was not resolved by this bridge", c.Name)
	}
	return info, nil
}

// memberNames lists the Go spellings tried for a member id: the id itself,
// then with its first letter upper-cased.
func memberNames(id string) []string {
	r, size := utf8.DecodeRuneInString(id)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return []string{id}
	}
	return []string{id, string(unicode.ToUpper(r)) + id[size:]}
}

func (r *Registry) ResolveMethod(target vm.Value, id string) (*vm.MethodRef, error) {
	switch target.Kind() {
	case vm.KindClass:
		info, err := typeInfo(target.Class())
		if err != nil {
			return nil, err
		}
		if fn, ok := info.statics[id]; ok {
			return vm.NewMethodRef(r, target.Class(), id, true, fn), nil
		}
		return nil, fmt.Errorf("class %s has no function %s", info.Name, id)
	case vm.KindForeign:
		x := reflect.ValueOf(target.Foreign())
		for _, name := range memberNames(id) {
			if m, ok := methodByName(x, name); ok {
				var class *vm.ClassRef
				if info := r.LookupByType(x.Type()); info != nil {
					class = vm.NewClassRef(r, info.Name, info)
				}
				return vm.NewMethodRef(r, class, id, false, m.Name), nil
			}
		}
		return nil, fmt.Errorf("%s has no method %s", x.Type(), id)
	}
	return nil, fmt.Errorf("cannot resolve method %s on a %s", id, target.Kind())
}

func methodByName(x reflect.Value, name string) (reflect.Method, bool) {
	if !x.IsValid() {
		return reflect.Method{}, false
	}
	return x.Type().MethodByName(name)
}

func (r *Registry) Invoke(m *vm.MethodRef, recv vm.Value, args []vm.Value) (vm.Value, error) {
	if m.Static {
		fn, ok := m.Handle.(reflect.Value)
		if !ok {
			return vm.Null, fmt.Errorf("function %s was not resolved by this bridge", m.Name)
		}
		return call(fn, args)
	}
	name, ok := m.Handle.(string)
	if !ok {
		return vm.Null, fmt.Errorf("method %s was not resolved by this bridge", m.Name)
	}
	if recv.Kind() != vm.KindForeign {
		return vm.Null, fmt.Errorf("method %s needs a foreign receiver, got %s", m.Name, recv.Kind())
	}
	fn := reflect.ValueOf(recv.Foreign()).MethodByName(name)
	if !fn.IsValid() {
		return vm.Null, fmt.Errorf("%T has no method %s", recv.Foreign(), name)
	}
	return call(fn, args)
}

// call invokes fn with converted arguments. A trailing error result becomes
// the returned error; otherwise the first result (or null) is returned.
func call(fn reflect.Value, args []vm.Value) (res vm.Value, err error) {
	t := fn.Type()
	n := t.NumIn()
	if t.IsVariadic() {
		if len(args) < n-1 {
			return vm.Null, fmt.Errorf("takes at least %d arguments, got %d", n-1, len(args))
		}
	} else if len(args) != n {
		return vm.Null, fmt.Errorf("takes %d arguments, got %d", n, len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := paramType(t, i)
		if in[i], err = ToGo(a, pt); err != nil {
			return vm.Null, fmt.Errorf("argument %d: %w", i+1, err)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			res, err = vm.Null, fmt.Errorf("panic: %v", p)
		}
	}()
	out := fn.Call(in)
	if k := len(out); k > 0 && t.Out(k-1) == errorType {
		if e := out[k-1]; !e.IsNil() {
			return vm.Null, e.Interface().(error)
		}
		out = out[:k-1]
	}
	if len(out) == 0 {
		return vm.Null, nil
	}
	return FromGo(out[0]), nil
}

func paramType(t reflect.Type, i int) reflect.Type {
	if t.IsVariadic() && i >= t.NumIn()-1 {
		return t.In(t.NumIn() - 1).Elem()
	}
	return t.In(i)
}

func (r *Registry) Construct(c *vm.ClassRef, args []vm.Value) (vm.Value, error) {
	info, err := typeInfo(c)
	if err != nil {
		return vm.Null, err
	}
	if info.ctor.IsValid() {
		return call(info.ctor, args)
	}
	if info.GoType == nil || info.Interface {
		return vm.Null, fmt.Errorf("%s cannot be constructed", info.Name)
	}
	p := reflect.New(info.GoType)
	if len(args) == 0 {
		return vm.NewForeign(p.Interface()), nil
	}
	if info.GoType.Kind() != reflect.Struct {
		return vm.Null, fmt.Errorf("%s takes no arguments", info.Name)
	}
	// Positional arguments fill exported fields in declaration order.
	var fields []int
	for i := 0; i < info.GoType.NumField(); i++ {
		if info.GoType.Field(i).IsExported() {
			fields = append(fields, i)
		}
	}
	if len(args) > len(fields) {
		return vm.Null, fmt.Errorf("%s takes at most %d arguments, got %d", info.Name, len(fields), len(args))
	}
	for i, a := range args {
		f := p.Elem().Field(fields[i])
		x, err := ToGo(a, f.Type())
		if err != nil {
			return vm.Null, fmt.Errorf("%s.%s: %w", info.Name, info.GoType.Field(fields[i]).Name, err)
		}
		f.Set(x)
	}
	return vm.NewForeign(p.Interface()), nil
}

// structOf returns the struct behind a foreign value.
func structOf(target vm.Value) (reflect.Value, error) {
	if target.Kind() != vm.KindForeign {
		return reflect.Value{}, fmt.Errorf("fields need a foreign object, got %s", target.Kind())
	}
	x := reflect.ValueOf(target.Foreign())
	for x.Kind() == reflect.Pointer && !x.IsNil() {
		x = x.Elem()
	}
	if x.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%T has no fields", target.Foreign())
	}
	return x, nil
}

func fieldByID(x reflect.Value, id string) (reflect.StructField, bool) {
	for _, name := range memberNames(id) {
		if f, ok := x.Type().FieldByName(name); ok {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

func (r *Registry) ResolveField(target vm.Value, id string) (*vm.FieldRef, error) {
	x, err := structOf(target)
	if err != nil {
		return nil, err
	}
	f, ok := fieldByID(x, id)
	if !ok {
		return nil, fmt.Errorf("%s has no field %s", x.Type(), id)
	}
	return vm.NewFieldRef(r, id, f.Index), nil
}

var errInaccessible = errors.New("member is not accessible")

// fieldValue returns the field, made usable when it is unexported but has
// been granted access.
func (r *Registry) fieldValue(f *vm.FieldRef, target vm.Value) (reflect.Value, error) {
	idx, ok := f.Handle.([]int)
	if !ok {
		return reflect.Value{}, fmt.Errorf("field %s was not resolved by this bridge", f.Name)
	}
	x, err := structOf(target)
	if err != nil {
		return reflect.Value{}, err
	}
	sf := x.Type().FieldByIndex(idx)
	fv := x.FieldByIndex(idx)
	if !r.accessible(x.Type(), sf) {
		return reflect.Value{}, fmt.Errorf("%s.%s: %w", x.Type(), sf.Name, errInaccessible)
	}
	if !sf.IsExported() {
		if !fv.CanAddr() {
			return reflect.Value{}, fmt.Errorf("%s.%s: unexported field of a non-pointer value", x.Type(), sf.Name)
		}
		fv = reflect.NewAt(fv.Type(), unsafe.Pointer(fv.UnsafeAddr())).Elem()
	}
	return fv, nil
}

func (r *Registry) GetField(f *vm.FieldRef, target vm.Value) (vm.Value, error) {
	fv, err := r.fieldValue(f, target)
	if err != nil {
		return vm.Null, err
	}
	return FromGo(fv), nil
}

func (r *Registry) SetField(f *vm.FieldRef, target vm.Value, v vm.Value) error {
	fv, err := r.fieldValue(f, target)
	if err != nil {
		return err
	}
	if !fv.CanSet() {
		return fmt.Errorf("field %s is not settable; construct the object by pointer", f.Name)
	}
	x, err := ToGo(v, fv.Type())
	if err != nil {
		return fmt.Errorf("field %s: %w", f.Name, err)
	}
	fv.Set(x)
	return nil
}

// accessible applies overrides from SetAccessible; without one, exported
// members are accessible and unexported ones are not.
func (r *Registry) accessible(t reflect.Type, sf reflect.StructField) bool {
	r.mu.RLock()
	flag, ok := r.access[accessKey{t, sf.Name}]
	r.mu.RUnlock()
	if ok {
		return flag
	}
	return sf.IsExported()
}

// memberOf finds the struct field or method behind a member id.
func memberOf(target vm.Value, member string) (reflect.Type, string, bool, error) {
	if target.Kind() != vm.KindForeign {
		return nil, "", false, fmt.Errorf("accessibility needs a foreign object, got %s", target.Kind())
	}
	x := reflect.ValueOf(target.Foreign())
	if s, err := structOf(target); err == nil {
		if f, ok := fieldByID(s, member); ok {
			return s.Type(), f.Name, f.IsExported(), nil
		}
	}
	for _, name := range memberNames(member) {
		if _, ok := methodByName(x, name); ok {
			return x.Type(), name, true, nil
		}
	}
	return nil, "", false, fmt.Errorf("%T has no member %s", target.Foreign(), member)
}

func (r *Registry) IsAccessible(target vm.Value, member string) (bool, error) {
	if member == "" {
		return target.Kind() == vm.KindForeign, nil
	}
	t, name, exported, err := memberOf(target, member)
	if err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if flag, ok := r.access[accessKey{t, name}]; ok {
		return flag, nil
	}
	return exported, nil
}

func (r *Registry) SetAccessible(target vm.Value, member string, flag bool) error {
	if member == "" {
		return errors.New("set-accessible needs a member name")
	}
	t, name, _, err := memberOf(target, member)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.access[accessKey{t, name}] = flag
	r.mu.Unlock()
	return nil
}

func (r *Registry) IsInstance(v vm.Value, c *vm.ClassRef) (bool, error) {
	info, err := typeInfo(c)
	if err != nil {
		return false, err
	}
	if v.Kind() != vm.KindForeign || info.GoType == nil {
		return false, nil
	}
	t := reflect.TypeOf(v.Foreign())
	if t == nil {
		return false, nil
	}
	if info.Interface {
		return t.Implements(info.GoType), nil
	}
	return t == info.GoType || (t.Kind() == reflect.Pointer && t.Elem() == info.GoType), nil
}

// Impl is the implementation produced for an interface registered without
// an adapter.
type Impl struct {
	Interface string
	Methods   map[string]vm.Callable
}

// Call invokes the method registered under id.
func (i *Impl) Call(id string, args ...vm.Value) (vm.Value, error) {
	fn, ok := i.Methods[id]
	if !ok {
		return vm.Null, fmt.Errorf("%s implementation has no method %s", i.Interface, id)
	}
	return fn(args)
}

func (r *Registry) ImplementInterface(c *vm.ClassRef, methods map[string]vm.Callable) (vm.Value, error) {
	info, err := typeInfo(c)
	if err != nil {
		return vm.Null, err
	}
	if !info.Interface {
		return vm.Null, fmt.Errorf("%s is not an interface", info.Name)
	}
	if info.adapter == nil {
		return vm.NewForeign(&Impl{Interface: info.Name, Methods: methods}), nil
	}
	obj, err := info.adapter(methods)
	if err != nil {
		return vm.Null, fmt.Errorf("impl %s: %w", info.Name, err)
	}
	return vm.NewForeign(obj), nil
}
