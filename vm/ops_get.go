package vm

import (
	"sort"
	"unicode/utf8"
)

func init() {
	register(opGet, OpGet)
	register(opGetStack, OpGetStack)
	register(opGetVars, OpGetVars)
	register(opGetClass, OpGetClass)
	register(opGetMember, OpGetMethod, OpGetField)
	register(opGetAccessible, OpGetAccessible)
	register(opGetRegister, OpGetResult, OpGetError)
	register(opGetIndex, OpGetIndex)

	register(opMove, OpMove)
	register(opMoveRegister, OpMoveError, OpMoveResult)
	register(opMoveField, OpMoveField)
	register(opMoveIndex, OpMoveIndex)
	register(opMoveAccessible, OpMoveAccessible)

	register(opDelete, OpDelete)
	register(opDeleteRegister, OpDeleteError, OpDeleteResult)
	register(opDeleteIndex, OpDeleteIndex)
	register(opDeleteEnv, OpDeleteEnv)
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

func opGet(c *Context, f *Frame, in Instruction) error {
	v, err := c.value(f, in.Args[0])
	if err != nil {
		return err
	}
	f.push(v)
	return nil
}

func opGetStack(c *Context, f *Frame, _ Instruction) error {
	f.push(NewArrayValue(NewArray(c.stackTrace()...)))
	return nil
}

// get-vars pushes a map of every binding visible from the frame, by name.
func opGetVars(c *Context, f *Frame, _ Instruction) error {
	vars := f.scope().Resolved()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	m := NewMap()
	for _, name := range names {
		if err := m.Put(NewStr(name), vars[name]); err != nil {
			return err
		}
	}
	f.push(NewMapValue(m))
	return nil
}

// get-class [name]
func opGetClass(c *Context, f *Frame, in Instruction) error {
	nameVal := f.acc
	if len(in.Args) == 1 {
		name, err := nameOf(in.Args[0])
		if err != nil {
			return err
		}
		nameVal = NewStr(name)
	}
	class, err := c.classOf(nameVal)
	if err != nil {
		return err
	}
	answer(f, len(in.Args) == 1, NewClassValue(class))
	return nil
}

// memberTarget evaluates the class-or-object operand of get-method,
// get-field and their kin. Quoted names and string literals name classes.
func (c *Context) memberTarget(f *Frame, o Operand) (Value, error) {
	switch {
	case o.Kind == OperandSymbol:
		class, err := c.classOf(NewStr(o.Name))
		if err != nil {
			return Null, err
		}
		return NewClassValue(class), nil
	case o.Kind == OperandValue && o.Value.kind == KindStr:
		class, err := c.classOf(o.Value)
		if err != nil {
			return Null, err
		}
		return NewClassValue(class), nil
	}
	return c.value(f, o)
}

// get-method [class] name / get-field [target] name
func opGetMember(c *Context, f *Frame, in Instruction) error {
	target := f.acc
	explicit := len(in.Args) == 2
	if explicit {
		var err error
		if target, err = c.memberTarget(f, in.Args[0]); err != nil {
			return err
		}
	}
	name, err := nameOf(in.Args[len(in.Args)-1])
	if err != nil {
		return err
	}
	if target.IsNull() {
		return NewError(NullError, "%s %s on null", in.Op, name)
	}

	b := c.vm.bridge
	var v Value
	if in.Op == OpGetMethod {
		m, err := b.ResolveMethod(target, name)
		if err != nil {
			return AsError(err)
		}
		v = NewMethodValue(m)
	} else {
		fr, err := b.ResolveField(target, name)
		if err != nil {
			return AsError(err)
		}
		if v, err = b.GetField(fr, target); err != nil {
			return AsError(err)
		}
	}
	answer(f, explicit, v)
	return nil
}

// get-accessible? [target] [member]
func opGetAccessible(c *Context, f *Frame, in Instruction) error {
	target := f.acc
	member := ""
	if len(in.Args) > 0 {
		var err error
		if target, err = c.memberTarget(f, in.Args[0]); err != nil {
			return err
		}
	}
	if len(in.Args) == 2 {
		var err error
		if member, err = nameOf(in.Args[1]); err != nil {
			return err
		}
	}
	ok, err := c.vm.bridge.IsAccessible(target, member)
	if err != nil {
		return AsError(err)
	}
	answer(f, len(in.Args) > 0, NewBool(ok))
	return nil
}

func opGetRegister(c *Context, f *Frame, in Instruction) error {
	if in.Op == OpGetResult {
		f.push(f.result)
	} else {
		f.push(f.takeError())
	}
	return nil
}

// get-index [var] idx
func opGetIndex(c *Context, f *Frame, in Instruction) error {
	subj, has, rest := subject(in)
	container, err := c.subjectValue(f, subj, has)
	if err != nil {
		return err
	}
	key, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	v, err := indexRead(in.Op, container, key)
	if err != nil {
		return err
	}
	answer(f, has, v)
	return nil
}

// indexRead reads element key of an array, vector, string or map.
func indexRead(op OpCode, container, key Value) (Value, error) {
	switch container.kind {
	case KindMap:
		v, ok, err := container.Map().Get(key)
		if err != nil {
			return Null, err
		}
		if !ok {
			return Null, NewError(KeyError, "key %s not found", key)
		}
		return v, nil
	case KindArray, KindVector, KindStr:
		i, err := toIndex(key)
		if err != nil {
			return Null, err
		}
		switch container.kind {
		case KindArray:
			return container.Array().Get(i)
		case KindVector:
			return container.Vector().Get(i)
		}
		return runeAt(container.str, i)
	}
	return Null, typeErr(op, "an indexable value", container)
}

func runeAt(s string, i int) (Value, error) {
	if i >= 0 {
		n := 0
		for _, r := range s {
			if n == i {
				return NewChar(r), nil
			}
			n++
		}
	}
	return Null, indexError(i, utf8.RuneCountInString(s))
}

// ---------------------------------------------------------------------------
// Move
// ---------------------------------------------------------------------------

// move [src] dst
func opMove(c *Context, f *Frame, in Instruction) error {
	v := f.acc
	if len(in.Args) == 2 {
		var err error
		if v, err = c.value(f, in.Args[0]); err != nil {
			return err
		}
	}
	name, err := nameOf(in.Args[len(in.Args)-1])
	if err != nil {
		return err
	}
	c.store(f, name, v)
	return nil
}

// move-error dst / move-result dst
func opMoveRegister(c *Context, f *Frame, in Instruction) error {
	name, err := nameOf(in.Args[0])
	if err != nil {
		return err
	}
	if in.Op == OpMoveError {
		c.store(f, name, f.takeError())
	} else {
		c.store(f, name, f.result)
	}
	return nil
}

// move-field target name [value]
func opMoveField(c *Context, f *Frame, in Instruction) error {
	target, err := c.memberTarget(f, in.Args[0])
	if err != nil {
		return err
	}
	name, err := nameOf(in.Args[1])
	if err != nil {
		return err
	}
	v := f.acc
	if len(in.Args) == 3 {
		if v, err = c.value(f, in.Args[2]); err != nil {
			return err
		}
	}
	if target.IsNull() {
		return NewError(NullError, "move-field %s on null", name)
	}
	fr, err := c.vm.bridge.ResolveField(target, name)
	if err != nil {
		return AsError(err)
	}
	if err := c.vm.bridge.SetField(fr, target, v); err != nil {
		return AsError(err)
	}
	return nil
}

// move-index [var] idx value
func opMoveIndex(c *Context, f *Frame, in Instruction) error {
	subj, has, rest := subject(in)
	container, err := c.subjectValue(f, subj, has)
	if err != nil {
		return err
	}
	kv, err := c.values(f, rest)
	if err != nil {
		return err
	}
	key, v := kv[0], kv[1]
	switch container.kind {
	case KindMap:
		return container.Map().Put(key, v)
	case KindArray, KindVector, KindStr:
		i, err := toIndex(key)
		if err != nil {
			return err
		}
		switch container.kind {
		case KindArray:
			return container.Array().Set(i, v)
		case KindVector:
			return container.Vector().Set(i, v)
		}
		s, err := spliceString(container.str, i, 1, v.String())
		if err != nil {
			return err
		}
		return c.rebind(f, subj, has, NewStr(s))
	}
	return typeErr(in.Op, "an indexable value", container)
}

// move-accessible target [member] [flag]; the flag defaults to the
// accumulator's truthiness.
func opMoveAccessible(c *Context, f *Frame, in Instruction) error {
	target, err := c.memberTarget(f, in.Args[0])
	if err != nil {
		return err
	}
	member := ""
	if len(in.Args) > 1 {
		if member, err = nameOf(in.Args[1]); err != nil {
			return err
		}
	}
	flag := f.acc.Truthy()
	if len(in.Args) == 3 {
		fv, err := c.value(f, in.Args[2])
		if err != nil {
			return err
		}
		flag = fv.Truthy()
	}
	if err := c.vm.bridge.SetAccessible(target, member, flag); err != nil {
		return AsError(err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

// delete [var]; without an operand the accumulator is discarded.
func opDelete(c *Context, f *Frame, in Instruction) error {
	if len(in.Args) == 0 {
		f.drop()
		return nil
	}
	name, err := nameOf(in.Args[0])
	if err != nil {
		return err
	}
	f.scope().Delete(name)
	return nil
}

func opDeleteRegister(c *Context, f *Frame, in Instruction) error {
	if in.Op == OpDeleteError {
		f.err = nil
	} else {
		f.result = Null
	}
	return nil
}

// delete-index [var] idx
func opDeleteIndex(c *Context, f *Frame, in Instruction) error {
	subj, has, rest := subject(in)
	container, err := c.subjectValue(f, subj, has)
	if err != nil {
		return err
	}
	key, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	switch container.kind {
	case KindMap:
		ok, err := container.Map().Delete(key)
		if err != nil {
			return err
		}
		if !ok {
			return NewError(KeyError, "key %s not found", key)
		}
		return nil
	case KindVector:
		i, err := toIndex(key)
		if err != nil {
			return err
		}
		return container.Vector().Delete(i)
	case KindStr:
		i, err := toIndex(key)
		if err != nil {
			return err
		}
		s, err := spliceString(container.str, i, 1, "")
		if err != nil {
			return err
		}
		return c.rebind(f, subj, has, NewStr(s))
	case KindArray:
		return NewError(TypeError, "cannot delete from a fixed-length array")
	}
	return typeErr(in.Op, "a map, vector or string", container)
}

// delete-env clears the frame's own scopes; captured scopes are untouched.
func opDeleteEnv(c *Context, f *Frame, _ Instruction) error {
	for _, s := range f.scopes {
		s.Clear()
	}
	return nil
}
