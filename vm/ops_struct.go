package vm

import (
	"strings"
	"unicode/utf8"
)

func init() {
	register(opMapNew, OpMapNew)
	register(opMapAdd, OpMapAdd)
	register(opMapQuery, OpMapIndex, OpMapHasKey, OpMapHasVal, OpMapLocate, OpMapLen)
	register(opMapMove, OpMapMove)
	register(opMapDelete, OpMapDelete)

	register(opStrNew, OpStrNew)
	register(opStrQuery, OpStrInclude, OpStrLocate, OpStrIndex, OpStrStartWith, OpStrEndWith, OpStrLen)
	register(opStrEdit, OpStrCat, OpStrInsert, OpStrDelete, OpStrTrim, OpStrReplace)
	register(opStrMove, OpStrMove)

	register(opVecNew, OpVecNew)
	register(opVecPush, OpVecPush)
	register(opVecQuery, OpVecTop, OpVecPop, OpVecIndex, OpVecInclude, OpVecLocate, OpVecLen)
	register(opVecAdd, OpVecAdd)
	register(opVecMove, OpVecMove)
	register(opVecDelete, OpVecDelete)

	register(opScope, OpScope)
	register(opScopeEnd, OpScopeEnd)
}

// ---------------------------------------------------------------------------
// Map
// ---------------------------------------------------------------------------

func (c *Context) mapSubject(f *Frame, in Instruction) (*Map, bool, []Operand, error) {
	subj, has, rest := subject(in)
	v, err := c.subjectValue(f, subj, has)
	if err != nil {
		return nil, false, nil, err
	}
	if v.kind != KindMap {
		return nil, false, nil, typeErr(in.Op, "a map", v)
	}
	return v.Map(), has, rest, nil
}

// map-new ['dst]
func opMapNew(c *Context, f *Frame, in Instruction) error {
	dst, has, _ := subject(in)
	return c.produce(f, dst, has, NewMapValue(NewMap()))
}

// map-add [map] key value
func opMapAdd(c *Context, f *Frame, in Instruction) error {
	m, _, rest, err := c.mapSubject(f, in)
	if err != nil {
		return err
	}
	kv, err := c.values(f, rest)
	if err != nil {
		return err
	}
	return m.Put(kv[0], kv[1])
}

func opMapQuery(c *Context, f *Frame, in Instruction) error {
	m, has, rest, err := c.mapSubject(f, in)
	if err != nil {
		return err
	}
	if in.Op == OpMapLen {
		answer(f, has, NewInt(int32(m.Len())))
		return nil
	}
	x, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	var r Value
	switch in.Op {
	case OpMapIndex:
		v, ok, err := m.Get(x)
		if err != nil {
			return err
		}
		if !ok {
			return NewError(KeyError, "key %s not found", x)
		}
		r = v
	case OpMapHasKey:
		_, ok, err := m.Get(x)
		if err != nil {
			return err
		}
		r = NewBool(ok)
	case OpMapHasVal:
		_, ok := m.Locate(x)
		r = NewBool(ok)
	case OpMapLocate:
		r, _ = m.Locate(x)
	}
	answer(f, has, r)
	return nil
}

// map-move [map] key dst
func opMapMove(c *Context, f *Frame, in Instruction) error {
	m, _, rest, err := c.mapSubject(f, in)
	if err != nil {
		return err
	}
	key, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	dst, err := nameOf(rest[1])
	if err != nil {
		return err
	}
	v, ok, err := m.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(KeyError, "key %s not found", key)
	}
	c.store(f, dst, v)
	return nil
}

// map-delete [map] key
func opMapDelete(c *Context, f *Frame, in Instruction) error {
	m, _, rest, err := c.mapSubject(f, in)
	if err != nil {
		return err
	}
	key, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	ok, err := m.Delete(key)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(KeyError, "key %s not found", key)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Str
//
// Strings are immutable values; editing instructions bind a new string back
// to the subject variable, or replace the accumulator.
// ---------------------------------------------------------------------------

func (c *Context) strSubject(f *Frame, in Instruction) (string, Operand, bool, []Operand, error) {
	subj, has, rest := subject(in)
	v, err := c.subjectValue(f, subj, has)
	if err != nil {
		return "", subj, false, nil, err
	}
	if v.kind != KindStr {
		return "", subj, false, nil, typeErr(in.Op, "a string", v)
	}
	return v.str, subj, has, rest, nil
}

// str-new ['dst] text
func opStrNew(c *Context, f *Frame, in Instruction) error {
	dst, has, rest := subject(in)
	v, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	return c.produce(f, dst, has, NewStr(v.String()))
}

func opStrQuery(c *Context, f *Frame, in Instruction) error {
	s, _, has, rest, err := c.strSubject(f, in)
	if err != nil {
		return err
	}
	if in.Op == OpStrLen {
		answer(f, has, NewInt(int32(utf8.RuneCountInString(s))))
		return nil
	}
	x, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	var r Value
	switch in.Op {
	case OpStrIndex:
		i, err := toIndex(x)
		if err != nil {
			return err
		}
		if r, err = runeAt(s, i); err != nil {
			return err
		}
	case OpStrInclude:
		r = NewBool(strings.Contains(s, x.String()))
	case OpStrLocate:
		r = NewInt(int32(runeIndex(s, x.String())))
	case OpStrStartWith:
		r = NewBool(strings.HasPrefix(s, x.String()))
	case OpStrEndWith:
		r = NewBool(strings.HasSuffix(s, x.String()))
	}
	answer(f, has, r)
	return nil
}

// runeIndex is strings.Index counted in characters.
func runeIndex(s, sub string) int {
	i := strings.Index(s, sub)
	if i < 0 {
		return -1
	}
	return utf8.RuneCountInString(s[:i])
}

func opStrEdit(c *Context, f *Frame, in Instruction) error {
	s, subj, has, rest, err := c.strSubject(f, in)
	if err != nil {
		return err
	}
	args, err := c.values(f, rest)
	if err != nil {
		return err
	}
	var out string
	switch in.Op {
	case OpStrCat:
		var b strings.Builder
		b.WriteString(s)
		for _, a := range args {
			b.WriteString(a.String())
		}
		out = b.String()
	case OpStrInsert, OpStrDelete:
		i, err := toIndex(args[0])
		if err != nil {
			return err
		}
		if in.Op == OpStrInsert {
			out, err = spliceString(s, i, 0, args[1].String())
		} else {
			out, err = spliceString(s, i, 1, "")
		}
		if err != nil {
			return err
		}
	case OpStrTrim:
		out = strings.TrimSpace(s)
	case OpStrReplace:
		out = strings.ReplaceAll(s, args[0].String(), args[1].String())
	}
	return c.rebind(f, subj, has, NewStr(out))
}

// str-move [str] idx dst
func opStrMove(c *Context, f *Frame, in Instruction) error {
	s, _, _, rest, err := c.strSubject(f, in)
	if err != nil {
		return err
	}
	x, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	i, err := toIndex(x)
	if err != nil {
		return err
	}
	dst, err := nameOf(rest[1])
	if err != nil {
		return err
	}
	r, err := runeAt(s, i)
	if err != nil {
		return err
	}
	c.store(f, dst, r)
	return nil
}

// spliceString replaces n characters at i with ins. Inserting (n == 0) may
// happen at the end of the string.
func spliceString(s string, i, n int, ins string) (string, error) {
	r := []rune(s)
	if i < 0 || n > len(r) || i > len(r)-n {
		return "", indexError(i, len(r))
	}
	return string(r[:i]) + ins + string(r[i+n:]), nil
}

// ---------------------------------------------------------------------------
// Vec
// ---------------------------------------------------------------------------

func (c *Context) vecSubject(f *Frame, in Instruction) (*Vector, bool, []Operand, error) {
	subj, has, rest := subject(in)
	v, err := c.subjectValue(f, subj, has)
	if err != nil {
		return nil, false, nil, err
	}
	if v.kind != KindVector {
		return nil, false, nil, typeErr(in.Op, "a vector", v)
	}
	return v.Vector(), has, rest, nil
}

// vec-new ['dst] items...
func opVecNew(c *Context, f *Frame, in Instruction) error {
	dst, has, rest := subject(in)
	items, err := c.values(f, rest)
	if err != nil {
		return err
	}
	return c.produce(f, dst, has, NewVectorValue(NewVector(items...)))
}

// vec-push ['vec] values...
func opVecPush(c *Context, f *Frame, in Instruction) error {
	v, _, rest, err := c.vecSubject(f, in)
	if err != nil {
		return err
	}
	items, err := c.values(f, rest)
	if err != nil {
		return err
	}
	v.Push(items...)
	return nil
}

func opVecQuery(c *Context, f *Frame, in Instruction) error {
	v, has, rest, err := c.vecSubject(f, in)
	if err != nil {
		return err
	}
	var r Value
	switch in.Op {
	case OpVecTop:
		if r, err = v.Top(); err != nil {
			return err
		}
	case OpVecPop:
		if r, err = v.Pop(); err != nil {
			return err
		}
	case OpVecLen:
		r = NewInt(int32(v.Len()))
	default:
		x, err := c.value(f, rest[0])
		if err != nil {
			return err
		}
		switch in.Op {
		case OpVecIndex:
			i, err := toIndex(x)
			if err != nil {
				return err
			}
			if r, err = v.Get(i); err != nil {
				return err
			}
		case OpVecInclude:
			r = NewBool(v.IndexOf(x) >= 0)
		case OpVecLocate:
			r = NewInt(int32(v.IndexOf(x)))
		}
	}
	answer(f, has, r)
	return nil
}

// vec-add [vec] idx value inserts before idx; idx may equal the length.
func opVecAdd(c *Context, f *Frame, in Instruction) error {
	v, _, rest, err := c.vecSubject(f, in)
	if err != nil {
		return err
	}
	args, err := c.values(f, rest)
	if err != nil {
		return err
	}
	i, err := toIndex(args[0])
	if err != nil {
		return err
	}
	return v.Insert(i, args[1])
}

// vec-move [vec] idx dst
func opVecMove(c *Context, f *Frame, in Instruction) error {
	v, _, rest, err := c.vecSubject(f, in)
	if err != nil {
		return err
	}
	x, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	i, err := toIndex(x)
	if err != nil {
		return err
	}
	dst, err := nameOf(rest[1])
	if err != nil {
		return err
	}
	item, err := v.Get(i)
	if err != nil {
		return err
	}
	c.store(f, dst, item)
	return nil
}

// vec-delete [vec] idx
func opVecDelete(c *Context, f *Frame, in Instruction) error {
	v, _, rest, err := c.vecSubject(f, in)
	if err != nil {
		return err
	}
	x, err := c.value(f, rest[0])
	if err != nil {
		return err
	}
	i, err := toIndex(x)
	if err != nil {
		return err
	}
	return v.Delete(i)
}

// ---------------------------------------------------------------------------
// Scope markers
// ---------------------------------------------------------------------------

func opScope(c *Context, f *Frame, _ Instruction) error {
	f.scopes = append(f.scopes, NewScope(f.scope()))
	return nil
}

func opScopeEnd(c *Context, f *Frame, _ Instruction) error {
	if len(f.scopes) == 1 {
		return faultf("scope stack underflow")
	}
	f.scopes[len(f.scopes)-1] = nil
	f.scopes = f.scopes[:len(f.scopes)-1]
	return nil
}
