package luabind

import (
	"runtime"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/errors"
	"github.com/wippyai/vbridge/resource"
)

const typePrefix = "vbridge."

// carrier is the Go value stored in a userdata. When the userdata is
// collected its finalizer releases the cell, unless the stake was borrowed
// or detached.
type carrier struct {
	ref   *bridge.Ref
	tag   string
	owned atomic.Bool
}

func finalize(c *carrier) {
	if c.owned.Load() && c.ref.Release() {
		Logger().Debug("handle finalized", zap.String("type", c.tag), zap.Uint32("id", uint32(c.ref.ID())))
	}
}

// detach hands the stake to the host.
func (c *carrier) detach() {
	if c.owned.CompareAndSwap(true, false) {
		runtime.SetFinalizer(c, nil)
	}
}

func (s *State) newUserData(ref *bridge.Ref, owned bool) (*lua.LUserData, error) {
	tag, err := s.reg.Tag(ref.ID())
	if err != nil {
		return nil, err
	}
	c := &carrier{ref: ref, tag: tag}
	if owned {
		c.owned.Store(true)
		runtime.SetFinalizer(c, finalize)
	}
	ud := s.L.NewUserData()
	ud.Value = c
	ud.Metatable = s.metatable(tag)
	return ud, nil
}

// metatable returns the metatable of tag, creating it on first use. All
// tags share the dispatching metamethods.
func (s *State) metatable(tag string) lua.LValue {
	name := typePrefix + tag
	if mt := s.L.GetTypeMetatable(name); mt != lua.LNil {
		return mt
	}
	mt := s.L.NewTypeMetatable(name)
	s.L.SetField(mt, "__index", s.index)
	s.L.SetField(mt, "__newindex", s.newindex)
	s.L.SetField(mt, "__len", s.length)
	s.L.SetField(mt, "__tostring", s.tostring)
	s.L.SetField(mt, "__name", lua.LString(tag))
	return mt
}

// id returns the cell id of c, raising an expired error once the handle
// has been released.
func (s *State) id(L *lua.LState, c *carrier) resource.Handle {
	if c.ref.Released() {
		s.raise(L, errors.Expired(c.tag, "handle released"))
	}
	return c.ref.ID()
}

func (s *State) check(L *lua.LState, n int) *carrier {
	ud := L.CheckUserData(n)
	c, ok := ud.Value.(*carrier)
	if !ok {
		L.ArgError(n, "bridge handle expected")
	}
	return c
}

// key converts an index key: numbers address the index slot, strings name
// fields and methods.
func (s *State) key(L *lua.LState, lv lua.LValue) (name string, index int, isIndex bool) {
	switch k := lv.(type) {
	case lua.LNumber:
		f := float64(k)
		if f != float64(int(f)) {
			s.raise(L, errors.TypeMismatch(errors.PhaseConvert, "index", "integer", f))
		}
		return "", int(f), true
	case lua.LString:
		return string(k), 0, false
	}
	s.raise(L, errors.TypeMismatch(errors.PhaseConvert, "key", "string or integer", lv.Type().String()))
	return "", 0, false
}

func (s *State) luaIndex(L *lua.LState) int {
	c := s.check(L, 1)
	name, i, isIndex := s.key(L, L.Get(2))
	ctx := s.ctx(L)

	var v any
	var err error
	switch {
	case isIndex:
		v, err = s.reg.Index(ctx, s.id(L, c), i)
	case s.isMethod(c, name):
		L.Push(s.method(name))
		return 1
	default:
		v, err = s.reg.Get(ctx, s.id(L, c), name)
	}
	if err != nil {
		s.raise(L, err)
	}
	lv, err := s.push(v)
	if err != nil {
		s.raise(L, err)
	}
	L.Push(lv)
	return 1
}

func (s *State) luaNewIndex(L *lua.LState) int {
	c := s.check(L, 1)
	name, i, isIndex := s.key(L, L.Get(2))
	field := name
	if isIndex {
		field = "index"
	}
	v, err := s.pull(L.Get(3), field)
	if err != nil {
		s.raise(L, err)
	}
	if isIndex {
		err = s.reg.SetIndex(s.ctx(L), s.id(L, c), i, v)
	} else {
		err = s.reg.Set(s.ctx(L), s.id(L, c), name, v)
	}
	if err != nil {
		s.raise(L, err)
	}
	return 0
}

func (s *State) luaLen(L *lua.LState) int {
	c := s.check(L, 1)
	n, err := s.reg.Len(s.ctx(L), s.id(L, c))
	if err != nil {
		s.raise(L, err)
	}
	L.Push(lua.LNumber(n))
	return 1
}

func (s *State) luaToString(L *lua.LState) int {
	c := s.check(L, 1)
	str, err := s.reg.String(s.ctx(L), s.id(L, c))
	if err != nil {
		s.raise(L, err)
	}
	L.Push(lua.LString(str))
	return 1
}

func (s *State) isMethod(c *carrier, name string) bool {
	t, ok := s.reg.Table(c.tag)
	if !ok {
		return false
	}
	_, ok = t.LookupMethod(name)
	return ok
}

// method returns a function invoking name. It accepts both obj:name(...)
// and obj.name(obj, ...); the receiver is the first argument.
func (s *State) method(name string) *lua.LFunction {
	return s.L.NewFunction(func(L *lua.LState) int {
		c := s.check(L, 1)
		args := make([]any, 0, L.GetTop()-1)
		for i := 2; i <= L.GetTop(); i++ {
			v, err := s.pull(L.Get(i), name)
			if err != nil {
				s.raise(L, err)
			}
			args = append(args, v)
		}
		v, err := s.reg.Invoke(s.ctx(L), s.id(L, c), name, args)
		if err != nil {
			s.raise(L, err)
		}
		lv, err := s.push(v)
		if err != nil {
			s.raise(L, err)
		}
		L.Push(lv)
		return 1
	})
}

// bridge.keys(h) returns the readable names of h as a sequence.
func (s *State) luaKeys(L *lua.LState) int {
	c := s.check(L, 1)
	keys, err := s.reg.Keys(s.ctx(L), s.id(L, c))
	if err != nil {
		s.raise(L, err)
	}
	t := L.CreateTable(len(keys), 0)
	for _, k := range keys {
		t.Append(lua.LString(k))
	}
	L.Push(t)
	return 1
}

// bridge.tag(h) returns the type tag of h.
func (s *State) luaTag(L *lua.LState) int {
	L.Push(lua.LString(s.check(L, 1).tag))
	return 1
}

// bridge.release(h) releases h now instead of at collection. Borrowed
// handles are left to their owner.
func (s *State) luaRelease(L *lua.LState) int {
	c := s.check(L, 1)
	if !c.owned.CompareAndSwap(true, false) {
		L.Push(lua.LFalse)
		return 1
	}
	runtime.SetFinalizer(c, nil)
	L.Push(lua.LBool(c.ref.Release()))
	return 1
}
