package luabind

import (
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/vbridge/errors"
)

const errorType = typePrefix + "error"

// luaError is the userdata raised for host errors. Scripts read kind,
// phase, type, field, path and message from it; tostring gives the
// message.
type luaError struct {
	err *errors.Error
}

func (s *State) registerErrorType() {
	mt := s.L.NewTypeMetatable(errorType)
	s.L.SetField(mt, "__index", s.L.NewFunction(func(L *lua.LState) int {
		e := checkError(L)
		switch L.CheckString(2) {
		case "kind":
			L.Push(lua.LString(e.Kind))
		case "phase":
			L.Push(lua.LString(e.Phase))
		case "type":
			L.Push(lua.LString(e.Type))
		case "field":
			L.Push(lua.LString(e.Field))
		case "path":
			L.Push(lua.LString(strings.Join(e.Path, ".")))
		case "message":
			L.Push(lua.LString(e.Error()))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}))
	s.L.SetField(mt, "__tostring", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(checkError(L).Error()))
		return 1
	}))
}

func checkError(L *lua.LState) *errors.Error {
	le, ok := L.CheckUserData(1).Value.(*luaError)
	if !ok {
		L.ArgError(1, "bridge error expected")
	}
	return le.err
}

// raise throws err as a catchable Lua error value. It does not return.
func (s *State) raise(L *lua.LState, err error) {
	e, ok := errors.As(err)
	if !ok {
		e = errors.Wrap(errors.PhaseExecute, errors.KindScript, err, err.Error())
	}
	ud := L.NewUserData()
	ud.Value = &luaError{err: e}
	ud.Metatable = L.GetTypeMetatable(errorType)
	L.Error(ud, 1)
}
