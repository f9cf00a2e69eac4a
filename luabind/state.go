package luabind

import (
	"context"
	"io"
	"math"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/errors"
)

// IndexBase is the script index base of Lua. Registries used with a State
// must be created with bridge.WithIndexBase(IndexBase).
const IndexBase = 1

// State is a Lua interpreter bound to one registry. A State is not safe for
// concurrent use; host threads reach shared records through bridge.Shared.
type State struct {
	L   *lua.LState
	reg *bridge.Registry
	log *zap.Logger

	index    *lua.LFunction
	newindex *lua.LFunction
	length   *lua.LFunction
	tostring *lua.LFunction
}

// New creates a Lua state with the standard libraries and a "bridge" global
// table of handle helpers.
func New(reg *bridge.Registry) (*State, error) {
	if reg.IndexBase() != IndexBase {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("lua needs index base %d, registry uses %d", IndexBase, reg.IndexBase()).Build()
	}

	s := &State{
		L:   lua.NewState(),
		reg: reg,
		log: Logger(),
	}
	s.index = s.L.NewFunction(s.luaIndex)
	s.newindex = s.L.NewFunction(s.luaNewIndex)
	s.length = s.L.NewFunction(s.luaLen)
	s.tostring = s.L.NewFunction(s.luaToString)

	s.registerErrorType()
	s.L.SetGlobal("bridge", s.L.SetFuncs(s.L.NewTable(), map[string]lua.LGFunction{
		"keys":    s.luaKeys,
		"tag":     s.luaTag,
		"release": s.luaRelease,
	}))
	return s, nil
}

// Close closes the interpreter. Handles it still holds are released by
// their finalizers once collected.
func (s *State) Close() {
	s.L.Close()
}

// Registry returns the registry the state dispatches to.
func (s *State) Registry() *bridge.Registry {
	return s.reg
}

// Run binds ref to the global name and runs script. The state borrows ref:
// the caller keeps its stake and releases it. Handle results are detached
// from the state and owned by the caller.
func (s *State) Run(ctx context.Context, name string, ref *bridge.Ref, script string) ([]any, error) {
	ud, err := s.newUserData(ref, false)
	if err != nil {
		return nil, err
	}
	s.L.SetGlobal(name, ud)
	defer s.L.SetGlobal(name, lua.LNil)
	return s.Eval(ctx, script)
}

// Eval runs script and returns its results.
func (s *State) Eval(ctx context.Context, script string) ([]any, error) {
	return s.exec(ctx, strings.NewReader(script), "script")
}

// Exec runs a script read from r.
func (s *State) Exec(ctx context.Context, r io.Reader, chunk string) ([]any, error) {
	return s.exec(ctx, r, chunk)
}

func (s *State) exec(ctx context.Context, r io.Reader, chunk string) ([]any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Cancelled(err)
	}

	fn, err := s.L.Load(r, chunk)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseScript, errors.KindScript, err, "compiling "+chunk)
	}

	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	top := s.L.GetTop()
	s.L.Push(fn)
	if err := s.L.PCall(0, lua.MultRet, nil); err != nil {
		s.L.SetTop(top)
		return nil, s.scriptError(ctx, err)
	}

	n := s.L.GetTop() - top
	out := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		v, err := s.result(s.L.Get(top + i))
		if err != nil {
			s.L.SetTop(top)
			return nil, err
		}
		out = append(out, v)
	}
	s.L.SetTop(top)
	return out, nil
}

// result converts a returned Lua value for the host.
func (s *State) result(lv lua.LValue) (any, error) {
	if ud, ok := lv.(*lua.LUserData); ok {
		if c, ok := ud.Value.(*carrier); ok {
			c.detach()
			return c.ref, nil
		}
	}
	if lv.Type() == lua.LTTable || lv.Type() == lua.LTFunction {
		return lua.LVAsString(s.L.ToStringMeta(lv)), nil
	}
	return s.pull(lv, "result")
}

// scriptError maps a failed protected call back to the host error it
// carried, if any.
func (s *State) scriptError(ctx context.Context, err error) error {
	if apiErr, ok := err.(*lua.ApiError); ok {
		if ud, ok := apiErr.Object.(*lua.LUserData); ok {
			if le, ok := ud.Value.(*luaError); ok {
				return le.err
			}
		}
	}
	if cerr := ctx.Err(); cerr != nil {
		return errors.Cancelled(cerr)
	}
	return errors.Wrap(errors.PhaseScript, errors.KindScript, err, "lua error")
}

func (s *State) ctx(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// push converts a dispatcher result to a Lua value. Handle results become
// userdata owned by the state.
func (s *State) push(v any) (lua.LValue, error) {
	switch x := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(x), nil
	case int64:
		return lua.LNumber(x), nil
	case int:
		return lua.LNumber(x), nil
	case float64:
		return lua.LNumber(x), nil
	case string:
		return lua.LString(x), nil
	case *bridge.Ref:
		return s.newUserData(x, true)
	}
	return nil, errors.TypeMismatch(errors.PhaseConvert, "", "scalar or handle", v)
}

// pull converts a Lua argument for the dispatcher. Integral numbers become
// int64.
func (s *State) pull(lv lua.LValue, field string) (any, error) {
	switch x := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63 {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(x), nil
	case *lua.LUserData:
		if c, ok := x.Value.(*carrier); ok {
			return c.ref, nil
		}
	}
	return nil, errors.TypeMismatch(errors.PhaseConvert, field, "scalar or handle", lv.Type().String())
}
