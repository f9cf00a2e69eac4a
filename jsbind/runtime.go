package jsbind

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/errors"
)

// IndexBase is the script index base of JavaScript.
const IndexBase = 0

// Runtime is a goja VM bound to one registry. A Runtime is not safe for
// concurrent use.
type Runtime struct {
	vm  *goja.Runtime
	reg *bridge.Registry
	log *zap.Logger
	ctx context.Context
}

// New creates a VM with a "bridge" global object of handle helpers.
func New(reg *bridge.Registry) (*Runtime, error) {
	if reg.IndexBase() != IndexBase {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("javascript needs index base %d, registry uses %d", IndexBase, reg.IndexBase()).Build()
	}
	r := &Runtime{
		vm:  goja.New(),
		reg: reg,
		log: Logger(),
		ctx: context.Background(),
	}

	helpers := r.vm.NewObject()
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"keys":    r.jsKeys,
		"tag":     r.jsTag,
		"release": r.jsRelease,
	} {
		if err := helpers.Set(name, fn); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindRegistration, err, "installing bridge."+name)
		}
	}
	if err := r.vm.Set("bridge", helpers); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindRegistration, err, "installing bridge")
	}
	return r, nil
}

// VM returns the underlying goja runtime.
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// Registry returns the registry the runtime dispatches to.
func (r *Runtime) Registry() *bridge.Registry {
	return r.reg
}

// Run binds ref to the global name and evaluates script. The runtime
// borrows ref; the caller keeps its stake. A handle result is detached and
// owned by the caller.
func (r *Runtime) Run(ctx context.Context, name string, ref *bridge.Ref, script string) (any, error) {
	o, err := r.newObject(ref, false)
	if err != nil {
		return nil, err
	}
	if err := r.vm.Set(name, r.vm.NewDynamicObject(o)); err != nil {
		return nil, errors.Wrap(errors.PhaseConvert, errors.KindInvalidInput, err, "binding "+name)
	}
	defer r.vm.Set(name, goja.Undefined())
	return r.Eval(ctx, script)
}

// Eval evaluates script and returns its completion value.
func (r *Runtime) Eval(ctx context.Context, script string) (result any, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, errors.Cancelled(cerr)
	}

	r.ctx = ctx
	stop := context.AfterFunc(ctx, func() { r.vm.Interrupt(ctx.Err()) })
	defer func() {
		stop()
		r.vm.ClearInterrupt()
		r.ctx = context.Background()
	}()

	v, err := r.vm.RunString(script)
	if err != nil {
		return nil, r.scriptError(ctx, err)
	}
	return r.result(v)
}

func (r *Runtime) result(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	switch x := v.Export().(type) {
	case *object:
		x.detach()
		return x.ref, nil
	case int64, float64, string, bool:
		return x, nil
	}
	return v.String(), nil
}

// scriptError maps a VM failure to the host error it carried, if any.
func (r *Runtime) scriptError(ctx context.Context, err error) error {
	switch x := err.(type) {
	case *goja.Exception:
		if e, ok := errors.As(x); ok {
			return e
		}
		if obj, ok := x.Value().(*goja.Object); ok {
			if v := obj.Get("value"); v != nil {
				if e, ok := v.Export().(*errors.Error); ok {
					return e
				}
			}
		}
	case *goja.InterruptedError:
		if cerr := ctx.Err(); cerr != nil {
			return errors.Cancelled(cerr)
		}
	}
	r.log.Debug("script failed", zap.Error(err))
	return errors.Wrap(errors.PhaseScript, errors.KindScript, err, "javascript error")
}

// throw raises err as a catchable GoError carrying kind, phase, type and
// field properties. It does not return.
func (r *Runtime) throw(err error) {
	e, ok := errors.As(err)
	if !ok {
		e = errors.Wrap(errors.PhaseExecute, errors.KindScript, err, err.Error())
	}
	obj := r.vm.NewGoError(e)
	for k, v := range map[string]string{
		"kind":  string(e.Kind),
		"phase": string(e.Phase),
		"type":  e.Type,
		"field": e.Field,
	} {
		_ = obj.Set(k, v)
	}
	panic(obj)
}

// push converts a dispatcher result to a JS value. Handle results become
// objects owned by the runtime.
func (r *Runtime) push(v any) goja.Value {
	switch x := v.(type) {
	case nil:
		return goja.Null()
	case *bridge.Ref:
		o, err := r.newObject(x, true)
		if err != nil {
			r.throw(err)
		}
		return r.vm.NewDynamicObject(o)
	case int64, float64, string, bool:
		return r.vm.ToValue(x)
	}
	r.throw(errors.TypeMismatch(errors.PhaseConvert, "", "scalar or handle", v))
	return nil
}

// pull converts a JS value for the dispatcher.
func (r *Runtime) pull(v goja.Value, field string) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	switch x := v.Export().(type) {
	case *object:
		return x.ref, nil
	case int64, float64, string, bool:
		return x, nil
	default:
		return nil, errors.TypeMismatch(errors.PhaseConvert, field, "scalar or handle", fmt.Sprintf("%T", x))
	}
}

func (r *Runtime) handleArg(call goja.FunctionCall) *object {
	if o, ok := call.Argument(0).Export().(*object); ok {
		return o
	}
	panic(r.vm.NewTypeError("bridge handle expected"))
}

// bridge.keys(h) returns the readable names of h.
func (r *Runtime) jsKeys(call goja.FunctionCall) goja.Value {
	o := r.handleArg(call)
	keys, err := r.reg.Keys(r.ctx, o.id())
	if err != nil {
		r.throw(err)
	}
	items := make([]any, len(keys))
	for i, k := range keys {
		items[i] = k
	}
	return r.vm.NewArray(items...)
}

// bridge.tag(h) returns the type tag of h.
func (r *Runtime) jsTag(call goja.FunctionCall) goja.Value {
	return r.vm.ToValue(r.handleArg(call).tag)
}

// bridge.release(h) releases h now instead of at collection.
func (r *Runtime) jsRelease(call goja.FunctionCall) goja.Value {
	return r.vm.ToValue(r.handleArg(call).release())
}
