package jsbind

import (
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/vbridge/bridge"
	"github.com/wippyai/vbridge/descriptor"
	"github.com/wippyai/vbridge/errors"
	"github.com/wippyai/vbridge/resource"
)

// object is the goja.DynamicObject behind every handle. Property names map
// to fields, methods and dynamic keys; canonical integer names and length
// map to the index slot of indexable types.
type object struct {
	rt    *Runtime
	table *descriptor.Table
	ref   *bridge.Ref
	tag   string
	owned atomic.Bool
}

var _ goja.DynamicObject = (*object)(nil)

func (r *Runtime) newObject(ref *bridge.Ref, owned bool) (*object, error) {
	tag, err := r.reg.Tag(ref.ID())
	if err != nil {
		return nil, err
	}
	table, _ := r.reg.Table(tag)
	o := &object{rt: r, table: table, ref: ref, tag: tag}
	if owned {
		o.owned.Store(true)
		runtime.SetFinalizer(o, finalize)
	}
	return o, nil
}

func finalize(o *object) {
	if o.owned.Load() && o.ref.Release() {
		Logger().Debug("handle finalized", zap.String("type", o.tag), zap.Uint32("id", uint32(o.ref.ID())))
	}
}

func (o *object) detach() {
	if o.owned.CompareAndSwap(true, false) {
		runtime.SetFinalizer(o, nil)
	}
}

func (o *object) release() bool {
	if !o.owned.CompareAndSwap(true, false) {
		return false
	}
	runtime.SetFinalizer(o, nil)
	return o.ref.Release()
}

// id returns the cell id of o, throwing an expired error once the handle
// has been released.
func (o *object) id() resource.Handle {
	if o.ref.Released() {
		o.rt.throw(errors.Expired(o.tag, "handle released"))
	}
	return o.ref.ID()
}

// index parses key as a canonical array index of an indexable type.
func (o *object) index(key string) (int, bool) {
	if o.table == nil || o.table.Index() == nil {
		return 0, false
	}
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || strconv.Itoa(i) != key {
		return 0, false
	}
	return i, true
}

func (o *object) isField(key string) bool {
	if o.table == nil {
		return false
	}
	_, ok := o.table.Lookup(key)
	return ok
}

func (o *object) Get(key string) goja.Value {
	r := o.rt
	if i, ok := o.index(key); ok {
		v, err := r.reg.Index(r.ctx, o.id(), i)
		if err != nil {
			r.throw(err)
		}
		return r.push(v)
	}
	if o.table != nil {
		if _, ok := o.table.LookupMethod(key); ok {
			return r.vm.ToValue(o.method(key))
		}
	}
	if !o.isField(key) {
		switch key {
		case "toString":
			return r.vm.ToValue(o.toString)
		case "length":
			if o.table != nil && o.table.Index() != nil {
				n, err := r.reg.Len(r.ctx, o.id())
				if err != nil {
					r.throw(err)
				}
				return r.vm.ToValue(n)
			}
		case "valueOf", "toJSON", "constructor", "then":
			return goja.Undefined()
		}
	}
	v, err := r.reg.Get(r.ctx, o.id(), key)
	if err != nil {
		r.throw(err)
	}
	return r.push(v)
}

func (o *object) Set(key string, val goja.Value) bool {
	r := o.rt
	i, isIndex := o.index(key)
	field := key
	if isIndex {
		field = "index"
	}
	v, err := r.pull(val, field)
	if err != nil {
		r.throw(err)
	}
	if isIndex {
		err = r.reg.SetIndex(r.ctx, o.id(), i, v)
	} else {
		err = r.reg.Set(r.ctx, o.id(), key, v)
	}
	if err != nil {
		r.throw(err)
	}
	return true
}

func (o *object) Has(key string) bool {
	if i, ok := o.index(key); ok {
		n, err := o.rt.reg.Len(o.rt.ctx, o.id())
		return err == nil && i < n
	}
	if o.table == nil {
		return false
	}
	if _, ok := o.table.Lookup(key); ok {
		return true
	}
	if _, ok := o.table.LookupMethod(key); ok {
		return true
	}
	if o.table.Fallback() == nil {
		return false
	}
	v, err := o.rt.reg.Get(o.rt.ctx, o.id(), key)
	return err == nil && v != nil
}

// Delete removes a dynamic key by writing nil. Fields cannot be deleted.
func (o *object) Delete(key string) bool {
	if o.table == nil || o.table.Fallback() == nil {
		return false
	}
	if o.isField(key) {
		return false
	}
	return o.rt.reg.Set(o.rt.ctx, o.id(), key, nil) == nil
}

func (o *object) Keys() []string {
	keys, err := o.rt.reg.Keys(o.rt.ctx, o.id())
	if err != nil {
		return nil
	}
	if o.table != nil && o.table.Index() != nil {
		n, err := o.rt.reg.Len(o.rt.ctx, o.id())
		if err == nil {
			idx := make([]string, 0, n+len(keys))
			for i := 0; i < n; i++ {
				idx = append(idx, strconv.Itoa(i))
			}
			keys = append(idx, keys...)
		}
	}
	return keys
}

func (o *object) method(name string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		r := o.rt
		args := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			v, err := r.pull(a, name)
			if err != nil {
				r.throw(err)
			}
			args = append(args, v)
		}
		v, err := r.reg.Invoke(r.ctx, o.id(), name, args)
		if err != nil {
			r.throw(err)
		}
		return r.push(v)
	}
}

func (o *object) toString(goja.FunctionCall) goja.Value {
	s, err := o.rt.reg.String(o.rt.ctx, o.id())
	if err != nil {
		o.rt.throw(err)
	}
	return o.rt.vm.ToValue(s)
}
