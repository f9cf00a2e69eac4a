package bridge

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/vbridge/descriptor"
	"github.com/wippyai/vbridge/errors"
	"github.com/wippyai/vbridge/resource"
)

// InvariantViolation is the panic value for broken ownership invariants,
// such as a stake released twice. It is the only failure the bridge does
// not report as an error.
type InvariantViolation string

func (v InvariantViolation) Error() string {
	return "bridge: invariant violation: " + string(v)
}

// dispatch runs one operation: cancellation check, cell pin, op, then lock
// release and unpin. Lookup and resolve failures in op return before any
// accessor runs.
func (r *Registry) dispatch(ctx context.Context, op string, id resource.Handle, name string,
	fn func(c *call, h *Handle) (any, error)) (res any, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, r.fail(ctx, op, errors.Cancelled(cerr))
	}

	c := r.newCall(ctx)
	h, err := c.pin(id)
	if err != nil {
		c.finish(false)
		return nil, r.fail(ctx, op, err)
	}

	done := false
	defer func() {
		if done {
			c.finish(false)
			return
		}
		rec := recover()
		c.finish(true)
		if _, ok := rec.(InvariantViolation); ok {
			panic(rec)
		}
		r.log.Warn("accessor panicked",
			zap.String("op", op),
			zap.String("type", h.tag),
			zap.String("name", name),
			zap.Any("panic", rec),
		)
		res, err = nil, r.fail(ctx, op, panicError(h, name, rec))
	}()

	res, err = fn(c, h)
	done = true
	if err != nil {
		return nil, r.fail(ctx, op, err)
	}
	return res, nil
}

func (r *Registry) fail(ctx context.Context, op string, err error) error {
	r.metrics.dispatchFailed(ctx, op, err)
	return err
}

// Get reads property name through the handle in cell id. Child results are
// returned as a *Ref to a new child handle, snapshots as a *Ref to a new
// owned root.
func (r *Registry) Get(ctx context.Context, id resource.Handle, name string) (any, error) {
	return r.dispatch(ctx, "get", id, name, func(c *call, h *Handle) (any, error) {
		f, ok := h.table.Lookup(name)
		dyn := h.table.Fallback()
		if !ok && dyn == nil {
			return nil, unknownField(h, name)
		}

		target, err := c.resolve(h)
		if err != nil {
			return nil, err
		}

		var v any
		if ok {
			v, err = f.Get(c, target)
		} else {
			v, err = dyn.Get(c, target, name)
		}
		if err != nil {
			return nil, annotate(err, errors.PhaseExecute, h, name)
		}
		return r.convert(h, name, v)
	})
}

// Set writes property name through the handle in cell id.
func (r *Registry) Set(ctx context.Context, id resource.Handle, name string, value any) error {
	_, err := r.dispatch(ctx, "set", id, name, func(c *call, h *Handle) (any, error) {
		f, ok := h.table.Lookup(name)
		dyn := h.table.Fallback()
		switch {
		case ok && f.Set == nil:
			return nil, readOnly(h, name)
		case !ok && dyn == nil:
			return nil, unknownField(h, name)
		case !ok && dyn.Set == nil:
			return nil, readOnly(h, name)
		}

		target, err := c.resolve(h)
		if err != nil {
			return nil, err
		}

		if ok {
			err = f.Set(c, target, value)
		} else {
			err = dyn.Set(c, target, name, value)
		}
		if err != nil {
			return nil, annotate(err, errors.PhaseExecute, h, name)
		}
		return nil, nil
	})
	return err
}

// Index reads element i, given in the registry's script index base.
func (r *Registry) Index(ctx context.Context, id resource.Handle, i int) (any, error) {
	return r.dispatch(ctx, "index", id, "", func(c *call, h *Handle) (any, error) {
		ix := h.table.Index()
		if ix == nil {
			return nil, notIndexable(h)
		}
		target, err := c.resolve(h)
		if err != nil {
			return nil, err
		}
		j, err := r.bound(c, h, ix, target, i)
		if err != nil {
			return nil, err
		}
		v, err := ix.Get(c, target, j)
		if err != nil {
			return nil, annotate(err, errors.PhaseExecute, h, indexName(i))
		}
		return r.convert(h, indexName(i), v)
	})
}

// SetIndex writes element i, given in the registry's script index base.
func (r *Registry) SetIndex(ctx context.Context, id resource.Handle, i int, value any) error {
	_, err := r.dispatch(ctx, "set_index", id, "", func(c *call, h *Handle) (any, error) {
		ix := h.table.Index()
		if ix == nil {
			return nil, notIndexable(h)
		}
		if ix.Set == nil {
			return nil, readOnly(h, indexName(i))
		}
		target, err := c.resolve(h)
		if err != nil {
			return nil, err
		}
		j, err := r.bound(c, h, ix, target, i)
		if err != nil {
			return nil, err
		}
		if err := ix.Set(c, target, j, value); err != nil {
			return nil, annotate(err, errors.PhaseExecute, h, indexName(i))
		}
		return nil, nil
	})
	return err
}

// Len returns the length of an indexable handle.
func (r *Registry) Len(ctx context.Context, id resource.Handle) (int, error) {
	v, err := r.dispatch(ctx, "len", id, "#", func(c *call, h *Handle) (any, error) {
		ix := h.table.Index()
		if ix == nil {
			return nil, notIndexable(h)
		}
		target, err := c.resolve(h)
		if err != nil {
			return nil, err
		}
		n, err := ix.Len(c, target)
		if err != nil {
			return nil, annotate(err, errors.PhaseExecute, h, "#")
		}
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Invoke calls method name with args. Handle arguments are passed as *Ref
// and resolved by the method within this call's locks.
func (r *Registry) Invoke(ctx context.Context, id resource.Handle, name string, args []any) (any, error) {
	return r.dispatch(ctx, "invoke", id, name, func(c *call, h *Handle) (any, error) {
		m, ok := h.table.LookupMethod(name)
		if !ok {
			return nil, unknownField(h, name)
		}
		target, err := c.resolve(h)
		if err != nil {
			return nil, err
		}
		v, err := m.Call(c, target, args)
		if err != nil {
			return nil, annotate(err, errors.PhaseExecute, h, name)
		}
		return r.convert(h, name, v)
	})
}

// Keys returns the readable property names of the handle: registered
// fields followed by dynamic keys.
func (r *Registry) Keys(ctx context.Context, id resource.Handle) ([]string, error) {
	v, err := r.dispatch(ctx, "keys", id, "", func(c *call, h *Handle) (any, error) {
		var keys []string
		for _, f := range h.table.Fields() {
			keys = append(keys, f.Name)
		}
		dyn := h.table.Fallback()
		if dyn == nil || dyn.Keys == nil {
			return keys, nil
		}
		target, err := c.resolve(h)
		if err != nil {
			return nil, err
		}
		more, err := dyn.Keys(c, target)
		if err != nil {
			return nil, annotate(err, errors.PhaseExecute, h, "")
		}
		return append(keys, more...), nil
	})
	if err != nil {
		return nil, err
	}
	keys, _ := v.([]string)
	return keys, nil
}

// String renders the handle for script-side string conversion.
func (r *Registry) String(ctx context.Context, id resource.Handle) (string, error) {
	v, err := r.dispatch(ctx, "string", id, "", func(c *call, h *Handle) (any, error) {
		fn := h.table.String()
		if fn == nil {
			return h.tag, nil
		}
		target, err := c.resolve(h)
		if err != nil {
			return nil, err
		}
		s, err := fn(target)
		if err != nil {
			return nil, annotate(err, errors.PhaseExecute, h, "")
		}
		return s, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Tag returns the type tag of the handle in cell id.
func (r *Registry) Tag(id resource.Handle) (string, error) {
	h, err := r.Handle(id)
	if err != nil {
		return "", err
	}
	return h.tag, nil
}

// bound converts a script index to a 0-based index and checks it.
func (r *Registry) bound(c *call, h *Handle, ix *descriptor.Indexer, target any, i int) (int, error) {
	n, err := ix.Len(c, target)
	if err != nil {
		return 0, annotate(err, errors.PhaseExecute, h, "#")
	}
	j := i - r.opts.indexBase
	if j < 0 || j >= n {
		e := errors.OutOfBounds(h.tag, i, n)
		e.Path = h.Path()
		return 0, e
	}
	return j, nil
}

// convert maps an accessor result to a script-facing value.
func (r *Registry) convert(h *Handle, name string, v any) (any, error) {
	switch x := v.(type) {
	case descriptor.Child:
		return r.child(h, x)
	case descriptor.Snapshot:
		return r.snapshot(x)
	case *Ref:
		return x, nil
	}
	s, err := descriptor.Scalar(name, v)
	if err != nil {
		return nil, annotate(err, errors.PhaseConvert, h, name)
	}
	return s, nil
}

// child wraps a child view of parent. The child holds a stake in parent.
func (r *Registry) child(parent *Handle, c descriptor.Child) (*Ref, error) {
	table, typeID, err := r.lookupType(c.Tag)
	if err != nil {
		return nil, err
	}
	parent.retain()
	h := &Handle{
		reg:     r,
		table:   table,
		tag:     c.Tag,
		key:     c.Key,
		mode:    ChildReference,
		parent:  parent,
		project: c.Project,
	}
	ref, err := r.insert(typeID, h)
	if err != nil {
		h.parent = nil
		parent.unref()
		return nil, err
	}
	return ref, nil
}

// snapshot wraps an independent copy as a new owned root.
func (r *Registry) snapshot(s descriptor.Snapshot) (*Ref, error) {
	table, typeID, err := r.lookupType(s.Tag)
	if err != nil {
		return nil, err
	}
	return r.wrapShared(typeID, table, s.Tag, NewShared(s.Value))
}

func unknownField(h *Handle, name string) error {
	e := errors.UnknownField(h.tag, name)
	e.Path = h.Path()
	return e
}

func readOnly(h *Handle, name string) error {
	e := errors.ReadOnly(h.tag, name)
	e.Path = h.Path()
	return e
}

func notIndexable(h *Handle) error {
	e := errors.Unsupported(errors.PhaseLookup, h.tag, "value is not indexable")
	e.Path = h.Path()
	return e
}

func indexName(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}
