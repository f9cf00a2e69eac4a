package bridge

import (
	"context"
	"fmt"

	"github.com/wippyai/vbridge/descriptor"
	"github.com/wippyai/vbridge/errors"
	"github.com/wippyai/vbridge/resource"
)

// call is the state of one dispatched operation. Locks taken while
// resolving are held until the call finishes, then released in reverse
// order. A cell already locked by this call is not locked again, so an
// accessor that resolves a second handle onto the same record reuses the
// held lock.
type call struct {
	ctx     context.Context
	reg     *Registry
	held    map[any]struct{}
	release []func()
	pins    []resource.Handle
	shared  []*Shared
}

var _ descriptor.Context = (*call)(nil)

func (r *Registry) newCall(ctx context.Context) *call {
	return &call{ctx: ctx, reg: r}
}

func (c *call) Context() context.Context {
	return c.ctx
}

// pin keeps id's cell alive until the call finishes.
func (c *call) pin(id resource.Handle) (*Handle, error) {
	h, err := c.reg.Handle(id)
	if err != nil {
		return nil, err
	}
	if !c.reg.cells.Table().Borrow(id) {
		return nil, errors.New(errors.PhaseResolve, errors.KindExpired).
			Type(h.tag).Detail("cell %d released", uint32(id)).Build()
	}
	c.pins = append(c.pins, id)
	return h, nil
}

// Resolve returns the host value behind a handle argument. It accepts a
// *Ref or a raw cell id.
func (c *call) Resolve(arg any) (any, string, error) {
	var id resource.Handle
	switch v := arg.(type) {
	case *Ref:
		if v.reg != c.reg {
			return nil, "", errors.New(errors.PhaseResolve, errors.KindInvalidInput).
				Detail("handle belongs to another registry").Build()
		}
		id = v.id
	case resource.Handle:
		id = v
	default:
		return nil, "", errors.TypeMismatch(errors.PhaseConvert, "", "handle", arg)
	}

	h, err := c.pin(id)
	if err != nil {
		return nil, "", err
	}
	target, err := c.resolve(h)
	if err != nil {
		return nil, h.tag, err
	}
	return target, h.tag, nil
}

// resolve returns the live host reference behind h.
func (c *call) resolve(h *Handle) (any, error) {
	switch h.mode {
	case OwnedShared:
		s := h.shared
		if s == nil {
			return nil, errors.Expired(h.tag, "handle released")
		}
		if !c.holds(s) {
			unlock, err := s.lock(c.ctx, h.tag, c.reg.opts.lockTimeout)
			if err != nil {
				return nil, err
			}
			c.hold(s, unlock)
			c.shared = append(c.shared, s)
		}
		return s.value, nil

	case BorrowedScoped:
		sc := h.scope
		if !c.holds(sc) {
			leave, err := sc.enter(h.tag)
			if err != nil {
				return nil, err
			}
			c.hold(sc, leave)
		}
		if h.value == nil {
			return nil, errors.Expired(h.tag, "scope closed")
		}
		return h.value, nil

	case ChildReference:
		p := h.parent
		if p == nil {
			return nil, errors.Expired(h.tag, "parent released")
		}
		target, err := c.resolve(p)
		if err != nil {
			return nil, err
		}
		if h.project == nil {
			return target, nil
		}
		child, err := h.project(target)
		if err != nil {
			return nil, annotate(err, errors.PhaseResolve, h, h.key)
		}
		return child, nil
	}
	return nil, errors.Unsupported(errors.PhaseResolve, h.tag, "unknown ownership mode")
}

func (c *call) holds(key any) bool {
	_, ok := c.held[key]
	return ok
}

func (c *call) hold(key any, release func()) {
	if c.held == nil {
		c.held = make(map[any]struct{})
	}
	c.held[key] = struct{}{}
	c.release = append(c.release, release)
}

// finish releases every lock in reverse order and unpins the cells. If the
// call is unwinding from a panic, shared cells it locked are poisoned first.
func (c *call) finish(panicked bool) {
	if panicked {
		for _, s := range c.shared {
			s.poisoned.Store(true)
		}
	}
	for i := len(c.release) - 1; i >= 0; i-- {
		c.release[i]()
	}
	c.release = nil
	c.held = nil
	table := c.reg.cells.Table()
	for i := len(c.pins) - 1; i >= 0; i-- {
		table.Return(c.pins[i])
	}
	c.pins = nil
}

// annotate fills in the handle context of an accessor error. Errors that
// are not *errors.Error are wrapped in the given phase.
func annotate(err error, phase errors.Phase, h *Handle, name string) error {
	e, ok := errors.As(err)
	if !ok {
		return errors.New(phase, errors.KindInvalidInput).
			Type(h.tag).Field(name).Path(h.Path()...).
			Detail("%v", err).Cause(err).Build()
	}
	if e.Type == "" {
		e.Type = h.tag
	}
	if e.Field == "" {
		e.Field = name
	}
	if e.Path == nil {
		e.Path = h.Path()
	}
	return e
}

func panicError(h *Handle, name string, r any) error {
	return errors.New(errors.PhaseExecute, errors.KindLockFailed).
		Type(h.tag).Field(name).Path(h.Path()...).
		Detail("accessor panicked: %v", r).Cause(fmt.Errorf("%v", r)).Build()
}
