package bridge

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/vbridge/descriptor"
	"github.com/wippyai/vbridge/resource"
)

// Mode is the ownership mode of a handle.
type Mode uint8

const (
	// OwnedShared handles hold a stake in a Shared cell and lock it for
	// every call.
	OwnedShared Mode = iota
	// BorrowedScoped handles reference a host value directly while their
	// Scope is open.
	BorrowedScoped
	// ChildReference handles hold their parent handle and a projection,
	// re-resolved on every access.
	ChildReference
)

func (m Mode) String() string {
	switch m {
	case OwnedShared:
		return "owned_shared"
	case BorrowedScoped:
		return "borrowed_scoped"
	case ChildReference:
		return "child"
	default:
		return "unknown"
	}
}

// Handle is the host-side state behind one cell of the registry's table.
// Runtimes never see a *Handle; they hold a Ref or the raw cell id.
//
// A handle holds one stake for its cell plus one per child handle created
// from it, so a parent outlives every child view.
type Handle struct {
	reg     *Registry
	table   *descriptor.Table
	shared  *Shared
	scope   *Scope
	value   any
	parent  *Handle
	project descriptor.Projector
	tag     string
	key     string
	size    int64
	refs    atomic.Int32
	mode    Mode
}

// Tag returns the type tag.
func (h *Handle) Tag() string {
	return h.tag
}

// Mode returns the ownership mode.
func (h *Handle) Mode() Mode {
	return h.mode
}

// Parent returns the parent of a child handle, or nil.
func (h *Handle) Parent() *Handle {
	return h.parent
}

// Path returns the property path from the root handle.
func (h *Handle) Path() []string {
	if h.parent == nil {
		return []string{h.tag}
	}
	return append(h.parent.Path(), h.key)
}

// Trace visits the handles h keeps alive. Host memory is never visited.
func (h *Handle) Trace(visit func(*Handle)) {
	if h.parent != nil {
		visit(h.parent)
	}
}

func (h *Handle) retain() {
	h.refs.Add(1)
}

// unref drops a stake. The last stake releases whatever h points at.
func (h *Handle) unref() {
	n := h.refs.Add(-1)
	if n < 0 {
		panic(InvariantViolation("handle released more times than retained"))
	}
	if n > 0 {
		return
	}

	switch h.mode {
	case OwnedShared:
		h.shared.Release()
		h.shared = nil
		if h.size != 0 {
			h.reg.external(-h.size)
		}
	case BorrowedScoped:
		h.scope.untrack(h)
	case ChildReference:
		p := h.parent
		h.parent = nil
		p.unref()
	}
	h.reg.metrics.handleReleased(h.tag, h.mode)
	h.reg.log.Debug("handle released", zap.String("type", h.tag), zap.Stringer("mode", h.mode))
}

// Drop is called by the cell table when the handle's cell is removed.
func (h *Handle) Drop() {
	h.unref()
}

// Ref is the runtime-side carrier of one cell. Release is idempotent, so a
// finalizer racing with explicit disposal releases the cell once.
type Ref struct {
	reg      *Registry
	id       resource.Handle
	released atomic.Bool
}

// ID returns the 32-bit cell id.
func (r *Ref) ID() resource.Handle {
	return r.id
}

// Registry returns the registry the cell belongs to.
func (r *Ref) Registry() *Registry {
	return r.reg
}

// Release releases the cell. It reports whether this call released it.
func (r *Ref) Release() bool {
	if !r.released.CompareAndSwap(false, true) {
		return false
	}
	return r.reg.Release(r.id) == nil
}

// Released reports whether Release has been called.
func (r *Ref) Released() bool {
	return r.released.Load()
}
