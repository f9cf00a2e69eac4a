// Package bridge connects script runtimes to host-owned values.
//
// A Registry is created per runtime instance. Descriptor tables are
// registered under type tags, then host values are wrapped into handles:
//
//	reg := bridge.New(bridge.WithIndexBase(1), bridge.WithLockTimeout(time.Second))
//	reg.RegisterType("record", recordTable)
//
//	ref, err := reg.Wrap("record", rec, bridge.OwnedShared)
//
// Each handle lives in one cell of the registry's resource table. The
// runtime stores the *Ref (or, for WebAssembly, its 32-bit ID) and calls
// Release when its wrapper is finalized or dropped.
//
// # Ownership Modes
//
//	OwnedShared     stake in a Shared cell, locked for each call
//	BorrowedScoped  direct reference, revoked when its Scope closes
//	ChildReference  parent handle plus projection, re-resolved per access
//
// Child handles are created by the dispatcher when a getter returns a
// descriptor.Child. A child holds a stake in its parent, so the record
// outlives every view of it; the parent never tracks its children.
//
// # Dispatch
//
// Get, Set, Index, SetIndex, Len, Invoke, Keys and String all run the same
// pipeline: check cancellation, pin the cell, look up the descriptor,
// resolve the host value (taking locks), run the accessor, convert the
// result, then release locks in reverse order and unpin. A cell released
// during a call (by a finalizer on another goroutine, for instance) is
// dropped when the call unpins it.
//
// Errors are *errors.Error values carrying phase, kind, type tag, field and
// handle path. The only panic is InvariantViolation, raised when a stake is
// released more times than it was taken.
package bridge
