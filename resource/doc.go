// Package resource provides the cell table behind bridge handles.
//
// A scripting runtime never stores a Go pointer to a host value. It stores a
// 32-bit Handle: an index into a table of live cells plus a generation
// counter. Use after free therefore becomes a stale handle, detected on
// lookup, instead of memory corruption.
//
// # Cell Lifecycle
//
//	Insert - allocate a cell, get a handle
//	Borrow - pin a cell for the duration of one call
//	Remove - drop a cell; deferred while the cell is pinned
//
// # Handle Table
//
// The UnifiedTable maps handles to Go values:
//
//	table := resource.NewTable()
//
//	// Insert a value, get a handle
//	handle := table.Insert(typeID, myValue)
//
//	// Retrieve value by handle
//	value, ok := table.Get(handle)
//
//	// Remove and get value
//	value, ok := table.Remove(handle)
//
// # Stale Handles
//
// Freed slots are reused with a bumped generation:
//
//	h1 := table.Insert(1, a)
//	table.Remove(h1)
//	h2 := table.Insert(1, b) // same slot, new generation
//	_, err := table.Lookup(h1) // ErrStaleHandle
//
// The generation is 8 bits wide. A slot freed at its last generation is
// retired instead of returning to the free list, so a stale handle never
// aliases a later cell; the table grows by one slot per 256 reuses.
//
// # Deferred Removal
//
// A finalizer may run on another goroutine while a call is using the cell.
// Remove on a borrowed cell marks it and returns false; the Return call
// that releases the last borrow completes the removal:
//
//	table.Borrow(h)
//	table.Remove(h)       // (nil, false), EventDropDeferred
//	v, ok := table.Return(h) // (value, true), EventDropped
//
// # Observers
//
// Register observers to track lifecycle events:
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("cell %d %s", e.Handle, e.Type)
//	}))
//
// # Memory Management
//
// Cells are not garbage collected by the table. The owner must call Remove
// when the runtime wrapper holding the handle is finalized. Values
// implementing Dropper are notified once on removal or Close.
package resource
