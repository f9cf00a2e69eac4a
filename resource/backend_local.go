package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed            = errors.New("resource backend closed")
	ErrOutstandingBorrow = errors.New("cannot drop cell with outstanding borrows")
	ErrInvalidHandle     = errors.New("invalid cell handle")
	ErrStaleHandle       = errors.New("stale cell handle")
	ErrTableFull         = errors.New("cell table full")
)

// LocalBackend is an in-memory cell backend with borrow tracking and
// generation-tagged handles. Reusing a slot bumps its generation, so a
// handle that outlived its cell is reported as stale instead of aliasing
// the slot's next occupant. A slot whose generation is exhausted is retired
// rather than reused.
type LocalBackend struct {
	entries  []entry
	freeList []int
	mu       sync.RWMutex
	live     int
	closed   bool
}

type entry struct {
	value       any
	typeID      uint32
	borrowCount uint32
	gen         uint8
	valid       bool
	dropPending bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 64),
		freeList: make([]int, 0, 16),
	}
}

// Create stores a value and returns a handle.
func (b *LocalBackend) Create(typeID uint32, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	if len(b.freeList) > 0 {
		slot := b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		e := &b.entries[slot]
		e.gen++
		e.typeID = typeID
		e.value = value
		e.valid = true
		b.live++
		return makeHandle(slot, e.gen), nil
	}

	if len(b.entries) >= maxSlots {
		return 0, ErrTableFull
	}

	b.entries = append(b.entries, entry{
		typeID: typeID,
		value:  value,
		valid:  true,
	})
	b.live++
	return makeHandle(len(b.entries)-1, 0), nil
}

// entryLocked returns the live entry for handle. Caller holds b.mu.
func (b *LocalBackend) entryLocked(handle Handle) (*entry, error) {
	slot := handle.slot()
	if slot < 0 || slot >= len(b.entries) {
		return nil, ErrInvalidHandle
	}
	e := &b.entries[slot]
	if e.gen != handle.generation() {
		return nil, ErrStaleHandle
	}
	if !e.valid || e.dropPending {
		return nil, ErrStaleHandle
	}
	return e, nil
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(handle Handle) (any, bool) {
	v, err := b.Lookup(handle)
	return v, err == nil
}

// Lookup retrieves a value by handle, reporting why it is unavailable.
func (b *LocalBackend) Lookup(handle Handle) (any, error) {
	if handle == 0 {
		return nil, ErrInvalidHandle
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}
	e, err := b.entryLocked(handle)
	if err != nil {
		return nil, err
	}
	return e.value, nil
}

// Drop removes a cell and returns (value, true) if the destructor should run now.
func (b *LocalBackend) Drop(handle Handle) (any, bool) {
	if handle == 0 {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.entryLocked(handle)
	if err != nil {
		return nil, false
	}

	if e.borrowCount > 0 {
		e.dropPending = true
		return nil, false
	}

	return b.freeLocked(handle.slot()), true
}

func (b *LocalBackend) freeLocked(slot int) any {
	e := &b.entries[slot]
	value := e.value
	e.valid = false
	e.dropPending = false
	e.value = nil
	e.borrowCount = 0
	if e.gen < maxGeneration {
		b.freeList = append(b.freeList, slot)
	}
	b.live--
	return value
}

// Pending reports whether handle has a drop deferred behind outstanding borrows.
func (b *LocalBackend) Pending(handle Handle) bool {
	slot := handle.slot()

	b.mu.RLock()
	defer b.mu.RUnlock()

	if slot < 0 || slot >= len(b.entries) {
		return false
	}
	e := b.entries[slot]
	return e.valid && e.gen == handle.generation() && e.dropPending
}

// Close releases all cells.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	var droppers []Dropper
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	for i := range b.entries {
		if b.entries[i].valid {
			if d, ok := b.entries[i].value.(Dropper); ok {
				droppers = append(droppers, d)
			}
			b.entries[i].valid = false
			b.entries[i].value = nil
		}
	}

	b.entries = nil
	b.freeList = nil
	b.live = 0
	b.mu.Unlock()

	// Destructors may call back into the table.
	for _, d := range droppers {
		d.Drop()
	}
	return nil
}

// Borrow increments the borrow count for a handle.
func (b *LocalBackend) Borrow(handle Handle) bool {
	if handle == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.entryLocked(handle)
	if err != nil {
		return false
	}

	e.borrowCount++
	return true
}

// ReturnBorrow decrements the borrow count for a handle.
func (b *LocalBackend) ReturnBorrow(handle Handle) (any, bool) {
	if handle == 0 {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	slot := handle.slot()
	if slot < 0 || slot >= len(b.entries) {
		return nil, false
	}

	e := &b.entries[slot]
	if !e.valid || e.gen != handle.generation() || e.borrowCount == 0 {
		return nil, false
	}

	e.borrowCount--
	if e.borrowCount == 0 && e.dropPending {
		return b.freeLocked(slot), true
	}
	return nil, false
}

// TypeID returns the type ID for a handle.
func (b *LocalBackend) TypeID(handle Handle) (uint32, bool) {
	if handle == 0 {
		return 0, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.entryLocked(handle)
	if err != nil {
		return 0, false
	}
	return e.typeID, true
}

// Len returns the number of live cells, including cells whose drop is pending.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live
}

// Each iterates over all live cells.
func (b *LocalBackend) Each(fn func(Handle, uint32, any) bool) {
	b.mu.RLock()
	type item struct {
		h      Handle
		typeID uint32
		value  any
	}
	items := make([]item, 0, b.live)
	for i, e := range b.entries {
		if e.valid && !e.dropPending {
			items = append(items, item{makeHandle(i, e.gen), e.typeID, e.value})
		}
	}
	b.mu.RUnlock()

	for _, it := range items {
		if !fn(it.h, it.typeID, it.value) {
			break
		}
	}
}
