package resource

// Handle is an opaque, generation-tagged reference to a cell in a table.
// The low 24 bits hold the slot index plus one, the high 8 bits the slot
// generation. Handle 0 is reserved and always invalid.
type Handle uint32

const (
	indexBits = 24
	indexMask = 1<<indexBits - 1
	maxSlots  = indexMask

	maxGeneration = 1<<(32-indexBits) - 1
)

func makeHandle(slot int, gen uint8) Handle {
	return Handle(uint32(gen)<<indexBits | uint32(slot+1))
}

// slot returns the zero-based slot index, or -1 for the reserved handle.
func (h Handle) slot() int {
	return int(uint32(h)&indexMask) - 1
}

func (h Handle) generation() uint8 {
	return uint8(uint32(h) >> indexBits)
}

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
	EventBorrowed
	EventBorrowReturned
	EventDropDeferred
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	case EventBorrowed:
		return "borrowed"
	case EventBorrowReturned:
		return "borrow_returned"
	case EventDropDeferred:
		return "drop_deferred"
	default:
		return "unknown"
	}
}

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Backend provides the underlying storage mechanism for cells.
type Backend interface {
	// Create stores a value and returns a handle.
	Create(typeID uint32, value any) (Handle, error)

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// Lookup retrieves a value by handle, reporting why it is unavailable.
	Lookup(handle Handle) (any, error)

	// Drop removes a cell and returns (value, true) if the destructor should run now.
	// A cell with outstanding borrows is marked for removal and returned by
	// the ReturnBorrow call that releases the last borrow.
	Drop(handle Handle) (any, bool)

	// Borrow pins a cell for the duration of a call.
	Borrow(handle Handle) bool

	// ReturnBorrow releases a pin; returns (value, true) when a deferred drop completed.
	ReturnBorrow(handle Handle) (any, bool)

	// Close releases all cells held by the backend.
	Close() error
}

// Table manages cells with type information and observer support.
type Table interface {
	// Insert adds a value and returns its handle.
	Insert(typeID uint32, value any) Handle

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// GetTyped retrieves a value only if it matches the expected type.
	GetTyped(handle Handle, typeID uint32) (any, bool)

	// Remove drops a cell and returns (value, true) if it was removed now.
	Remove(handle Handle) (any, bool)

	// Subscribe adds an observer for lifecycle events.
	Subscribe(Observer)

	// Unsubscribe removes an observer.
	Unsubscribe(Observer)

	// Len returns the number of live cells.
	Len() int

	// Clear drops all cells.
	Clear()

	// Close releases all cells and stops accepting operations.
	Close() error
}

// TypedTable provides type-safe access to cells of a specific Go type.
type TypedTable[T any] interface {
	// Insert adds a value and returns its handle.
	Insert(typeID uint32, value T) Handle

	// Get retrieves a value by handle.
	Get(handle Handle) (T, bool)

	// Lookup retrieves a value by handle, reporting why it is unavailable.
	Lookup(handle Handle) (T, error)

	// Remove drops a cell and returns (value, true) if it was removed now.
	Remove(handle Handle) (T, bool)

	// Len returns the number of live cells.
	Len() int

	// Each iterates over all live cells.
	Each(func(Handle, T) bool)
}

// Dropper is optionally implemented by cell values that need cleanup.
type Dropper interface {
	Drop()
}
