package resource

// Typed is a TypedTable view over a UnifiedTable holding values of type T.
type Typed[T any] struct {
	table *UnifiedTable
}

// NewTyped wraps table. Values of other Go types in the same table are
// reported as missing.
func NewTyped[T any](table *UnifiedTable) *Typed[T] {
	return &Typed[T]{table: table}
}

// Insert adds a value and returns its handle.
func (t *Typed[T]) Insert(typeID uint32, value T) Handle {
	return t.table.Insert(typeID, value)
}

// Get retrieves a value by handle.
func (t *Typed[T]) Get(handle Handle) (T, bool) {
	v, err := t.Lookup(handle)
	return v, err == nil
}

// Lookup retrieves a value by handle, reporting why it is unavailable.
func (t *Typed[T]) Lookup(handle Handle) (T, error) {
	var zero T
	value, err := t.table.Lookup(handle)
	if err != nil {
		return zero, err
	}
	v, ok := value.(T)
	if !ok {
		return zero, ErrInvalidHandle
	}
	return v, nil
}

// Remove drops a cell and returns (value, true) if it was removed now.
func (t *Typed[T]) Remove(handle Handle) (T, bool) {
	var zero T
	value, ok := t.table.Remove(handle)
	if !ok {
		return zero, false
	}
	v, ok := value.(T)
	return v, ok
}

// Len returns the number of live cells.
func (t *Typed[T]) Len() int {
	return t.table.Len()
}

// Each iterates over all live cells holding a T.
func (t *Typed[T]) Each(fn func(Handle, T) bool) {
	t.table.Each(func(h Handle, _ uint32, value any) bool {
		v, ok := value.(T)
		if !ok {
			return true
		}
		return fn(h, v)
	})
}

// Table returns the underlying unified table.
func (t *Typed[T]) Table() *UnifiedTable {
	return t.table
}
