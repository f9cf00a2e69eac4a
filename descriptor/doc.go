// Package descriptor defines the Field Descriptor Table: the per-type map
// from script-visible names to typed accessors.
//
// A Table is built once per type tag, registered with a bridge.Registry and
// sealed. The dispatcher consults it on every property access:
//
//	t := descriptor.New("record")
//	t.Register("pos", getPos, setPos)
//	t.Child("info", "info", func(p any) (any, error) { return p.(*variant.Record).Info(), nil })
//	t.Method("clone", cloneRecord)
//
// Getters return a scalar (int64, float64, string, bool or nil), a Child,
// which the dispatcher wraps as a child view of the resolving handle, or a
// Snapshot, which becomes an independent owned root.
//
// Setters receive the raw script value and validate it with the conversion
// helpers (Int, Float, String, Bool, Scalar). Conversion failures are
// type_mismatch errors in the convert phase.
//
// The index/length slot is separate from names. Indexer functions take
// 0-based indices; each runtime's script base is applied by the dispatcher.
package descriptor
