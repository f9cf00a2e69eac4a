package vbridge

// Sizer is implemented by host values that retain memory the script
// runtime cannot see. The registry sums the sizes of live owned roots and
// reports the total as external memory pressure.
type Sizer interface {
	ExternalSize() int64
}

// Size returns v's external size, or 0 if v does not implement Sizer.
func Size(v any) int64 {
	if s, ok := v.(Sizer); ok {
		return s.ExternalSize()
	}
	return 0
}
