// Package errors provides structured error types for the bridge.
//
// Errors are categorized by Phase (where in a bridged call the error occurred)
// and Kind (error category). Every kind is recoverable at the script call
// site: runtime adapters convert an *Error into the runtime's native error
// value instead of aborting.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseExecute, errors.KindTypeMismatch).
//		Type("info").
//		Field("DP").
//		Detail("cannot store table in an info slot").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UnknownField("record", "nope")
//	err := errors.OutOfBounds("genotypes", 4, 3)
//
// All errors implement the standard error interface and support errors.Is/As.
// A target with an empty Phase matches any phase of the same Kind:
//
//	errors.Is(err, &errors.Error{Kind: errors.KindExpired})
package errors
