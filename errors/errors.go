package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in a bridged call the error occurred
type Phase string

const (
	PhaseRegister Phase = "register" // type registration
	PhaseWrap     Phase = "wrap"     // handle construction
	PhaseLookup   Phase = "lookup"   // descriptor lookup
	PhaseResolve  Phase = "resolve"  // ownership resolution
	PhaseExecute  Phase = "execute"  // accessor execution
	PhaseConvert  Phase = "convert"  // script <-> host value conversion
	PhaseRelease  Phase = "release"  // handle disposal
	PhaseHost     Phase = "host"     // host side record access
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseScript   Phase = "script"   // script compilation and execution
)

// Kind categorizes the error
type Kind string

const (
	KindUnknownField Kind = "unknown_field"
	KindTypeMismatch Kind = "type_mismatch"
	KindOutOfBounds  Kind = "out_of_bounds"
	KindExpired      Kind = "expired"
	KindLockFailed   Kind = "lock_failed"
	KindBusy         Kind = "busy"
	KindInvalidKey   Kind = "invalid_key"
	KindInvalidInput Kind = "invalid_input"
	KindReadOnly     Kind = "read_only"
	KindNotFound     Kind = "not_found"
	KindRegistration Kind = "registration"
	KindCancelled    Kind = "cancelled"
	KindUnsupported  Kind = "unsupported"
	KindInvalidData  Kind = "invalid_data"
	KindScript       Kind = "script" // failure raised by script code itself
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Type   string // type tag of the handle involved
	Field  string // field, method or slot name
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Type != "" || e.Field != "" {
		b.WriteString(" at ")
		switch {
		case e.Type != "" && e.Field != "":
			b.WriteString(e.Type)
			b.WriteByte('.')
			b.WriteString(e.Field)
		case e.Type != "":
			b.WriteString(e.Type)
		default:
			b.WriteString(e.Field)
		}
	}

	if len(e.Path) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Path, "."))
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Type sets the type tag
func (b *Builder) Type(tag string) *Builder {
	b.err.Type = tag
	return b
}

// Field sets the field name
func (b *Builder) Field(name string) *Builder {
	b.err.Field = name
	return b
}

// Path sets the handle path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Convenience constructors for common error patterns

// UnknownField creates an unknown field error carrying the attempted name
func UnknownField(tag, name string) *Error {
	return &Error{
		Phase:  PhaseLookup,
		Kind:   KindUnknownField,
		Type:   tag,
		Field:  name,
		Detail: fmt.Sprintf("field %q not found on %s", name, tag),
		Value:  name,
	}
}

// TypeMismatch creates a type mismatch error for a value that cannot be
// converted into the expected kind
func TypeMismatch(phase Phase, field, want string, got any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Field:  field,
		Detail: fmt.Sprintf("expected %s, got %T", want, got),
		Value:  got,
	}
}

// OutOfBounds creates an out of bounds error. index is reported in the
// caller's index base.
func OutOfBounds(tag string, index, length int) *Error {
	return &Error{
		Phase:  PhaseLookup,
		Kind:   KindOutOfBounds,
		Type:   tag,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// Expired creates an error for a handle used after its scope ended or a
// stale cell id
func Expired(tag, detail string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindExpired,
		Type:   tag,
		Detail: detail,
	}
}

// LockFailed creates an error for a cell whose lock cannot be acquired
func LockFailed(tag string, cause error) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindLockFailed,
		Type:   tag,
		Detail: "cell lock unavailable",
		Cause:  cause,
	}
}

// Busy creates a bounded-wait timeout error
func Busy(tag string, waited fmt.Stringer) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindBusy,
		Type:   tag,
		Detail: fmt.Sprintf("cell lock held by another owner for more than %s", waited),
	}
}

// InvalidKey creates a domain key parse error
func InvalidKey(phase Phase, what, key string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidKey,
		Field:  key,
		Detail: fmt.Sprintf("invalid %s %q", what, key),
		Value:  key,
	}
}

// ReadOnly creates an error for assignment to a field without setter
func ReadOnly(tag, name string) *Error {
	return &Error{
		Phase:  PhaseLookup,
		Kind:   KindReadOnly,
		Type:   tag,
		Field:  name,
		Detail: fmt.Sprintf("field %q is read-only", name),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(tag string, detail string) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindRegistration,
		Type:   tag,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, tag, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Type:   tag,
		Detail: what,
	}
}

// Cancelled creates an error for a call cancelled at its boundary
func Cancelled(cause error) *Error {
	return &Error{
		Phase:  PhaseLookup,
		Kind:   KindCancelled,
		Detail: "call cancelled before dispatch",
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
