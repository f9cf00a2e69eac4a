package wasmbind

import (
	"github.com/wippyai/vbridge/errors"
)

// StatusUnknown is returned for failures without a mapped kind.
const StatusUnknown int32 = -100

var statuses = map[errors.Kind]int32{
	errors.KindUnknownField: -1,
	errors.KindTypeMismatch: -2,
	errors.KindOutOfBounds:  -3,
	errors.KindExpired:      -4,
	errors.KindLockFailed:   -5,
	errors.KindBusy:         -6,
	errors.KindInvalidKey:   -7,
	errors.KindInvalidInput: -8,
	errors.KindReadOnly:     -9,
	errors.KindNotFound:     -10,
	errors.KindRegistration: -11,
	errors.KindCancelled:    -12,
	errors.KindUnsupported:  -13,
	errors.KindInvalidData:  -14,
	errors.KindScript:       -15,
}

// Status returns the negative status code a guest sees for kind.
func Status(kind errors.Kind) int32 {
	if s, ok := statuses[kind]; ok {
		return s
	}
	return StatusUnknown
}

// KindOf maps a status code back to an error kind. Non-negative codes
// have no kind.
func KindOf(status int32) errors.Kind {
	for k, s := range statuses {
		if s == status {
			return k
		}
	}
	return ""
}

func memoryFault(ptr, n uint32) *errors.Error {
	return errors.New(errors.PhaseConvert, errors.KindOutOfBounds).
		Detail("guest memory access at %d+%d", ptr, n).Build()
}
