package piv

import "errors"

// Kind classifies a library error so callers can branch on failure class
// without string matching. See the PIV GEN_AUTH / VERIFY status word tables
// in apdu.go for how status words map onto these kinds.
type Kind int

const (
	// KindIO covers host transmit failures, card removal, and a gone reader.
	KindIO Kind = iota
	// KindAPDU is a non-success status word with no more specific mapping.
	KindAPDU
	// KindNotFound is an absent object, slot, or token.
	KindNotFound
	// KindNotSupported is an operation or algorithm the card/slot lacks.
	KindNotSupported
	// KindPermission is a security-status or PIN/admin-key failure.
	KindPermission
	// KindInvalidData is a structurally invalid card response.
	KindInvalidData
	// KindArgument is a caller-supplied value outside its defined domain.
	KindArgument
	// KindMinRetries is a refused VERIFY because it would cross the caller's retry floor.
	KindMinRetries
	// KindDeviceOutOfMemory is a card-reported storage exhaustion.
	KindDeviceOutOfMemory
	// KindResetConditions is an ykpiv_reset precondition failure.
	KindResetConditions
	// KindKeyAuth is an auth_key mismatch between enumerated and supplied keys.
	KindKeyAuth
	// KindDuplicate is an ambiguous GUID-prefix match in Find.
	KindDuplicate
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindAPDU:
		return "apdu"
	case KindNotFound:
		return "not_found"
	case KindNotSupported:
		return "not_supported"
	case KindPermission:
		return "permission"
	case KindInvalidData:
		return "invalid_data"
	case KindArgument:
		return "argument"
	case KindMinRetries:
		return "min_retries"
	case KindDeviceOutOfMemory:
		return "device_out_of_memory"
	case KindResetConditions:
		return "reset_conditions"
	case KindKeyAuth:
		return "key_auth"
	case KindDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Error is the library's cause-chain error type. Every layer that adds
// context wraps the one below it, generalized to the full kind
// enumeration below.
type Error struct {
	Kind    Kind
	Message string
	// SW is the raw ISO-7816 status word, if this error originated from one.
	SW uint16
	// Retries is the remaining PIN/PUK retry count, for Permission errors
	// raised by verify_pin.
	Retries int
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "piv: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.SW != 0 {
		msg += sprintfSW(e.SW)
	}
	if e.Cause != nil {
		return "piv: " + msg + ": " + e.Cause.Error()
	}
	return "piv: " + msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func sprintfSW(sw uint16) string {
	const hexdigits = "0123456789ABCDEF"
	b := []byte(" (SW=0000)")
	b[6] = hexdigits[(sw>>12)&0xF]
	b[7] = hexdigits[(sw>>8)&0xF]
	b[8] = hexdigits[(sw>>4)&0xF]
	b[9] = hexdigits[sw&0xF]
	return string(b)
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func swErr(kind Kind, msg string, sw uint16) *Error {
	return &Error{Kind: kind, Message: msg, SW: sw}
}

// Is reports whether the first *Error in err's chain has Kind k; kinds of
// *Error values further down that error's Cause are not consulted.
func Is(err error, k Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == k
	}
	return false
}

func IsIO(err error) bool                { return Is(err, KindIO) }
func IsNotFound(err error) bool          { return Is(err, KindNotFound) }
func IsNotSupported(err error) bool      { return Is(err, KindNotSupported) }
func IsPermission(err error) bool        { return Is(err, KindPermission) }
func IsInvalidData(err error) bool       { return Is(err, KindInvalidData) }
func IsArgument(err error) bool          { return Is(err, KindArgument) }
func IsMinRetries(err error) bool        { return Is(err, KindMinRetries) }
func IsDeviceOutOfMemory(err error) bool { return Is(err, KindDeviceOutOfMemory) }
func IsResetConditions(err error) bool   { return Is(err, KindResetConditions) }
func IsKeyAuth(err error) bool           { return Is(err, KindKeyAuth) }
func IsDuplicate(err error) bool         { return Is(err, KindDuplicate) }

// Retries extracts the remaining-retries count from a Permission error
// raised by VerifyPIN, if present.
func Retries(err error) (int, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindPermission {
		return pe.Retries, true
	}
	return 0, false
}
