package sstvcore

import "fmt"

// Kind classifies an Error into one of the recoverable or unrecoverable
// categories named in the error handling design: invalid input is
// unrecoverable and surfaced immediately; no signal, malformed VIS, and
// early audio exhaustion are recoverable and only ever reach a caller
// through a surface that demands a result (batch Decode, not the
// streaming callbacks).
type Kind int

const (
	// KindInvalidInput covers unsupported WAV formats, an invalid forced
	// VIS code, or a malformed mode record.
	KindInvalidInput Kind = iota
	// KindNoSignal means no VIS header or timing lock was ever obtained.
	KindNoSignal
	// KindMalformedVIS means a VIS candidate failed parity and single-bit
	// correction, or its bit frequencies didn't validate.
	KindMalformedVIS
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindNoSignal:
		return "no signal"
	case KindMalformedVIS:
		return "malformed VIS"
	default:
		return "unknown"
	}
}

// Error is this package's sentinel-comparable error type: compare against
// ErrInvalidInput, ErrNoSignal, or ErrMalformedVIS with errors.Is rather
// than inspecting Kind directly, mirroring the teacher's fmt.Errorf("...:
// %w", err) wrapping convention used throughout (extension.go,
// decoder_wav.go) but with a typed sentinel family instead of ad hoc
// wrapped strings.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sstvcore: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("sstvcore: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same Kind, so
// errors.Is(err, ErrNoSignal) matches any *Error carrying KindNoSignal
// regardless of its wrapped cause or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel values for errors.Is comparisons; never compare with ==, since
// a returned *Error usually carries a different Msg/Err than these.
var (
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrNoSignal     = &Error{Kind: KindNoSignal}
	ErrMalformedVIS = &Error{Kind: KindMalformedVIS}
)

func newError(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Msg: msg, Err: err}
}
