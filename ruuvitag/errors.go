package ruuvitag

import (
	"errors"
	"fmt"
)

// MalformedEnvelopeError indicates the manufacturer data block does not have
// the expected company-identifier + payload shape.
type MalformedEnvelopeError struct {
	Reason string
}

func (e *MalformedEnvelopeError) Error() string {
	if e.Reason == "" {
		return "malformed manufacturer data envelope"
	}
	return fmt.Sprintf("malformed manufacturer data envelope: %s", e.Reason)
}

// Is allows errors.Is comparison against any MalformedEnvelopeError
func (e *MalformedEnvelopeError) Is(target error) bool {
	_, ok := target.(*MalformedEnvelopeError)
	return ok
}

// InvalidPayloadLengthError indicates the payload is not exactly the
// Data Format 5 frame size.
type InvalidPayloadLengthError struct {
	Expected int
	Actual   int
}

func (e *InvalidPayloadLengthError) Error() string {
	return fmt.Sprintf("invalid payload length: expected %d bytes, got %d", e.Expected, e.Actual)
}

// Is allows errors.Is comparison against any InvalidPayloadLengthError
func (e *InvalidPayloadLengthError) Is(target error) bool {
	_, ok := target.(*InvalidPayloadLengthError)
	return ok
}

// UnsupportedFormatVersionError indicates the payload format byte is not
// Data Format 5. Only returned by DecodeStrict; Decode ignores the byte.
type UnsupportedFormatVersionError struct {
	Version uint8
}

func (e *UnsupportedFormatVersionError) Error() string {
	return fmt.Sprintf("unsupported data format version %d, want %d", e.Version, FormatVersion5)
}

// Is allows errors.Is comparison against any UnsupportedFormatVersionError
func (e *UnsupportedFormatVersionError) Is(target error) bool {
	_, ok := target.(*UnsupportedFormatVersionError)
	return ok
}

// Sentinel values for errors.Is checks without caring about details
var (
	ErrMalformedEnvelope        = &MalformedEnvelopeError{}
	ErrInvalidPayloadLength     = &InvalidPayloadLengthError{}
	ErrUnsupportedFormatVersion = &UnsupportedFormatVersionError{}
)

// IsDecodeError reports whether err is any per-frame decode failure.
// All decode failures are recoverable: the event is dropped and the
// stream continues.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrMalformedEnvelope) ||
		errors.Is(err, ErrInvalidPayloadLength) ||
		errors.Is(err, ErrUnsupportedFormatVersion)
}
