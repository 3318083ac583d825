package codec

import (
	"errors"
)

var (
	// ErrUnexpectedEOF is returned when the input ends before a field is complete.
	ErrUnexpectedEOF = errors.New("unexpected end of input")
	// ErrTrailingBytes is returned by Finish when decoded input is overlong.
	ErrTrailingBytes = errors.New("trailing bytes after value")
	// ErrExceedingByteSliceLimit is returned for byte string lengths above the uint32 range.
	ErrExceedingByteSliceLimit = errors.New("byte slice length exceeds max value of uint32")

	ErrDecodingCompact  = "error decoding compact natural: %w"
	ErrDecodingSequence = "error decoding sequence: %w"
)
