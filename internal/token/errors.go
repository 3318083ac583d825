package token

import "errors"

var (
	// ErrUnauthorized is returned by every inbound handler when the caller
	// is not the configured host.
	ErrUnauthorized = errors.New("caller is not the host")
	// ErrValidationFailed is returned for empty values in a Get response and
	// empty keys in a Get timeout.
	ErrValidationFailed = errors.New("validation failed")

	ErrDecodingPayload = "decoding transfer payload: %w"
	ErrDispatchingPost = "dispatching post request: %w"
	ErrDispatchingGet  = "dispatching get request: %w"
)
