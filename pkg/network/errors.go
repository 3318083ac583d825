package network

import "errors"

var (
	// ErrInvalidCertificate indicates the TLS certificate failed validation
	ErrInvalidCertificate = errors.New("invalid certificate")
	// ErrListenerFailed indicates the QUIC listener could not be started
	ErrListenerFailed = errors.New("failed to start listener")
	// ErrDialFailed indicates a connection attempt to a peer failed
	ErrDialFailed = errors.New("failed to dial peer")
	// ErrNotConnected indicates there is no active peer connection
	ErrNotConnected = errors.New("not connected to a peer")
	// ErrNotStarted indicates the node has not been started
	ErrNotStarted = errors.New("node not started")
)
