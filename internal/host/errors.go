package host

import "errors"

var (
	ErrSelfDispatch    = errors.New("host: request destination is the local chain")
	ErrUnknownModule   = errors.New("host: no module registered for id")
	ErrUnknownRequest  = errors.New("host: no commitment found for request")
	ErrAlreadyResolved = errors.New("host: request already reached a terminal state")
	ErrExpired         = errors.New("host: request timed out before delivery")
	ErrUnknownKind     = errors.New("host: unknown message kind")
)
