package token

import (
	"github.com/rs/zerolog"

	"github.com/brambleio/bramble/internal/ismp"
)

type EventKind uint8

const (
	EventBalanceBurnt EventKind = iota
	EventBalanceMinted
	EventGetDispatched
	EventResponseReceived
	EventTimeoutReceived
)

func (k EventKind) String() string {
	switch k {
	case EventBalanceBurnt:
		return "BalanceBurnt"
	case EventBalanceMinted:
		return "BalanceMinted"
	case EventGetDispatched:
		return "GetDispatched"
	case EventResponseReceived:
		return "ResponseReceived"
	case EventTimeoutReceived:
		return "TimeoutReceived"
	default:
		return "Unknown"
	}
}

// Event is deposited by the module after a successful operation. Account and
// Amount are set only for the ledger-affecting kinds.
type Event struct {
	Kind    EventKind
	Account ismp.AccountID
	Amount  uint64
	Chain   ismp.StateMachine
	Nonce   uint64
}

// EventSink receives events as they are deposited.
type EventSink interface {
	Emit(Event)
}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Emit(e Event) {
	s.Logger.Info().
		Str("event", e.Kind.String()).
		Str("account", e.Account.String()).
		Uint64("amount", e.Amount).
		Str("chain", string(e.Chain)).
		Uint64("nonce", e.Nonce).
		Msg("event deposited")
}
