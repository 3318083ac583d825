// Package token implements a cross-chain fungible asset module. An outbound
// transfer debits the sender and dispatches a Post request carrying the
// payload; the destination chain mints on acceptance and the source chain
// mints the refund if the request times out. Exactly one of the two terminal
// callbacks reaches the module per request, which keeps the ledger
// conservation invariant across both chains.
package token

import (
	"fmt"

	"github.com/brambleio/bramble/internal/ismp"
	"github.com/brambleio/bramble/internal/ledger"
	"github.com/brambleio/bramble/pkg/log"
)

// Config carries the module's construction parameters. Host is the only
// origin allowed to invoke the inbound handlers.
type Config struct {
	Host     ismp.Origin
	ModuleID ismp.ModuleID
}

// Module is the asset-transfer state machine. The hosting environment
// serializes all entry points; the module itself holds no locks.
type Module struct {
	cfg        Config
	ledger     *ledger.Ledger
	dispatcher Dispatcher
	events     EventSink
}

func NewModule(cfg Config, l *ledger.Ledger, d Dispatcher, events EventSink) *Module {
	return &Module{
		cfg:        cfg,
		ledger:     l,
		dispatcher: d,
		events:     events,
	}
}

// TransferParams mirrors the extrinsic parameters of a transfer call.
type TransferParams struct {
	To               ismp.AccountID
	Amount           uint64
	Dest             ismp.StateMachine
	TimeoutTimestamp uint64
	GasLimit         uint64
}

// GetParams are the parameters of an outbound storage query.
type GetParams struct {
	Dest             ismp.StateMachine
	Keys             [][]byte
	Height           uint64
	TimeoutTimestamp uint64
	GasLimit         uint64
}

// Transfer debits the sender and dispatches a Post request carrying the
// payload. The debit and the submission are one atomic unit: a synchronous
// rejection by the dispatcher restores the sender's balance and fails the
// whole call.
func (m *Module) Transfer(from ismp.AccountID, params TransferParams) error {
	if err := m.ledger.Debit(from, params.Amount); err != nil {
		return err
	}

	payload := Payload{To: params.To, From: from, Amount: params.Amount}
	envelope := ismp.PostEnvelope{
		Dest:             params.Dest,
		To:               m.cfg.ModuleID,
		Body:             payload.Encode(),
		TimeoutTimestamp: params.TimeoutTimestamp,
		GasLimit:         params.GasLimit,
	}

	if err := m.dispatcher.SubmitPost(envelope.Encode()); err != nil {
		// Restoring a just-debited amount cannot overflow.
		_ = m.ledger.Credit(from, params.Amount)
		return fmt.Errorf(ErrDispatchingPost, err)
	}

	m.events.Emit(Event{
		Kind:    EventBalanceBurnt,
		Account: from,
		Amount:  params.Amount,
		Chain:   params.Dest,
	})
	return nil
}

// DispatchGet submits a storage query for keys on the destination chain.
// No ledger effect.
func (m *Module) DispatchGet(params GetParams) error {
	envelope := ismp.GetEnvelope{
		Dest:             params.Dest,
		Height:           params.Height,
		Keys:             params.Keys,
		TimeoutTimestamp: params.TimeoutTimestamp,
		GasLimit:         params.GasLimit,
	}

	if err := m.dispatcher.SubmitGet(envelope.Encode()); err != nil {
		return fmt.Errorf(ErrDispatchingGet, err)
	}

	m.events.Emit(Event{Kind: EventGetDispatched, Chain: params.Dest})
	return nil
}

func (m *Module) authorize(origin ismp.Origin) error {
	if origin != m.cfg.Host {
		return ErrUnauthorized
	}
	return nil
}

// OnAccept is invoked by the host on the destination chain when a Post
// request is delivered. It mints the transferred amount to the recipient and
// acknowledges through the dispatcher's response channel. The mint commits
// once decoding succeeds; a failed acknowledgment submission does not roll it
// back.
func (m *Module) OnAccept(origin ismp.Origin, request ismp.PostRequest) error {
	if err := m.authorize(origin); err != nil {
		return err
	}

	payload, err := DecodePayload(request.Body)
	if err != nil {
		return fmt.Errorf(ErrDecodingPayload, err)
	}

	if err := m.ledger.Credit(payload.To, payload.Amount); err != nil {
		return err
	}

	ack := ismp.PostResponse{Request: request, Response: payload.To[:]}
	if err := m.dispatcher.SubmitResponse(ack.Encode()); err != nil {
		// Intentional asymmetry: the mint stays committed and only the
		// acknowledgment is lost. The source chain then learns the outcome
		// through its timeout path, never through a conflicting response.
		log.Module.Warn().Err(err).
			Uint64("nonce", request.Nonce).
			Msg("acknowledgment submission failed after mint")
	}

	m.events.Emit(Event{
		Kind:    EventBalanceMinted,
		Account: payload.To,
		Amount:  payload.Amount,
		Chain:   request.Source,
		Nonce:   request.Nonce,
	})
	return nil
}

// OnPostResponse is invoked on the source chain once the destination has
// accepted and responded. The burn already happened at dispatch time, so the
// payload is decoded only for validation.
func (m *Module) OnPostResponse(origin ismp.Origin, response ismp.PostResponse) error {
	if err := m.authorize(origin); err != nil {
		return err
	}

	if _, err := DecodePayload(response.Request.Body); err != nil {
		return fmt.Errorf(ErrDecodingPayload, err)
	}

	m.events.Emit(Event{
		Kind:  EventResponseReceived,
		Chain: response.Request.Dest,
		Nonce: response.Request.Nonce,
	})
	return nil
}

// OnPostTimeout is invoked on the source chain when the request was not
// accepted before its deadline. Minting the amount back to the sender is the
// compensating action for the debit made at dispatch time and the only path
// that refunds a failed transfer.
func (m *Module) OnPostTimeout(origin ismp.Origin, request ismp.PostRequest) error {
	if err := m.authorize(origin); err != nil {
		return err
	}

	payload, err := DecodePayload(request.Body)
	if err != nil {
		return fmt.Errorf(ErrDecodingPayload, err)
	}

	if err := m.ledger.Credit(payload.From, payload.Amount); err != nil {
		return err
	}

	m.events.Emit(Event{
		Kind:    EventBalanceMinted,
		Account: payload.From,
		Amount:  payload.Amount,
		Chain:   request.Dest,
		Nonce:   request.Nonce,
	})
	return nil
}

// OnGetResponse is invoked on the source chain with the storage values read
// on the destination chain. An empty value is unexpected for this module's
// queries and fails the whole call before any event is deposited.
func (m *Module) OnGetResponse(origin ismp.Origin, response ismp.GetResponse) error {
	if err := m.authorize(origin); err != nil {
		return err
	}

	for _, value := range response.Values {
		if len(value.Value) == 0 {
			return fmt.Errorf("%w: empty value for key %x", ErrValidationFailed, value.Key)
		}
	}

	m.events.Emit(Event{
		Kind:  EventResponseReceived,
		Chain: response.Request.Dest,
		Nonce: response.Request.Nonce,
	})
	return nil
}

// OnGetTimeout is invoked on the source chain when a Get request expires.
func (m *Module) OnGetTimeout(origin ismp.Origin, request ismp.GetRequest) error {
	if err := m.authorize(origin); err != nil {
		return err
	}

	for _, key := range request.Keys {
		if len(key) == 0 {
			return fmt.Errorf("%w: empty key in timed out request", ErrValidationFailed)
		}
	}

	m.events.Emit(Event{
		Kind:  EventTimeoutReceived,
		Chain: request.Dest,
		Nonce: request.Nonce,
	})
	return nil
}
