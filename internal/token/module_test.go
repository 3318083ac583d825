package token_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brambleio/bramble/internal/ismp"
	"github.com/brambleio/bramble/internal/ledger"
	"github.com/brambleio/bramble/internal/token"
)

var (
	hostOrigin = ismp.Origin("host")
	moduleID   = ismp.ModuleID{'t', 'o', 'k', 'e', 'n', '-', 'x', 'f'}
	alice      = ismp.AccountID{0x0a}
	bob        = ismp.AccountID{0x0b}
)

// recordingDispatcher accepts every submission and keeps the envelopes.
type recordingDispatcher struct {
	posts     [][]byte
	gets      [][]byte
	responses [][]byte

	rejectPost     error
	rejectGet      error
	rejectResponse error
}

func (d *recordingDispatcher) SubmitPost(envelope []byte) error {
	if d.rejectPost != nil {
		return d.rejectPost
	}
	d.posts = append(d.posts, envelope)
	return nil
}

func (d *recordingDispatcher) SubmitGet(envelope []byte) error {
	if d.rejectGet != nil {
		return d.rejectGet
	}
	d.gets = append(d.gets, envelope)
	return nil
}

func (d *recordingDispatcher) SubmitResponse(envelope []byte) error {
	if d.rejectResponse != nil {
		return d.rejectResponse
	}
	d.responses = append(d.responses, envelope)
	return nil
}

type recordingSink struct {
	events []token.Event
}

func (s *recordingSink) Emit(e token.Event) {
	s.events = append(s.events, e)
}

func (s *recordingSink) kinds() []token.EventKind {
	kinds := make([]token.EventKind, 0, len(s.events))
	for _, e := range s.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type fixture struct {
	module     *token.Module
	ledger     *ledger.Ledger
	dispatcher *recordingDispatcher
	sink       *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.New()
	d := &recordingDispatcher{}
	s := &recordingSink{}
	m := token.NewModule(token.Config{Host: hostOrigin, ModuleID: moduleID}, l, d, s)
	return &fixture{module: m, ledger: l, dispatcher: d, sink: s}
}

func requireConserved(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	var sum uint64
	for _, account := range l.Accounts() {
		sum += l.Balance(account)
	}
	require.Equal(t, l.TotalSupply(), sum)
}

// postRequestFor wraps a dispatched envelope into the full request a host
// would deliver on the destination chain.
func postRequestFor(t *testing.T, envelope []byte, nonce uint64) ismp.PostRequest {
	t.Helper()
	env, err := ismp.DecodePostEnvelope(envelope)
	require.NoError(t, err)
	return ismp.PostRequest{
		Source:           "chain-a",
		Dest:             env.Dest,
		Nonce:            nonce,
		From:             moduleID,
		To:               env.To,
		TimeoutTimestamp: env.TimeoutTimestamp,
		Body:             env.Body,
		GasLimit:         env.GasLimit,
	}
}

func TestTransferDebitsAndDispatches(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Credit(alice, 100))

	err := f.module.Transfer(alice, token.TransferParams{
		To: bob, Amount: 30, Dest: "chain-b", TimeoutTimestamp: 1000, GasLimit: 5000,
	})
	require.NoError(t, err)

	require.Equal(t, uint64(70), f.ledger.Balance(alice))
	require.Equal(t, uint64(70), f.ledger.TotalSupply())
	requireConserved(t, f.ledger)

	require.Len(t, f.dispatcher.posts, 1)
	env, err := ismp.DecodePostEnvelope(f.dispatcher.posts[0])
	require.NoError(t, err)
	require.Equal(t, ismp.StateMachine("chain-b"), env.Dest)
	require.Equal(t, moduleID, env.To)

	payload, err := token.DecodePayload(env.Body)
	require.NoError(t, err)
	require.Equal(t, token.Payload{To: bob, From: alice, Amount: 30}, payload)

	require.Equal(t, []token.EventKind{token.EventBalanceBurnt}, f.sink.kinds())
}

func TestTransferInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Credit(alice, 10))

	err := f.module.Transfer(alice, token.TransferParams{To: bob, Amount: 11, Dest: "chain-b"})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	require.Empty(t, f.dispatcher.posts)
	require.Empty(t, f.sink.events)
	require.Equal(t, uint64(10), f.ledger.Balance(alice))
}

func TestTransferRollsBackOnDispatchRejection(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Credit(alice, 100))
	f.dispatcher.rejectPost = errors.New("mempool full")

	err := f.module.Transfer(alice, token.TransferParams{To: bob, Amount: 30, Dest: "chain-b"})
	require.Error(t, err)

	// Atomic rollback: balance after the call equals the balance before
	require.Equal(t, uint64(100), f.ledger.Balance(alice))
	require.Equal(t, uint64(100), f.ledger.TotalSupply())
	requireConserved(t, f.ledger)
	require.Empty(t, f.sink.events)
}

func TestTransferZeroAmount(t *testing.T) {
	f := newFixture(t)

	err := f.module.Transfer(alice, token.TransferParams{To: bob, Amount: 0, Dest: "chain-b"})
	require.NoError(t, err)
	require.Len(t, f.dispatcher.posts, 1)
	require.Equal(t, uint64(0), f.ledger.TotalSupply())
}

func TestOnAcceptMintsAndAcknowledges(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Credit(alice, 100))
	require.NoError(t, f.module.Transfer(alice, token.TransferParams{To: bob, Amount: 30, Dest: "chain-b"}))

	// Destination side: deliver the dispatched request
	dest := newFixture(t)
	request := postRequestFor(t, f.dispatcher.posts[0], 1)

	require.NoError(t, dest.module.OnAccept(hostOrigin, request))

	require.Equal(t, uint64(30), dest.ledger.Balance(bob))
	require.Equal(t, uint64(30), dest.ledger.TotalSupply())
	requireConserved(t, dest.ledger)

	require.Len(t, dest.dispatcher.responses, 1)
	ack, err := ismp.DecodePostResponse(dest.dispatcher.responses[0])
	require.NoError(t, err)
	require.Equal(t, request, ack.Request)
	require.Equal(t, bob[:], ack.Response)

	require.Equal(t, []token.EventKind{token.EventBalanceMinted}, dest.sink.kinds())
}

func TestOnAcceptDecodeFailure(t *testing.T) {
	f := newFixture(t)

	request := ismp.PostRequest{Source: "chain-a", Dest: "chain-b", Body: []byte{0x01, 0x02}}
	err := f.module.OnAccept(hostOrigin, request)
	require.Error(t, err)

	require.Equal(t, uint64(0), f.ledger.TotalSupply())
	require.Empty(t, f.dispatcher.responses)
	require.Empty(t, f.sink.events)
}

func TestOnAcceptMintSurvivesAckFailure(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.rejectResponse = errors.New("response channel closed")

	payload := token.Payload{To: bob, From: alice, Amount: 30}
	request := ismp.PostRequest{Source: "chain-a", Dest: "chain-b", Nonce: 1, Body: payload.Encode()}

	// The mint commits even though the acknowledgment submission fails
	require.NoError(t, f.module.OnAccept(hostOrigin, request))
	require.Equal(t, uint64(30), f.ledger.Balance(bob))
	require.Equal(t, []token.EventKind{token.EventBalanceMinted}, f.sink.kinds())
}

func TestOnPostResponseNoLedgerEffect(t *testing.T) {
	f := newFixture(t)
	payload := token.Payload{To: bob, From: alice, Amount: 30}
	response := ismp.PostResponse{
		Request:  ismp.PostRequest{Source: "chain-a", Dest: "chain-b", Nonce: 1, Body: payload.Encode()},
		Response: bob[:],
	}

	require.NoError(t, f.module.OnPostResponse(hostOrigin, response))
	require.Equal(t, uint64(0), f.ledger.TotalSupply())
	require.Equal(t, []token.EventKind{token.EventResponseReceived}, f.sink.kinds())
}

func TestOnPostTimeoutRefundsSender(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Credit(alice, 100))
	require.NoError(t, f.module.Transfer(alice, token.TransferParams{To: bob, Amount: 30, Dest: "chain-b"}))
	require.Equal(t, uint64(70), f.ledger.Balance(alice))

	request := postRequestFor(t, f.dispatcher.posts[0], 1)
	require.NoError(t, f.module.OnPostTimeout(hostOrigin, request))

	// Sender balance returns to 100, supply unchanged net
	require.Equal(t, uint64(100), f.ledger.Balance(alice))
	require.Equal(t, uint64(100), f.ledger.TotalSupply())
	requireConserved(t, f.ledger)

	require.Equal(t,
		[]token.EventKind{token.EventBalanceBurnt, token.EventBalanceMinted},
		f.sink.kinds())
}

func TestDispatchGet(t *testing.T) {
	f := newFixture(t)

	err := f.module.DispatchGet(token.GetParams{
		Dest: "chain-b", Keys: [][]byte{[]byte("k1")}, Height: 7, TimeoutTimestamp: 500, GasLimit: 100,
	})
	require.NoError(t, err)
	require.Len(t, f.dispatcher.gets, 1)

	env, err := ismp.DecodeGetEnvelope(f.dispatcher.gets[0])
	require.NoError(t, err)
	require.Equal(t, uint64(7), env.Height)
	require.Equal(t, []token.EventKind{token.EventGetDispatched}, f.sink.kinds())
}

func TestDispatchGetRejection(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.rejectGet = errors.New("mempool full")

	err := f.module.DispatchGet(token.GetParams{Dest: "chain-b", Keys: [][]byte{[]byte("k1")}})
	require.Error(t, err)
	require.Empty(t, f.sink.events)
}

func TestOnGetResponseRejectsEmptyValue(t *testing.T) {
	f := newFixture(t)
	response := ismp.GetResponse{
		Request: ismp.GetRequest{Source: "chain-a", Dest: "chain-b", Nonce: 2},
		Values: []ismp.StorageValue{
			{Key: []byte("k1"), Value: []byte("v1")},
			{Key: []byte("k2"), Value: nil},
			{Key: []byte("k3"), Value: []byte("v3")},
		},
	}

	err := f.module.OnGetResponse(hostOrigin, response)
	require.ErrorIs(t, err, token.ErrValidationFailed)
	require.Empty(t, f.sink.events)
}

func TestOnGetResponseAllValuesPresent(t *testing.T) {
	f := newFixture(t)
	response := ismp.GetResponse{
		Request: ismp.GetRequest{Source: "chain-a", Dest: "chain-b", Nonce: 2},
		Values:  []ismp.StorageValue{{Key: []byte("k1"), Value: []byte("v1")}},
	}

	require.NoError(t, f.module.OnGetResponse(hostOrigin, response))
	require.Equal(t, []token.EventKind{token.EventResponseReceived}, f.sink.kinds())
}

func TestOnGetTimeout(t *testing.T) {
	f := newFixture(t)

	ok := ismp.GetRequest{Source: "chain-a", Dest: "chain-b", Keys: [][]byte{[]byte("k1")}}
	require.NoError(t, f.module.OnGetTimeout(hostOrigin, ok))
	require.Equal(t, []token.EventKind{token.EventTimeoutReceived}, f.sink.kinds())

	bad := ismp.GetRequest{Source: "chain-a", Dest: "chain-b", Keys: [][]byte{{}}}
	err := f.module.OnGetTimeout(hostOrigin, bad)
	require.ErrorIs(t, err, token.ErrValidationFailed)
}

func TestHandlersRejectNonHostOrigin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Credit(alice, 100))
	before := f.ledger.Dump()

	payload := token.Payload{To: bob, From: alice, Amount: 30}
	request := ismp.PostRequest{Source: "chain-a", Dest: "chain-b", Nonce: 1, Body: payload.Encode()}
	getRequest := ismp.GetRequest{Source: "chain-a", Dest: "chain-b", Keys: [][]byte{[]byte("k")}}
	intruder := ismp.Origin("relayer")

	handlers := map[string]func() error{
		"OnAccept":       func() error { return f.module.OnAccept(intruder, request) },
		"OnPostResponse": func() error { return f.module.OnPostResponse(intruder, ismp.PostResponse{Request: request}) },
		"OnPostTimeout":  func() error { return f.module.OnPostTimeout(intruder, request) },
		"OnGetResponse":  func() error { return f.module.OnGetResponse(intruder, ismp.GetResponse{Request: getRequest}) },
		"OnGetTimeout":   func() error { return f.module.OnGetTimeout(intruder, getRequest) },
	}

	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, handler(), token.ErrUnauthorized)
			// Ledger state is byte-identical to before the call
			require.Equal(t, before, f.ledger.Dump())
			require.Empty(t, f.sink.events)
			require.Empty(t, f.dispatcher.responses)
		})
	}
}

func TestConservationAcrossSequence(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.Credit(alice, 1000))

	// Outbound transfers interleaved with inbound accepts and timeouts
	for i := 0; i < 5; i++ {
		require.NoError(t, f.module.Transfer(alice, token.TransferParams{To: bob, Amount: 10, Dest: "chain-b"}))
		requireConserved(t, f.ledger)
	}

	inbound := token.Payload{To: alice, From: bob, Amount: 25}
	require.NoError(t, f.module.OnAccept(hostOrigin, ismp.PostRequest{
		Source: "chain-b", Dest: "chain-a", Nonce: 9, Body: inbound.Encode(),
	}))
	requireConserved(t, f.ledger)

	timedOut := postRequestFor(t, f.dispatcher.posts[0], 1)
	require.NoError(t, f.module.OnPostTimeout(hostOrigin, timedOut))
	requireConserved(t, f.ledger)

	require.Equal(t, uint64(1000-50+25+10), f.ledger.TotalSupply())
}

func TestPayloadRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    token.Payload
	}{
		{"zero amount", token.Payload{To: bob, From: alice, Amount: 0}},
		{"small amount", token.Payload{To: bob, From: alice, Amount: 30}},
		{"max amount", token.Payload{To: bob, From: alice, Amount: ^uint64(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := token.DecodePayload(tt.p.Encode())
			require.NoError(t, err)
			require.Equal(t, tt.p, decoded)
		})
	}
}

func TestPayloadDecodeMalformed(t *testing.T) {
	valid := token.Payload{To: bob, From: alice, Amount: 1}.Encode()

	_, err := token.DecodePayload(valid[:len(valid)-1])
	require.Error(t, err)

	_, err = token.DecodePayload(append(valid, 0x00))
	require.Error(t, err)

	_, err = token.DecodePayload(nil)
	require.Error(t, err)
}
