// Package host implements a reference dispatch gateway for a single state
// machine. It assigns nonces, keys every request and response by its
// commitment hash, accumulates commitments in a Merkle mountain range, and
// delivers inbound callbacks to registered modules. Consensus and proof
// verification are out of scope: a relayer moving messages between two hosts
// is trusted the way a verified proof would be.
package host

import (
	"time"

	"github.com/brambleio/bramble/internal/crypto"
	"github.com/brambleio/bramble/internal/ismp"
	"github.com/brambleio/bramble/internal/merkle/mmr"
	"github.com/brambleio/bramble/pkg/db"
	"github.com/brambleio/bramble/pkg/db/pebble"
	"github.com/brambleio/bramble/pkg/log"
	"github.com/brambleio/bramble/pkg/serialization/codec"
)

// Clock returns the current unix timestamp in seconds. Tests substitute a
// manual clock to drive timeouts deterministically.
type Clock func() uint64

func SystemClock() uint64 {
	return uint64(time.Now().Unix())
}

// MessageKind tags an outbound item so relays can route it without decoding.
type MessageKind byte

const (
	KindPostRequest MessageKind = iota
	KindGetRequest
	KindPostResponse
	KindGetResponse
)

// OutboundItem is one message waiting to be carried to the peer chain,
// already canonically encoded.
type OutboundItem struct {
	Kind    MessageKind
	Payload []byte
}

// Module is the inbound callback surface the host drives. Satisfied by
// *token.Module.
type Module interface {
	OnAccept(origin ismp.Origin, request ismp.PostRequest) error
	OnPostResponse(origin ismp.Origin, response ismp.PostResponse) error
	OnGetResponse(origin ismp.Origin, response ismp.GetResponse) error
	OnPostTimeout(origin ismp.Origin, request ismp.PostRequest) error
	OnGetTimeout(origin ismp.Origin, request ismp.GetRequest) error
}

type Config struct {
	// Self is the state machine this host runs on.
	Self ismp.StateMachine
	// Origin is the identity the host presents to module handlers.
	Origin ismp.Origin
	Clock  Clock
}

// Host is the dispatch gateway for one chain. Entry points are serialized by
// the caller, matching the single-threaded execution model of a runtime.
type Host struct {
	cfg     Config
	kv      db.KVStore
	acc     *mmr.Accumulator
	modules map[ismp.ModuleID]Module
	nonce   uint64

	// Outstanding outbound requests by commitment, pending a terminal
	// callback. The commitment store in kv is the durable record; these maps
	// are the working set.
	outPosts map[crypto.Hash]ismp.PostRequest
	outGets  map[crypto.Hash]ismp.GetRequest

	outbox []OutboundItem
}

// Key prefixes in the commitment store. Post and Get requests live under
// separate prefixes so a restart can rebuild each working set by range scan.
var (
	postReqPrefix   = []byte("host/req/p/")
	postReqRangeEnd = []byte("host/req/p0")
	getReqPrefix    = []byte("host/req/g/")
	getReqRangeEnd  = []byte("host/req/g0")
	respPrefix      = []byte("host/resp/")
	recvPrefix      = []byte("host/recv/")
	termPrefix      = []byte("host/term/")
	statePrefix     = []byte("host/state/")
	nonceKey        = []byte("host/nonce")
)

func New(cfg Config, kv db.KVStore) (*Host, error) {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}

	h := &Host{
		cfg:      cfg,
		kv:       kv,
		acc:      mmr.New(),
		modules:  make(map[ismp.ModuleID]Module),
		outPosts: make(map[crypto.Hash]ismp.PostRequest),
		outGets:  make(map[crypto.Hash]ismp.GetRequest),
	}

	raw, err := kv.Get(nonceKey)
	switch err {
	case nil:
		r := codec.NewReader(raw)
		nonce, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		h.nonce = nonce
	case pebble.ErrNotFound:
	default:
		return nil, err
	}

	// Rebuild the outstanding working set from persisted request
	// commitments: anything not yet terminal must stay sweepable, or a
	// restart would strand an in-flight debit with no refund path.
	if err := h.loadOutstanding(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *Host) loadOutstanding() error {
	err := h.scanRequests(postReqPrefix, postReqRangeEnd, func(payload []byte) error {
		request, err := ismp.DecodePostRequest(payload)
		if err != nil {
			return err
		}
		h.outPosts[request.Commitment()] = request
		return nil
	})
	if err != nil {
		return err
	}
	return h.scanRequests(getReqPrefix, getReqRangeEnd, func(payload []byte) error {
		request, err := ismp.DecodeGetRequest(payload)
		if err != nil {
			return err
		}
		h.outGets[request.Commitment()] = request
		return nil
	})
}

// scanRequests walks one request range and hands every non-terminal entry to
// restore.
func (h *Host) scanRequests(prefix, rangeEnd []byte, restore func(payload []byte) error) error {
	iter, err := h.kv.NewIterator(prefix, rangeEnd)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.Next() {
		var commitment crypto.Hash
		key := iter.Key()
		if len(key) != len(prefix)+len(commitment) {
			continue
		}
		copy(commitment[:], key[len(prefix):])
		if h.isTerminal(commitment) {
			continue
		}
		payload, err := iter.Value()
		if err != nil {
			return err
		}
		if err := restore(payload); err != nil {
			return err
		}
	}
	return nil
}

// NewMem builds a host over an in-memory store. Demo and test helper.
func NewMem(cfg Config) (*Host, error) {
	kv, err := pebble.NewMemStore()
	if err != nil {
		return nil, err
	}
	return New(cfg, kv)
}

// RegisterModule routes inbound callbacks for id to m and returns the
// dispatcher capability the module submits through. The returned dispatcher
// stamps every outbound request with the module's id.
func (h *Host) RegisterModule(id ismp.ModuleID, m Module) *ModuleDispatcher {
	h.modules[id] = m
	return &ModuleDispatcher{host: h, id: id}
}

// ModuleDispatcher is the submission capability handed to one module.
type ModuleDispatcher struct {
	host *Host
	id   ismp.ModuleID
}

func (d *ModuleDispatcher) SubmitPost(envelope []byte) error {
	return d.host.submitPost(d.id, envelope)
}

func (d *ModuleDispatcher) SubmitGet(envelope []byte) error {
	return d.host.submitGet(d.id, envelope)
}

func (d *ModuleDispatcher) SubmitResponse(envelope []byte) error {
	return d.host.submitResponse(envelope)
}

// SetStorage seeds a key-value pair into the chain state served to inbound
// Get requests.
func (h *Host) SetStorage(key, value []byte) error {
	return h.kv.Put(stateKey(key), value)
}

func (h *Host) nextNonce() (uint64, error) {
	h.nonce++
	w := codec.NewWriter()
	w.WriteUint64(h.nonce)
	if err := h.kv.Put(nonceKey, w.Bytes()); err != nil {
		h.nonce--
		return 0, err
	}
	return h.nonce, nil
}

// submitPost turns the envelope into a full request, records its commitment
// and queues it for relay.
func (h *Host) submitPost(from ismp.ModuleID, envelope []byte) error {
	env, err := ismp.DecodePostEnvelope(envelope)
	if err != nil {
		return err
	}
	if env.Dest == h.cfg.Self {
		return ErrSelfDispatch
	}

	nonce, err := h.nextNonce()
	if err != nil {
		return err
	}
	request := ismp.PostRequest{
		Source:           h.cfg.Self,
		Dest:             env.Dest,
		Nonce:            nonce,
		From:             from,
		To:               env.To,
		TimeoutTimestamp: env.TimeoutTimestamp,
		Body:             env.Body,
		GasLimit:         env.GasLimit,
	}

	commitment := request.Commitment()
	if err := h.kv.Put(postReqKey(commitment), request.Encode()); err != nil {
		return err
	}
	h.acc.Append(commitment)
	h.outPosts[commitment] = request
	h.outbox = append(h.outbox, OutboundItem{Kind: KindPostRequest, Payload: request.Encode()})

	log.Host.Debug().
		Str("dest", string(request.Dest)).
		Uint64("nonce", request.Nonce).
		Str("commitment", commitment.String()).
		Msg("post request dispatched")
	return nil
}

func (h *Host) submitGet(from ismp.ModuleID, envelope []byte) error {
	env, err := ismp.DecodeGetEnvelope(envelope)
	if err != nil {
		return err
	}
	if env.Dest == h.cfg.Self {
		return ErrSelfDispatch
	}

	nonce, err := h.nextNonce()
	if err != nil {
		return err
	}
	request := ismp.GetRequest{
		Source:           h.cfg.Self,
		Dest:             env.Dest,
		Nonce:            nonce,
		From:             from,
		TimeoutTimestamp: env.TimeoutTimestamp,
		Keys:             env.Keys,
		Height:           env.Height,
		GasLimit:         env.GasLimit,
	}

	commitment := request.Commitment()
	if err := h.kv.Put(getReqKey(commitment), request.Encode()); err != nil {
		return err
	}
	h.acc.Append(commitment)
	h.outGets[commitment] = request
	h.outbox = append(h.outbox, OutboundItem{Kind: KindGetRequest, Payload: request.Encode()})

	log.Host.Debug().
		Str("dest", string(request.Dest)).
		Uint64("nonce", request.Nonce).
		Msg("get request dispatched")
	return nil
}

// submitResponse is called by a destination-side module from within
// OnAccept; the request must have been delivered here first.
func (h *Host) submitResponse(envelope []byte) error {
	response, err := ismp.DecodePostResponse(envelope)
	if err != nil {
		return err
	}

	reqCommitment := response.Request.Commitment()
	if _, err := h.kv.Get(recvKey(reqCommitment)); err != nil {
		if err == pebble.ErrNotFound {
			return ErrUnknownRequest
		}
		return err
	}

	commitment := response.Commitment()
	if err := h.kv.Put(respKey(commitment), response.Encode()); err != nil {
		return err
	}
	h.acc.Append(commitment)
	h.outbox = append(h.outbox, OutboundItem{Kind: KindPostResponse, Payload: response.Encode()})

	log.Host.Debug().
		Uint64("nonce", response.Request.Nonce).
		Msg("post response dispatched")
	return nil
}

// DrainOutbound returns and clears the queue of messages waiting for relay.
func (h *Host) DrainOutbound() []OutboundItem {
	out := h.outbox
	h.outbox = nil
	return out
}

// Receive decodes one relayed message and applies it. This is the single
// inbound entry point used by both the in-process pair and the QUIC relay.
func (h *Host) Receive(kind MessageKind, payload []byte) error {
	switch kind {
	case KindPostRequest:
		request, err := ismp.DecodePostRequest(payload)
		if err != nil {
			return err
		}
		return h.deliverPost(request)
	case KindGetRequest:
		request, err := ismp.DecodeGetRequest(payload)
		if err != nil {
			return err
		}
		return h.deliverGet(request)
	case KindPostResponse:
		response, err := ismp.DecodePostResponse(payload)
		if err != nil {
			return err
		}
		return h.deliverPostResponse(response)
	case KindGetResponse:
		response, err := ismp.DecodeGetResponse(payload)
		if err != nil {
			return err
		}
		return h.deliverGetResponse(response)
	default:
		return ErrUnknownKind
	}
}

func (h *Host) expired(timeout uint64) bool {
	return timeout != 0 && h.cfg.Clock() >= timeout
}

// deliverPost executes an inbound Post request on the destination chain.
// Each request commitment is accepted at most once.
func (h *Host) deliverPost(request ismp.PostRequest) error {
	if request.Dest != h.cfg.Self {
		return ErrSelfDispatch
	}
	if h.expired(request.TimeoutTimestamp) {
		return ErrExpired
	}

	commitment := request.Commitment()
	if _, err := h.kv.Get(recvKey(commitment)); err == nil {
		return ErrAlreadyResolved
	}

	module, ok := h.modules[request.To]
	if !ok {
		return ErrUnknownModule
	}

	// Record receipt first so the module's SubmitResponse call from within
	// OnAccept finds the request commitment.
	if err := h.kv.Put(recvKey(commitment), []byte{0x01}); err != nil {
		return err
	}
	if err := module.OnAccept(h.cfg.Origin, request); err != nil {
		// A rejected request is not a receipt
		if derr := h.kv.Delete(recvKey(commitment)); derr != nil {
			log.Host.Error().Err(derr).Msg("removing receipt after failed accept")
		}
		return err
	}
	return nil
}

// deliverGet executes an inbound Get request: the host reads its own state,
// no module is involved on the destination chain. A missing key yields a
// StorageValue with a nil value, the proof-of-absence shape.
func (h *Host) deliverGet(request ismp.GetRequest) error {
	if request.Dest != h.cfg.Self {
		return ErrSelfDispatch
	}
	if h.expired(request.TimeoutTimestamp) {
		return ErrExpired
	}

	values := make([]ismp.StorageValue, 0, len(request.Keys))
	for _, key := range request.Keys {
		value, err := h.kv.Get(stateKey(key))
		if err != nil && err != pebble.ErrNotFound {
			return err
		}
		values = append(values, ismp.StorageValue{Key: key, Value: value})
	}

	response := ismp.GetResponse{Request: request, Values: values}
	commitment := response.Commitment()
	if err := h.kv.Put(respKey(commitment), response.Encode()); err != nil {
		return err
	}
	h.acc.Append(commitment)
	h.outbox = append(h.outbox, OutboundItem{Kind: KindGetResponse, Payload: response.Encode()})
	return nil
}

// deliverPostResponse resolves an outstanding Post request on the source
// chain. At most one terminal callback fires per request.
func (h *Host) deliverPostResponse(response ismp.PostResponse) error {
	commitment := response.Request.Commitment()
	request, ok := h.outPosts[commitment]
	if !ok {
		if h.isTerminal(commitment) {
			return ErrAlreadyResolved
		}
		return ErrUnknownRequest
	}

	module, mok := h.modules[request.From]
	if !mok {
		return ErrUnknownModule
	}

	if err := h.markTerminal(commitment); err != nil {
		return err
	}
	delete(h.outPosts, commitment)
	return module.OnPostResponse(h.cfg.Origin, response)
}

// deliverGetResponse resolves an outstanding Get request on the source chain.
func (h *Host) deliverGetResponse(response ismp.GetResponse) error {
	commitment := response.Request.Commitment()
	request, ok := h.outGets[commitment]
	if !ok {
		if h.isTerminal(commitment) {
			return ErrAlreadyResolved
		}
		return ErrUnknownRequest
	}

	module, mok := h.modules[request.From]
	if !mok {
		return ErrUnknownModule
	}

	if err := h.markTerminal(commitment); err != nil {
		return err
	}
	delete(h.outGets, commitment)
	return module.OnGetResponse(h.cfg.Origin, response)
}

// SweepTimeouts fires the timeout callback for every outstanding request
// whose deadline has passed. Requests that already reached a terminal state
// are untouched.
func (h *Host) SweepTimeouts() error {
	now := h.cfg.Clock()

	for commitment, request := range h.outPosts {
		if request.TimeoutTimestamp == 0 || now < request.TimeoutTimestamp {
			continue
		}
		module, ok := h.modules[request.From]
		if !ok {
			return ErrUnknownModule
		}
		if err := h.markTerminal(commitment); err != nil {
			return err
		}
		delete(h.outPosts, commitment)
		if err := module.OnPostTimeout(h.cfg.Origin, request); err != nil {
			return err
		}
		log.Host.Debug().Uint64("nonce", request.Nonce).Msg("post request timed out")
	}

	for commitment, request := range h.outGets {
		if request.TimeoutTimestamp == 0 || now < request.TimeoutTimestamp {
			continue
		}
		module, ok := h.modules[request.From]
		if !ok {
			return ErrUnknownModule
		}
		if err := h.markTerminal(commitment); err != nil {
			return err
		}
		delete(h.outGets, commitment)
		if err := module.OnGetTimeout(h.cfg.Origin, request); err != nil {
			return err
		}
		log.Host.Debug().Uint64("nonce", request.Nonce).Msg("get request timed out")
	}

	return nil
}

// Root returns the current super peak of the commitment accumulator.
func (h *Host) Root() crypto.Hash {
	return h.acc.SuperPeak()
}

func (h *Host) isTerminal(commitment crypto.Hash) bool {
	_, err := h.kv.Get(termKey(commitment))
	return err == nil
}

func (h *Host) markTerminal(commitment crypto.Hash) error {
	return h.kv.Put(termKey(commitment), []byte{0x01})
}

func postReqKey(c crypto.Hash) []byte {
	return append(append([]byte{}, postReqPrefix...), c[:]...)
}
func getReqKey(c crypto.Hash) []byte {
	return append(append([]byte{}, getReqPrefix...), c[:]...)
}
func respKey(c crypto.Hash) []byte { return append(append([]byte{}, respPrefix...), c[:]...) }
func recvKey(c crypto.Hash) []byte { return append(append([]byte{}, recvPrefix...), c[:]...) }
func termKey(c crypto.Hash) []byte { return append(append([]byte{}, termPrefix...), c[:]...) }
func stateKey(key []byte) []byte   { return append(append([]byte{}, statePrefix...), key...) }
