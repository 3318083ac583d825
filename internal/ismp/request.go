package ismp

import (
	"github.com/brambleio/bramble/internal/crypto"
	"github.com/brambleio/bramble/pkg/serialization/codec"
)

// PostRequest carries an opaque body to a module on the destination chain.
// Nonce is assigned by the host at submission; modules never set or read it.
type PostRequest struct {
	Source           StateMachine
	Dest             StateMachine
	Nonce            uint64
	From             ModuleID
	To               ModuleID
	TimeoutTimestamp uint64
	Body             []byte
	GasLimit         uint64
}

// GetRequest asks the destination chain for the values of storage keys at a
// given height.
type GetRequest struct {
	Source           StateMachine
	Dest             StateMachine
	Nonce            uint64
	From             ModuleID
	TimeoutTimestamp uint64
	Keys             [][]byte
	Height           uint64
	GasLimit         uint64
}

func (r PostRequest) encode(w *codec.Writer) {
	w.WriteBytes([]byte(r.Source))
	w.WriteBytes([]byte(r.Dest))
	w.WriteUint64(r.Nonce)
	w.WriteRaw(r.From[:])
	w.WriteRaw(r.To[:])
	w.WriteUint64(r.TimeoutTimestamp)
	w.WriteBytes(r.Body)
	w.WriteUint64(r.GasLimit)
}

// Encode returns the canonical encoding of the request. The same bytes feed
// commitment hashing on both chains, so the field order is fixed.
func (r PostRequest) Encode() []byte {
	w := codec.NewWriter()
	r.encode(w)
	return w.Bytes()
}

// Commitment is the blake2b-256 digest of the canonical request encoding.
func (r PostRequest) Commitment() crypto.Hash {
	return crypto.HashData(r.Encode())
}

func decodePostRequest(r *codec.Reader) (PostRequest, error) {
	var req PostRequest

	source, err := r.ReadBytes()
	if err != nil {
		return req, err
	}
	dest, err := r.ReadBytes()
	if err != nil {
		return req, err
	}
	nonce, err := r.ReadUint64()
	if err != nil {
		return req, err
	}
	from, err := r.ReadRaw(len(req.From))
	if err != nil {
		return req, err
	}
	to, err := r.ReadRaw(len(req.To))
	if err != nil {
		return req, err
	}
	timeout, err := r.ReadUint64()
	if err != nil {
		return req, err
	}
	body, err := r.ReadBytes()
	if err != nil {
		return req, err
	}
	gasLimit, err := r.ReadUint64()
	if err != nil {
		return req, err
	}

	req.Source = StateMachine(source)
	req.Dest = StateMachine(dest)
	req.Nonce = nonce
	copy(req.From[:], from)
	copy(req.To[:], to)
	req.TimeoutTimestamp = timeout
	req.Body = body
	req.GasLimit = gasLimit
	return req, nil
}

// DecodePostRequest decodes a canonical request encoding, rejecting
// truncated or overlong input.
func DecodePostRequest(data []byte) (PostRequest, error) {
	r := codec.NewReader(data)
	req, err := decodePostRequest(r)
	if err != nil {
		return PostRequest{}, err
	}
	if err := r.Finish(); err != nil {
		return PostRequest{}, err
	}
	return req, nil
}

func (r GetRequest) encode(w *codec.Writer) {
	w.WriteBytes([]byte(r.Source))
	w.WriteBytes([]byte(r.Dest))
	w.WriteUint64(r.Nonce)
	w.WriteRaw(r.From[:])
	w.WriteUint64(r.TimeoutTimestamp)
	w.WriteSequence(r.Keys)
	w.WriteUint64(r.Height)
	w.WriteUint64(r.GasLimit)
}

// Encode returns the canonical encoding of the request.
func (r GetRequest) Encode() []byte {
	w := codec.NewWriter()
	r.encode(w)
	return w.Bytes()
}

// Commitment is the blake2b-256 digest of the canonical request encoding.
func (r GetRequest) Commitment() crypto.Hash {
	return crypto.HashData(r.Encode())
}

func decodeGetRequest(r *codec.Reader) (GetRequest, error) {
	var req GetRequest

	source, err := r.ReadBytes()
	if err != nil {
		return req, err
	}
	dest, err := r.ReadBytes()
	if err != nil {
		return req, err
	}
	nonce, err := r.ReadUint64()
	if err != nil {
		return req, err
	}
	from, err := r.ReadRaw(len(req.From))
	if err != nil {
		return req, err
	}
	timeout, err := r.ReadUint64()
	if err != nil {
		return req, err
	}
	keys, err := r.ReadSequence()
	if err != nil {
		return req, err
	}
	height, err := r.ReadUint64()
	if err != nil {
		return req, err
	}
	gasLimit, err := r.ReadUint64()
	if err != nil {
		return req, err
	}

	req.Source = StateMachine(source)
	req.Dest = StateMachine(dest)
	req.Nonce = nonce
	copy(req.From[:], from)
	req.TimeoutTimestamp = timeout
	req.Keys = keys
	req.Height = height
	req.GasLimit = gasLimit
	return req, nil
}

// DecodeGetRequest decodes a canonical request encoding, rejecting truncated
// or overlong input.
func DecodeGetRequest(data []byte) (GetRequest, error) {
	r := codec.NewReader(data)
	req, err := decodeGetRequest(r)
	if err != nil {
		return GetRequest{}, err
	}
	if err := r.Finish(); err != nil {
		return GetRequest{}, err
	}
	return req, nil
}
