package ismp

import (
	"github.com/brambleio/bramble/pkg/serialization/codec"
)

// PostEnvelope is the submission format a module hands to the host when
// dispatching a Post request. The host fills in Source, From and Nonce when
// it turns the envelope into a full PostRequest.
type PostEnvelope struct {
	Dest             StateMachine
	To               ModuleID
	Body             []byte
	TimeoutTimestamp uint64
	GasLimit         uint64
}

// GetEnvelope is the submission format for a Get request.
type GetEnvelope struct {
	Dest             StateMachine
	Height           uint64
	Keys             [][]byte
	TimeoutTimestamp uint64
	GasLimit         uint64
}

// Encode serializes the envelope with field order (dest, to, body, timeout,
// gasLimit).
func (e PostEnvelope) Encode() []byte {
	w := codec.NewWriter()
	w.WriteBytes([]byte(e.Dest))
	w.WriteRaw(e.To[:])
	w.WriteBytes(e.Body)
	w.WriteUint64(e.TimeoutTimestamp)
	w.WriteUint64(e.GasLimit)
	return w.Bytes()
}

// DecodePostEnvelope decodes a Post envelope, rejecting truncated or overlong
// input.
func DecodePostEnvelope(data []byte) (PostEnvelope, error) {
	var e PostEnvelope
	r := codec.NewReader(data)

	dest, err := r.ReadBytes()
	if err != nil {
		return e, err
	}
	to, err := r.ReadRaw(len(e.To))
	if err != nil {
		return e, err
	}
	body, err := r.ReadBytes()
	if err != nil {
		return e, err
	}
	timeout, err := r.ReadUint64()
	if err != nil {
		return e, err
	}
	gasLimit, err := r.ReadUint64()
	if err != nil {
		return e, err
	}
	if err := r.Finish(); err != nil {
		return e, err
	}

	e.Dest = StateMachine(dest)
	copy(e.To[:], to)
	e.Body = body
	e.TimeoutTimestamp = timeout
	e.GasLimit = gasLimit
	return e, nil
}

// Encode serializes the envelope with field order (dest, height, keys,
// timeout, gasLimit).
func (e GetEnvelope) Encode() []byte {
	w := codec.NewWriter()
	w.WriteBytes([]byte(e.Dest))
	w.WriteUint64(e.Height)
	w.WriteSequence(e.Keys)
	w.WriteUint64(e.TimeoutTimestamp)
	w.WriteUint64(e.GasLimit)
	return w.Bytes()
}

// DecodeGetEnvelope decodes a Get envelope, rejecting truncated or overlong
// input.
func DecodeGetEnvelope(data []byte) (GetEnvelope, error) {
	var e GetEnvelope
	r := codec.NewReader(data)

	dest, err := r.ReadBytes()
	if err != nil {
		return e, err
	}
	height, err := r.ReadUint64()
	if err != nil {
		return e, err
	}
	keys, err := r.ReadSequence()
	if err != nil {
		return e, err
	}
	timeout, err := r.ReadUint64()
	if err != nil {
		return e, err
	}
	gasLimit, err := r.ReadUint64()
	if err != nil {
		return e, err
	}
	if err := r.Finish(); err != nil {
		return e, err
	}

	e.Dest = StateMachine(dest)
	e.Height = height
	e.Keys = keys
	e.TimeoutTimestamp = timeout
	e.GasLimit = gasLimit
	return e, nil
}
