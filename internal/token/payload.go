package token

import (
	"github.com/brambleio/bramble/internal/ismp"
	"github.com/brambleio/bramble/pkg/serialization/codec"
)

// Payload is the body of a transfer Post request. A zero Amount is a legal
// no-op; the module does not reject it.
type Payload struct {
	To     ismp.AccountID
	From   ismp.AccountID
	Amount uint64
}

// Encode serializes the payload as the fixed layout (to, from, amount).
func (p Payload) Encode() []byte {
	w := codec.NewWriter()
	w.WriteRaw(p.To[:])
	w.WriteRaw(p.From[:])
	w.WriteUint64(p.Amount)
	return w.Bytes()
}

// DecodePayload decodes a payload, failing deterministically on truncated or
// overlong input.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	r := codec.NewReader(data)

	to, err := r.ReadRaw(len(p.To))
	if err != nil {
		return p, err
	}
	from, err := r.ReadRaw(len(p.From))
	if err != nil {
		return p, err
	}
	amount, err := r.ReadUint64()
	if err != nil {
		return p, err
	}
	if err := r.Finish(); err != nil {
		return p, err
	}

	copy(p.To[:], to)
	copy(p.From[:], from)
	p.Amount = amount
	return p, nil
}
