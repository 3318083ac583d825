package ismp

import (
	"github.com/brambleio/bramble/internal/crypto"
	"github.com/brambleio/bramble/pkg/serialization/codec"
)

// PostResponse is the acknowledgment a destination module returns for an
// accepted Post request. It carries the original request so the source host
// can match it against its commitment store.
type PostResponse struct {
	Request  PostRequest
	Response []byte
}

// GetResponse carries the storage values read on the destination chain for a
// Get request.
type GetResponse struct {
	Request GetRequest
	Values  []StorageValue
}

// Encode returns the canonical encoding of the response.
func (r PostResponse) Encode() []byte {
	w := codec.NewWriter()
	r.Request.encode(w)
	w.WriteBytes(r.Response)
	return w.Bytes()
}

// Commitment is the blake2b-256 digest of the canonical response encoding.
func (r PostResponse) Commitment() crypto.Hash {
	return crypto.HashData(r.Encode())
}

// DecodePostResponse decodes a canonical response encoding, rejecting
// truncated or overlong input.
func DecodePostResponse(data []byte) (PostResponse, error) {
	r := codec.NewReader(data)

	req, err := decodePostRequest(r)
	if err != nil {
		return PostResponse{}, err
	}
	body, err := r.ReadBytes()
	if err != nil {
		return PostResponse{}, err
	}
	if err := r.Finish(); err != nil {
		return PostResponse{}, err
	}
	return PostResponse{Request: req, Response: body}, nil
}

// Encode returns the canonical encoding of the response.
func (r GetResponse) Encode() []byte {
	w := codec.NewWriter()
	r.Request.encode(w)
	w.WriteCompact(uint64(len(r.Values)))
	for _, v := range r.Values {
		w.WriteBytes(v.Key)
		w.WriteBytes(v.Value)
	}
	return w.Bytes()
}

// Commitment is the blake2b-256 digest of the canonical response encoding.
func (r GetResponse) Commitment() crypto.Hash {
	return crypto.HashData(r.Encode())
}

// DecodeGetResponse decodes a canonical response encoding, rejecting
// truncated or overlong input.
func DecodeGetResponse(data []byte) (GetResponse, error) {
	r := codec.NewReader(data)

	req, err := decodeGetRequest(r)
	if err != nil {
		return GetResponse{}, err
	}
	count, err := r.ReadCompact()
	if err != nil {
		return GetResponse{}, err
	}
	// Every value carries two length prefixes, so a count beyond half the
	// remaining input is malformed. Checked before the allocation.
	if count > uint64(r.Remaining())/2 {
		return GetResponse{}, codec.ErrExceedingByteSliceLimit
	}
	values := make([]StorageValue, 0, count)
	for i := uint64(0); i < count; i++ {
		key, err := r.ReadBytes()
		if err != nil {
			return GetResponse{}, err
		}
		value, err := r.ReadBytes()
		if err != nil {
			return GetResponse{}, err
		}
		values = append(values, StorageValue{Key: key, Value: value})
	}
	if err := r.Finish(); err != nil {
		return GetResponse{}, err
	}
	return GetResponse{Request: req, Values: values}, nil
}
