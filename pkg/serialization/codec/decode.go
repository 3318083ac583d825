package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

// Reader decodes values from a byte slice. Every read advances the offset;
// Finish must be called after the last field to reject overlong input.
type Reader struct {
	data []byte
	off  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// ReadUint64 decodes 8 little-endian bytes.
func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadUint32 decodes 4 little-endian bytes.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadCompact decodes a general compact natural (1-9 bytes).
func (r *Reader) ReadCompact() (uint64, error) {
	prefix, err := r.take(1)
	if err != nil {
		return 0, fmt.Errorf(ErrDecodingCompact, err)
	}

	l := uint8(bits.LeadingZeros8(^prefix[0]))
	if l == 8 {
		b, err := r.take(8)
		if err != nil {
			return 0, fmt.Errorf(ErrDecodingCompact, err)
		}
		return binary.LittleEndian.Uint64(b), nil
	}

	b, err := r.take(int(l))
	if err != nil {
		return 0, fmt.Errorf(ErrDecodingCompact, err)
	}
	var x uint64
	for i := uint8(0); i < l; i++ {
		x |= uint64(b[i]) << (8 * i)
	}
	x |= uint64(prefix[0]&(math.MaxUint8>>l)) << (8 * l)
	return x, nil
}

// ReadBytes decodes a compact length prefix followed by that many raw bytes.
// The returned slice is a copy.
func (r *Reader) ReadBytes() ([]byte, error) {
	length, err := r.ReadCompact()
	if err != nil {
		return nil, err
	}
	if length > math.MaxUint32 {
		return nil, ErrExceedingByteSliceLimit
	}
	b, err := r.take(int(length))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadRaw decodes n raw bytes with no length prefix.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Remaining returns the number of unconsumed input bytes. Decoders bound
// attacker-controlled element counts with it before allocating.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// ReadSequence decodes a compact element count followed by that many
// length-prefixed byte strings.
func (r *Reader) ReadSequence() ([][]byte, error) {
	count, err := r.ReadCompact()
	if err != nil {
		return nil, fmt.Errorf(ErrDecodingSequence, err)
	}
	// Each element carries at least its one-byte length prefix, so a count
	// beyond the remaining input can never decode.
	if count > math.MaxUint32 || count > uint64(r.Remaining()) {
		return nil, ErrExceedingByteSliceLimit
	}
	items := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := r.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf(ErrDecodingSequence, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Finish returns ErrTrailingBytes if any input remains unconsumed.
func (r *Reader) Finish() error {
	if r.off != len(r.data) {
		return ErrTrailingBytes
	}
	return nil
}
