// Package codec implements the deterministic wire encoding used for message
// payloads, dispatch envelopes and commitments. Unsigned integers are encoded
// fixed-width little-endian, lengths as general compact naturals (1-9 bytes),
// byte strings and sequences length-prefixed.
package codec

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Writer accumulates an encoded value. The zero value is ready to use.
type Writer struct {
	buf bytes.Buffer
}

func NewWriter() *Writer {
	return &Writer{}
}

// WriteUint64 appends x as 8 little-endian bytes.
func (w *Writer) WriteUint64(x uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	w.buf.Write(b[:])
}

// WriteUint32 appends x as 4 little-endian bytes.
func (w *Writer) WriteUint32(x uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], x)
	w.buf.Write(b[:])
}

// WriteCompact appends x using the general compact natural encoding. The
// encoding is variable-length (1-9 bytes): the count of leading one bits in
// the prefix byte gives the number of trailing bytes.
func (w *Writer) WriteCompact(x uint64) {
	var l uint8
	for l = 0; l < 8; l++ {
		if x < (1 << (7 * (l + 1))) {
			break
		}
	}

	if l < 8 {
		prefix := uint8((256 - (1 << (8 - l))) + (x>>(8*l))&math.MaxUint8)
		w.buf.WriteByte(prefix)
	} else {
		w.buf.WriteByte(math.MaxUint8)
	}
	for i := uint8(0); i < l; i++ {
		w.buf.WriteByte(uint8((x >> (8 * i)) & math.MaxUint8))
	}
}

// WriteBytes appends b as a compact length prefix followed by the raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteCompact(uint64(len(b)))
	w.buf.Write(b)
}

// WriteRaw appends b with no length prefix. Used for fixed-size fields whose
// length is known to both sides.
func (w *Writer) WriteRaw(b []byte) {
	w.buf.Write(b)
}

// WriteSequence appends a compact element count followed by each element,
// each encoded as a length-prefixed byte string.
func (w *Writer) WriteSequence(items [][]byte) {
	w.WriteCompact(uint64(len(items)))
	for _, item := range items {
		w.WriteBytes(item)
	}
}

// Bytes returns the encoded value accumulated so far.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}
