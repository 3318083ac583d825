// Package mmr implements a Merkle mountain range accumulator. The host
// appends every request and response commitment to it; the super peak is the
// digest a consensus layer would sign over.
package mmr

import (
	"github.com/brambleio/bramble/internal/crypto"
	"github.com/brambleio/bramble/pkg/serialization/codec"
)

// Accumulator is an append-only MMR over commitment hashes. Peak n covers
// 2^n leaves; a nil slot means no peak of that size exists yet.
type Accumulator struct {
	peaks  []*crypto.Hash
	leaves uint64
}

func New() *Accumulator {
	return &Accumulator{}
}

// Append adds a leaf and merges equal-sized peaks upward.
func (a *Accumulator) Append(leaf crypto.Hash) {
	a.peaks = placePeak(a.peaks, &leaf, 0)
	a.leaves++
}

func placePeak(peaks []*crypto.Hash, item *crypto.Hash, position int) []*crypto.Hash {
	if position >= len(peaks) {
		return append(peaks, item)
	}

	if peaks[position] == nil {
		peaks[position] = item
		return peaks
	}

	combined := append(append([]byte{}, peaks[position][:]...), item[:]...)
	merged := crypto.HashData(combined)
	peaks[position] = nil
	return placePeak(peaks, &merged, position+1)
}

// Leaves returns the number of appended leaves.
func (a *Accumulator) Leaves() uint64 {
	return a.leaves
}

// SuperPeak folds all peaks into a single digest. Empty accumulator yields
// the zero hash.
func (a *Accumulator) SuperPeak() crypto.Hash {
	valid := make([]*crypto.Hash, 0, len(a.peaks))
	for _, peak := range a.peaks {
		if peak != nil {
			valid = append(valid, peak)
		}
	}
	return foldPeaks(valid)
}

func foldPeaks(peaks []*crypto.Hash) crypto.Hash {
	if len(peaks) == 0 {
		return crypto.Hash{}
	}
	if len(peaks) == 1 {
		return *peaks[0]
	}

	last := *peaks[len(peaks)-1]
	rest := foldPeaks(peaks[:len(peaks)-1])

	combined := append([]byte("peak"), rest[:]...)
	combined = append(combined, last[:]...)
	return crypto.HashData(combined)
}

// Encode serializes the peak list: a compact count followed by one
// presence-prefixed hash per slot.
func (a *Accumulator) Encode() []byte {
	w := codec.NewWriter()
	w.WriteCompact(uint64(len(a.peaks)))
	for _, peak := range a.peaks {
		if peak == nil {
			w.WriteRaw([]byte{0x00})
			continue
		}
		w.WriteRaw([]byte{0x01})
		w.WriteRaw(peak[:])
	}
	return w.Bytes()
}
