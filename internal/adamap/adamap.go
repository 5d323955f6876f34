// Package adamap implements the adamap descriptor: a compact summary of
// which sequence numbers in a contiguous range have arrived, as a
// fixed-length bitmap optionally extended by a range-only tail for gaps
// longer than the bitmap.
package adamap

import "time"

// WireWords is the number of 64-bit words carried on the wire per adamap
// bitmap, giving a maximum representable bitmap length of 256 bits.
const WireWords = 4

// MaxBitmapSize is the largest legal per-flow bitmap length B.
const MaxBitmapSize = WireWords * 64

// Adamap is an immutable-after-finalization descriptor of a contiguous run
// of sequence numbers and which of them have been received.
//
// seq n is represented by this map iff startSeq < n <= startSeq+reprLength.
// When reprLength exceeds len(Bitmap), the overflow is a contiguous
// unreceived run beyond the tracked bitmap window.
type Adamap struct {
	ID         uint32
	StartSeq   uint32
	ReprLength uint32
	Bitmap     []bool
}

// AdamapWithIndex is the server-side envelope around an Adamap: its
// position (if any) in the lookup table, completion state, and retry
// bookkeeping.
type AdamapWithIndex struct {
	Adamap         Adamap
	TableIndex     int32 // -1 if not currently in the lookup table
	IsFinished     bool
	LastCallTime   time.Time
	MaxRetransTier int
	InNicCache     bool
}

// NoTableIndex is the sentinel TableIndex value for an adamap not
// currently held in the lookup table.
const NoTableIndex int32 = -1

// representableLen returns how many bitmap positions of a are actually
// addressable given a flow bitmap size B.
func representableLen(reprLength uint32, b int) int {
	n := int(reprLength)
	if n > b {
		n = b
	}
	return n
}

// IsBitmapFull reports whether every bit within [0, min(reprLength, B))
// is set.
func IsBitmapFull(a *Adamap, b int) bool {
	n := representableLen(a.ReprLength, b)
	for i := 0; i < n; i++ {
		if !a.Bitmap[i] {
			return false
		}
	}
	return true
}

// IsLastHole reports whether every bit strictly after position i, within
// the representable range, is set — i.e. flipping bit i would complete
// the bitmap.
func IsLastHole(a *Adamap, i int, b int) bool {
	n := representableLen(a.ReprLength, b)
	for j := i + 1; j < n; j++ {
		if !a.Bitmap[j] {
			return false
		}
	}
	return true
}

// BitmapToWireWords packs a logical bitmap into the fixed four-word wire
// form. Bits beyond position 256 are dropped; callers must keep B <= 256.
func BitmapToWireWords(bitmap []bool) [WireWords]uint64 {
	var words [WireWords]uint64
	for i, set := range bitmap {
		if i >= MaxBitmapSize {
			break
		}
		if set {
			words[i/64] |= 1 << uint(i%64)
		}
	}
	return words
}

// WireWordsToBitmap unpacks the wire form back into a logical bitmap of
// the given size. size must be <= 256.
func WireWordsToBitmap(words [WireWords]uint64, size int) []bool {
	bitmap := make([]bool, size)
	for i := 0; i < size && i < MaxBitmapSize; i++ {
		bitmap[i] = words[i/64]&(1<<uint(i%64)) != 0
	}
	return bitmap
}

// Split peels successive B-sized windows off the front of node while its
// reprLength exceeds B, resetting node's bitmap and advancing its
// startSeq/reprLength after each peel. It returns the peeled windows in
// order, oldest first. When skipAllOnes is true, a peeled window whose
// bitmap is entirely true (no loss in that window) is dropped rather than
// returned — used by putLinkedListHeadToTable, which has no reason to
// keep a fully-received window around.
//
// After Split returns, node.ReprLength <= b.
func Split(node *Adamap, b int, skipAllOnes bool) []Adamap {
	var peeled []Adamap
	for int(node.ReprLength) > b {
		window := Adamap{
			ID:         node.ID,
			StartSeq:   node.StartSeq,
			ReprLength: uint32(b),
			Bitmap:     append([]bool(nil), node.Bitmap...),
		}
		if !(skipAllOnes && IsBitmapFull(&window, b)) {
			peeled = append(peeled, window)
		}
		node.StartSeq += uint32(b)
		node.ReprLength -= uint32(b)
		node.Bitmap = make([]bool, b)
	}
	return peeled
}

// PopCount returns the number of true bits within [0, min(reprLength, B)).
func PopCount(a *Adamap, b int) int {
	n := representableLen(a.ReprLength, b)
	count := 0
	for i := 0; i < n; i++ {
		if a.Bitmap[i] {
			count++
		}
	}
	return count
}
