package wire

import "github.com/omnidma/adamap-engine/internal/adamap"

// PackBitmap packs the first len(bits) positions (capped at
// adamap.MaxBitmapSize) into the fixed-size word array carried on the
// wire, bit i landing at word i/64, bit i%64.
func PackBitmap(bits []bool) [4]uint64 {
	var words [4]uint64
	for i, set := range bits {
		if i >= adamap.MaxBitmapSize || !set {
			continue
		}
		words[i/64] |= 1 << uint(i%64)
	}
	return words
}

// UnpackBitmap expands words back into an n-bit bool slice.
func UnpackBitmap(words [4]uint64, n int) []bool {
	if n > adamap.MaxBitmapSize {
		n = adamap.MaxBitmapSize
	}
	bits := make([]bool, n)
	for i := 0; i < n; i++ {
		bits[i] = words[i/64]&(1<<uint(i%64)) != 0
	}
	return bits
}

// NACKFrameFromAdamap builds the wire representation of one adamap's
// NACK, packing its bitmap into words and carrying the retransmission
// tier it was recorded at.
func NACKFrameFromAdamap(flowID uint16, a adamap.Adamap, tableIndex int32, cumAckSeq uint32, retransTier int, bitmapSize int) NACKFrame {
	return NACKFrame{
		FlowID:      flowID,
		AdamapID:    a.ID,
		StartSeq:    a.StartSeq,
		ReprLength:  a.ReprLength,
		TableIndex:  tableIndex,
		CumAckSeq:   cumAckSeq,
		RetransTier: retransTier,
		BitmapSize:  bitmapSize,
		Words:       PackBitmap(a.Bitmap),
	}
}

// AdamapFromNACKFrame reconstructs the Adamap a NACKFrame describes.
func AdamapFromNACKFrame(f NACKFrame) adamap.Adamap {
	return adamap.Adamap{
		ID:         f.AdamapID,
		StartSeq:   f.StartSeq,
		ReprLength: f.ReprLength,
		Bitmap:     UnpackBitmap(f.Words, f.BitmapSize),
	}
}
