package adamap

import "testing"

func TestWireWordsRoundTrip(t *testing.T) {
	sizes := []int{1, 4, 7, 63, 64, 65, 128, 200, 256}
	for _, size := range sizes {
		bitmap := make([]bool, size)
		for i := range bitmap {
			bitmap[i] = i%3 == 0
		}
		words := BitmapToWireWords(bitmap)
		got := WireWordsToBitmap(words, size)
		if len(got) != len(bitmap) {
			t.Fatalf("size %d: length mismatch got %d want %d", size, len(got), len(bitmap))
		}
		for i := range bitmap {
			if got[i] != bitmap[i] {
				t.Fatalf("size %d: bit %d mismatch got %v want %v", size, i, got[i], bitmap[i])
			}
		}
	}
}

func TestIsBitmapFull(t *testing.T) {
	a := &Adamap{ReprLength: 4, Bitmap: []bool{true, true, true, true}}
	if !IsBitmapFull(a, 4) {
		t.Fatalf("expected full bitmap")
	}
	a.Bitmap[2] = false
	if IsBitmapFull(a, 4) {
		t.Fatalf("expected not full bitmap")
	}
}

func TestIsBitmapFullRangeExtension(t *testing.T) {
	// reprLength > B: only the first B bits are checked for fullness.
	a := &Adamap{ReprLength: 20, Bitmap: []bool{true, true, true, true}}
	if !IsBitmapFull(a, 4) {
		t.Fatalf("expected full over representable window despite range extension")
	}
}

func TestIsLastHole(t *testing.T) {
	a := &Adamap{ReprLength: 4, Bitmap: []bool{true, false, true, true}}
	if !IsLastHole(a, 1, 4) {
		t.Fatalf("bit 1 should be the last hole")
	}
	a2 := &Adamap{ReprLength: 4, Bitmap: []bool{false, true, false, true}}
	if IsLastHole(a2, 1, 4) {
		t.Fatalf("bit 1 is not the last hole: bit 2 is still false")
	}
}

func TestSplitPeelsWindowsAndResets(t *testing.T) {
	node := &Adamap{ID: 7, StartSeq: 2, ReprLength: 17, Bitmap: []bool{false, false, false, false}}
	peeled := Split(node, 4, false)
	if len(peeled) != 4 {
		t.Fatalf("expected 4 peeled windows for reprLength 17 with B=4, got %d", len(peeled))
	}
	if peeled[0].StartSeq != 2 || peeled[0].ReprLength != 4 {
		t.Fatalf("unexpected first peeled window: %+v", peeled[0])
	}
	if node.StartSeq != 18 || node.ReprLength != 1 {
		t.Fatalf("unexpected node state after split: %+v", node)
	}
	for _, b := range node.Bitmap {
		if b {
			t.Fatalf("expected node bitmap reset to all-false")
		}
	}
}

func TestSplitSkipsAllOnesWindows(t *testing.T) {
	// The first window carries the real (fully-received) bitmap and is
	// skipped; the overflow beyond B is, by construction, always a loss
	// run (range extension never carries a tracked bitmap), so the
	// second peeled window is always-false and always kept.
	node := &Adamap{ID: 1, StartSeq: 0, ReprLength: 9, Bitmap: []bool{true, true, true, true}}
	peeled := Split(node, 4, true)
	if len(peeled) != 1 {
		t.Fatalf("expected 1 peeled window (the all-false overflow), got %d", len(peeled))
	}
	if IsBitmapFull(&peeled[0], 4) {
		t.Fatalf("expected peeled overflow window to be all-false, not full")
	}
	if node.ReprLength != 1 || node.StartSeq != 8 {
		t.Fatalf("unexpected node state: %+v", node)
	}
}

func TestSplitMultiWindow(t *testing.T) {
	node := &Adamap{ID: 1, StartSeq: 2, ReprLength: 29, Bitmap: []bool{false, false, false, false}}
	peeled := Split(node, 4, false)
	if len(peeled) != 7 {
		t.Fatalf("expected 7 peeled windows (29 = 4*7 + 1), got %d", len(peeled))
	}
	if node.ReprLength != 1 {
		t.Fatalf("expected remainder reprLength 1, got %d", node.ReprLength)
	}
}

func TestPopCount(t *testing.T) {
	a := &Adamap{ReprLength: 4, Bitmap: []bool{true, false, true, false}}
	if got := PopCount(a, 4); got != 2 {
		t.Fatalf("expected popcount 2, got %d", got)
	}
}
