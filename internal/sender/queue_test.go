package sender

import (
	"testing"

	"github.com/omnidma/adamap-engine/internal/adamap"
)

func TestEnqueueMaterializesGapsInOrder(t *testing.T) {
	q := New(nil)
	a := adamap.Adamap{ID: 1, StartSeq: 10, ReprLength: 4, Bitmap: []bool{true, false, true, false}}
	q.Enqueue(a, 0, adamap.NoTableIndex)

	if q.PendingLoss() != 2 {
		t.Fatalf("expected 2 loss entries, got %d", q.PendingLoss())
	}
	first, ok := q.DequeueLoss(true)
	if !ok || first.LossSeq != 12 {
		t.Fatalf("expected first loss seq 12, got %+v", first)
	}
	second, ok := q.DequeueLoss(true)
	if !ok || second.LossSeq != 14 {
		t.Fatalf("expected second loss seq 14, got %+v", second)
	}
	if _, ok := q.DequeueLoss(true); ok {
		t.Fatalf("expected queue to be drained")
	}
}

func TestEnqueueRangeExtensionIsAllLoss(t *testing.T) {
	q := New(nil)
	// reprLength (6) exceeds the bitmap length (4): seqs beyond the
	// tracked window are definitionally lost.
	a := adamap.Adamap{ID: 2, StartSeq: 0, ReprLength: 6, Bitmap: []bool{true, true, true, true}}
	q.Enqueue(a, 2, 5)

	if q.PendingLoss() != 2 {
		t.Fatalf("expected 2 loss entries from range extension, got %d", q.PendingLoss())
	}
	e, _ := q.DequeueLoss(true)
	if e.LossSeq != 5 || e.TableIndex != 5 {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := New(nil)
	a := adamap.Adamap{ID: 1, StartSeq: 0, ReprLength: 1, Bitmap: []bool{false}}
	q.Enqueue(a, 0, adamap.NoTableIndex)

	if _, ok := q.DequeueLoss(false); !ok {
		t.Fatalf("expected a peekable entry")
	}
	if q.PendingLoss() != 1 {
		t.Fatalf("expected peek to leave entry queued, pending=%d", q.PendingLoss())
	}
}
