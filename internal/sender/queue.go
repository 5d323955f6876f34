// Package sender implements the sender-side mirror queue: it receives
// adamaps reported by a peer (original or retransmitted) and turns their
// bitmap gaps into an ordered queue of concrete retransmit requests.
package sender

import (
	"container/list"
	"log/slog"

	"github.com/omnidma/adamap-engine/internal/adamap"
)

// LossEntry is one sequence number this queue believes still needs
// retransmission, in FIFO arrival order. RetransTier is the tier the
// reporting NACK asks the resend to use (1 for a list-head report, one
// above the table entry's MaxRetransTier for a table entry), carried
// through verbatim so a tier-2 resend is never confused with a
// tier-3+ one.
type LossEntry struct {
	AdamapID    uint32
	LossSeq     uint32
	RetransTier int
	TableIndex  int32
}

// Queue mirrors the receiver's adamap stream and materializes loss
// entries from each adamap's gaps, in seq order within the adamap and
// FIFO order of adamap arrival.
type Queue struct {
	adamaps *list.List // of adamap.Adamap, history retained for Len/HeadAdamap
	losses  *list.List // of LossEntry

	logger *slog.Logger
}

// New creates an empty Queue.
func New(logger *slog.Logger) *Queue {
	return &Queue{
		adamaps: list.New(),
		losses:  list.New(),
		logger:  logger,
	}
}

// Enqueue records a, tagged with retransTier and (for a tier>=2 report)
// tableIndex, and appends a LossEntry for every seq in a's range that a's
// bitmap shows as not received.
func (q *Queue) Enqueue(a adamap.Adamap, retransTier int, tableIndex int32) {
	q.adamaps.PushBack(a)

	for seq := a.StartSeq + 1; seq <= a.StartSeq+a.ReprLength; seq++ {
		lost := true
		if seq-a.StartSeq <= uint32(len(a.Bitmap)) {
			idx := seq - a.StartSeq - 1
			if a.Bitmap[idx] {
				lost = false
			}
		}
		if lost {
			q.losses.PushBack(LossEntry{
				AdamapID:    a.ID,
				LossSeq:     seq,
				RetransTier: retransTier,
				TableIndex:  tableIndex,
			})
			if q.logger != nil {
				q.logger.Debug("loss detected", "adamap_id", a.ID, "seq", seq)
			}
		}
	}
}

// Len returns the number of adamaps ever enqueued (history, not drained).
func (q *Queue) Len() int {
	return q.adamaps.Len()
}

// HeadAdamap returns the oldest enqueued adamap, if any.
func (q *Queue) HeadAdamap() (adamap.Adamap, bool) {
	front := q.adamaps.Front()
	if front == nil {
		return adamap.Adamap{}, false
	}
	return front.Value.(adamap.Adamap), true
}

// PendingLoss returns the number of retransmit requests not yet dequeued.
func (q *Queue) PendingLoss() int {
	return q.losses.Len()
}

// DequeueLoss pops the oldest pending retransmit request. update=false
// peeks without removing it, mirroring the source's GetRetransSeq(update).
func (q *Queue) DequeueLoss(update bool) (LossEntry, bool) {
	front := q.losses.Front()
	if front == nil {
		return LossEntry{}, false
	}
	entry := front.Value.(LossEntry)
	if update {
		q.losses.Remove(front)
	}
	return entry, true
}
