// Package receiver implements the per-flow receiver adamap store: the
// currently-open bitmap, a linked list of finished head adamaps awaiting
// first retry, an LRU-governed lookup table of adamaps awaiting
// multi-retry, cache-hit counters, and the adaptive retransmission
// timeout estimator.
package receiver

import (
	"container/list"
	"log/slog"
	"time"

	"github.com/omnidma/adamap-engine/internal/adamap"
	"github.com/omnidma/adamap-engine/internal/dma"
)

// Status codes returned by Record, per the engine's status dictionary.
const (
	StatusContiguousAdvance = -1
	StatusHoleFilled        = -5
	StatusNewHead           = -6

	StatusTier1NotFound = -11
	StatusTier1TooSmall = -12

	StatusTier1BitFlip       = -14
	StatusTier1NewTableEntry = -15
	StatusTier1HeadErased    = -16
	StatusTier1Slide         = -17
	StatusTier1BeyondBitmap  = -18

	StatusMultiRetryUpdate   = -20
	StatusTableIndexNotFound = -100
)

// RecordResult is the outcome of one Record call.
type RecordResult struct {
	Status          int
	AdamapForNack   *adamap.AdamapWithIndex
	AdamapForPrint  *adamap.Adamap
	NewTableEntries int
	Delay           time.Duration
}

// Config configures a new Store.
type Config struct {
	FlowID             uint16
	BitmapSize         int
	LookupTableLruSize int
	FirstN             int
	RttScaleFactor     float64
	TableTimeoutDelay  time.Duration
	ListTimeoutDelay   time.Duration
	Scheduler          *dma.Scheduler
	Logger             *slog.Logger
	// Strict panics on invariant violations. Without it, a violation is
	// logged and Record carries on applying the update; the offending
	// packet is not dropped.
	Strict bool
	// Now overrides the wall clock; tests inject a deterministic clock.
	Now func() time.Time
}

// Store is a single flow's receiver-side adamap bookkeeping. It is not
// internally synchronized: spec.md's concurrency model has one flow
// driven from one logical clock, so a Store must only be used from one
// goroutine at a time.
type Store struct {
	FlowID uint16

	b int // per-flow bitmap size B

	currentBitmap   []bool
	startSeq        uint32
	reprLength      uint32
	adamapIDCounter uint32

	linkedList *list.List // of *adamap.AdamapWithIndex, front = oldest

	lookupTable        []*adamap.AdamapWithIndex
	currentTableIndex  uint32
	lookupTableLru     []int32
	lookupTableLruSize int

	firstN int

	avgRTT            time.Duration
	omniScaleRTO      time.Duration
	rttScaleFactor    float64
	rttSampleCount    int
	tableTimeoutDelay time.Duration
	listTimeoutDelay  time.Duration

	gotLastPacket bool
	isFinished    bool

	linkedListAccessCount    int
	linkedListCacheHitCount  int
	lookupTableAccessCount   int
	lookupTableCacheHitCount int

	scheduler *dma.Scheduler
	logger    *slog.Logger
	strict    bool
	now       func() time.Time
}

// New creates a Store for one flow.
func New(cfg Config) *Store {
	b := cfg.BitmapSize
	if b <= 0 {
		b = 32
	}
	lruSize := cfg.LookupTableLruSize
	if lruSize <= 0 {
		lruSize = 1
	}
	firstN := cfg.FirstN
	if firstN <= 0 {
		firstN = 2
	}
	rttScale := cfg.RttScaleFactor
	if rttScale <= 0 {
		rttScale = 1.5
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		FlowID:             cfg.FlowID,
		b:                  b,
		currentBitmap:      make([]bool, b),
		reprLength:         uint32(b),
		lookupTableLruSize: lruSize,
		firstN:             firstN,
		rttScaleFactor:     rttScale,
		tableTimeoutDelay:  cfg.TableTimeoutDelay,
		listTimeoutDelay:   cfg.ListTimeoutDelay,
		linkedList:         list.New(),
		scheduler:          cfg.Scheduler,
		logger:             cfg.Logger,
		strict:             cfg.Strict,
		now:                now,
	}
}

// Record processes one packet observation at tier retransTier. tableIndex
// is only consulted for tier >= 2.
func (s *Store) Record(seq uint32, retransTier int, tableIndex int32) RecordResult {
	switch {
	case retransTier == 0:
		return s.recordTier0(seq)
	case retransTier == 1:
		return s.recordTier1(seq)
	default:
		return s.recordTierN(seq, retransTier, tableIndex)
	}
}

func (s *Store) isCurrentBitmapEmpty() bool {
	for _, b := range s.currentBitmap {
		if b {
			return false
		}
	}
	return true
}

func (s *Store) resetCurrentBitmap(newSeq uint32) {
	for i := range s.currentBitmap {
		s.currentBitmap[i] = false
	}
	s.reprLength = uint32(s.b)
	s.startSeq = newSeq
}

func (s *Store) recordTier0(seq uint32) RecordResult {
	if s.isCurrentBitmapEmpty() && (seq == s.startSeq+1 || seq == 0) {
		s.startSeq = seq
		return RecordResult{Status: StatusContiguousAdvance}
	}

	offset := int64(seq) - int64(s.startSeq) - 1
	if offset >= 0 && offset < int64(s.b) {
		s.currentBitmap[offset] = true
		return RecordResult{Status: StatusHoleFilled}
	}

	s.reprLength = uint32(offset)
	finished := adamap.Adamap{
		ID:         s.adamapIDCounter,
		StartSeq:   s.startSeq,
		ReprLength: s.reprLength,
		Bitmap:     append([]bool(nil), s.currentBitmap...),
	}
	head := &adamap.AdamapWithIndex{
		Adamap:         finished,
		TableIndex:     adamap.NoTableIndex,
		LastCallTime:   s.now(),
		MaxRetransTier: 0,
	}

	var delay time.Duration
	if s.scheduler != nil {
		completion := s.scheduler.Submit(s.FlowID, dma.OpLLAppendWrite, dma.AdamapBytes(s.b), true)
		delay = completion.Sub(s.now())
	}
	s.linkedList.PushBack(head)
	printSnap := finished

	s.adamapIDCounter++
	s.resetCurrentBitmap(seq)

	return RecordResult{
		Status:         StatusNewHead,
		AdamapForNack:  head,
		AdamapForPrint: &printSnap,
		Delay:          delay,
	}
}

// findSequenceInHeadBitmaps locates the linked-list node owning seq,
// charging the NIC-cache prefetch and cache-miss DMA ops along the way.
// Returns (position, cacheMiss, notFound, tooSmall, delay).
func (s *Store) findSequenceInHeadBitmaps(seq uint32) (pos int, cacheMiss, notFound, tooSmall bool, delay time.Duration) {
	s.linkedListAccessCount++
	if s.linkedList.Len() == 0 {
		notFound = true
		return
	}

	prefetchBytes := 0
	n := 0
	for e := s.linkedList.Front(); e != nil && n < s.firstN; e = e.Next() {
		prefetchBytes += dma.AdamapBytes(s.b)
		n++
	}
	if prefetchBytes > 0 && s.scheduler != nil {
		completion := s.scheduler.Submit(s.FlowID, dma.OpLLPrefetchRead, prefetchBytes, false)
		delay += completion.Sub(s.now())
	}

	front := s.linkedList.Front().Value.(*adamap.AdamapWithIndex)
	if seq <= front.Adamap.StartSeq {
		tooSmall = true
		return
	}

	i := 0
	for e := s.linkedList.Front(); e != nil; e = e.Next() {
		node := e.Value.(*adamap.AdamapWithIndex)
		start := node.Adamap.StartSeq
		end := start + node.Adamap.ReprLength
		if seq > start && seq <= end {
			if i < s.firstN {
				s.linkedListCacheHitCount++
				pos = i
				return
			}
			cacheMiss = true
			pos = i
			return
		}
		i++
	}
	notFound = true
	return
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func (s *Store) recordTier1(seq uint32) RecordResult {
	pos, cacheMiss, notFound, tooSmall, delay := s.findSequenceInHeadBitmaps(seq)
	if notFound {
		return RecordResult{Status: StatusTier1NotFound, Delay: delay}
	}
	if tooSmall {
		return RecordResult{Status: StatusTier1TooSmall, Delay: delay}
	}
	if cacheMiss && s.scheduler != nil {
		completion := s.scheduler.Submit(s.FlowID, dma.OpLLMissRead, dma.AdamapBytes(s.b), false)
		delay += completion.Sub(s.now())
	}

	newTableEntries := 0
	for i := 0; i < pos; i++ {
		n, d := s.putLinkedListHeadToTable(true, true)
		newTableEntries += n
		delay += d
	}

	front := s.linkedList.Front()
	if front == nil {
		// Every node, including the target, was erased during
		// promotion — the list was inconsistent with pos. Treat as a
		// benign stale update.
		return RecordResult{Status: StatusTier1NotFound, Delay: delay}
	}
	target := front.Value.(*adamap.AdamapWithIndex)
	result := RecordResult{Delay: delay, NewTableEntries: newTableEntries}

	offset := int64(seq) - int64(target.Adamap.StartSeq) - 1
	within := seq-target.Adamap.StartSeq <= uint32(len(target.Adamap.Bitmap))

	if within {
		if offset >= 0 && offset < int64(len(target.Adamap.Bitmap)) && target.Adamap.Bitmap[offset] {
			s.violateInvariant("tier-1 bit already set")
		}
		if target.MaxRetransTier == 0 {
			s.updateOmniRTO(target)
		}
		target.Adamap.Bitmap[offset] = true
		target.LastCallTime = s.now()
		target.MaxRetransTier = 1
		result.Status = StatusTier1BitFlip
		printSnap := target.Adamap
		result.AdamapForPrint = &printSnap

		if adamap.IsLastHole(&target.Adamap, int(offset), s.b) {
			if !adamap.IsBitmapFull(&target.Adamap, s.b) {
				s.pushTableEntry(adamap.Adamap{
					ID:         target.Adamap.ID,
					StartSeq:   target.Adamap.StartSeq,
					ReprLength: minU32(uint32(s.b), target.Adamap.ReprLength),
					Bitmap:     append([]bool(nil), target.Adamap.Bitmap...),
				}, true, &result)
				result.Status = StatusTier1NewTableEntry
			}
			if target.Adamap.ReprLength <= uint32(s.b) {
				printSnap := target.Adamap
				result.AdamapForPrint = &printSnap
				s.linkedList.Remove(front)
				result.Status = StatusTier1HeadErased
			} else {
				target.Adamap.ReprLength -= uint32(s.b)
				target.Adamap.StartSeq += uint32(s.b)
				target.Adamap.Bitmap = make([]bool, s.b)
				printSnap := target.Adamap
				result.AdamapForPrint = &printSnap
				result.Status = StatusTier1Slide
			}
		}
		return result
	}

	// Retransmitted seq lands beyond this head's current bitmap window:
	// peel table entries off the front until the target offset lands
	// inside the remaining window.
	off := offset
	for off >= int64(s.b) {
		s.pushTableEntry(adamap.Adamap{
			ID:         target.Adamap.ID,
			StartSeq:   target.Adamap.StartSeq,
			ReprLength: minU32(uint32(s.b), target.Adamap.ReprLength),
			Bitmap:     append([]bool(nil), target.Adamap.Bitmap...),
		}, true, &result)
		target.Adamap.ReprLength -= uint32(s.b)
		target.Adamap.StartSeq += uint32(s.b)
		target.Adamap.Bitmap = make([]bool, s.b)
		off -= int64(s.b)
	}
	target.Adamap.Bitmap[off] = true
	printSnap := target.Adamap
	result.AdamapForPrint = &printSnap
	result.Status = StatusTier1BeyondBitmap
	return result
}

// pushTableEntry inserts a into the lookup table with a fresh
// tableIndex, charging one LL-to-table-write DMA op, and accumulates the
// count/delay into result.
func (s *Store) pushTableEntry(a adamap.Adamap, updateTimestamp bool, result *RecordResult) {
	entry := &adamap.AdamapWithIndex{
		Adamap:         a,
		TableIndex:     int32(s.currentTableIndex),
		MaxRetransTier: 1,
	}
	if updateTimestamp {
		entry.LastCallTime = s.now()
	}
	s.currentTableIndex++
	s.lookupTable = append(s.lookupTable, entry)

	if s.scheduler != nil {
		completion := s.scheduler.Submit(s.FlowID, dma.OpLLToTableWrite, dma.AdamapBytes(s.b), true)
		result.Delay += completion.Sub(s.now())
	}
	result.NewTableEntries++
	result.AdamapForNack = entry
}

// isLLNodeFinished reports whether a linked-list head has nothing left
// to retry: its full representable range (including range extension) is
// fully received.
func isLLNodeFinished(a *adamap.Adamap, b int) bool {
	if int(a.ReprLength) > b {
		return false
	}
	return adamap.IsBitmapFull(a, b)
}

// putLinkedListHeadToTable promotes the linked list's front node into
// the lookup table, splitting it into B-sized windows as needed. Every
// peeled window whose bitmap is not all-true is inserted, and — once
// the node's range fits within B — the remainder is always inserted too
// (it may carry real, unpromoted loss data). If doErase, the front is
// then popped regardless of whether anything was inserted.
func (s *Store) putLinkedListHeadToTable(doErase, updateTimestamp bool) (int, time.Duration) {
	front := s.linkedList.Front()
	if front == nil {
		return 0, 0
	}
	head := front.Value.(*adamap.AdamapWithIndex)

	result := RecordResult{}
	if !isLLNodeFinished(&head.Adamap, s.b) {
		peeled := adamap.Split(&head.Adamap, s.b, true)
		for _, window := range peeled {
			s.pushTableEntry(window, updateTimestamp, &result)
		}
		s.pushTableEntry(head.Adamap, updateTimestamp, &result)
	}
	if doErase {
		s.linkedList.Remove(front)
	}
	return result.NewTableEntries, result.Delay
}

func (s *Store) findTableEntry(tableIndex int32) *adamap.AdamapWithIndex {
	for _, e := range s.lookupTable {
		if e.TableIndex == tableIndex {
			return e
		}
	}
	return nil
}

func (s *Store) removeTableEntry(tableIndex int32) {
	for i, e := range s.lookupTable {
		if e.TableIndex == tableIndex {
			s.lookupTable = append(s.lookupTable[:i], s.lookupTable[i+1:]...)
			return
		}
	}
}

// accessLookupTableLru moves tableIndex to the front of the recency
// list, evicting the back entry on a capacity miss. Returns true on a
// miss (DMA chargeable), false on a hit.
func (s *Store) accessLookupTableLru(tableIndex int32) bool {
	s.lookupTableAccessCount++
	for i, idx := range s.lookupTableLru {
		if idx == tableIndex {
			s.lookupTableLru = append(s.lookupTableLru[:i], s.lookupTableLru[i+1:]...)
			s.lookupTableLru = append([]int32{tableIndex}, s.lookupTableLru...)
			s.lookupTableCacheHitCount++
			return false
		}
	}
	if len(s.lookupTableLru) >= s.lookupTableLruSize {
		s.lookupTableLru = s.lookupTableLru[:len(s.lookupTableLru)-1]
	}
	s.lookupTableLru = append([]int32{tableIndex}, s.lookupTableLru...)
	return true
}

func (s *Store) recordTierN(seq uint32, tier int, tableIndex int32) RecordResult {
	entry := s.findTableEntry(tableIndex)
	if entry == nil {
		return RecordResult{Status: StatusTableIndexNotFound}
	}

	var delay time.Duration
	if miss := s.accessLookupTableLru(tableIndex); miss && s.scheduler != nil {
		completion := s.scheduler.Submit(s.FlowID, dma.OpTableMissRead, dma.AdamapBytes(s.b), false)
		delay += completion.Sub(s.now())
	}

	if tier > entry.MaxRetransTier {
		s.updateOmniRTO(entry)
	}

	offset := int64(seq) - int64(entry.Adamap.StartSeq) - 1
	if offset >= 0 && offset < int64(len(entry.Adamap.Bitmap)) {
		if entry.Adamap.Bitmap[offset] {
			s.violateInvariant("tier->=2 bit already set")
		}
		entry.Adamap.Bitmap[offset] = true
	} else {
		s.violateInvariant("tier->=2 offset beyond table entry bitmap")
	}
	entry.MaxRetransTier = tier

	if adamap.IsBitmapFull(&entry.Adamap, s.b) {
		entry.IsFinished = true
		s.removeTableEntry(tableIndex)
	}

	return RecordResult{Status: StatusMultiRetryUpdate, Delay: delay}
}

func (s *Store) updateOmniRTO(entry *adamap.AdamapWithIndex) {
	if entry.LastCallTime.IsZero() {
		return
	}
	rtt := s.now().Sub(entry.LastCallTime)
	s.avgRTT = time.Duration((int64(s.avgRTT)*int64(s.rttSampleCount) + int64(rtt)) / int64(s.rttSampleCount+1))
	s.omniScaleRTO = time.Duration(float64(s.avgRTT) * s.rttScaleFactor)
	s.rttSampleCount++
	if s.logger != nil {
		s.logger.Debug("updated adaptive rto", "flow", s.FlowID, "avg_rtt", s.avgRTT, "rto", s.omniScaleRTO)
	}
}

// violateInvariant panics in strict mode (development builds) and logs
// and continues otherwise, per the engine's error-handling design for
// invariant violations.
func (s *Store) violateInvariant(msg string) {
	if s.strict {
		panic("adamap invariant violated: " + msg)
	}
	if s.logger != nil {
		s.logger.Error("adamap invariant violated", "flow", s.FlowID, "reason", msg)
	}
}

// SetGotLastPacket marks that the transport signaled flow completion;
// IsFinishConditionSatisfied can now become true once the store drains.
func (s *Store) SetGotLastPacket() {
	s.gotLastPacket = true
}

// IsFinishConditionSatisfied reports whether the flow is eligible to
// transition to finished: the last packet was seen, the linked list is
// empty, and every lookup-table entry is finished.
func (s *Store) IsFinishConditionSatisfied() bool {
	if !s.gotLastPacket || s.linkedList.Len() != 0 {
		return false
	}
	for _, e := range s.lookupTable {
		if !e.IsFinished {
			return false
		}
	}
	return true
}

// AssertFinish transitions the store to finished if the completion
// condition holds, returning whether it did.
func (s *Store) AssertFinish() bool {
	if s.IsFinishConditionSatisfied() {
		s.isFinished = true
		return true
	}
	return false
}

// IsFinished reports whether AssertFinish has ever succeeded.
func (s *Store) IsFinished() bool {
	return s.isFinished
}

// HeadAdamap returns the linked list's front node, if any.
func (s *Store) HeadAdamap() (*adamap.AdamapWithIndex, bool) {
	front := s.linkedList.Front()
	if front == nil {
		return nil, false
	}
	return front.Value.(*adamap.AdamapWithIndex), true
}

// TableEntries returns a snapshot slice of the current lookup table.
func (s *Store) TableEntries() []*adamap.AdamapWithIndex {
	return append([]*adamap.AdamapWithIndex(nil), s.lookupTable...)
}

// BitmapSize returns the flow's configured bitmap length B.
func (s *Store) BitmapSize() int {
	return s.b
}

// ListTimeoutDelay returns the configured list-timer interval.
func (s *Store) ListTimeoutDelay() time.Duration {
	return s.listTimeoutDelay
}

// TableTimeoutDelay returns the current table-timer interval: the
// adaptive RTO once any sample has been observed, else the configured
// initial delay.
func (s *Store) TableTimeoutDelay() time.Duration {
	if s.omniScaleRTO > 0 {
		return s.omniScaleRTO
	}
	return s.tableTimeoutDelay
}

// CumulativeAckSeq returns the greatest seq such that every lower seq is
// known received: the oldest open head's startSeq if one exists (since
// heads are appended in arrival order), else the current bitmap's
// startSeq.
func (s *Store) CumulativeAckSeq() uint32 {
	if front := s.linkedList.Front(); front != nil {
		return front.Value.(*adamap.AdamapWithIndex).Adamap.StartSeq
	}
	return s.startSeq
}

// Snapshot is a point-in-time, JSON/log-friendly view of the store,
// replacing the debug Print* helpers of the source implementation.
type Snapshot struct {
	FlowID                    uint16
	CurrentAdamap             adamap.Adamap
	LinkedListLength          int
	LookupTableSize           int
	LinkedListAccessCount     int
	LinkedListCacheHitCount   int
	LookupTableAccessCount    int
	LookupTableCacheHitCount  int
	AvgRTT                    time.Duration
	OmniScaleRTO              time.Duration
	IsFinished                bool
}

// Snapshot returns a consistent point-in-time view of the store's
// internal state, for observability and tests.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		FlowID: s.FlowID,
		CurrentAdamap: adamap.Adamap{
			ID:         s.adamapIDCounter,
			StartSeq:   s.startSeq,
			ReprLength: s.reprLength,
			Bitmap:     append([]bool(nil), s.currentBitmap...),
		},
		LinkedListLength:         s.linkedList.Len(),
		LookupTableSize:          len(s.lookupTable),
		LinkedListAccessCount:    s.linkedListAccessCount,
		LinkedListCacheHitCount:  s.linkedListCacheHitCount,
		LookupTableAccessCount:   s.lookupTableAccessCount,
		LookupTableCacheHitCount: s.lookupTableCacheHitCount,
		AvgRTT:                   s.avgRTT,
		OmniScaleRTO:             s.omniScaleRTO,
		IsFinished:               s.isFinished,
	}
}
