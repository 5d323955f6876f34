// Package dma models the cost of fetching adamap metadata between a host
// and a fast on-NIC cache: a single-server queue with a bounded-bandwidth
// service rate and a fixed per-op latency, shared across every flow
// hosted on one endpoint.
package dma

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OpType enumerates the kinds of metadata DMA the receiver store charges
// against the scheduler, named after the RNIC op types this model stands
// in for.
type OpType int

const (
	OpLLAppendWrite OpType = iota + 1
	OpLLToTableWrite
	OpLLPrefetchRead
	OpLLMissRead
	OpTableMissRead
)

func (t OpType) String() string {
	switch t {
	case OpLLAppendWrite:
		return "LLAppendWrite"
	case OpLLToTableWrite:
		return "LLToTableWrite"
	case OpLLPrefetchRead:
		return "LLPrefetchRead"
	case OpLLMissRead:
		return "LLMissRead"
	case OpTableMissRead:
		return "TableMissRead"
	default:
		return "Unknown"
	}
}

// AdamapBytes returns the estimated wire size, in bytes, of a single
// adamap with bitmap size B: 32 bytes of fixed fields (id, startSeq,
// reprLength, tableIndex, cumAckSeq, padding) plus ceil(B/8) bytes of
// bitmap, independent of whether the full four wire words are used.
func AdamapBytes(bitmapSize int) int {
	return 32 + int(math.Ceil(float64(bitmapSize)/8))
}

// Sample is one observed DMA op, as delivered to trace consumers.
type Sample struct {
	FlowID     uint16
	OpType     OpType
	Bytes      int
	IsWrite    bool
	QueueDelay time.Duration
	Service    time.Duration
	Backlog    time.Duration
	Depth      int
}

// Stats accumulates running counters across every op submitted to a
// Scheduler.
type Stats struct {
	SubmittedOps     uint64
	CompletedOps     uint64
	SubmittedReadOps uint64
	SubmittedWrites  uint64
	Bytes            uint64
	ReadBytes        uint64
	WriteBytes       uint64
	TotalQueueDelay  time.Duration
	TotalService     time.Duration
	MaxQueueDelay    time.Duration
	MaxQueueDepth    int
}

// defaultBurstBytes is the token bucket's burst size and the cap on the
// tokens reserved per op. Submit computes service time from bytes and the
// limiter's rate directly, so the bucket's burst allowance never shortens
// an op's service time.
const defaultBurstBytes = 4096

// Scheduler serializes metadata reads/writes over a bounded-bandwidth
// link shared by every flow on one endpoint. It is safe for concurrent
// use: unlike per-flow engine state, the scheduler is explicitly the one
// shared resource spec.md calls out, and this module hosts many flows in
// one process rather than one simulated NIC per process.
type Scheduler struct {
	mu sync.Mutex

	limiter       *rate.Limiter // nil when bandwidth modeling is disabled
	fixedLatency  time.Duration
	nextAvailable time.Time
	inflight      int
	stats         Stats

	now func() time.Time

	onSample func(Sample)
}

// Config configures a Scheduler.
type Config struct {
	// BandwidthBytesPerSec is the modeled DMA link's service rate.
	BandwidthBytesPerSec float64
	// FixedLatency is a constant per-op latency added on top of the
	// bandwidth-derived service time (e.g. PCIe round-trip overhead).
	FixedLatency time.Duration
	// OnSample, if set, is invoked synchronously after every Submit with
	// the resulting trace sample. It must not block.
	OnSample func(Sample)
}

// New creates a Scheduler. A zero or negative BandwidthBytesPerSec
// disables bandwidth-based queueing delay (every op still incurs
// FixedLatency).
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		fixedLatency: cfg.FixedLatency,
		now:          time.Now,
		onSample:     cfg.OnSample,
	}
	s.nextAvailable = s.now()

	if cfg.BandwidthBytesPerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.BandwidthBytesPerSec), defaultBurstBytes)
	}
	return s
}

// Submit charges one DMA op of opType, sized bytes, read or write,
// belonging to flowID. It returns the op's completion time; callers add
// completionTime.Sub(now) to their own delay accumulator, per spec.md's
// "Delay accounting is not suspension" model.
func (s *Scheduler) Submit(flowID uint16, opType OpType, bytes int, isWrite bool) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	start := now
	if s.nextAvailable.After(start) {
		start = s.nextAvailable
	}

	// bytes/BW comes from the limiter's own rate so the bandwidth
	// parameter has exactly one source of truth; the reservation is
	// taken at start (not now) so its token accounting lines up with
	// the single-server queue this scheduler otherwise tracks by hand,
	// rather than letting the limiter's own burst allowance apply.
	service := s.fixedLatency
	if s.limiter != nil {
		n := bytes
		if n > defaultBurstBytes {
			n = defaultBurstBytes
		}
		s.limiter.ReserveN(start, n)
		service += time.Duration(float64(bytes) / float64(s.limiter.Limit()) * float64(time.Second))
	}

	completion := start.Add(service)
	s.nextAvailable = completion

	queueDelay := start.Sub(now)
	backlog := s.nextAvailable.Sub(now)
	if backlog < 0 {
		backlog = 0
	}

	s.inflight++
	s.stats.SubmittedOps++
	s.stats.Bytes += uint64(bytes)
	if isWrite {
		s.stats.SubmittedWrites++
		s.stats.WriteBytes += uint64(bytes)
	} else {
		s.stats.SubmittedReadOps++
		s.stats.ReadBytes += uint64(bytes)
	}
	s.stats.TotalQueueDelay += queueDelay
	s.stats.TotalService += service
	if queueDelay > s.stats.MaxQueueDelay {
		s.stats.MaxQueueDelay = queueDelay
	}
	if s.inflight > s.stats.MaxQueueDepth {
		s.stats.MaxQueueDepth = s.inflight
	}

	if s.onSample != nil {
		s.onSample(Sample{
			FlowID:     flowID,
			OpType:     opType,
			Bytes:      bytes,
			IsWrite:    isWrite,
			QueueDelay: queueDelay,
			Service:    service,
			Backlog:    backlog,
			Depth:      s.inflight,
		})
	}

	return completion
}

// Complete marks one previously-submitted op as drained from the
// inflight count. Callers invoke it when the op's completion time has
// actually elapsed on their own clock.
func (s *Scheduler) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.stats.CompletedOps++
}

// Backlog returns nextAvailable - now, clamped to zero: the time the
// link remains busy serving already-submitted ops.
func (s *Scheduler) Backlog() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	backlog := s.nextAvailable.Sub(s.now())
	if backlog < 0 {
		return 0
	}
	return backlog
}

// Depth returns the number of ops submitted but not yet marked Complete.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Stats returns a snapshot of the running counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
