// Package flow wires one flow's receiver store, sender mirror queue,
// and NACK driver together around the process-wide shared DMA
// scheduler, and drives the status-code dictionary returned by
// receiver.Store.Record into NACK emission and timer (re)arming.
package flow

import (
	"log/slog"
	"time"

	"github.com/omnidma/adamap-engine/internal/adamap"
	"github.com/omnidma/adamap-engine/internal/dma"
	"github.com/omnidma/adamap-engine/internal/nack"
	"github.com/omnidma/adamap-engine/internal/receiver"
	"github.com/omnidma/adamap-engine/internal/sender"
)

// Config configures one Engine. The DMA scheduler is never owned here —
// it is the one resource spec.md calls out as explicitly shared across
// every flow hosted by a process.
type Config struct {
	FlowID             uint16
	BitmapSize         int
	LookupTableLruSize int
	FirstN             int
	RttScaleFactor     float64
	ListTimeout        time.Duration
	InitialTableTimeout time.Duration
	Strict             bool
	Scheduler          *dma.Scheduler
	NACKSender         nack.Sender
	Logger             *slog.Logger
}

// Engine is the receiver-side state for one flow: the adamap store plus
// the NACK driver reacting to its status codes. Not internally
// synchronized — drive a given Engine from a single goroutine. The only
// resource actually shared across flows is the DMA scheduler it
// borrows, which guards itself.
type Engine struct {
	id     uint16
	store  *receiver.Store
	nack   *nack.Driver
	logger *slog.Logger
}

// NewEngine creates a receiver-side Engine.
func NewEngine(cfg Config) *Engine {
	store := receiver.New(receiver.Config{
		FlowID:             cfg.FlowID,
		BitmapSize:         cfg.BitmapSize,
		LookupTableLruSize: cfg.LookupTableLruSize,
		FirstN:             cfg.FirstN,
		RttScaleFactor:     cfg.RttScaleFactor,
		TableTimeoutDelay:  cfg.InitialTableTimeout,
		ListTimeoutDelay:   cfg.ListTimeout,
		Scheduler:          cfg.Scheduler,
		Logger:             cfg.Logger,
		Strict:             cfg.Strict,
	})
	driver := nack.New(nack.Config{FlowID: cfg.FlowID, Sender: cfg.NACKSender, Logger: cfg.Logger})

	e := &Engine{id: cfg.FlowID, store: store, nack: driver, logger: cfg.Logger}

	driver.OnListTimeout(func(adamapID uint32) {
		e.resendListHead()
	})
	driver.OnTableTimeout(func(tableIndex int32) {
		e.resendTableEntry(tableIndex)
	})

	return e
}

// FlowID returns this engine's flow identifier.
func (e *Engine) FlowID() uint16 {
	return e.id
}

// Observe processes one packet arrival and reacts to the resulting
// status code by emitting/canceling NACKs and (re)arming timers.
func (e *Engine) Observe(seq uint32, retransTier int, tableIndex int32) receiver.RecordResult {
	result := e.store.Record(seq, retransTier, tableIndex)
	cumAck := e.store.CumulativeAckSeq()

	switch result.Status {
	case receiver.StatusNewHead:
		e.nack.EmitHead(result.AdamapForNack, cumAck, e.store.ListTimeoutDelay())
	case receiver.StatusTier1NewTableEntry:
		e.nack.EmitTableEntry(result.AdamapForNack, cumAck, e.store.TableTimeoutDelay())
	case receiver.StatusTier1HeadErased:
		e.nack.CancelListTimeout()
	case receiver.StatusMultiRetryUpdate:
		if tableIndex >= 0 {
			for _, entry := range e.store.TableEntries() {
				if entry.TableIndex == tableIndex {
					e.nack.ArmTableTimeout(tableIndex, e.store.TableTimeoutDelay())
					return result
				}
			}
			e.nack.CancelTableTimeout(tableIndex)
		}
	}
	return result
}

func (e *Engine) resendListHead() {
	head, ok := e.store.HeadAdamap()
	if !ok {
		return
	}
	e.nack.EmitHead(head, e.store.CumulativeAckSeq(), e.store.ListTimeoutDelay())
}

func (e *Engine) resendTableEntry(tableIndex int32) {
	for _, entry := range e.store.TableEntries() {
		if entry.TableIndex == tableIndex {
			e.nack.EmitTableEntry(entry, e.store.CumulativeAckSeq(), e.store.TableTimeoutDelay())
			return
		}
	}
}

// MarkLastPacket signals transport-level flow completion.
func (e *Engine) MarkLastPacket() {
	e.store.SetGotLastPacket()
}

// Finished reports whether the flow has drained and finished.
func (e *Engine) Finished() bool {
	return e.store.AssertFinish()
}

// Snapshot returns the underlying store's point-in-time snapshot.
func (e *Engine) Snapshot() receiver.Snapshot {
	return e.store.Snapshot()
}

// SenderEngine is the sender-side counterpart: it mirrors adamaps
// reported by the peer and serves concrete retransmit requests.
type SenderEngine struct {
	id    uint16
	queue *sender.Queue
}

// NewSenderEngine creates a sender-side Engine.
func NewSenderEngine(flowID uint16, logger *slog.Logger) *SenderEngine {
	return &SenderEngine{id: flowID, queue: sender.New(logger)}
}

// FlowID returns this engine's flow identifier.
func (s *SenderEngine) FlowID() uint16 {
	return s.id
}

// ObserveNACK enqueues a reported adamap, tagged with the retransmission
// tier the NACK carries, materializing its bitmap gaps as loss entries
// that NextRetransmit then serves.
func (s *SenderEngine) ObserveNACK(a adamap.Adamap, retransTier int, tableIndex int32) {
	s.queue.Enqueue(a, retransTier, tableIndex)
}

// NextRetransmit returns the oldest pending retransmit request.
func (s *SenderEngine) NextRetransmit() (sender.LossEntry, bool) {
	return s.queue.DequeueLoss(true)
}

// PendingRetransmits returns the count of outstanding retransmit
// requests.
func (s *SenderEngine) PendingRetransmits() int {
	return s.queue.PendingLoss()
}
