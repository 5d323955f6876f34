// Package nack drives the receiver side's retransmission requests: it
// turns a finished adamap into a NACK payload and runs the cancellable
// list/table timeout timers that re-arm when a retry arrives late.
package nack

import (
	"log/slog"
	"sync"
	"time"

	"github.com/omnidma/adamap-engine/internal/adamap"
)

// Payload is one NACK: a loss descriptor plus the cumulative ack seq the
// receiver carries alongside every NACK so the sender can retire older
// state even when this particular adamap is itself a retry.
type Payload struct {
	FlowID        uint16
	Adamap        adamap.Adamap
	TableIndex    int32
	RetransTier   int
	CumAckSeq     uint32
}

// Sender is the minimal surface the driver needs to actually put a NACK
// on the wire; internal/flow wires this to the real transport.
type Sender interface {
	SendNACK(Payload) error
}

// Driver owns one flow's list and table retransmission timers. Each
// timer is keyed by an opaque token so a late-arriving retry can cancel
// and re-arm it without racing a timer that already fired.
type Driver struct {
	flowID uint16
	sender Sender
	logger *slog.Logger

	mu         sync.Mutex
	listTimer  *time.Timer
	listToken  uint64
	tableTimers map[int32]*tableTimer
	nextToken  uint64

	onListTimeoutFn  func(adamapID uint32)
	onTableTimeoutFn func(tableIndex int32)
}

// OnListTimeout registers the callback invoked when a list-head timer
// fires without being canceled or superseded.
func (d *Driver) OnListTimeout(fn func(adamapID uint32)) {
	d.onListTimeoutFn = fn
}

// OnTableTimeout registers the callback invoked when a table-entry timer
// fires without being canceled or superseded.
func (d *Driver) OnTableTimeout(fn func(tableIndex int32)) {
	d.onTableTimeoutFn = fn
}

type tableTimer struct {
	timer *time.Timer
	token uint64
}

// Config configures a Driver.
type Config struct {
	FlowID uint16
	Sender Sender
	Logger *slog.Logger
}

// New creates a Driver for one flow.
func New(cfg Config) *Driver {
	return &Driver{
		flowID:      cfg.FlowID,
		sender:      cfg.Sender,
		logger:      cfg.Logger,
		tableTimers: make(map[int32]*tableTimer),
	}
}

// EmitHead sends a NACK for a newly-finished linked-list head
// immediately, then arms the list timeout for it.
func (d *Driver) EmitHead(a *adamap.AdamapWithIndex, cumAckSeq uint32, after time.Duration) {
	d.emit(Payload{FlowID: d.flowID, Adamap: a.Adamap, TableIndex: adamap.NoTableIndex, RetransTier: 1, CumAckSeq: cumAckSeq})
	d.ArmListTimeout(a.Adamap.ID, after)
}

// EmitTableEntry sends a NACK for a lookup-table entry, at one tier above
// the entry's MaxRetransTier, and arms its adaptive table timeout.
func (d *Driver) EmitTableEntry(a *adamap.AdamapWithIndex, cumAckSeq uint32, after time.Duration) {
	d.emit(Payload{FlowID: d.flowID, Adamap: a.Adamap, TableIndex: a.TableIndex, RetransTier: a.MaxRetransTier + 1, CumAckSeq: cumAckSeq})
	d.ArmTableTimeout(a.TableIndex, after)
}

func (d *Driver) emit(p Payload) {
	if d.sender == nil {
		return
	}
	if err := d.sender.SendNACK(p); err != nil && d.logger != nil {
		d.logger.Warn("failed to send nack", "flow", d.flowID, "err", err)
	}
}

// ArmListTimeout (re)starts the single list-head timer. Only the most
// recently armed token's fire is honored; an earlier, now-superseded
// timer's fire is a no-op.
func (d *Driver) ArmListTimeout(adamapID uint32, after time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listTimer != nil {
		d.listTimer.Stop()
	}
	d.nextToken++
	token := d.nextToken
	d.listToken = token
	d.listTimer = time.AfterFunc(after, func() {
		d.onListTimeout(token, adamapID)
	})
}

// CancelListTimeout disarms the list timer without firing, used when the
// head is erased by a genuine retry before the timer fires.
func (d *Driver) CancelListTimeout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listTimer != nil {
		d.listTimer.Stop()
		d.listTimer = nil
	}
	d.listToken = 0 // tokens start at 1, so a fire already in flight is stale
}

func (d *Driver) onListTimeout(token uint64, adamapID uint32) {
	d.mu.Lock()
	stale := token != d.listToken
	d.mu.Unlock()
	if stale {
		return
	}
	if d.logger != nil {
		d.logger.Debug("list timeout fired", "flow", d.flowID, "adamap_id", adamapID)
	}
	if d.onListTimeoutFn != nil {
		d.onListTimeoutFn(adamapID)
	}
}

// ArmTableTimeout (re)starts the timeout for one lookup-table entry,
// keyed by its tableIndex.
func (d *Driver) ArmTableTimeout(tableIndex int32, after time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.tableTimers[tableIndex]; ok {
		existing.timer.Stop()
	}
	d.nextToken++
	token := d.nextToken
	tt := &tableTimer{token: token}
	tt.timer = time.AfterFunc(after, func() {
		d.onTableTimeout(token, tableIndex)
	})
	d.tableTimers[tableIndex] = tt
}

// CancelTableTimeout disarms and forgets one entry's timer, used once
// that entry is finished and removed from the lookup table.
func (d *Driver) CancelTableTimeout(tableIndex int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tt, ok := d.tableTimers[tableIndex]; ok {
		tt.timer.Stop()
		delete(d.tableTimers, tableIndex)
	}
}

func (d *Driver) onTableTimeout(token uint64, tableIndex int32) {
	d.mu.Lock()
	tt, ok := d.tableTimers[tableIndex]
	stale := !ok || tt.token != token
	d.mu.Unlock()
	if stale {
		return
	}
	if d.logger != nil {
		d.logger.Debug("table timeout fired", "flow", d.flowID, "table_index", tableIndex)
	}
	if d.onTableTimeoutFn != nil {
		d.onTableTimeoutFn(tableIndex)
	}
}
