// Package hoststats periodically samples host CPU, memory and load
// average; the latest sample is read with Monitor.Snapshot. The
// diagnostics reporter does not include these samples.
package hoststats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot holds the most recently collected host metrics.
type Snapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAverage1  float64
}

// Monitor collects host metrics on a fixed interval in the background.
type Monitor struct {
	logger *slog.Logger
	close  chan struct{}
	wg     sync.WaitGroup

	mu   sync.RWMutex
	snap Snapshot

	interval time.Duration
}

// New creates a Monitor sampling every interval (default 15s).
func New(logger *slog.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		logger:   logger.With("component", "hoststats"),
		close:    make(chan struct{}),
		interval: interval,
	}
}

// Start begins periodic collection.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts collection.
func (m *Monitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Snapshot returns the most recently collected metrics.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	snap := Snapshot{}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		snap.CPUPercent = percentages[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		snap.LoadAverage1 = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}
