// Package diagnostics runs a periodic cron job that reports the number of
// active flows and the shared DMA scheduler's statistics to the process
// log. Per-flow receiver-store statistics are not reported.
package diagnostics

import (
	"log/slog"

	"github.com/omnidma/adamap-engine/internal/dma"
	"github.com/robfig/cron/v3"
)

// FlowSnapshotter is the minimal surface a flow engine exposes for
// diagnostics reporting.
type FlowSnapshotter interface {
	FlowID() uint16
}

// Source supplies the current set of active flows and the shared DMA
// scheduler at report time.
type Source interface {
	ActiveFlows() []FlowSnapshotter
	Scheduler() *dma.Scheduler
}

// Reporter runs a cron schedule that logs a stats snapshot.
type Reporter struct {
	cron   *cron.Cron
	logger *slog.Logger
	source Source
}

// New creates a Reporter. schedule is a standard cron expression or a
// "@every" descriptor (e.g. "@every 30s").
func New(schedule string, source Source, logger *slog.Logger) (*Reporter, error) {
	r := &Reporter{logger: logger, source: source}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, r.report); err != nil {
		return nil, err
	}
	r.cron = c
	return r, nil
}

// Start begins running the reporter in the background.
func (r *Reporter) Start() {
	r.cron.Start()
}

// Stop halts the reporter, waiting for any in-flight report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reporter) report() {
	flows := r.source.ActiveFlows()
	stats := r.source.Scheduler().Stats()

	r.logger.Info("diagnostics snapshot",
		"active_flows", len(flows),
		"dma_submitted_ops", stats.SubmittedOps,
		"dma_completed_ops", stats.CompletedOps,
		"dma_bytes", stats.Bytes,
		"dma_max_queue_delay", stats.MaxQueueDelay,
		"dma_max_queue_depth", stats.MaxQueueDepth,
	)
}
