package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/omnidma/adamap-engine/internal/adamap"
	"github.com/omnidma/adamap-engine/internal/config"
	"github.com/omnidma/adamap-engine/internal/diagnostics"
	"github.com/omnidma/adamap-engine/internal/dma"
	"github.com/omnidma/adamap-engine/internal/flow"
	"github.com/omnidma/adamap-engine/internal/hoststats"
	"github.com/omnidma/adamap-engine/internal/logging"
	"github.com/omnidma/adamap-engine/internal/wire"
)

// drainInterval is how often the retransmit drain loop checks every
// flow's pending loss queue for work.
const drainInterval = 5 * time.Millisecond

func main() {
	configPath := flag.String("config", "/etc/omnidma/senderd.yaml", "path to sender config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Network.PeerAddr == "" {
		fmt.Fprintln(os.Stderr, "Error: network.peer_addr is required for omnidma-senderd")
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	scheduler := dma.New(dma.Config{
		BandwidthBytesPerSec: cfg.DMA.BandwidthBytesPerSec,
		FixedLatency:         cfg.DMA.FixedLatency,
	})
	registry := flow.NewSenderRegistry(scheduler)

	monitor := hoststats.New(logger, 15*time.Second)
	monitor.Start()
	defer monitor.Stop()

	if cfg.Diagnostics.Enabled {
		reporter, err := diagnostics.New(cfg.Diagnostics.Schedule, registry, logger)
		if err != nil {
			logger.Error("starting diagnostics reporter", "error", err)
			os.Exit(1)
		}
		reporter.Start()
		defer reporter.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := runSender(ctx, cfg, registry, logger); err != nil {
		logger.Error("sender error", "error", err)
		os.Exit(1)
	}
}

func runSender(ctx context.Context, cfg *config.EngineConfig, registry *flow.SenderRegistry, logger *slog.Logger) error {
	localAddr, err := net.ResolveUDPAddr("udp", cfg.Network.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolving listen address: %w", err)
	}
	peerAddr, err := net.ResolveUDPAddr("udp", cfg.Network.PeerAddr)
	if err != nil {
		return fmt.Errorf("resolving peer address: %w", err)
	}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Network.ListenAddr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go drainLoop(ctx, conn, peerAddr, registry, logger)

	buf := make([]byte, wire.NACKHeaderSize+4*8) // header plus four bitmap words
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("udp read error", "error", err)
				continue
			}
		}

		frame, err := wire.ReadNACK(bytes.NewReader(buf[:n]))
		if err != nil {
			logger.Warn("dropping malformed nack", "error", err)
			continue
		}

		engine := registry.GetOrCreate(frame.FlowID, func() *flow.SenderEngine {
			return flow.NewSenderEngine(frame.FlowID, logger)
		})

		reported := wire.AdamapFromNACKFrame(*frame)
		engine.ObserveNACK(reported, frame.RetransTier, frame.TableIndex)
	}
}

// drainLoop periodically pops pending retransmit requests off every
// tracked flow's queue and puts a retransmit packet header on the wire.
func drainLoop(ctx context.Context, conn *net.UDPConn, peerAddr *net.UDPAddr, registry *flow.SenderRegistry, logger *slog.Logger) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, snap := range registry.ActiveFlows() {
				engine, ok := registry.Get(snap.FlowID())
				if !ok {
					continue
				}
				drainFlow(conn, peerAddr, engine, logger)
			}
		}
	}
}

func drainFlow(conn *net.UDPConn, peerAddr *net.UDPAddr, engine *flow.SenderEngine, logger *slog.Logger) {
	for {
		entry, ok := engine.NextRetransmit()
		if !ok {
			return
		}

		omniType := wire.OmniTypeFirstRetrans
		if entry.RetransTier >= 2 {
			omniType = wire.OmniType(entry.RetransTier)
		}

		header := wire.PacketHeader{
			FlowID:     engine.FlowID(),
			OmniType:   omniType,
			Seq:        entry.LossSeq,
			TableIndex: entry.TableIndex,
		}

		var buf bytes.Buffer
		if err := wire.WritePacketHeader(&buf, header); err != nil {
			logger.Warn("encoding retransmit header", "error", err)
			continue
		}
		if _, err := conn.WriteToUDP(buf.Bytes(), peerAddr); err != nil {
			logger.Warn("sending retransmit", "error", err)
			return
		}
	}
}
