package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/omnidma/adamap-engine/internal/config"
	"github.com/omnidma/adamap-engine/internal/diagnostics"
	"github.com/omnidma/adamap-engine/internal/dma"
	"github.com/omnidma/adamap-engine/internal/flow"
	"github.com/omnidma/adamap-engine/internal/hoststats"
	"github.com/omnidma/adamap-engine/internal/logging"
	"github.com/omnidma/adamap-engine/internal/nack"
	"github.com/omnidma/adamap-engine/internal/observability"
	"github.com/omnidma/adamap-engine/internal/wire"
)

func main() {
	configPath := flag.String("config", "/etc/omnidma/receiverd.yaml", "path to receiver config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	ring := observability.NewRing(cfg.Observability.RingCapacity)
	rotator, err := observability.NewRotator(cfg.Observability.EventsFile, cfg.Observability.RotateMaxBytes)
	if err != nil {
		logger.Error("opening observability log", "error", err)
		os.Exit(1)
	}
	defer rotator.Close()

	scheduler := dma.New(dma.Config{
		BandwidthBytesPerSec: cfg.DMA.BandwidthBytesPerSec,
		FixedLatency:         cfg.DMA.FixedLatency,
		OnSample: func(s dma.Sample) {
			ring.Push(observability.Entry{
				FlowID: s.FlowID,
				Type:   observability.EventFetchLL,
				Message: fmt.Sprintf("dma op=%s bytes=%d queue=%s service=%s depth=%d",
					s.OpType, s.Bytes, s.QueueDelay, s.Service, s.Depth),
			})
		},
	})

	registry := flow.NewRegistry(scheduler)

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

	httpSrv := newStatusServer(cfg, scheduler, ring)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status server error", "error", err)
		}
	}()
	defer httpSrv.Close()

	if err := runReceiver(ctx, cfg, registry, logger); err != nil {
		logger.Error("receiver error", "error", err)
		os.Exit(1)
	}
}

func newStatusServer(cfg *config.EngineConfig, scheduler *dma.Scheduler, ring *observability.Ring) *http.Server {
	var nets []*net.IPNet
	for _, cidr := range cfg.Observability.AllowedCIDRs {
		_, n, err := net.ParseCIDR(cidr)
		if err == nil {
			nets = append(nets, n)
		}
	}
	acl := observability.NewACL(nets)
	mux := http.NewServeMux()
	mux.Handle("/status", acl.Middleware(observability.StatusHandler(scheduler, ring)))
	return &http.Server{Addr: cfg.Observability.StatusAddr, Handler: mux}
}

// udpNACKSender implements nack.Sender by writing NACK frames back to
// whichever peer address last sent a packet for a given flow.
type udpNACKSender struct {
	conn       *net.UDPConn
	bitmapSize int
	peers      *peerTable
}

func (s *udpNACKSender) SendNACK(p nack.Payload) error {
	addr, ok := s.peers.get(p.FlowID)
	if !ok {
		return fmt.Errorf("no known peer for flow %d", p.FlowID)
	}
	frame := wire.NACKFrameFromAdamap(p.FlowID, p.Adamap, p.TableIndex, p.CumAckSeq, p.RetransTier, s.bitmapSize)
	var buf bytes.Buffer
	if err := wire.WriteNACK(&buf, frame); err != nil {
		return fmt.Errorf("encoding nack: %w", err)
	}
	_, err := s.conn.WriteToUDP(buf.Bytes(), addr)
	return err
}

// peerTable tracks the most recently observed source address per flow.
type peerTable struct {
	mu sync.RWMutex
	m  map[uint16]*net.UDPAddr
}

func newPeerTable() *peerTable {
	return &peerTable{m: make(map[uint16]*net.UDPAddr)}
}

func (t *peerTable) set(flowID uint16, addr *net.UDPAddr) {
	t.mu.Lock()
	t.m[flowID] = addr
	t.mu.Unlock()
}

func (t *peerTable) get(flowID uint16) (*net.UDPAddr, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.m[flowID]
	return addr, ok
}

func runReceiver(ctx context.Context, cfg *config.EngineConfig, registry *flow.Registry, logger *slog.Logger) error {
	addr, err := net.ResolveUDPAddr("udp", cfg.Network.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolving listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Network.ListenAddr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	peers := newPeerTable()
	sender := &udpNACKSender{conn: conn, bitmapSize: cfg.Flow.BitmapSize, peers: peers}

	buf := make([]byte, wire.PacketHeaderSize)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("udp read error", "error", err)
				continue
			}
		}

		header, err := wire.ReadPacketHeader(bytes.NewReader(buf[:n]))
		if err != nil {
			logger.Warn("dropping malformed packet", "error", err)
			continue
		}

		peers.set(header.FlowID, raddr)

		engine := registry.GetOrCreate(header.FlowID, func() *flow.Engine {
			return flow.NewEngine(flow.Config{
				FlowID:              header.FlowID,
				BitmapSize:          cfg.Flow.BitmapSize,
				LookupTableLruSize:  cfg.Flow.LookupTableLruSize,
				FirstN:              cfg.Flow.FirstN,
				RttScaleFactor:      cfg.Flow.RttScaleFactor,
				ListTimeout:         cfg.Flow.ListTimeout,
				InitialTableTimeout: cfg.Flow.InitialTableTimeout,
				Strict:              cfg.Flow.Strict,
				Scheduler:           registry.Scheduler(),
				NACKSender:          sender,
				Logger:              logger,
			})
		})

		result := engine.Observe(header.Seq, int(header.OmniType), header.TableIndex)
		if result.Status < 0 {
			logger.Debug("record processed", "flow_id", header.FlowID, "status", result.Status)
		}
	}
}
