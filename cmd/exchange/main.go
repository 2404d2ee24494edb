// Command exchange runs the venue's three in-process threads — the order
// gateway, the matching engine, and the market data publisher (both its
// incremental and snapshot halves) — wired together over the SPSC rings
// spec §4 defines, and exposes Prometheus metrics alongside them. Modeled
// on vega's cmd/vega root-command-with-subcommands layout, trimmed to the
// single "run" path this venue needs.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ejyy/femto/config"
	"github.com/ejyy/femto/gateway"
	"github.com/ejyy/femto/internal/logging"
	"github.com/ejyy/femto/matching"
	"github.com/ejyy/femto/mcast"
	"github.com/ejyy/femto/mdp"
	"github.com/ejyy/femto/metrics"
	"github.com/ejyy/femto/ring"
	"github.com/ejyy/femto/wire"
)

const (
	inboundRingCapacity    = 4096
	responseRingCapacity   = 4096
	updateRingCapacity     = 4096
	toSnapshotRingCapacity = 4096
	orderCapacityPerBook   = 1 << 16
	levelCapacityPerBook   = 1 << 12
)

func main() {
	var configPath string
	var metricsAddr string

	root := &cobra.Command{
		Use:   "exchange",
		Short: "Run the matching venue",
		Long:  "Run the order gateway, matching engine, and market data publisher as a single process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, metricsAddr)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "network.yaml", "path to the network configuration file")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9100", "address to serve /metrics on")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string) error {
	netCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.New(logging.NewDefaultConfig())
	defer log.Sync()

	reg, promReg := metrics.NewRegistry()
	serveMetrics(metricsAddr, promReg, log)

	tickerIDs := netCfg.WireTickerIDs()
	engine := matching.NewEngine(tickerIDs, orderCapacityPerBook, levelCapacityPerBook, responseRingCapacity, updateRingCapacity, log.Named("matching"))

	meInbound := ring.New[wire.ClientRequest](inboundRingCapacity)
	toSnapshot := ring.New[mdp.StampedUpdate](toSnapshotRingCapacity)

	incrementalPub, err := mcast.NewPublisher(netCfg.Iface, netCfg.MDIncrementalGroup, netCfg.MDIncrementalPort)
	if err != nil {
		return fmt.Errorf("opening incremental multicast publisher: %w", err)
	}
	snapshotPub, err := mcast.NewPublisher(netCfg.Iface, netCfg.MDSnapshotGroup, netCfg.MDSnapshotPort)
	if err != nil {
		return fmt.Errorf("opening snapshot multicast publisher: %w", err)
	}

	gw := gateway.New(meInbound, engine.Responses(), log.Named("gateway"),
		func(reason string) { reg.GatewayDrops.WithLabelValues(reason).Inc() },
		func() { reg.RequestsSequenced.Inc() },
		func(t wire.ResponseType) {
			switch t {
			case wire.ResponseAccepted:
				reg.OrdersAccepted.Inc()
			case wire.ResponseCanceled:
				reg.OrdersCanceled.Inc()
			case wire.ResponseFilled:
				reg.OrdersFilled.Inc()
			}
		})
	if err := gw.Listen(netCfg.Iface, netCfg.OrderServerPort); err != nil {
		return fmt.Errorf("listening on order server port: %w", err)
	}

	publisher := mdp.NewPublisher(engine.Updates(), incrementalPub, toSnapshot, log.Named("mdp.publisher"),
		func() { reg.MarketUpdatesSent.Inc() })

	interval := time.Duration(netCfg.SnapshotIntervalSec) * time.Second
	synthesizer := mdp.NewSnapshotSynthesizer(toSnapshot, snapshotPub, tickerIDs, interval, log.Named("mdp.snapshot"))

	done := make(chan struct{})
	go engine.Run(meInbound, done)
	go gw.Run(done)
	go publisher.Run(done)
	go synthesizer.Run(done)

	log.Info("exchange started",
		zap.String("iface", netCfg.Iface),
		zap.Int("order_server_port", netCfg.OrderServerPort),
		zap.Any("ticker_ids", tickerIDs))

	waitForSignal(log)
	close(done)
	incrementalPub.Close()
	snapshotPub.Close()

	return nil
}

// serveMetrics starts the /metrics endpoint on its own goroutine. A failure
// here is logged, not fatal — the venue's rings and matching logic don't
// depend on it (spec §1: metrics is an external, non-modeled collaborator).
func serveMetrics(addr string, promReg *prometheus.Registry, log *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(promReg))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

func waitForSignal(log *logging.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	sig := <-sigs
	log.Info("shutting down", zap.String("signal", sig.String()))
}
