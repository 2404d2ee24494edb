// Command mdc runs the standalone market data consumer: it joins the
// incremental multicast stream, recovers through the snapshot stream on
// any gap, and prints every recovered in-order update to stdout. A thin
// cobra wrapper, mirroring cmd/exchange's shape.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ejyy/femto/config"
	"github.com/ejyy/femto/internal/logging"
	"github.com/ejyy/femto/mcast"
	"github.com/ejyy/femto/mdc"
	"github.com/ejyy/femto/metrics"
	"github.com/ejyy/femto/ring"
	"github.com/ejyy/femto/wire"
)

const outRingCapacity = 4096

func main() {
	var configPath string
	var metricsAddr string

	root := &cobra.Command{
		Use:   "mdc",
		Short: "Run the standalone market data consumer",
		Long:  "Join the incremental market data stream, recover through the snapshot stream on gaps, and print every recovered update",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, metricsAddr)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "network.yaml", "path to the network configuration file")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9101", "address to serve /metrics on")

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

	incremental, err := mcast.NewSubscriber(netCfg.Iface, netCfg.MDIncrementalGroup, netCfg.MDIncrementalPort)
	if err != nil {
		return fmt.Errorf("joining incremental multicast group: %w", err)
	}
	defer incremental.Close()

	out := ring.New[wire.MarketUpdate](outRingCapacity)
	consumer := mdc.New(incremental, func() (mdc.Joiner, error) {
		return mcast.NewSubscriber(netCfg.Iface, netCfg.MDSnapshotGroup, netCfg.MDSnapshotPort)
	}, out, log.Named("mdc"), func() { reg.MDCResyncsTriggered.Inc() })

	done := make(chan struct{})
	go consumer.Run(done, make([]byte, 4096))
	go printRecovered(out, done)

	log.Info("mdc started",
		zap.String("incremental_group", netCfg.MDIncrementalGroup),
		zap.Int("incremental_port", netCfg.MDIncrementalPort))

	waitForSignal(log)
	close(done)

	return nil
}

// printRecovered drains out and prints each update until done closes — the
// sole consumer of this ring, per spec §5's single-consumer rule.
func printRecovered(out *ring.Ring[wire.MarketUpdate], done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		slot, ok := out.Peek()
		if !ok {
			continue
		}
		upd := *slot
		out.CommitRead()
		fmt.Printf("%+v\n", upd)
	}
}

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
