package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"udp-topic-bridge/internal/admin"
	"udp-topic-bridge/internal/bridge"
	"udp-topic-bridge/internal/config"
	"udp-topic-bridge/internal/core/network"
	"udp-topic-bridge/internal/datagram"
	"udp-topic-bridge/internal/logging"
	"udp-topic-bridge/internal/metrics"
)

var errBusClosed = errors.New("bus closed unexpectedly")

// runFlags holds command-line overrides for the config file.
type runFlags struct {
	configPath string
	ip         string
	port       int
	logLevel   string
	logFormat  string
	bus        string
	adminAddr  string
}

func runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge",
		Long:  "Start the bridge with the specified configuration. Flags override values from the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			return runBridge(ctx, cfg, logger, reg)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to configuration file (defaults are used when empty)")
	cmd.Flags().StringVar(&f.ip, "ip", "", "IP address to bind the UDP socket to")
	cmd.Flags().IntVar(&f.port, "port", 0, "UDP port to bind")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format: text, json")
	cmd.Flags().StringVar(&f.bus, "bus", "", "Bus backend: memory, libp2p")
	cmd.Flags().StringVar(&f.adminAddr, "admin-addr", "", "Admin HTTP address for /healthz, /readyz and /metrics")

	return cmd
}

// load reads the config file, if any, and applies flags the user set.
func (f *runFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		cfg, err = config.Load(f.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("ip") {
		cfg.Bridge.IP = f.ip
	}
	if flags.Changed("port") {
		cfg.Bridge.Port = f.port
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if flags.Changed("bus") {
		cfg.Bus.Backend = f.bus
	}
	if flags.Changed("admin-addr") {
		cfg.Admin.Address = f.adminAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runBridge wires bus, transport, bridge and admin server and blocks until
// ctx is cancelled or the transport stops on its own. A transport that
// stopped because of receive failures is reported as an error.
func runBridge(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) error {
	m := metrics.NewMetricsWithRegistry(reg)

	busOpts := cfg.BusOptions()
	busOpts.Logger = logger
	bus, err := network.New(ctx, busOpts)
	if err != nil {
		return fmt.Errorf("failed to create bus: %w", err)
	}
	defer bus.Close()

	tr, err := datagram.Listen(cfg.Datagram(), logger, m)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer tr.Close()

	bridgeOpts := cfg.BridgeOptions()
	bridgeOpts.Logger = logger
	bridgeOpts.Metrics = m
	b, err := bridge.New(bus, tr, bridgeOpts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(ctx) }()

	if err := tr.Start(ctx, b); err != nil {
		cancel()
		<-runErr
		return fmt.Errorf("failed to start transport: %w", err)
	}

	if cfg.Admin.Address != "" {
		adminCfg := admin.DefaultServerConfig()
		adminCfg.Address = cfg.Admin.Address
		srv := admin.NewServer(adminCfg, admin.Options{
			Transport: tr,
			Backend:   cfg.Bus.Backend,
			Bus:       bus,
			Gatherer:  reg,
			Logger:    logger,
		})
		if err := srv.Start(); err != nil {
			cancel()
			<-runErr
			return fmt.Errorf("failed to start admin server: %w", err)
		}
		defer srv.Stop()
	}

	logger.Info("bridge running",
		logging.KeyLocalAddr, tr.LocalAddr().String(),
		logging.KeyBackend, cfg.Bus.Backend)

	var result error
	runDone := false
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-tr.Done():
		result = tr.Err()
	case err := <-runErr:
		runDone = true
		result = err
		if result == nil && ctx.Err() == nil {
			result = errBusClosed
		}
	}

	cancel()
	tr.Close()
	<-tr.Done()
	if !runDone {
		<-runErr
	}
	if result == nil {
		result = tr.Err()
	}
	if result != nil {
		logger.Error("bridge stopped", logging.KeyError, result)
		return result
	}
	logger.Info("bridge stopped")
	return nil
}
