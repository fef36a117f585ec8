// Command custody-aggregator runs the address and signing orchestrators
// behind the aggregator HTTP surface in internal/aggregator, reading its
// signer roster and threshold from a
// YAML config file the same way custody-node reads its own.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vaultfrost/custody/internal/aggregator"
	"github.com/vaultfrost/custody/internal/chainenc"
	"github.com/vaultfrost/custody/internal/config"
)

func main() {
	configPath := flag.String("config", "aggregator.yaml", "path to aggregator configuration file")
	flag.Parse()

	cfg, err := config.LoadAggregatorConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "custody-aggregator: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "custody-aggregator: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	clients := aggregator.NodesFromConfig(cfg.SignerNodes, 30*time.Second)

	// Chain address encoders (Bech32m/Taproot, Keccak-20, Base58) are an
	// explicit external-collaborator boundary; none are
	// registered here. A deployment that needs /api/address/generate to
	// succeed registers concrete chainenc.Encoder implementations before
	// Start.
	registry := chainenc.NewRegistry()

	addressAgg := aggregator.NewAddressAggregator(clients, registry)
	signingAgg := aggregator.NewSigningAggregator(cfg, 30*time.Second)

	srv := aggregator.NewServer(logger, addressAgg, signingAgg, cfg.Server.Addr())
	srv.Start()

	waitForShutdown(logger, func(ctx context.Context) error { return srv.Stop(ctx) })
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func waitForShutdown(logger *zap.Logger, stop func(context.Context) error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
