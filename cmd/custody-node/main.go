// Command custody-node runs one threshold-signing node: the HSM-backed
// key provider, the encrypted share store, and the HTTP surface, wired
// together from a YAML config file the way the teacher's
// cmd/threshold-cli wires a protocol run from its own config and
// party-ID flags.
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vaultfrost/custody/internal/config"
	"github.com/vaultfrost/custody/internal/hsm"
	"github.com/vaultfrost/custody/internal/httpapi"
	"github.com/vaultfrost/custody/internal/noncehandle"
	"github.com/vaultfrost/custody/internal/signer"
	"github.com/vaultfrost/custody/internal/store"
	"github.com/vaultfrost/custody/pkg/party"
)

func main() {
	configPath := flag.String("config", "node.yaml", "path to node configuration file")
	flag.Parse()

	cfg, err := config.LoadNodeConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "custody-node: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "custody-node: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	provider, err := buildProvider(cfg.KeyProvider)
	if err != nil {
		logger.Sugar().Fatalw("building key provider", "error", err)
	}

	backend, err := buildBackend(cfg.Storage)
	if err != nil {
		logger.Sugar().Fatalw("building storage backend", "error", err)
	}

	st := store.New(backend, provider)

	sealer, err := noncehandle.NewSealer()
	if err != nil {
		logger.Sugar().Fatalw("constructing nonce sealer", "error", err)
	}
	signerNode := signer.NewNode(sealer, noncehandle.DefaultTTL)

	srv := httpapi.NewServer(logger, party.ID(cfg.NodeIndex), cfg.MaxSigners, cfg.MinSigners, provider, st, signerNode, cfg.Server.Addr())
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

func buildProvider(cfg config.KeyProviderConfig) (hsm.Provider, error) {
	maxAttempts := cfg.MaxAttempts
	switch cfg.Type {
	case "", "software":
		// The software backend derives its root secret from the
		// configured pin and key label; real deployments use pkcs11 or
		// cloudkms instead, for which the root secret never exists in
		// this process at all.
		sum := sha256.Sum256([]byte(cfg.KeyLabel + "|" + cfg.Pin))
		return hsm.NewSoftwareProvider(cfg.KeyLabel, cfg.Pin, sum[:], maxAttempts), nil
	case "pkcs11":
		return hsm.NewPKCS11Provider(cfg.PKCS11Library, cfg.Slot, cfg.KeyLabel, 4, maxAttempts)
	case "cloudkms":
		return nil, fmt.Errorf("cloudkms provider requires a signer implementation injected by the deployment, not config alone")
	default:
		return nil, fmt.Errorf("unknown key_provider.type %q", cfg.Type)
	}
}

func buildBackend(cfg config.StorageConfig) (store.Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return store.NewFileBackend(cfg.Path)
	case "etcd":
		return store.NewEtcdBackend(cfg.EtcdEndpoints, "custody")
	default:
		return nil, fmt.Errorf("unknown storage.backend %q", cfg.Backend)
	}
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
