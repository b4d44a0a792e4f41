package main

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/custodian-auth-backend/api"
	"github.com/ruteri/custodian-auth-backend/api/custodianhandler"
	"github.com/ruteri/custodian-auth-backend/cmd/flags"
	"github.com/ruteri/custodian-auth-backend/common"
	"github.com/ruteri/custodian-auth-backend/cryptoutils"
	"github.com/ruteri/custodian-auth-backend/custodian"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/metrics"
	"github.com/ruteri/custodian-auth-backend/storage"
)

var serviceFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     "node-id",
		Required: true,
		Usage:    "this node's UUID, as listed in the directory",
	},
	&cli.StringFlag{
		Name:  "label",
		Value: "custodian",
		Usage: "human-readable node name echoed in sign-up responses",
	},
	&cli.StringFlag{
		Name:     "key-seed",
		Required: true,
		EnvVars:  []string{"CUSTODIAN_KEY_SEED"},
		Usage:    "hex-encoded 32-byte seed the node's long-term keys derive from",
	},
	&cli.StringFlag{
		Name:  "share-storage",
		Value: "memory://",
		Usage: "key share storage URI (memory://, file://, vault://, s3://)",
	},
	&cli.StringFlag{
		Name:  "vault-storage",
		Value: "memory://",
		Usage: "vault key storage URI (memory://, file://, vault://, s3://)",
	},
}

// logMailer stands in for a real delivery channel: recovery codes land in
// the node's log. Deployments replace it with an SMTP or webhook mailer.
type logMailer struct {
	log *slog.Logger
}

func (m *logMailer) SendRecoveryCode(ctx context.Context, user interfaces.UserID, email, code string) error {
	m.log.Info("recovery code issued", "user", user, "email", email, "code", code)
	return nil
}

func main() {
	app := &cli.App{
		Name:  "custodian",
		Usage: "Serve one custodian node of the threshold authentication protocol",
		Flags: append(append([]cli.Flag{}, flags.CommonFlags...),
			append(serviceFlags, flags.LogServiceFlag("custodian"))...),
		Action: runCustodian,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runCustodian(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	nodeID, err := interfaces.NewNodeIDFromString(cCtx.String("node-id"))
	if err != nil {
		logger.Error("Invalid node id", "err", err)
		return err
	}

	seed, err := hex.DecodeString(cCtx.String("key-seed"))
	if err != nil || len(seed) != 32 {
		logger.Error("Invalid key-seed - must be 64 hex chars (32 bytes)", "err", err)
		return errors.New("invalid key-seed")
	}
	rootKey, err := cryptoutils.KeyFromBytes(seed)
	if err != nil {
		return err
	}

	factory := storage.NewBackendFactory(logger)
	shareBackend, err := factory.BackendFor(cCtx.String("share-storage"))
	if err != nil {
		logger.Error("Failed to create share storage backend", "err", err)
		return err
	}
	vaultBackend, err := factory.BackendFor(cCtx.String("vault-storage"))
	if err != nil {
		logger.Error("Failed to create vault storage backend", "err", err)
		return err
	}

	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))
	if cfg.MetricsAddr != "" {
		m, err := metrics.New(common.PackageName, cfg.MetricsAddr)
		if err != nil {
			logger.Error("Failed to create metrics server", "err", err)
			return err
		}
		cfg.Metrics = m
	}

	var ops *prometheus.CounterVec
	if cfg.Metrics != nil {
		ops = cfg.Metrics.NodeOperations
	}

	svc, err := custodian.New(custodian.Config{
		ID:         nodeID,
		Label:      cCtx.String("label"),
		PrivateKey: cryptoutils.Suite.Scalar().Pick(cryptoutils.Suite.XOF(seed)),
		TokenKey:   rootKey.Derive([]byte("token")),
	},
		storage.NewShareStore(shareBackend),
		storage.NewVaultStore(vaultBackend),
		&logMailer{log: logger}, logger, ops)
	if err != nil {
		logger.Error("Failed to create custodian service", "err", err)
		return err
	}

	server, err := api.New(cfg, custodianhandler.New(svc, logger))
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting custodian node",
		"id", nodeID, "label", cCtx.String("label"), "listenAddr", cfg.ListenAddr)
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}
