package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/custodian-auth-backend/api"
	"github.com/ruteri/custodian-auth-backend/api/custodianhandler"
	"github.com/ruteri/custodian-auth-backend/api/registryhandler"
	"github.com/ruteri/custodian-auth-backend/cmd/flags"
	"github.com/ruteri/custodian-auth-backend/interfaces"
	"github.com/ruteri/custodian-auth-backend/registry"
)

var serviceFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:     "node-url",
		Required: true,
		Usage:    "custodian node base URL, repeat once per node",
	},
	&cli.IntFlag{
		Name:     "threshold",
		Required: true,
		Usage:    "number of custodian co-signatures required to admit an entry",
	},
	&cli.IntFlag{
		Name:  "node-timeout-seconds",
		Value: 10,
		Usage: "timeout for fetching node directory entries at startup",
	},
}

func main() {
	app := &cli.App{
		Name:  "registry",
		Usage: "Serve the custodian directory and registration entry store",
		Flags: append(append([]cli.Flag{}, flags.CommonFlags...),
			append(serviceFlags, flags.LogServiceFlag("registry"))...),
		Action: runRegistry,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runRegistry(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	timeout := time.Duration(cCtx.Int("node-timeout-seconds")) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// The directory is assembled from the live nodes: each one publishes
	// its own identity and public key.
	var infos []interfaces.NodeInfo
	for _, nodeURL := range cCtx.StringSlice("node-url") {
		client, err := custodianhandler.NewClient(ctx, nodeURL, nil)
		if err != nil {
			logger.Error("Failed to fetch node info", "url", nodeURL, "err", err)
			return err
		}
		info := client.Info()
		info.URL = nodeURL
		infos = append(infos, info)
		logger.Info("Registered custodian node", "id", info.ID, "url", nodeURL)
	}

	reg, err := registry.New(infos, cCtx.Int("threshold"), logger)
	if err != nil {
		logger.Error("Failed to create registry", "err", err)
		return err
	}

	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))
	server, err := api.New(cfg, registryhandler.New(reg, logger))
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting registry",
		"nodes", len(infos), "threshold", cCtx.Int("threshold"), "listenAddr", cfg.ListenAddr)
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}
