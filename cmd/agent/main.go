package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/groupauth-agent/agent"
	gacommon "github.com/ruteri/groupauth-agent/common"
	"github.com/ruteri/groupauth-agent/httpserver"
	"github.com/ruteri/groupauth-agent/identity"
	"github.com/ruteri/groupauth-agent/metrics"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:    "rpc-addr",
		Value:   "https://mainnet.base.org",
		Usage:   "address to connect to RPC",
		EnvVars: []string{"RPC_URL"},
	},
	&cli.StringFlag{
		Name:     "groupauth-contract",
		Required: true,
		Usage:    "GroupAuth contract address",
		EnvVars:  []string{"GROUPAUTH_ADDRESS"},
	},
	&cli.StringFlag{
		Name:    "group-secret",
		Value:   "default-group-secret",
		Usage:   "shared secret propagated to every onboarded member",
		EnvVars: []string{"GROUP_SECRET"},
	},
	&cli.IntFlag{
		Name:    "poll-interval",
		Value:   12,
		Usage:   "seconds between registry event polls",
		EnvVars: []string{"POLL_INTERVAL"},
	},
	&cli.StringFlag{
		Name:    "dstack-endpoint",
		Value:   "",
		Usage:   "dstack guest agent endpoint (unix:///path.sock or http URL)",
		EnvVars: []string{"DSTACK_ENDPOINT"},
	},
	&cli.StringFlag{
		Name:  "key-path",
		Value: identity.DefaultKeyPath,
		Usage: "dstack derivation path for the identity key",
	},
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "0.0.0.0:8080",
		Usage: "address to listen on for the status API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: "groupauth-agent",
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "groupauth-agent",
		Usage: "Register a dstack TEE identity on GroupAuth and onboard new members",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			logger := gacommon.SetupLogger(&gacommon.LoggingOpts{
				Debug:   cCtx.Bool("log-debug"),
				JSON:    cCtx.Bool("log-json"),
				Service: cCtx.String("log-service"),
				Version: gacommon.Version,
			})

			if cCtx.Bool("log-uid") {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			contractAddr := cCtx.String("groupauth-contract")
			if !common.IsHexAddress(contractAddr) {
				logger.Error("Invalid GroupAuth contract address", "address", contractAddr)
				return errors.New("invalid groupauth-contract address")
			}

			m := metrics.New("groupauth")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := agent.New(ctx, agent.Config{
				RPCAddr:        cCtx.String("rpc-addr"),
				ContractAddr:   common.HexToAddress(contractAddr),
				DstackEndpoint: cCtx.String("dstack-endpoint"),
				KeyPath:        cCtx.String("key-path"),
				Purpose:        identity.DefaultPurpose,
				Secret:         []byte(cCtx.String("group-secret")),
				PollInterval:   time.Duration(cCtx.Int("poll-interval")) * time.Second,
				Log:            logger,
				Metrics:        m,
			})
			if err != nil {
				logger.Error("Agent startup failed", "err", err)
				return err
			}

			srv, err := httpserver.New(&httpserver.HTTPServerConfig{
				ListenAddr:               cCtx.String("listen-addr"),
				MetricsAddr:              cCtx.String("metrics-addr"),
				EnablePprof:              cCtx.Bool("pprof"),
				Log:                      logger,
				DrainDuration:            time.Duration(cCtx.Int64("drain-seconds")) * time.Second,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}, a.Watcher.Status, m)
			if err != nil {
				logger.Error("Failed to create status server", "err", err)
				return err
			}

			srv.RunInBackground()

			err = a.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Watcher failed", "err", err)
				srv.Shutdown()
				return err
			}

			logger.Info("Shutdown signal received")
			srv.Shutdown()
			logger.Info("Shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
