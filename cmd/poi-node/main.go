// Command poi-node runs one Proof-of-Innocence list-provider instance:
// it loads a list's configuration and signing key, dials each
// configured network, and runs the queueing poller, the validation
// poller, and the event queue coordinator until interrupted.
//
// This is deliberately a thin entrypoint. Spec §1 places a full CLI
// management surface out of core; this binary wires the pipeline and
// gets out of the way.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zy0n/proof-of-innocence/internal/blockedshields"
	"github.com/zy0n/proof-of-innocence/internal/chainobserver"
	"github.com/zy0n/proof-of-innocence/internal/config"
	"github.com/zy0n/proof-of-innocence/internal/eventqueue"
	"github.com/zy0n/proof-of-innocence/internal/kvstore"
	"github.com/zy0n/proof-of-innocence/internal/model"
	"github.com/zy0n/proof-of-innocence/internal/poieventlog"
	"github.com/zy0n/proof-of-innocence/internal/policy"
	"github.com/zy0n/proof-of-innocence/internal/queuepoller"
	"github.com/zy0n/proof-of-innocence/internal/shieldqueue"
	"github.com/zy0n/proof-of-innocence/internal/signer"
	"github.com/zy0n/proof-of-innocence/internal/statusstore"
	"github.com/zy0n/proof-of-innocence/internal/validatepoller"
)

func main() {
	app := &cli.App{
		Name:  "poi-node",
		Usage: "run a Proof-of-Innocence list-provider instance",
		Commands: []*cli.Command{
			runCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("poi-node exited with error", "err", err)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the queueing and validation pollers and the event queue coordinator",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Required: true, Usage: "path to the list's TOML configuration file"},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, c.String("config"))
		},
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	setupLogging(cfg)

	s, err := loadOrCreateSigner(cfg.KeyFile)
	if err != nil {
		return errors.Wrap(err, "load signer")
	}
	log.Info("list key loaded", "listKey", s.ListKey(), "name", cfg.Name)

	store, err := kvstore.Open(cfg.DataDir)
	if err != nil {
		return errors.Wrap(err, "open datastore")
	}
	defer store.Close()

	queue := shieldqueue.New(store)
	status := statusstore.New(store)
	events := poieventlog.New(store)
	blocked := blockedshields.New(store)

	observer, networks, deploymentBlocks, err := buildObserver(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "build chain observer")
	}

	coord := eventqueue.New(events, s)
	if err := coord.Init(s.ListKey()); err != nil {
		return errors.Wrap(err, "init event queue coordinator")
	}

	// Operators supply their own Gate; this default rejects nothing,
	// matching an empty-list policy until one is configured.
	gate := policy.NewAddressSetGate(nil, "")

	qp := queuepoller.New(networks, deploymentBlocks, status, queue, observer)
	vp := validatepoller.New(networks, cfg.PendingPeriod(), s.ListKey(), queue, observer, gate, coord, blocked, s)

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); qp.Start(runCtx, cfg.QueueShieldsDelay()) }()
	go func() { defer wg.Done(); vp.Start(runCtx, cfg.ValidateShieldsDelay()) }()
	go func() { defer wg.Done(); coord.Start(runCtx, cfg.ValidateShieldsDelay()) }()

	wg.Wait()
	return nil
}

func setupLogging(cfg *config.Config) {
	level := logLevelFromString(cfg.LogLevel)
	var handler log.Handler
	if cfg.LogFile != "" {
		writer := &lumberjack.Logger{Filename: cfg.LogFile, MaxSize: 100, MaxBackups: 5, MaxAge: 28}
		handler = log.NewTerminalHandlerWithLevel(writer, level, false)
	} else {
		handler = log.NewTerminalHandlerWithLevel(os.Stderr, level, true)
	}
	log.SetDefault(log.NewLogger(handler))
}

func logLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}

func loadOrCreateSigner(path string) (*signer.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "read key file %s", path)
		}
		s, err := signer.Generate()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, errors.Wrap(err, "create key file directory")
		}
		if err := os.WriteFile(path, []byte(hex.EncodeToString(s.PrivateKeyBytes())), 0o600); err != nil {
			return nil, errors.Wrapf(err, "write key file %s", path)
		}
		return s, nil
	}

	decoded, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "decode key file %s", path)
	}
	return signer.New(ed25519.PrivateKey(decoded))
}

func buildObserver(ctx context.Context, cfg *config.Config) (*chainobserver.EthObserver, []model.Network, map[model.Network]uint64, error) {
	clients := make(map[model.Network]chainobserver.NetworkClient, len(cfg.Networks))
	networks := make([]model.Network, 0, len(cfg.Networks))
	deploymentBlocks := make(map[model.Network]uint64, len(cfg.Networks))

	for _, nc := range cfg.Networks {
		client, err := ethclient.DialContext(ctx, nc.RPCEndpoint)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "dial %s at %s", nc.Name, nc.RPCEndpoint)
		}
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "fetch chain id for %s", nc.Name)
		}
		clients[nc.Name] = chainobserver.NetworkClient{
			Client:         client,
			ChainID:        chainID,
			ShieldContract: common.HexToAddress(nc.ShieldContract),
			ShieldEventSig: common.HexToHash(nc.ShieldEventTopic),
			LogChunkBlocks: 2000,
		}
		networks = append(networks, nc.Name)
		deploymentBlocks[nc.Name] = nc.DeploymentBlock
	}

	return chainobserver.NewEthObserver(clients, 32<<20), networks, deploymentBlocks, nil
}
