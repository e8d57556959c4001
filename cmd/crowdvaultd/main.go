package main

import (
	"flag"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"crowdvault/config"
	"crowdvault/core/events"
	"crowdvault/crypto"
	"crowdvault/native/crowdfund"
	"crowdvault/observability/logging"
	"crowdvault/rpc"
	"crowdvault/state"
	"crowdvault/storage"
)

const envName = "CROWDVAULT_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envName))
	logger := logging.Setup("crowdvaultd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	owner, err := cfg.OwnerAddress()
	if err != nil {
		logger.Error("failed to decode owner address", slog.Any("error", err))
		os.Exit(1)
	}
	if err := manager.Bootstrap(owner.Raw(), cfg.PlatformFeeBps); err != nil {
		logger.Error("failed to bootstrap admin record", slog.Any("error", err))
		os.Exit(1)
	}

	if dev := strings.TrimSpace(cfg.DevFundingAccount); dev != "" {
		devAddr := crypto.MustDecodeAddress(dev)
		funded, err := manager.HasAccount(devAddr.Raw())
		if err != nil {
			logger.Error("failed to inspect dev account", slog.Any("error", err))
			os.Exit(1)
		}
		if !funded {
			balance, _ := new(big.Int).SetString(strings.TrimSpace(cfg.DevFundingBalance), 10)
			if err := manager.CreditAccount(devAddr.Raw(), balance); err != nil {
				logger.Error("failed to credit dev account", slog.Any("error", err))
				os.Exit(1)
			}
			logger.Warn("credited dev funding account", slog.String("address", dev), slog.String("balance", balance.String()))
		}
	}

	journal := events.NewJournal(cfg.JournalRetention)
	engine := crowdfund.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(journal)

	logger.Info("ledger ready",
		slog.String("owner", owner.String()),
		slog.Uint64("feeBps", uint64(cfg.PlatformFeeBps)),
		slog.String("dataDir", cfg.DataDir),
	)

	server := rpc.NewServer(engine, journal, rpc.ServerConfig{
		RateLimitPerMin: cfg.RateLimitPerMin,
		RateLimitBurst:  cfg.RateLimitBurst,
	}, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
