package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"bondvault/crypto"
	"bondvault/native/bank"
	"bondvault/native/bond"
	nativecommon "bondvault/native/common"
	"bondvault/observability/logging"
	telemetry "bondvault/observability/otel"
	"bondvault/services/bondd/config"
	"bondvault/services/bondd/pool"
	"bondvault/services/bondd/server"
	bondstorage "bondvault/services/bondd/storage"
	bondstate "bondvault/state/bond"
	"bondvault/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/bondd/config.yaml", "path to bondd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("bondd: load config: %v", err)
	}
	env := strings.TrimSpace(os.Getenv("BONDD_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("bondd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("bondd", env))
	if err != nil {
		log.Fatalf("bondd: init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	backing, err := storage.Open(storage.Backend(cfg.Storage.Backend), cfg.Storage.Path)
	if err != nil {
		log.Fatalf("bondd: open state: %v", err)
	}
	db, err := storage.NewStaged(backing)
	if err != nil {
		log.Fatalf("bondd: stage state: %v", err)
	}
	defer db.Close()

	ledger, err := bank.NewLedger(db)
	if err != nil {
		log.Fatalf("bondd: open ledger: %v", err)
	}
	base, err := ledger.Register(cfg.Assets.Base)
	if err != nil {
		log.Fatalf("bondd: register base asset: %v", err)
	}
	reserve, err := ledger.Register(cfg.Assets.Reserve)
	if err != nil {
		log.Fatalf("bondd: register reserve asset: %v", err)
	}
	for _, symbol := range cfg.Assets.Extra {
		if _, err := ledger.Register(symbol); err != nil {
			log.Fatalf("bondd: register asset %s: %v", symbol, err)
		}
	}
	if err := db.Begin(); err != nil {
		log.Fatalf("bondd: fund ledger: %v", err)
	}
	if err := fund(ledger, cfg.Funding, logger); err != nil {
		db.Rollback()
		log.Fatalf("bondd: fund ledger: %v", err)
	}
	if err := db.Commit(); err != nil {
		log.Fatalf("bondd: fund ledger: %v", err)
	}

	custody, _ := crypto.ParseAddress(cfg.Assets.Custody)
	owner, _ := crypto.ParseAddress(cfg.Bond.Owner)
	mergePolicy, _ := bond.ParseMergePolicy(cfg.Bond.MergePolicy)
	engine, err := bond.NewEngine(bond.Config{
		Custody: custody,
		Settings: bond.Settings{
			VestPeriod:  cfg.Bond.VestPeriod.Duration,
			DiscountBps: cfg.Bond.DiscountBps,
		},
		MergePolicy: mergePolicy,
	})
	if err != nil {
		log.Fatalf("bondd: bond engine: %v", err)
	}

	journalDSN, err := bondstorage.FileDSN(cfg.JournalPath)
	if err != nil {
		log.Fatalf("bondd: resolve journal DSN: %v", err)
	}
	journal, err := bondstorage.Open(journalDSN, logger)
	if err != nil {
		log.Fatalf("bondd: open journal: %v", err)
	}
	defer journal.Close()

	var (
		reader bond.PoolReader
		setter server.ReserveSetter
	)
	switch strings.ToLower(cfg.Pool.Mode) {
	case config.PoolModeEVM:
		client, err := pool.Dial(cfg.Pool.Endpoint)
		if err != nil {
			log.Fatalf("bondd: dial pool endpoint: %v", err)
		}
		defer client.Close()
		evm, err := pool.NewEVM(client, pool.EVMConfig{
			Pair:         common.HexToAddress(cfg.Pool.Pair),
			BaseIsToken1: cfg.Pool.BaseIsToken1,
			MaxAge:       cfg.Pool.MaxAge.Duration,
		})
		if err != nil {
			log.Fatalf("bondd: evm pool: %v", err)
		}
		reader = evm
	default:
		r0, _ := config.ParseAmount(cfg.Pool.Reserve0)
		r1, _ := config.ParseAmount(cfg.Pool.Reserve1)
		static, err := pool.NewStatic(r0, r1)
		if err != nil {
			log.Fatalf("bondd: static pool: %v", err)
		}
		reader, setter = static, static
	}

	store := bondstate.NewStore(db)
	engine.SetState(store)
	engine.SetCommitter(db)
	engine.SetAssets(base, reserve)
	engine.SetAssetRegistry(ledger)
	engine.SetPoolReader(reader)
	engine.SetOwnerView(nativecommon.NewSingleOwner(owner))
	engine.SetPauses(store)
	engine.SetEmitter(journal)
	engine.SetLogger(logger)

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		Auth: server.AuthConfig{
			JWTSecret:       cfg.Auth.JWTSecret,
			Issuer:          cfg.Auth.Issuer,
			Audience:        cfg.Auth.Audience,
			ClockSkew:       cfg.Auth.ClockSkew.Duration,
			SignatureWindow: cfg.Auth.SignatureWindow.Duration,
		},
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
	}, engine, journal, setter, logger)
	if err != nil {
		log.Fatalf("bondd: configure server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("bondd: starting",
		"custody", custody.String(),
		"base", base.Symbol(),
		"reserve", reserve.Symbol(),
		"assets", strings.Join(ledger.Symbols(), ","),
		"pool_mode", cfg.Pool.Mode,
		"storage", cfg.Storage.Backend)
	if err := srv.Run(ctx); err != nil {
		logger.Error("bondd: server stopped", "error", err)
		os.Exit(1)
	}
}

// fund mints each configured allocation, skipping assets that already carry
// supply so restarts do not mint twice.
func fund(ledger *bank.Ledger, allocations []config.Allocation, logger *slog.Logger) error {
	funded := make(map[string]bool)
	for _, alloc := range allocations {
		token, err := ledger.Token(alloc.Asset)
		if err != nil {
			return err
		}
		symbol := token.Symbol()
		if _, seen := funded[symbol]; !seen {
			supply, err := ledger.Supply(symbol)
			if err != nil {
				return err
			}
			funded[symbol] = supply.Sign() == 0
		}
		if !funded[symbol] {
			continue
		}
		holder, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return err
		}
		amount, err := config.ParseAmount(alloc.Amount)
		if err != nil {
			return err
		}
		if err := token.Mint(holder, amount); err != nil {
			return err
		}
		logger.Info("bondd: funded account", "asset", symbol, "address", holder.String(), "amount", amount.String())
	}
	return nil
}
