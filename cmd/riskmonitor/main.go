// Command riskmonitor runs the periodic risk limit check loop: snapshot
// the portfolio, compare against the lookback baseline, and liquidate
// all tracked positions when a limit is breached and the advisory model
// does not override.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"solana-trade-exec/internal/advisory"
	"solana-trade-exec/internal/convergence"
	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/liquidation"
	"solana-trade-exec/internal/market"
	"solana-trade-exec/internal/monitor"
	"solana-trade-exec/internal/observability"
	"solana-trade-exec/internal/portfolio"
	"solana-trade-exec/internal/storage"
	chstore "solana-trade-exec/internal/storage/clickhouse"
	"solana-trade-exec/internal/storage/memory"
	"solana-trade-exec/internal/storage/migrations"
	pgstore "solana-trade-exec/internal/storage/postgres"
)

func main() {
	loadEnvFile()

	// Market access
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("BIRDEYE_WS_ENDPOINT"), "Birdeye WebSocket endpoint for live prices (empty to disable)")
	birdeyeKey := flag.String("birdeye-key", os.Getenv("BIRDEYE_API_KEY"), "Birdeye API key")
	privateKey := flag.String("private-key", os.Getenv("SOLANA_PRIVATE_KEY"), "Base58 wallet private key")

	// Tracked universe
	tokens := flag.String("tokens", os.Getenv("MONITORED_TOKENS"), "Comma-separated token mints to monitor")
	exclusions := flag.String("exclusions", "", "Comma-separated mints never liquidated (default: USDC, wSOL)")

	// Risk limits
	usePercentage := flag.Bool("use-percentage", false, "Interpret limits as percentages of baseline")
	lossLimit := flag.Float64("loss-limit", 25, "Max loss before liquidation (USD, or percent with --use-percentage)")
	gainLimit := flag.Float64("gain-limit", 25, "Max gain before liquidation (USD, or percent with --use-percentage)")
	lookbackHours := flag.Float64("lookback-hours", domain.DefaultLookbackHours, "Baseline lookback window in hours")
	minBalance := flag.Float64("min-balance", 0, "Absolute portfolio floor in USD (0 to disable)")

	// Pacing
	interval := flag.Duration("interval", domain.DefaultTickInterval, "Tick interval")
	retention := flag.Duration("snapshot-retention", domain.DefaultSnapshotRetention, "Snapshot retention window")
	maxOrder := flag.Float64("max-order", 1000, "Max single order size in USD for liquidation chunks")
	workers := flag.Int("workers", 4, "Concurrent liquidation workers")

	// Storage
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse DSN for the analytics mirror (empty to disable)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory snapshot storage instead of PostgreSQL")

	// Advisory
	advisoryKey := flag.String("advisory-key", os.Getenv("OPENAI_API_KEY"), "API key for the advisory model (empty to disable)")
	advisoryURL := flag.String("advisory-url", "", "Override advisory API base URL")
	advisoryModel := flag.String("advisory-model", "", "Override advisory model name")
	advisoryTimeout := flag.Duration("advisory-timeout", monitor.DefaultAdvisoryTimeout, "Advisory call timeout")

	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	logger := log.New(os.Stdout, "[riskmonitor] ", log.LstdFlags|log.Lshortfile)

	trackedTokens := splitList(*tokens)
	if len(trackedTokens) == 0 {
		logger.Fatal("No tokens specified. Use --tokens or MONITORED_TOKENS")
	}
	for _, mint := range trackedTokens {
		if err := domain.ValidateMint(mint); err != nil {
			logger.Fatalf("Invalid token %q: %v", mint, err)
		}
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
		sig = <-sigCh
		logger.Printf("Received second signal %v, forcing exit", sig)
		os.Exit(1)
	}()

	if err := run(ctx, logger, runConfig{
		rpcEndpoint:     *rpcEndpoint,
		wsEndpoint:      *wsEndpoint,
		birdeyeKey:      *birdeyeKey,
		privateKey:      *privateKey,
		tokens:          trackedTokens,
		exclusions:      splitList(*exclusions),
		usePercentage:   *usePercentage,
		lossLimit:       *lossLimit,
		gainLimit:       *gainLimit,
		lookbackHours:   *lookbackHours,
		minBalance:      *minBalance,
		interval:        *interval,
		retention:       *retention,
		maxOrder:        *maxOrder,
		workers:         *workers,
		postgresDSN:     *postgresDSN,
		clickhouseDSN:   *clickhouseDSN,
		useMemory:       *useMemory,
		advisoryKey:     *advisoryKey,
		advisoryURL:     *advisoryURL,
		advisoryModel:   *advisoryModel,
		advisoryTimeout: *advisoryTimeout,
	}); err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

type runConfig struct {
	rpcEndpoint     string
	wsEndpoint      string
	birdeyeKey      string
	privateKey      string
	tokens          []string
	exclusions      []string
	usePercentage   bool
	lossLimit       float64
	gainLimit       float64
	lookbackHours   float64
	minBalance      float64
	interval        time.Duration
	retention       time.Duration
	maxOrder        float64
	workers         int
	postgresDSN     string
	clickhouseDSN   string
	useMemory       bool
	advisoryKey     string
	advisoryURL     string
	advisoryModel   string
	advisoryTimeout time.Duration
}

func run(ctx context.Context, logger *log.Logger, cfg runConfig) error {
	if cfg.birdeyeKey == "" {
		return fmt.Errorf("--birdeye-key is required")
	}
	if cfg.privateKey == "" {
		return fmt.Errorf("--private-key is required")
	}

	marketOpts := []market.Option{}
	if cfg.rpcEndpoint != "" {
		marketOpts = append(marketOpts, market.WithRPCEndpoint(cfg.rpcEndpoint))
	}
	client, err := market.NewClient(cfg.birdeyeKey, cfg.privateKey, marketOpts...)
	if err != nil {
		return fmt.Errorf("create market client: %w", err)
	}
	logger.Printf("Wallet: %s", client.Wallet())

	snapshots, cleanup, err := buildSnapshotStore(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var advisor advisory.Advisor
	if cfg.advisoryKey != "" {
		var advOpts []advisory.Option
		if cfg.advisoryURL != "" {
			advOpts = append(advOpts, advisory.WithBaseURL(cfg.advisoryURL))
		}
		if cfg.advisoryModel != "" {
			advOpts = append(advOpts, advisory.WithModel(cfg.advisoryModel))
		}
		advisor = advisory.NewCachedAdvisor(advisory.NewClient(cfg.advisoryKey, advOpts...))
	} else {
		logger.Println("Advisory disabled, breaches always liquidate")
	}

	engine := convergence.New(client, convergence.WithLogger(logger))
	valuer := portfolio.NewValuer(client, client.Wallet(), cfg.tokens)
	liquidator := liquidation.New(liquidation.Options{
		Engine:      engine,
		Wallet:      client.Wallet(),
		MaxOrderUSD: cfg.maxOrder,
		Exclusions:  cfg.exclusions,
		Workers:     cfg.workers,
		Logger:      logger,
	})

	mode := domain.LimitModeAbsolute
	if cfg.usePercentage {
		mode = domain.LimitModePercentage
	}
	mon, err := monitor.New(monitor.Options{
		Valuer:     valuer,
		Snapshots:  snapshots,
		Advisor:    advisor,
		Liquidator: liquidator,
		Config: domain.RiskLimitConfig{
			Mode:              mode,
			LossLimit:         cfg.lossLimit,
			GainLimit:         cfg.gainLimit,
			LookbackHours:     cfg.lookbackHours,
			MinimumBalanceUSD: cfg.minBalance,
		},
		Interval:           cfg.interval,
		MinSnapshotSpacing: cfg.interval / 2,
		SnapshotRetention:  cfg.retention,
		AdvisoryTimeout:    cfg.advisoryTimeout,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	if cfg.wsEndpoint != "" {
		startPriceStream(ctx, logger, cfg.wsEndpoint, cfg.tokens)
	}

	return mon.Run(ctx)
}

// buildSnapshotStore picks memory or PostgreSQL primary storage and
// optionally mirrors writes into ClickHouse for analytics.
func buildSnapshotStore(ctx context.Context, logger *log.Logger, cfg runConfig) (storage.SnapshotStore, func(), error) {
	var (
		primary storage.SnapshotStore
		cleanup = func() {}
	)
	switch {
	case cfg.useMemory:
		logger.Println("Using in-memory snapshot storage")
		primary = memory.NewSnapshotStore()
	case cfg.postgresDSN != "":
		pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		primary = pgstore.NewSnapshotStore(pool)
		cleanup = pool.Close
	default:
		return nil, nil, fmt.Errorf("--postgres-dsn is required (or --use-memory)")
	}

	if cfg.clickhouseDSN == "" {
		return primary, cleanup, nil
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
	if err != nil {
		logger.Printf("ClickHouse mirror disabled: %v", err)
		return primary, cleanup, nil
	}
	logger.Println("Mirroring snapshots to ClickHouse")
	mirrored := storage.NewMirroredStore(primary, chstore.NewSnapshotStore(conn), logger)
	pgCleanup := cleanup
	return mirrored, func() {
		conn.Close()
		pgCleanup()
	}, nil
}

// startPriceStream subscribes to live price updates for the tracked
// tokens. The stream is observational; convergence always re-reads the
// oracle price directly.
func startPriceStream(ctx context.Context, logger *log.Logger, endpoint string, tokens []string) {
	stream, err := market.NewPriceStream(ctx, endpoint, tokens, nil)
	if err != nil {
		logger.Printf("Price stream disabled: %v", err)
		return
	}
	logger.Printf("Streaming prices for %d tokens", len(tokens))
	go func() {
		for update := range stream.Updates() {
			logger.Printf("price %s = %.6f", update.Token, update.Price)
		}
	}()
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
