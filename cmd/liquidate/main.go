// Command liquidate closes every tracked position except the exclusion
// set and prints a per-token report.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"solana-trade-exec/internal/convergence"
	"solana-trade-exec/internal/domain"
	"solana-trade-exec/internal/liquidation"
	"solana-trade-exec/internal/market"
)

func main() {
	loadEnvFile()

	tokens := flag.String("tokens", os.Getenv("MONITORED_TOKENS"), "Comma-separated token mints to liquidate")
	exclusions := flag.String("exclusions", "", "Comma-separated mints never liquidated (default: USDC, wSOL)")
	maxOrder := flag.Float64("max-order", 1000, "Max single order size in USD")
	workers := flag.Int("workers", 4, "Concurrent liquidation workers")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	birdeyeKey := flag.String("birdeye-key", os.Getenv("BIRDEYE_API_KEY"), "Birdeye API key")
	privateKey := flag.String("private-key", os.Getenv("SOLANA_PRIVATE_KEY"), "Base58 wallet private key")

	flag.Parse()

	logger := log.New(os.Stdout, "[liquidate] ", log.LstdFlags)

	tokenList := splitList(*tokens)
	if len(tokenList) == 0 {
		logger.Fatal("No tokens specified. Use --tokens or MONITORED_TOKENS")
	}
	for _, mint := range tokenList {
		if err := domain.ValidateMint(mint); err != nil {
			logger.Fatalf("Invalid token %q: %v", mint, err)
		}
	}
	if *birdeyeKey == "" || *privateKey == "" {
		logger.Fatal("--birdeye-key and --private-key are required")
	}

	var opts []market.Option
	if *rpcEndpoint != "" {
		opts = append(opts, market.WithRPCEndpoint(*rpcEndpoint))
	}
	client, err := market.NewClient(*birdeyeKey, *privateKey, opts...)
	if err != nil {
		logger.Fatalf("Create market client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, cancelling...", sig)
		cancel()
	}()

	coordinator := liquidation.New(liquidation.Options{
		Engine:      convergence.New(client, convergence.WithLogger(logger)),
		Wallet:      client.Wallet(),
		MaxOrderUSD: *maxOrder,
		Exclusions:  splitList(*exclusions),
		Workers:     *workers,
		Logger:      logger,
	})

	report := coordinator.LiquidateAll(ctx, tokenList)
	for _, tr := range report.Results {
		if tr.Err != nil {
			logger.Printf("%s: error: %v", tr.Token, tr.Err)
			continue
		}
		logger.Println(tr.Result.String())
	}
	if failed := report.Failed(); len(failed) > 0 {
		logger.Printf("%d of %d tokens did not fully liquidate", len(failed), len(report.Results))
		os.Exit(1)
	}
	logger.Printf("All %d tokens liquidated in %s",
		len(report.Results), report.Finished.Sub(report.Started).Round(0))
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
