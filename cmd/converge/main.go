// Command converge drives one token's position toward a target USD
// value in bounded chunks and prints the terminal result.
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
	"solana-trade-exec/internal/market"
)

func main() {
	loadEnvFile()

	token := flag.String("token", "", "Token mint to converge")
	targetUSD := flag.Float64("target-usd", 0, "Target position value in USD")
	maxOrder := flag.Float64("max-order", 1000, "Max single order size in USD")
	slippageBps := flag.Int("slippage-bps", domain.DefaultSlippageBps, "Slippage tolerance in basis points")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	birdeyeKey := flag.String("birdeye-key", os.Getenv("BIRDEYE_API_KEY"), "Birdeye API key")
	privateKey := flag.String("private-key", os.Getenv("SOLANA_PRIVATE_KEY"), "Base58 wallet private key")

	flag.Parse()

	logger := log.New(os.Stdout, "[converge] ", log.LstdFlags)

	if *token == "" {
		logger.Fatal("--token is required")
	}
	if err := domain.ValidateMint(*token); err != nil {
		logger.Fatalf("Invalid token %q: %v", *token, err)
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
		logger.Printf("Received signal %v, cancelling after current iteration...", sig)
		cancel()
	}()

	engine := convergence.New(client, convergence.WithLogger(logger))
	result, err := engine.Converge(ctx, domain.TargetAllocation{
		Token:       *token,
		Wallet:      client.Wallet(),
		TargetUSD:   *targetUSD,
		MaxOrderUSD: *maxOrder,
		SlippageBps: *slippageBps,
	})
	if err != nil {
		logger.Fatalf("Converge: %v", err)
	}

	logger.Println(result.String())
	if !result.Converged() {
		os.Exit(1)
	}
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
