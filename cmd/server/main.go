// Package main runs the trading platform server: the HTTP API, the
// per-agent trading cycle scheduler, the live activity feed, and the
// Prometheus metrics endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"agent-engine/internal/api"
	"agent-engine/internal/chain"
	"agent-engine/internal/engine"
	"agent-engine/internal/exchange"
	"agent-engine/internal/exchange/stub"
	"agent-engine/internal/pipeline"
	"agent-engine/internal/scheduler"
	"agent-engine/internal/settlement"
	"agent-engine/internal/storage"
	chstore "agent-engine/internal/storage/clickhouse"
	"agent-engine/internal/storage/memory"
	"agent-engine/internal/storage/migrations"
	pgstore "agent-engine/internal/storage/postgres"
	"agent-engine/internal/txbuilder"
	"agent-engine/internal/vault"

	"github.com/redis/go-redis/v9"
)

// allStores holds all storage implementations.
type allStores struct {
	agents    storage.AgentStore
	orders    storage.OrderStore
	decisions storage.DecisionStore
	revenue   storage.RevenueStore
	claims    storage.ClaimStore
	analytics storage.AnalyticsStore
}

func main() {
	// Load .env file if exists; system env vars win.
	_ = godotenv.Load()

	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("RPC_ENDPOINT"), "Chain RPC HTTP endpoint")
	aggregatorURL := flag.String("aggregator-url", os.Getenv("AGGREGATOR_URL"), "Exchange aggregator base URL (empty selects the stub gateway)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the quote cache (optional)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	listenAddr := flag.String("listen-addr", ":8080", "API listen address")
	tickInterval := flag.Duration("tick-interval", scheduler.DefaultTickInterval, "Scheduler scan interval")
	inputMint := flag.String("input-mint", os.Getenv("SIGNAL_INPUT_MINT"), "Default signal input mint")
	outputMint := flag.String("output-mint", os.Getenv("SIGNAL_OUTPUT_MINT"), "Default signal output mint")
	slippageBps := flag.Int("slippage-bps", 100, "Default signal slippage tolerance, bps")
	minEdgeBps := flag.Int64("min-edge-bps", pipeline.DefaultMinEdgeBps, "Minimum round-trip edge, bps")
	maxImpactBps := flag.Int64("max-impact-bps", pipeline.DefaultMaxImpactBps, "Maximum simulated price impact, bps")
	advisorModel := flag.String("advisor-model", os.Getenv("ADVISOR_MODEL"), "Advisor model name (advisor enabled by OPENAI_API_KEY)")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// The vault master key is the one configuration the process must not
	// run without.
	masterKey := os.Getenv("VAULT_MASTER_KEY")
	if masterKey == "" {
		logger.Fatal("VAULT_MASTER_KEY is required")
	}
	v, err := vault.New([]byte(masterKey))
	if err != nil {
		logger.Fatalf("Vault init failed: %v", err)
	}
	defer v.Close()
	if err := v.Validate(); err != nil {
		logger.Fatalf("Vault selfcheck failed: %v", err)
	}

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}
	if *inputMint == "" || *outputMint == "" {
		logger.Fatal("--input-mint and --output-mint are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	gateway := createGateway(*aggregatorURL, *redisAddr, logger)

	var chainClient chain.Client
	if *rpcEndpoint != "" {
		chainClient = chain.NewHTTPClient(*rpcEndpoint)
	} else {
		logger.Println("No RPC endpoint configured; portfolio valuation falls back to funding plus realized flows, claims unavailable")
	}

	advisor := pipeline.NewAdvisor(os.Getenv("OPENAI_API_KEY"), *advisorModel)
	if advisor != nil {
		logger.Println("Advisor enabled")
	}

	builder := txbuilder.NewBuilder(v, blockhashSource(chainClient))
	runner := pipeline.NewRunner(stores.decisions,
		log.New(os.Stdout, "[pipeline] ", log.LstdFlags|log.Lshortfile),
		pipeline.DefaultStages(gateway, *minEdgeBps, *maxImpactBps, advisor)...)

	hub := api.NewHub(log.New(os.Stdout, "[activity] ", log.LstdFlags|log.Lshortfile))
	go hub.Run()
	defer hub.Close()

	eng := engine.New(engine.Config{
		Agents:    stores.agents,
		Orders:    stores.orders,
		Analytics: stores.analytics,
		Ledger:    settlement.NewLedger(stores.revenue, stores.claims),
		Runner:    runner,
		Gateway:   gateway,
		Builder:   builder,
		Vault:     v,
		Chain:     chainClient,
		Signal: &engine.FixedPairSource{
			InputMint:   *inputMint,
			OutputMint:  *outputMint,
			SlippageBps: *slippageBps,
		},
		Notifier: hub,
		Logger:   log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile),
	})

	sched := scheduler.New(stores.agents, eng,
		log.New(os.Stdout, "[scheduler] ", log.LstdFlags|log.Lshortfile), *tickInterval)

	server := api.NewServer(eng, sched, hub, logger)
	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: server.Router(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)
	go func() {
		logger.Printf("API listening on %s", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, shutting down", sig)
	case err := <-errCh:
		logger.Printf("Fatal: %v", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			agents:    memory.NewAgentStore(),
			orders:    memory.NewOrderStore(),
			decisions: memory.NewDecisionStore(),
			revenue:   memory.NewRevenueStore(),
			claims:    memory.NewClaimStore(),
			analytics: memory.NewAnalyticsStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		agents:    pgstore.NewAgentStore(pool),
		orders:    pgstore.NewOrderStore(pool),
		decisions: pgstore.NewDecisionStore(pool),
		revenue:   pgstore.NewRevenueStore(pool),
		claims:    pgstore.NewClaimStore(pool),
		analytics: chstore.NewTradeStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// createGateway builds the exchange gateway: HTTP against a real
// aggregator, or the in-memory stub for local runs.
func createGateway(aggregatorURL, redisAddr string, logger *log.Logger) exchange.Gateway {
	if aggregatorURL == "" {
		logger.Println("No aggregator URL configured; using stub gateway")
		return stub.NewGateway()
	}

	opts := []exchange.GatewayOption{}
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		opts = append(opts, exchange.WithQuoteCache(rdb, exchange.DefaultQuoteTTL))
		logger.Printf("Quote cache enabled via redis at %s", redisAddr)
	}
	return exchange.NewHTTPGateway(aggregatorURL, opts...)
}

// blockhashSource adapts the chain client for the transaction builder,
// falling back to a process-local placeholder when no RPC endpoint is
// configured.
func blockhashSource(client chain.Client) txbuilder.BlockhashSource {
	if client != nil {
		return client
	}
	return staticBlockhash("AvN5Pk9rjNDYqrU7QyS8uv7Yaw3N8XmAsNjFBB9RbJvS")
}

type staticBlockhash string

func (s staticBlockhash) LatestBlockhash(context.Context) (string, error) {
	return string(s), nil
}
