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
	"sync"
	"syscall"
	"time"

	"mosaic-sync/internal/aggregation"
	"mosaic-sync/internal/cache"
	"mosaic-sync/internal/chain"
	"mosaic-sync/internal/config"
	"mosaic-sync/internal/events"
	"mosaic-sync/internal/ingestion"
	"mosaic-sync/internal/observability"
	"mosaic-sync/internal/reconcile"
	"mosaic-sync/internal/storage"
	chstore "mosaic-sync/internal/storage/clickhouse"
	"mosaic-sync/internal/storage/memory"
	"mosaic-sync/internal/storage/migrations"
	pgstore "mosaic-sync/internal/storage/postgres"
)

func main() {
	// Parse flags; non-empty values override the config file
	configPath := flag.String("config", "", "Path to YAML config file")
	wsEndpoint := flag.String("ws-endpoint", "", "Chain WebSocket endpoint")
	httpEndpoint := flag.String("http-endpoint", "", "Chain JSON-RPC HTTP endpoint")
	tokenAddress := flag.String("token-address", "", "Fungible token contract address")
	addresses := flag.String("addresses", "", "Comma-separated contract addresses to monitor")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	redisAddr := flag.String("redis-addr", "", "Redis address for the derived cache")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage and cache")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	applyOverrides(cfg, *wsEndpoint, *httpEndpoint, *tokenAddress, *addresses, *postgresDSN, *clickhouseDSN, *redisAddr, *metricsAddr)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	// Start metrics server if enabled
	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal main goroutine completion
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = run(ctx, logger, cfg, *useMemory)

	// Signal completion to shutdown handler
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// loadConfig reads the YAML config, or builds a defaults-only config when
// no path was given (flags must then supply the endpoints).
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	return config.Load(path)
}

// applyOverrides layers non-empty flag values over the loaded config.
func applyOverrides(cfg *config.Config, wsEndpoint, httpEndpoint, tokenAddress, addresses, postgresDSN, clickhouseDSN, redisAddr, metricsAddr string) {
	if wsEndpoint != "" {
		cfg.Chain.WSEndpoint = wsEndpoint
	}
	if httpEndpoint != "" {
		cfg.Chain.HTTPEndpoint = httpEndpoint
	}
	if tokenAddress != "" {
		cfg.Chain.TokenAddress = tokenAddress
	}
	if addresses != "" {
		var list []string
		for _, a := range strings.Split(addresses, ",") {
			if a = strings.TrimSpace(a); a != "" {
				list = append(list, a)
			}
		}
		cfg.Chain.Addresses = list
	}
	if postgresDSN != "" {
		cfg.Stores.PostgresDSN = postgresDSN
	}
	if clickhouseDSN != "" {
		cfg.Stores.ClickHouseDSN = clickhouseDSN
	}
	if redisAddr != "" {
		cfg.Cache.RedisAddr = redisAddr
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
}

// run wires the event source, stores, cache and workers, and blocks until
// the context is cancelled.
func run(ctx context.Context, logger *log.Logger, cfg *config.Config, useMemory bool) error {
	// Create chain clients
	rpc := chain.NewHTTPClient(cfg.Chain.HTTPEndpoint)

	ws, err := chain.NewWSClient(ctx, cfg.Chain.WSEndpoint, nil)
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	defer ws.Close()

	// Require DSNs unless --use-memory is explicitly set
	if !useMemory && cfg.Stores.PostgresDSN == "" {
		return fmt.Errorf("stores.postgres_dsn is required (use --use-memory for in-memory storage)")
	}
	if !useMemory && cfg.Stores.ClickHouseDSN == "" {
		return fmt.Errorf("stores.clickhouse_dsn is required (use --use-memory for in-memory storage)")
	}

	// Create stores (use interfaces)
	var inventoryStore storage.InventoryStore = memory.NewInventoryStore()
	var klineStore storage.KlineStore = memory.NewKlineStore()
	var ledgerStore storage.SwapLedgerStore = memory.NewSwapLedgerStore()

	if !useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.Stores.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}

		chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Stores.ClickHouseDSN)
		if err != nil {
			return fmt.Errorf("run clickhouse migrations: %w", err)
		}
		defer chConn.Close()

		inventoryStore = pgstore.NewInventoryStore(pool)
		klineStore = pgstore.NewKlineStore(pool)
		ledgerStore = chstore.NewSwapLedgerStore(chConn)
	}

	// Create the derived cache; Redis when configured, in-process otherwise
	var derived cache.DerivedCache = cache.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.Capacity)
	if !useMemory && cfg.Cache.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisCache.Close()
		derived = redisCache
	}
	eligibility := cache.NewEligibilityService(inventoryStore, derived)

	// Create the bus and the event source
	bus := events.NewBus(events.BusConfig{Logger: logger})
	defer bus.Close()

	source := ingestion.NewChainEventSource(ws, rpc, bus, cfg.Chain.Addresses)

	// Create the reconcilers
	balances := reconcile.NewTokenBalance(rpc, cfg.Chain.TokenAddress)
	deny := reconcile.NewDenyList(cfg.Sync.DenyList)
	transferReconciler := reconcile.NewTransferReconciler(inventoryStore, balances, deny, cfg.Sync.TokenDecimals, cfg.Sync.UnitBatchSize)
	mintReconciler := reconcile.NewMintReconciler(inventoryStore)

	// Start the workers; each consumes its own bus subscription
	workers := []func(context.Context) error{
		reconcile.NewTransferWorker(bus, transferReconciler, eligibility).Run,
		reconcile.NewMintWorker(bus, mintReconciler).Run,
		aggregation.NewKlineWorker(bus, klineStore, cfg.Sync.TokenDecimals).Run,
		aggregation.NewLedgerWorker(bus, ledgerStore).Run,
		cache.NewInvalidationWorker(bus, eligibility).Run,
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(runWorker func(context.Context) error) {
			defer wg.Done()
			if err := runWorker(ctx); err != nil && err != context.Canceled {
				logger.Printf("Worker exited: %v", err)
			}
		}(w)
	}

	logger.Printf("Monitoring contracts: %v", cfg.Chain.Addresses)
	logger.Println("Starting live ingestion...")
	err = source.Run(ctx)

	wg.Wait()
	return err
}
