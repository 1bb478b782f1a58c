/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the storefront engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store and Bolt confirmation store
  3. Build the balance cache, suppressor and coordinator
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port           HTTP server port (default: 8080)
  -db             SQLite database path (default: lockshop.db)
                  Use ":memory:" for an in-memory database
  -confirm-db     Bolt database for confirmation tokens
  -cache-ttl      Balance cache TTL
  -suppress       Duplicate-command suppression window
  -max-items      Per-purchase quantity ceiling
  -delivery-url   Delivery webhook; empty means items are returned inline

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close both databases
  4. Exit

EXAMPLES:
  # Run with file databases
  ./shopd -db=./data/lockshop.db -confirm-db=./data/confirm.db

  # Run with an in-memory ledger
  ./shopd -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - trade/coordinator.go: Purchase pipeline
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lockshop/engine/api"
	"github.com/lockshop/engine/store/sqlite"
	"github.com/lockshop/engine/trade"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "lockshop.db", "SQLite database path")
	confirmPath := flag.String("confirm-db", "confirm.db", "Bolt confirmation-token database path")
	cacheTTL := flag.Duration("cache-ttl", trade.DefaultCacheTTL, "Balance cache TTL")
	suppressWin := flag.Duration("suppress", trade.DefaultSuppressWindow, "Duplicate-command suppression window")
	maxItems := flag.Int("max-items", trade.DefaultMaxItemsPerPurchase, "Per-purchase quantity ceiling")
	deliveryURL := flag.String("delivery-url", "", "Delivery webhook URL (empty: items returned inline)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Initialize stores
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	confirm, err := trade.OpenConfirmStore(*confirmPath, trade.DefaultConfirmTTL)
	if err != nil {
		logger.Error("failed to initialize confirmation store", "error", err)
		os.Exit(1)
	}
	defer confirm.Close()

	// Build the coordinator
	var sink trade.Sink
	if *deliveryURL != "" {
		sink = trade.NewWebhookSink(*deliveryURL, nil)
	}

	cache := trade.NewBalanceCache(store, *cacheTTL, trade.DefaultCacheEntries)
	coord := trade.NewCoordinator(trade.Deps{
		Ledger:     store,
		Pool:       store,
		Audit:      store,
		Products:   store,
		Identities: store,
		Sink:       sink,
		Cache:      cache,
		Logger:     logger,
	}, trade.Config{MaxItemsPerPurchase: *maxItems})

	suppress := trade.NewSuppressor(*suppressWin)

	// Create router
	handler := api.NewHandler(coord, store, confirm, suppress, logger)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
