// Package main runs the copy-trading service: wallet monitoring, the copy
// pipeline with risk gating and retries, the background guards, and the
// HTTP surface (REST API, websocket event stream, Prometheus metrics).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"polymarket-copytrader/internal/copier"
	"polymarket-copytrader/internal/domain"
	"polymarket-copytrader/internal/events"
	"polymarket-copytrader/internal/exchange"
	"polymarket-copytrader/internal/executor"
	"polymarket-copytrader/internal/guard"
	"polymarket-copytrader/internal/monitor"
	"polymarket-copytrader/internal/observability"
	"polymarket-copytrader/internal/retry"
	"polymarket-copytrader/internal/risk"
	"polymarket-copytrader/internal/sizing"
	"polymarket-copytrader/internal/storage"
	chstore "polymarket-copytrader/internal/storage/clickhouse"
	"polymarket-copytrader/internal/storage/memory"
	"polymarket-copytrader/internal/storage/migrations"
	pgstore "polymarket-copytrader/internal/storage/postgres"
)

// Server wires the pipeline components together.
type Server struct {
	stores       *allStores
	bus          *events.Bus
	hub          *events.Hub
	monitor      *monitor.Monitor
	orchestrator *copier.Orchestrator
	scheduler    *retry.Scheduler
	drawdown     *guard.DrawdownGuard
	stops        *guard.StopGuard
	logger       *log.Logger
	startedAt    time.Time
}

// allStores holds all storage implementations.
type allStores struct {
	traders   storage.TraderStore
	trades    storage.TradeStore
	positions storage.PositionStore
	activity  storage.ActivityStore
	stats     storage.TraderStatsStore
}

func main() {
	// .env values become defaults; real env vars win.
	_ = godotenv.Load()

	clobEndpoint := flag.String("clob-endpoint", envOr("CLOB_ENDPOINT", "https://clob.polymarket.com"), "CLOB API endpoint")
	dataEndpoint := flag.String("data-endpoint", envOr("DATA_ENDPOINT", "https://data-api.polymarket.com"), "Data API endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	httpAddr := flag.String("http-addr", envOr("HTTP_ADDR", ":8080"), "HTTP listen address")
	pollInterval := flag.Duration("poll-interval", 2*time.Second, "Wallet poll interval")
	drawdownInterval := flag.Duration("drawdown-interval", 30*time.Second, "Drawdown sweep interval")
	stopInterval := flag.Duration("stop-interval", 5*time.Second, "Stop-loss sweep interval")

	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Exchange clients: CLOB for orders and books, data API for holdings.
	clob := exchange.NewHTTPClient(*clobEndpoint)
	dataAPI := exchange.NewDataClient(*dataEndpoint)

	// Event plumbing: internal bus fanned out to websocket clients.
	bus := events.NewBus()
	hub := events.NewHub(events.WithHubLogger(logger))
	go hub.Run(bus.Subscribe())

	gate := risk.NewGate(risk.GateOptions{
		Traders:   stores.traders,
		Trades:    stores.trades,
		Positions: stores.positions,
		Exchange:  clob,
		Logger:    logger,
	})
	sizer := sizing.New(sizing.Options{
		Traders:      stores.traders,
		Positions:    stores.positions,
		Exchange:     clob,
		Logger:       logger,
		GlobalLimits: gate.GetGlobalLimits,
	})
	exec := executor.New(executor.Options{
		Gate:      gate,
		Exchange:  clob,
		Trades:    stores.trades,
		Positions: stores.positions,
		Activity:  stores.activity,
		Stats:     stores.stats,
		Bus:       bus,
		Logger:    logger,
	})
	scheduler := retry.NewScheduler(retry.Options{
		Retrier:  exec,
		Trades:   stores.trades,
		Activity: stores.activity,
		Bus:      bus,
		Logger:   logger,
	})
	orchestrator := copier.New(copier.Options{
		Traders:  stores.traders,
		Trades:   stores.trades,
		Sizer:    sizer,
		Executor: exec,
		Retrier:  scheduler,
		Logger:   logger,
	})
	watcher := monitor.New(monitor.Options{
		Source:   dataAPI,
		Handler:  orchestrator.HandleEvent,
		Bus:      bus,
		Logger:   logger,
		Interval: *pollInterval,
	})
	drawdown := guard.NewDrawdownGuard(guard.DrawdownOptions{
		Traders:      stores.traders,
		Positions:    stores.positions,
		Trades:       stores.trades,
		Exchange:     clob,
		Activity:     stores.activity,
		Bus:          bus,
		Logger:       logger,
		Interval:     *drawdownInterval,
		GlobalLimits: gate.GetGlobalLimits,
	})
	stops := guard.NewStopGuard(guard.StopOptions{
		Traders:   stores.traders,
		Positions: stores.positions,
		Exchange:  clob,
		Executor:  exec,
		Activity:  stores.activity,
		Bus:       bus,
		Logger:    logger,
		Interval:  *stopInterval,
	})

	server := &Server{
		stores:       stores,
		bus:          bus,
		hub:          hub,
		monitor:      watcher,
		orchestrator: orchestrator,
		scheduler:    scheduler,
		drawdown:     drawdown,
		stops:        stops,
		logger:       logger,
		startedAt:    time.Now().UTC(),
	}

	orchestrator.Start(ctx)
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatalf("Failed to start retry scheduler: %v", err)
	}
	drawdown.Start(ctx)
	if err := stops.Start(ctx); err != nil {
		logger.Fatalf("Failed to start stop guard: %v", err)
	}
	if err := server.watchActiveTraders(ctx); err != nil {
		logger.Printf("Failed to watch some traders: %v", err)
	}

	httpServer := &http.Server{
		Addr:    *httpAddr,
		Handler: server.routes(),
	}
	go func() {
		logger.Printf("HTTP server listening on %s", *httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown: second signal forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Printf("Received signal %v, shutting down...", sig)
	go func() {
		sig := <-sigCh
		logger.Printf("Received second signal %v, forcing exit", sig)
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}

	watcher.StopAll()
	orchestrator.Stop()
	scheduler.Stop()
	drawdown.Stop()
	stops.Stop()
	hub.Close()
	bus.Close()
	cancel()

	logger.Println("Shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// createStores builds the storage layer and runs migrations.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			traders:   memory.NewTraderStore(),
			trades:    memory.NewTradeStore(),
			positions: memory.NewPositionStore(),
			activity:  memory.NewActivityStore(),
			stats:     memory.NewTraderStatsStore(),
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
		traders:   pgstore.NewTraderStore(pool),
		trades:    pgstore.NewTradeStore(pool),
		positions: pgstore.NewPositionStore(pool),
		activity:  pgstore.NewActivityStore(pool),
		stats:     chstore.NewTraderStatsStore(chConn),
	}
	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// watchActiveTraders starts a monitor for every ACTIVE trader on record.
func (s *Server) watchActiveTraders(ctx context.Context) error {
	traders, err := s.stores.traders.ListByStatus(ctx, domain.TraderStatusActive)
	if err != nil {
		return fmt.Errorf("list active traders: %w", err)
	}
	var firstErr error
	for _, trader := range traders {
		if err := s.monitor.StartWatching(ctx, trader); err != nil {
			s.logger.Printf("Failed to watch %s: %v", trader.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	s.logger.Printf("Watching %d active traders", len(traders))
	return firstErr
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /traders", s.handleListTraders)
	mux.HandleFunc("POST /traders", s.handleAddTrader)
	mux.HandleFunc("POST /traders/{id}/pause", s.handlePauseTrader)
	mux.HandleFunc("POST /traders/{id}/resume", s.handleResumeTrader)
	mux.HandleFunc("DELETE /traders/{id}", s.handleRemoveTrader)
	mux.HandleFunc("GET /activity", s.handleActivity)

	return mux
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status         string                `json:"status"`
	Uptime         string                `json:"uptime"`
	Watching       []monitor.WatchStatus `json:"watching"`
	CopyStats      copier.Stats          `json:"copy_stats"`
	PendingRetries []string              `json:"pending_retries"`
	WSClients      int                   `json:"ws_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:         "running",
		Uptime:         time.Since(s.startedAt).String(),
		Watching:       s.monitor.Status(),
		CopyStats:      s.orchestrator.Stats(),
		PendingRetries: s.scheduler.Pending(),
		WSClients:      s.hub.ClientCount(),
	})
}

func (s *Server) handleListTraders(w http.ResponseWriter, r *http.Request) {
	traders, err := s.stores.traders.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, traders)
}

// addTraderRequest is the POST /traders payload.
type addTraderRequest struct {
	Name              string  `json:"name"`
	WalletAddress     string  `json:"wallet_address"`
	AllocationPercent float64 `json:"allocation_percent"`
}

func (s *Server) handleAddTrader(w http.ResponseWriter, r *http.Request) {
	var req addTraderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.WalletAddress == "" {
		writeError(w, http.StatusBadRequest, errors.New("wallet_address is required"))
		return
	}
	if req.AllocationPercent <= 0 {
		req.AllocationPercent = 10
	}

	now := time.Now().UTC()
	trader := &domain.TraderProfile{
		ID:            uuid.NewString(),
		Name:          req.Name,
		WalletAddress: req.WalletAddress,
		Status:        domain.TraderStatusActive,
		Overrides:     domain.RiskOverrides{AllocationPercent: req.AllocationPercent},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.stores.traders.Insert(r.Context(), trader); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.monitor.StartWatching(context.WithoutCancel(r.Context()), trader); err != nil {
		s.logger.Printf("Failed to watch new trader %s: %v", trader.ID, err)
	}
	writeJSON(w, http.StatusCreated, trader)
}

func (s *Server) handlePauseTrader(w http.ResponseWriter, r *http.Request) {
	s.setTraderStatus(w, r, domain.TraderStatusPaused)
}

func (s *Server) handleResumeTrader(w http.ResponseWriter, r *http.Request) {
	traderID := r.PathValue("id")
	if s.setTraderStatus(w, r, domain.TraderStatusActive) {
		trader, err := s.stores.traders.GetByID(r.Context(), traderID)
		if err != nil {
			return
		}
		if err := s.monitor.StartWatching(context.WithoutCancel(r.Context()), trader); err != nil {
			s.logger.Printf("Failed to re-watch %s: %v", traderID, err)
		}
	}
}

func (s *Server) setTraderStatus(w http.ResponseWriter, r *http.Request, status domain.TraderStatus) bool {
	traderID := r.PathValue("id")
	if err := s.stores.traders.UpdateStatus(r.Context(), traderID, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return false
		}
		writeError(w, http.StatusInternalServerError, err)
		return false
	}
	if status != domain.TraderStatusActive {
		s.monitor.StopWatching(traderID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": traderID, "status": string(status)})
	return true
}

func (s *Server) handleRemoveTrader(w http.ResponseWriter, r *http.Request) {
	traderID := r.PathValue("id")
	s.monitor.StopWatching(traderID)
	if err := s.stores.traders.Delete(r.Context(), traderID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.stores.activity.ListRecent(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
