// Command engine runs the authoritative match server: a worker pool driving
// fixed-timestep simulations, an HTTP API for match and tournament management,
// and a WebSocket relay streaming state to ticketed clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"paddlearena/engine/internal/config"
	"paddlearena/engine/internal/dispatch"
	"paddlearena/engine/internal/game"
	"paddlearena/engine/internal/handshake"
	"paddlearena/engine/internal/httpapi"
	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/protocol"
	"paddlearena/engine/internal/replay"
	"paddlearena/engine/internal/tournament"
	"paddlearena/engine/internal/worker"
)

const eventBufferSize = 1024

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logging.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//1.- Shared plumbing: outbound events, routing table, ticket registry.
	events := make(chan *protocol.Event, eventBufferSize)
	registry := dispatch.NewRegistry()
	tickets := handshake.NewRegistry(logger,
		handshake.WithTTL(cfg.TicketTTL),
		handshake.WithSweepInterval(cfg.TicketSweepInterval))
	go tickets.Run(ctx)

	//2.- The tournament manager is created after the dispatcher, so the worker
	// hook closes over this variable.
	var tournaments *tournament.Manager

	var recorderFactory worker.RecorderFactory
	if cfg.ReplayDir != "" {
		recorderFactory = func(matchID string) (worker.MatchRecorder, error) {
			recorder, _, err := replay.NewRecorder(cfg.ReplayDir, matchID, nil)
			return recorder, err
		}
		cleaner := replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{
			MaxBundles: 200,
			MaxAge:     7 * 24 * time.Hour,
		}, logger)
		go cleaner.Run(ctx, time.Hour)
	}

	//3.- One worker per core by default, each hosting a bounded match count.
	workerCount := cfg.Workers
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	matchCfg := game.DefaultConfig()
	matchCfg.InputDelayFrames = cfg.InputDelayFrames
	matchCfg.StateSyncRate = cfg.StateSyncRate

	finished := func(matchID, winnerID string) {
		if tournaments != nil {
			tournaments.HandleMatchFinished(matchID, winnerID)
		}
	}

	var wg sync.WaitGroup
	pool := make(dispatch.StaticPool, 0, workerCount)
	for i := 0; i < workerCount; i++ {
		//4.- The closed hook drops routing entries on every exit path, abort
		// included, so the registry never outlives a match.
		opts := []worker.Option{
			worker.WithFinishedHook(finished),
			worker.WithClosedHook(registry.Forget),
		}
		if recorderFactory != nil {
			opts = append(opts, worker.WithRecorderFactory(recorderFactory))
		}
		unit := worker.New(fmt.Sprintf("worker-%d", i+1), cfg.PartiesPerCore, events, logger, opts...)
		pool = append(pool, unit)
		wg.Add(1)
		go func() {
			defer wg.Done()
			unit.Run(ctx)
		}()
	}

	weights := dispatch.Weights{Match: cfg.MatchWeight, Player: cfg.PlayerWeight}
	dispatcher := dispatch.New(pool, weights, registry, logger)
	tournaments = tournament.NewManager(dispatcher, matchCfg, events, logger)

	relay := NewRelay(RelayOptions{
		Logger:         logger,
		Tickets:        tickets,
		Registry:       registry,
		Events:         events,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxPayload:     cfg.MaxPayloadBytes,
		PingInterval:   cfg.PingInterval,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Pump(ctx)
	}()

	//5.- HTTP surface: REST API, ops probes, and the WebSocket endpoint.
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Dispatcher:  dispatcher,
		Tournaments: tournaments,
		Tickets:     tickets,
		Readiness:   relay,
		RateLimiter: httpapi.NewSlidingWindowLimiter(cfg.CreateWindow, cfg.CreateBurst, nil),
		ReplayDir:   cfg.ReplayDir,
	})
	router := mux.NewRouter()
	handlers.Register(router)
	router.HandleFunc("/ws", relay.ServeWS)

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("engine listening", logging.String("addr", cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	//6.- Graceful stop: close the listener, then wait for workers to abort
	// their matches and the relay to drain.
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", logging.Error(err))
	}
	wg.Wait()
	return nil
}
