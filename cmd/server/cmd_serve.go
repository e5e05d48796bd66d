package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/meetstream/internal/adapters/http"
	"github.com/dkeye/meetstream/internal/adapters/ws"
	"github.com/dkeye/meetstream/internal/app"
	"github.com/dkeye/meetstream/internal/config"
	"github.com/dkeye/meetstream/internal/core"
	"github.com/dkeye/meetstream/internal/logging"
	"github.com/dkeye/meetstream/internal/metrics"
	"github.com/dkeye/meetstream/internal/processor"
	"github.com/dkeye/meetstream/internal/records"
	"github.com/dkeye/meetstream/internal/store"
)

const shutdownTimeout = 5 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingestion server",
	RunE:  runServe,
}

func openRecords(ctx context.Context, cfg *config.Config) (core.MeetingRepository, *sql.DB, error) {
	if cfg.Records.Backend != "postgres" {
		log.Warn().Str("module", "main").Msg("using in-memory meeting records; data is lost on restart")
		return records.NewMemoryRepository(), nil, nil
	}
	pgCfg := records.DefaultPostgresConfig()
	pgCfg.URL = cfg.Records.DatabaseURL
	db, err := records.OpenPostgres(ctx, pgCfg)
	if err != nil {
		return nil, nil, err
	}
	repo := records.NewPostgresRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

func newProcessor(cfg config.ProcessorConfig) core.StreamProcessor {
	if cfg.URL == "" {
		return processor.Stub{Delay: cfg.StubDelay}
	}
	log.Info().Str("module", "main").Str("url", cfg.URL).Msg("using remote stream processor")
	return processor.NewRemote(processor.RemoteConfig{
		BaseURL:    cfg.URL,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logging.Configure(cfg.Mode, cfg.LogLevel)

	rdb, err := store.NewClient(ctx, store.ClientConfig{
		Addrs:      cfg.Redis.Addrs,
		MasterName: cfg.Redis.MasterName,
		Username:   cfg.Redis.Username,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,

		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		return err
	}
	defer rdb.Close()
	state := store.NewRedisStateStore(rdb, cfg.StateTTL)

	meetings, db, err := openRecords(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	coord := &app.Coordinator{
		State:     state,
		Meetings:  meetings,
		Processor: newProcessor(cfg.Processor),
		Registry:  app.NewRegistry(),
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
	}
	streams := ws.NewController(coord, ws.Options{
		APIKey:       cfg.APIKey,
		ReadLimit:    cfg.ReadLimit,
		WriteTimeout: cfg.WriteTimeout,
		Limiter:      ws.NewFailureLimiter(cfg.Handshake.MaxFailures, cfg.Handshake.Window),
		ProcessQueue: cfg.Processor.QueueSize,
	})

	r := router.SetupRouter(cfg, router.Deps{
		Coord:    coord,
		Streams:  streams,
		Gatherer: prometheus.DefaultGatherer,
		Health:   state.Ping,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("meetstream server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		// Hijacked WebSocket connections are not tracked by Shutdown.
		log.Info().Int("connections", coord.Registry.Count()).Msg("closing live connections")
		coord.Registry.CloseAll()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
