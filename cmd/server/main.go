package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Classroom/internal/adapters/http"
	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/app/orch"
	"github.com/dkeye/Classroom/internal/auth"
	"github.com/dkeye/Classroom/internal/config"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/storage/badgerstore"
	"github.com/dkeye/Classroom/internal/storage/memory"
	"github.com/dkeye/Classroom/internal/storage/postgres"
	"github.com/dkeye/Classroom/internal/storage/redisstore"
)

type collaborators struct {
	enrollment core.EnrollmentChecker
	archive    core.SessionArchive
	history    core.HistoryStore
	closers    []func() error
}

func setupCollaborators(ctx context.Context, cfg *config.Config) (*collaborators, error) {
	var c collaborators
	mem := memory.New(cfg.HistoryLimit)
	mem.Open = cfg.OpenEnrollment

	if cfg.DatabaseDSN != "" {
		pg, err := postgres.Open(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		c.enrollment, c.archive = pg, pg
		log.Info().Str("module", "main").Msg("using postgres for enrollment and archive")
	} else {
		c.enrollment, c.archive = mem, mem
		log.Warn().Str("module", "main").Bool("open_enrollment", mem.Open).Msg("no database_dsn, using in-memory enrollment and archive")
	}

	switch cfg.HistoryBackend {
	case config.HistoryRedis:
		h, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		c.history = h
		c.closers = append(c.closers, h.Close)
	case config.HistoryBadger:
		h, err := badgerstore.Open(cfg.BadgerPath, cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		c.history = h
		c.closers = append(c.closers, h.Close)
	default:
		c.history = mem
	}
	log.Info().Str("module", "main").Str("history", cfg.HistoryBackend).Msg("chat history ready")
	return &c, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	collab, err := setupCollaborators(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up storage")
	}
	defer func() {
		for _, closeFn := range collab.closers {
			if err := closeFn(); err != nil {
				log.Error().Err(err).Msg("close storage")
			}
		}
	}()

	verifier := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	o := orch.New(collab.enrollment, collab.archive, collab.history, app.SimplePolicy{})
	go o.Run(ctx)

	r := router.SetupRouter(ctx, cfg, o, verifier)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Classroom server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
