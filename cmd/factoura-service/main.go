package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/nitesh/factoura_service/internal/analysis"
	"github.com/nitesh/factoura_service/internal/api"
	"github.com/nitesh/factoura_service/internal/auth"
	"github.com/nitesh/factoura_service/internal/clock"
	"github.com/nitesh/factoura_service/internal/config"
	"github.com/nitesh/factoura_service/internal/ledger"
	"github.com/nitesh/factoura_service/internal/llm"
	"github.com/nitesh/factoura_service/internal/logging"
	"github.com/nitesh/factoura_service/internal/notify"
	"github.com/nitesh/factoura_service/internal/pipeline"
	"github.com/nitesh/factoura_service/internal/queue"
	"github.com/nitesh/factoura_service/internal/service"
	"github.com/nitesh/factoura_service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("load config")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log := logging.With("main")

	if !cfg.Server.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeDB, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Error().Err(err).Msg("open store")
		os.Exit(1)
	}
	defer closeDB()

	var (
		tasks     queue.Queue
		notifier  notify.Notifier
		redisPing func(context.Context) error
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis ping failed")
		}
		cancel()
		consumer := cfg.Pipeline.Consumer
		if consumer == "" {
			consumer, _ = os.Hostname()
		}
		tasks = queue.NewRedisQueue(rdb, queue.RedisConfig{
			Stream:   cfg.Pipeline.Stream,
			Group:    cfg.Pipeline.Group,
			Consumer: consumer,
			Workers:  cfg.Pipeline.Workers,
		})
		notifier = notify.NewRedis(rdb, "")
		redisPing = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		log.Warn().Msg("redis disabled, tasks are kept in memory and lost on restart")
		tasks = queue.NewMemory(1024, cfg.Pipeline.Workers)
		notifier = notify.NewLocal()
	}

	clk := clock.Real{}
	chainCfg := ledger.ChainConfig{
		RPCURL:          cfg.Ledger.RPCURL,
		PrivateKey:      cfg.Ledger.PrivateKey,
		ContractAddress: cfg.Ledger.ContractAddress,
		ExplorerBase:    cfg.Ledger.ExplorerBase,
	}
	verifier := ledger.Open(ctx, cfg.Ledger.Mode, chainCfg, cfg.Ledger.SimulatedDelay)
	if c, ok := verifier.(*ledger.Chain); ok {
		defer c.Close()
	}

	ac := analysis.NewClient(cfg.Analysis.URL, cfg.Analysis.Timeout, nil)
	ac.Probe(ctx)

	tokens := auth.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL)

	svc := service.NewService(repo, tasks, verifier, ac, tokens, notifier, clk, service.Config{
		BcryptCost:             cfg.Security.BcryptCost,
		RequireWalletSignature: cfg.Security.RequireWalletSignature,
		VerificationDelay:      cfg.Pipeline.VerificationDelay,
		MaxTags:                cfg.Analysis.MaxTags,
	})

	svc.SetAssistant(llm.NewClient(cfg.LLM.URL, map[string]string{
		llm.ModelPhi3:   cfg.LLM.Phi3Model,
		llm.ModelGemma3: cfg.LLM.Gemma3Model,
	}, cfg.LLM.Timeout, nil))

	runner := pipeline.NewRunner(repo, ac, verifier, notifier, clk, pipeline.Config{MaxTags: cfg.Analysis.MaxTags})
	reconciler := pipeline.NewReconciler(runner, tasks, cfg.Pipeline.StuckAfter, cfg.Pipeline.ReconcileInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := tasks.Consume(ctx, runner.Handle); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("task consumer stopped")
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	handler := api.NewHandler(svc, api.Options{
		Development:        cfg.Server.Development(),
		CORSOrigins:        cfg.Server.CORSOrigins,
		EventsTimeout:      cfg.API.EventsTimeout,
		EventsPollInterval: cfg.API.EventsPollInterval,
		RedisPing:          redisPing,
		QueueStats:         tasks.Stats,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(handler),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("environment", cfg.Server.Environment).Str("ledger", verifier.Mode()).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	log.Info().Msg("stopped")
}

// openStore connects to postgres, waiting for it to come up, and runs the
// migrations. Driver "memory" skips the database entirely.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	log := logging.With("store")
	if cfg.Driver == "memory" {
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("waiting for database")
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	if err := store.RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store.NewPgStore(db), func() { _ = db.Close() }, nil
}
