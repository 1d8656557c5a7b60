package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-fleettrack/internal/config"
	"backend-fleettrack/internal/db"
	"backend-fleettrack/internal/logging"
	"backend-fleettrack/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	newLogger       func(string) (*zap.Logger, error)
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, *zap.Logger, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		newLogger:       logging.NewLogger,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	logger, err := deps.newLogger(cfg.LogLevel)
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return
	}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		logger.Error("postgres connection failed", zap.Error(err))
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, logger, signals, nil); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var migrateFn = func(ctx context.Context, pg *pgxpool.Pool) error {
	return db.Migrate(ctx, pg)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts the HTTP server and the session sweeper and waits for
// termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, logger *zap.Logger, signals <-chan os.Signal, listen ListenFunc) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := server.NewServer(cfg, pg, rdb, logger)

	if pg != nil {
		restoreCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := migrateFn(restoreCtx, pg); err != nil {
			logger.Error("schema migration failed", zap.Error(err))
		}
		restored, err := srv.Tracking.Restore(restoreCtx)
		cancel()
		if err != nil {
			logger.Warn("could not restore active sessions", zap.Error(err))
		} else {
			logger.Info("restored active sessions", zap.Int("count", restored))
		}
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		srv.Sweeper.Run(sweepCtx)
	}()

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	var runErr error
	select {
	case <-signals:
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	stopSweeper()
	<-sweeperDone
	if runErr != nil {
		srv.Stream.Close()
		return runErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	srv.Stream.Close()
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
