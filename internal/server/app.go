// Package server initializes and runs the capsule server.
// It opens the database, applies migrations, wires the grant lock store,
// the ledger mirror and the ciphertext archive into the services, and runs
// the HTTP API, the outbound dispatcher and the expiry sweeper until a
// shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/capsulekeeper/internal/cryptox"
	"github.com/dmitrijs2005/capsulekeeper/internal/logging"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/archive"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/config"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/ledger"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/outbound"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/grantlocks"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/rest"
	"github.com/dmitrijs2005/capsulekeeper/internal/server/services"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	dispatcher *outbound.Dispatcher
	sweeper    *services.Sweeper
	httpServer *rest.HTTPServer
	closers    []func() error
}

// openDB is replaced in tests.
var openDB = func(dsn string) (*sql.DB, error) { return sql.Open("pgx", dsn) }

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(slog.LevelInfo)

	keyring, err := cryptox.NewKeyring([]byte(c.MasterSecret), []byte(c.MasterSalt))
	if err != nil {
		return nil, fmt.Errorf("keyring init error: %w", err)
	}

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}
	app.closers = append(app.closers, db.Close)

	locks := app.grantLocks(rm)

	app.dispatcher = outbound.NewDispatcher(logger, c.OutboundWorkers, c.OutboundQueueSize,
		uint64(max(c.OutboundMaxRetries, 0)), c.OutboundBaseBackoff)

	var ledgerClient ledger.Client = ledger.NopClient{}
	if c.LedgerEndpoint != "" {
		ledgerClient = ledger.NewHTTPClient(c.LedgerEndpoint)
	}
	mirror := ledger.NewMirror(ledgerClient, app.dispatcher, func(ctx context.Context, capsuleID, receipt string) error {
		return rm.Capsules(db).SetLedgerRef(ctx, capsuleID, receipt)
	})

	store := archive.NewStore(c)

	audit := services.NewAuditService(db, rm, c.AuditQueryLimit, logger)
	capsules := services.NewCapsuleService(db, rm, keyring, mirror, store, app.dispatcher, logger)
	keys := services.NewBurstKeyService(db, rm, locks, keyring, audit, mirror, c.BurstKeyTTL, logger)
	access := services.NewAccessService(capsules, keys, audit, logger)

	app.sweeper = services.NewSweeper(db, rm, locks, c.SweepInterval, logger)

	h := rest.NewHandler(capsules, access, audit, logger)
	app.httpServer = rest.NewHTTPServer(c.EndpointAddrHTTP, logger, h, c.SecretKey)

	return app, nil
}

// grantLocks picks the duplicate-grant lock store.
func (app *App) grantLocks(rm repomanager.RepositoryManager) grantlocks.Repository {
	if app.config.LockBackend == config.LockBackendRedis {
		rdb := grantlocks.NewRedisClient(app.config.RedisAddr, app.config.RedisPassword, app.config.RedisDB)
		app.closers = append(app.closers, rdb.Close)
		return grantlocks.NewRedisRepository(rdb)
	}
	return rm.GrantLocks(app.db)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		app.sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.close(context.WithoutCancel(ctx))
	app.logger.Info(ctx, "App stopped")
}

func (app *App) close(ctx context.Context) {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn(ctx, "close failed", "error", err)
		}
	}
}
