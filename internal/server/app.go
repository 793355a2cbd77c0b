// Package server initializes and runs the vault server. It loads the
// master key, opens the database, runs migrations, picks the blob backend,
// and starts the HTTP endpoint with graceful shutdown on SIGINT/SIGTERM.
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

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/vkushnir/filevault/internal/cryptox"
	"github.com/vkushnir/filevault/internal/logging"
	"github.com/vkushnir/filevault/internal/server/blobstore"
	"github.com/vkushnir/filevault/internal/server/config"
	"github.com/vkushnir/filevault/internal/server/files"
	vaulthttp "github.com/vkushnir/filevault/internal/server/http"
	"github.com/vkushnir/filevault/internal/server/repositories/repomanager"
	"github.com/vkushnir/filevault/internal/server/sessions"
	"github.com/vkushnir/filevault/internal/server/users"
)

type App struct {
	config         *config.Config
	logger         logging.Logger
	userService    *users.Service
	sessionService *sessions.Service
	fileService    *files.Service
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	// Master key bootstrap is the only failure allowed to abort startup:
	// without it no user secret can ever be unsealed.
	masterKey, err := cryptox.LoadOrCreateMasterKey(cfg.MasterKeyPath)
	if err != nil {
		return nil, fmt.Errorf("master key init error: %w", err)
	}
	crypto := cryptox.NewService(masterKey)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	us := users.NewService(db, rm, crypto, logger)
	ss := sessions.NewService(db, rm, cfg, logger)
	fs := files.NewService(db, rm, blobs, crypto, cfg, logger)

	return &App{
		config:         cfg,
		logger:         logger,
		userService:    us,
		sessionService: ss,
		fileService:    fs,
	}, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return blobstore.NewS3Store(ctx, blobstore.S3Options{
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
		})
	case "fs":
		return blobstore.NewFilesystemStore(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
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
	s := vaulthttp.NewServer(app.config.EndpointAddr, app.logger, app.userService, app.sessionService, app.fileService)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()
}
