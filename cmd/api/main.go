package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lexicon/api/internal/app"
	"lexicon/api/internal/archive"
	"lexicon/api/internal/asset"
	"lexicon/api/internal/blob"
	"lexicon/api/internal/config"
	"lexicon/api/internal/email"
	"lexicon/api/internal/logger"
	"lexicon/api/internal/merge"
	"lexicon/api/internal/mergelock"
	"lexicon/api/internal/nested"
	"lexicon/api/internal/relation"
	"lexicon/api/internal/review"
	"lexicon/api/internal/search"
	"lexicon/api/internal/store"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(logger.Options{Mode: cfg.LogMode, Redact: cfg.LogRedact, HashSalt: cfg.LogHashSalt})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("api stopped", "error", err)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx := context.Background()

	var (
		dataStore store.Store
		db        *sql.DB
	)
	switch strings.ToLower(cfg.StoreBackend) {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		dataStore = store.NewMemoryStore()
	default:
		var err error
		db, err = store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
			ConnectAttempts: cfg.DBConnectAttempts,
		}, log)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, log); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		dataStore = store.NewPostgresStore(db)
	}

	blobs, files, closeBlobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlobs()
	log.Info("blob storage ready", "backend", cfg.BlobBackend, "public_url", cfg.BlobPublicBaseURL)

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	history := archive.New(cfg.ArchiveDir)

	var pgfts *search.PgFTS
	if db != nil {
		pgfts = search.NewPgFTS(db)
	}
	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
	}
	searchService := search.NewService(meili, pgfts, log)
	if meili != nil && pgfts != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	checks := map[string]func(context.Context) error{}
	migrator := asset.NewMigrator(blobs, log)
	children := nested.NewSyncer(dataStore, migrator, log)
	opts := merge.Options{
		Assets:    migrator,
		Children:  children,
		Relations: relation.NewSyncer(dataStore, log),
		Archive:   history,
		Index:     searchService,
		Logger:    log,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		locker, err := mergelock.NewRedisLocker(cfg.RedisURL, cfg.MergeLockTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer locker.Close()
		opts.Locker = locker
		checks["redis"] = locker.Ping
		log.Info("merge leases held in redis", "ttl", cfg.MergeLockTTL)
	}
	mailer := email.NewService(email.Config{
		Host:         cfg.SMTPHost,
		Port:         cfg.SMTPPort,
		Username:     cfg.SMTPUsername,
		Password:     cfg.SMTPPassword,
		From:         cfg.SMTPFrom,
		FromName:     cfg.SMTPFromName,
		DashboardURL: cfg.DashboardURL,
	}, log)
	if mailer.IsConfigured() {
		opts.Notifier = mailer
	} else {
		log.Info("SMTP not configured, merge and rejection emails are disabled")
	}
	engine := merge.NewEngine(dataStore, opts)

	deps := app.Deps{
		Store:    dataStore,
		Ledger:   review.NewLedger(dataStore, review.Options{MinApprovals: cfg.MinApprovals, Retries: cfg.VoteRetries, Logger: log}),
		Engine:   engine,
		Children: children,
		Assets:   migrator,
		Archive:  history,
		Search:   searchService,
		Checks:   checks,
		Logger:   log,
	}
	if files != nil {
		deps.Files = files
	}
	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("lexicon api listening", "addr", cfg.Addr, "env", cfg.Environment, "store", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	engine.Wait()
	searchService.Wait()
	return nil
}

// openBlobs builds the configured asset backend. files is set only for the
// in-process backend, which the API serves itself under /assets.
func openBlobs(ctx context.Context, cfg config.Config) (blob.Store, *blob.MemoryStore, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.BlobBackend) {
	case "minio", "s3":
		s, err := blob.NewMinioStore(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.BlobPublicBaseURL,
		})
		if err != nil {
			return nil, nil, noop, fmt.Errorf("minio: %w", err)
		}
		return s, nil, noop, nil
	case "gcs":
		s, err := blob.NewGCSStore(ctx, blob.GCSConfig{
			Bucket:          cfg.GCSBucket,
			CredentialsFile: cfg.GCSCredentials,
			PublicURL:       cfg.BlobPublicBaseURL,
		})
		if err != nil {
			return nil, nil, noop, fmt.Errorf("gcs: %w", err)
		}
		return s, nil, func() { _ = s.Close() }, nil
	default:
		s := blob.NewMemoryStore(cfg.BlobPublicBaseURL)
		return s, s, noop, nil
	}
}
