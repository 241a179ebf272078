package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/waypost-app/waypost-engine/pkg/archive"
	"github.com/waypost-app/waypost-engine/pkg/config"
	"github.com/waypost-app/waypost-engine/pkg/database"
	"github.com/waypost-app/waypost-engine/pkg/handlers"
	"github.com/waypost-app/waypost-engine/pkg/logging"
	"github.com/waypost-app/waypost-engine/pkg/models"
	"github.com/waypost-app/waypost-engine/pkg/repositories"
	"github.com/waypost-app/waypost-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Duration("sweep_interval", cfg.Retention.SweepInterval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	sink, err := newArchiveSink(ctx, &cfg.Archive)
	if err != nil {
		logger.Fatal("Failed to create archive sink", zap.Error(err))
	}

	stores := repositories.NewRecordStores(db)
	graph := models.DefaultGraph()
	txRunner := database.NewTxRunner(db, cfg.Retention.TxTimeout, logger)

	cascade := services.NewCascadeEngine(graph, stores, txRunner, sink, logger)
	sweeper := services.NewSweeper(stores, cascade, logger)
	reconciler := services.NewOrphanReconciler(graph, stores, cascade, logger)
	lease := services.NewSweepLease(redisClient, logger)
	engine := services.NewRetentionEngine(stores, cascade, sweeper, reconciler, lease, cfg.Retention.Policies(), logger)

	scheduler := services.NewSweepScheduler(engine, cfg.Retention.SweepInterval, cfg.Retention.SweepOnStart, logger)
	go scheduler.Run(ctx)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewRetentionHandler(engine, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting waypost-engine",
		zap.String("addr", server.Addr),
		zap.String("version", cfg.Version))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// runMigrations applies pending schema migrations over a short-lived
// database/sql connection.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	return database.RunMigrations(db, logger)
}

// newArchiveSink builds the configured archive backend.
func newArchiveSink(ctx context.Context, cfg *config.ArchiveConfig) (archive.Sink, error) {
	switch cfg.Backend {
	case "file":
		return archive.NewFileSink(cfg.Dir), nil
	case "s3":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return archive.NewS3Sink(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.Prefix), nil
	default:
		return archive.NewNoopSink(), nil
	}
}
