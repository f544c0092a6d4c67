// Package bootstrap wires configuration into the stores, services, and
// handlers shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"resume-check/internal/analyses"
	"resume-check/internal/documents"
	"resume-check/internal/queue"
	"resume-check/internal/scoring"
	"resume-check/internal/shared/config"
	"resume-check/internal/shared/server"
	"resume-check/internal/shared/storage/db"
	"resume-check/internal/shared/storage/object"
	localstore "resume-check/internal/shared/storage/object/local"
	s3store "resume-check/internal/shared/storage/object/s3"
	"resume-check/internal/shared/telemetry"
	"resume-check/internal/uploads"
	"resume-check/internal/usage"
)

// App holds shared dependencies. Router is nil for worker builds.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Redis  *redis.Client
	Store  object.ObjectStore
	Queue  queue.Client

	DocumentsRepo documents.DocumentsRepo
	AnalysesRepo  analyses.Repo

	Documents *documents.Service
	Usage     *usage.Service
	Analyses  *analyses.Service
}

// Build prepares dependencies for the API server and mounts the router.
func Build(cfg config.Config) (*App, error) {
	return build(cfg, db.DefaultServerOptions(), false, true)
}

// BuildWorker prepares dependencies for the queue worker. No router is
// mounted, the pool stays small, and repeated builds inside one process
// (boot retry loops) share a single pool.
func BuildWorker(cfg config.Config) (*App, error) {
	return build(cfg, db.DefaultWorkerOptions(), true, false)
}

func build(cfg config.Config, dbOpts db.Options, dbSingleton, withRouter bool) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	ctx := context.Background()

	telemetry.Init(telemetry.Config{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "resume-check",
	})

	sqlDB, err := buildDB(ctx, cfg, dbOpts, dbSingleton)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	usageSvc, redisClient, err := buildUsage(cfg, sqlDB)
	if err != nil {
		return nil, err
	}

	analyzer, err := scoring.NewAnalyzer(scoring.DefaultRuleset())
	if err != nil {
		return nil, fmt.Errorf("build analyzer: %w", err)
	}

	var docRepo documents.DocumentsRepo
	var analysisRepo analyses.Repo
	if sqlDB != nil {
		docRepo = &documents.PGRepo{DB: sqlDB}
		analysisRepo = &analyses.PGRepo{DB: sqlDB}
	} else {
		docRepo = documents.NewMemoryRepo()
		analysisRepo = analyses.NewMemoryRepo()
	}

	docSvc := &documents.Service{Store: store, Repo: docRepo}
	analysisSvc := &analyses.Service{
		Repo:     analysisRepo,
		Docs:     docRepo,
		Store:    store,
		Analyzer: analyzer,
		Usage:    usageSvc,
		JobQueue: queueClient,
	}

	app := &App{
		Config:        cfg,
		DB:            sqlDB,
		Redis:         redisClient,
		Store:         store,
		Queue:         queueClient,
		DocumentsRepo: docRepo,
		AnalysesRepo:  analysisRepo,
		Documents:     docSvc,
		Usage:         usageSvc,
		Analyses:      analysisSvc,
	}

	if withRouter {
		app.Router = server.NewRouter(server.RouterDeps{
			Config:    cfg,
			DB:        sqlDB,
			Documents: documents.NewHandler(docSvc),
			Uploads:   uploads.NewHandler(store, docSvc),
			Analyses:  analyses.NewHandler(analysisSvc, docRepo),
			Usage:     usage.NewHandler(usageSvc),
		})
	}

	return app, nil
}

// Close releases broker, cache, and database handles.
func (a *App) Close() {
	if c, ok := a.Queue.(io.Closer); ok {
		_ = c.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

// buildDB connects to Postgres, or returns nil in dev-like environments so
// the app runs on memory repositories.
func buildDB(ctx context.Context, cfg config.Config, opts db.Options, singleton bool) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	connect := db.Connect
	if singleton {
		connect = db.GetSingleton
	}
	sqlDB, err := connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}

	if cfg.DBMigrate {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// buildQueue picks the job transport: AMQP if configured, then SQS, else nil
// so analyses run on an in-process goroutine.
func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		return queue.NewAMQPClient(cfg.AMQPURL, cfg.AMQPQueue)
	}
	if strings.TrimSpace(cfg.SQSQueueURL) != "" {
		return queue.NewSQSClient(ctx, cfg.SQSQueueURL, cfg.AWSRegion)
	}
	return nil, nil
}

// buildUsage picks the quota store. The default follows the repositories:
// Postgres when a database is connected, memory otherwise.
func buildUsage(cfg config.Config, sqlDB *sql.DB) (*usage.Service, *redis.Client, error) {
	switch cfg.UsageStoreType {
	case "redis":
		rdb, err := connectRedis(cfg)
		if err != nil {
			return nil, nil, err
		}
		return usage.NewStoreService(usage.NewRedisStore(rdb)), rdb, nil
	case "postgres":
		if sqlDB == nil {
			return nil, nil, fmt.Errorf("USAGE_STORE=postgres requires DATABASE_URL")
		}
		return usage.NewStoreService(usage.NewPGStore(sqlDB)), nil, nil
	case "memory":
		return usage.NewService(), nil, nil
	default:
		if sqlDB != nil {
			return usage.NewStoreService(usage.NewPGStore(sqlDB)), nil, nil
		}
		return usage.NewService(), nil, nil
	}
}

func connectRedis(cfg config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
