package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/analytics"
	"github.com/aliuyar1234/clinicdocs/internal/audit"
	"github.com/aliuyar1234/clinicdocs/internal/auth"
	"github.com/aliuyar1234/clinicdocs/internal/config"
	"github.com/aliuyar1234/clinicdocs/internal/db"
	"github.com/aliuyar1234/clinicdocs/internal/documents"
	"github.com/aliuyar1234/clinicdocs/internal/jobs"
	"github.com/aliuyar1234/clinicdocs/internal/mailer"
	"github.com/aliuyar1234/clinicdocs/internal/metrics"
	"github.com/aliuyar1234/clinicdocs/internal/orgs"
	"github.com/aliuyar1234/clinicdocs/internal/storage"
	"github.com/aliuyar1234/clinicdocs/internal/throttle"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// App holds the application state
type App struct {
	Config   *config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Store    storage.ObjectStore
	Queue    *asynq.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Documents *documents.Service
	Router    http.Handler

	inspector *asynq.Inspector
	server    *http.Server
}

// redisPinger adapts go-redis to the readiness check.
type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

// New creates and initializes a new application instance
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	setupLogger(cfg.LogLevel)

	log.Info().Msg("Initializing ClinicDocs application")
	log.Info().Interface("config", cfg.RedactedValues()).Msg("Configuration loaded")

	a := &App{Config: cfg}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.IsDev() {
		log.Info().Msg("Development mode: running migrations automatically")
		if err := db.RunMigrations(ctx, a.DB); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	} else {
		log.Info().Msg("Production mode: migrations must be run manually")
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	redisOpts := jobs.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	a.Queue = jobs.NewClient(redisOpts)
	a.inspector = jobs.NewInspector(redisOpts)

	a.Router = NewRouter(a.deps())

	log.Info().Msg("Application initialized successfully")
	return a, nil
}

// connect opens Postgres, Redis and object storage.
func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	log.Info().Msg("Connecting to database...")
	pool, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = pool
	log.Info().Msg("Database connection established")

	rdb, err := db.ConnectRedis(ctx, db.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Redis = rdb

	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		return fmt.Errorf("failed to configure object storage: %w", err)
	}
	a.Store = store
	return nil
}

// deps builds the services the router needs.
func (a *App) deps() Deps {
	cfg := a.Config

	auditor := audit.NewWriter(a.DB)
	reader := audit.NewReader(a.DB)
	mail := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		BaseURL:  cfg.BaseURL,
	})
	cooldown := throttle.NewCooldown(a.Redis, "cd:email", time.Duration(cfg.EmailResendSecs)*time.Second)

	authSvc := auth.NewService(a.DB, auth.TokenIssuer{Secret: cfg.JWTSecret, SessionDays: cfg.SessionDays}, mail, cooldown, auditor)
	orgSvc := orgs.NewService(a.DB)

	repo := documents.NewPGRepository(a.DB)
	a.Documents = documents.NewService(repo, a.Store, jobs.NewQueue(a.Queue, a.Metrics), cfg.MaxUploadBytes)

	return Deps{
		Config:      cfg,
		Auth:        authSvc,
		Orgs:        orgSvc,
		Documents:   a.Documents,
		Jobs:        jobs.NewStatusService(a.Documents, a.inspector),
		Analytics:   analytics.NewService(a.DB),
		Auditor:     auditor,
		AuditReader: reader,
		Invites:     mail,
		Store:       a.Store,
		Metrics:     a.Metrics,
		Gatherer:    a.Registry,
		Checks: map[string]Pinger{
			"db":      a.DB,
			"redis":   redisPinger{a.Redis},
			"storage": a.Store,
		},
	}
}

// Start starts the HTTP server and blocks until it stops.
func (a *App) Start() error {
	addr := a.Config.HTTPAddr
	log.Info().Str("addr", addr).Msg("Starting HTTP server")

	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (a *App) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// Close gracefully shuts down the application
func (a *App) Close() {
	log.Info().Msg("Shutting down application")
	if a.inspector != nil {
		_ = a.inspector.Close()
	}
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		log.Info().Msg("Closing database connection")
		a.DB.Close()
	}
}

// SetupLogger configures the global logger. Exported for the worker and
// admin commands, which do not build an App.
func SetupLogger(level string) {
	setupLogger(level)
}

// setupLogger configures the global logger
func setupLogger(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Debug().Str("level", level).Msg("Logger configured")
}
