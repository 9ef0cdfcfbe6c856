package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/config"
	"github.com/aliuyar1234/clinicdocs/internal/db"
	"github.com/aliuyar1234/clinicdocs/internal/documents"
	"github.com/aliuyar1234/clinicdocs/internal/jobs"
	"github.com/aliuyar1234/clinicdocs/internal/metrics"
	"github.com/aliuyar1234/clinicdocs/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

// Worker consumes document processing tasks.
type Worker struct {
	Config *config.Config
	DB     *pgxpool.Pool

	server  *asynq.Server
	mux     *asynq.ServeMux
	metrics *http.Server
}

// NewExtractor picks the HTTP extraction service when one is configured and
// the built-in metadata extractor otherwise.
func NewExtractor(cfg *config.Config) jobs.Extractor {
	if cfg.ExtractorURL != "" {
		return jobs.NewHTTPExtractor(cfg.ExtractorURL, cfg.ExtractorTimeoutMS)
	}
	log.Warn().Msg("CD_EXTRACTOR_URL not set: documents get file metadata only")
	return jobs.MetadataExtractor{}
}

// NewWorker connects to Postgres and object storage and registers task
// handlers. metricsAddr, when set, serves /metrics for the worker process.
func NewWorker(ctx context.Context, cfg *config.Config, metricsAddr string) (*Worker, error) {
	setupLogger(cfg.LogLevel)
	log.Info().Interface("config", cfg.RedactedValues()).Msg("Initializing worker")

	pool, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to configure object storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	docs := documents.NewService(documents.NewPGRepository(pool), store, nil, cfg.MaxUploadBytes)
	handler := jobs.NewHandler(docs, NewExtractor(cfg), m)

	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	w := &Worker{
		Config: cfg,
		DB:     pool,
		server: jobs.NewServer(jobs.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, cfg.WorkerConcurrency),
		mux:    mux,
	}

	if metricsAddr != "" {
		r := chi.NewRouter()
		r.Get("/healthz", handleHealthz)
		r.Handle("/metrics", metrics.Handler(registry))
		w.metrics = &http.Server{Addr: metricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	}

	return w, nil
}

// Start begins processing. It returns once the server is running.
func (w *Worker) Start() error {
	if w.metrics != nil {
		go func() {
			if err := w.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Worker metrics server failed")
			}
		}()
	}

	log.Info().Int("concurrency", w.Config.WorkerConcurrency).Msg("Starting worker")
	return w.server.Start(w.mux)
}

// Shutdown waits for active tasks and closes connections.
func (w *Worker) Shutdown(ctx context.Context) {
	w.server.Shutdown()
	if w.metrics != nil {
		_ = w.metrics.Shutdown(ctx)
	}
	if w.DB != nil {
		w.DB.Close()
	}
	log.Info().Msg("Worker stopped")
}
