package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/app"
	"github.com/aliuyar1234/clinicdocs/internal/config"
	"github.com/aliuyar1234/clinicdocs/internal/retention"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		os.Exit(runAdmin(os.Args[2:]))
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "worker" {
		os.Exit(runWorker(cfg, os.Args[2:]))
	}

	os.Exit(runServer(cfg))
}

func runServer(cfg *config.Config) int {
	ctx := context.Background()
	application, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		return 1
	}
	defer application.Close()

	cronScheduler, err := setupRetentionCron(cfg, application)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup retention cron: %v\n", err)
		return 1
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- application.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
			return 1
		}
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
			return 1
		}
	}
	return 0
}

func runWorker(cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	metricsAddr := fs.String("metrics-addr", ":9091", "Address for the worker /metrics endpoint (empty disables)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	worker, err := app.NewWorker(context.Background(), cfg, *metricsAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize worker: %v\n", err)
		return 1
	}
	if err := worker.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start worker: %v\n", err)
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	worker.Shutdown(shutdownCtx)
	return 0
}

func setupRetentionCron(cfg *config.Config, application *app.App) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	schedule := "0 3 * * *"
	if cfg.IsDev() {
		schedule = "* * * * *"
	}

	_, err := c.AddFunc(schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Retention job panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := retention.RunRetentionJob(ctx, application.DB, retention.DefaultPolicy); err != nil {
			log.Error().Err(err).Msg("Retention job failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule retention job: %w", err)
	}

	return c, nil
}
