package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/subrelay/internal/config"
	"github.com/MimeLyc/subrelay/internal/httpapi"
	"github.com/MimeLyc/subrelay/internal/jobs"
	"github.com/MimeLyc/subrelay/internal/metrics"
	"github.com/MimeLyc/subrelay/internal/persistence"
	"github.com/MimeLyc/subrelay/internal/pipeline"
	"github.com/MimeLyc/subrelay/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type lifecycleRunner interface {
	Start() error
	Close() error
}

type jobRunner interface {
	Start(exec jobs.Executor)
	Stop()
}

type apiServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type metricsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type components struct {
	registry lifecycleRunner
	queue    jobRunner
	executor jobs.Executor
	api      apiServer
	apiAddr  string
	// metrics is optional.
	metrics metricsServer
}

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front-end, job workers and background sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	backend, err := newLLMBackend(cfg)
	if err != nil {
		return err
	}

	store, err := persistence.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	pruneRuns(ctx, store, cfg.Store.RunRetention)

	c, err := newCore(cfg, backend, pipeline.WithRecorder(store))
	if err != nil {
		return err
	}
	defer c.cache.Close()

	queue := jobs.NewQueue(cfg.Jobs.Workers, store, jobs.WithMaxJobs(cfg.Jobs.MaxJobs))
	comps := components{
		registry: c.registry,
		queue:    queue,
		executor: processJob(c.orchestrator),
		api:      httpapi.NewServer(c.registry, queue, httpapi.WithRunLister(store)),
		apiAddr:  cfg.ServerAddr(),
	}
	if cfg.Metrics.Enabled {
		comps.metrics = metrics.NewHTTPServer(cfg.Metrics.Address, cfg.Metrics.Port)
	}
	return runWithComponents(ctx, comps)
}

// processJob runs one queued upload through the pipeline.
func processJob(o *pipeline.Orchestrator) jobs.Executor {
	return func(ctx context.Context, job *jobs.Job) (jobs.Outcome, error) {
		result, err := o.Process(ctx, job.UserID, job.Payload.Path)
		if err != nil {
			return jobs.Outcome{}, err
		}
		return jobs.Outcome{OutputPath: result.OutputPath, EntryCount: result.EntryCount}, nil
	}
}

// runWithComponents blocks until ctx is done or a server fails, then shuts everything down.
func runWithComponents(ctx context.Context, comps components) error {
	if err := comps.registry.Start(); err != nil {
		return fmt.Errorf("start session registry: %w", err)
	}
	comps.queue.Start(comps.executor)

	errCh := make(chan error, 2)
	go func() {
		log.Info("HTTP API listening on %s", comps.apiAddr)
		if err := comps.api.ListenAndServe(comps.apiAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()
	if comps.metrics != nil {
		go func() {
			if err := comps.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case runErr = <-errCh:
		log.Error("Server failed: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	errs := []error{runErr}
	if err := comps.api.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http api: %w", err))
	}
	if comps.metrics != nil {
		if err := comps.metrics.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	comps.queue.Stop()
	if err := comps.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session registry: %w", err))
	}
	return errors.Join(errs...)
}
