package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gigvault/backend/internal/escrow"
	"github.com/gigvault/backend/internal/ledger"
	"github.com/gigvault/backend/internal/matching"
	"github.com/gigvault/backend/internal/metrics"
	"github.com/gigvault/backend/internal/models"
	"github.com/gigvault/backend/internal/observability"
	"github.com/gigvault/backend/internal/oracle"
	"github.com/gigvault/backend/internal/registry"
	"github.com/gigvault/backend/internal/repository"
	"github.com/gigvault/backend/internal/upkeep"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the settlement engine with upkeep workers and a metrics endpoint",
	RunE:  runServe,
}

// stack is the wired settlement core shared by serve and the one-shot commands.
type stack struct {
	registry *registry.Registry
	engine   *escrow.Engine
	metrics  *metrics.Collector
	sweeper  *upkeep.Sweeper
}

func newPricer() *oracle.Adapter {
	if cfg.Oracle.URL != "" {
		return oracle.NewAdapter(oracle.NewHTTPFeed(cfg.Oracle.URL), cfg.Oracle.TokenDecimals, cfg.Oracle.MaxPriceAge)
	}
	// A configured constant never goes stale.
	logger.Warn("using static token price", "price", cfg.Oracle.StaticPrice)
	return oracle.NewAdapter(oracle.NewStaticFeed(cfg.StaticPriceDecimal(), time.Now()), cfg.Oracle.TokenDecimals, 0)
}

// buildStack wires the engine against Postgres and restores the latest snapshot.
func buildStack(ctx context.Context, pool *pgxpool.Pool) (*stack, error) {
	s := &stack{registry: registry.New(cfg.Identity.Verifier)}
	s.metrics = metrics.New(func() float64 { return float64(s.engine.TotalEscrowed()) })

	engCfg := escrow.DefaultConfig()
	engCfg.PlatformFeeBps = cfg.Escrow.PlatformFeeBps
	engCfg.Arbitrator = cfg.Escrow.Arbitrator
	eng, err := escrow.New(engCfg, escrow.Deps{
		Registry: s.registry,
		Pricer:   newPricer(),
		Custody:  ledger.NewRepository(pool),
		Matcher:  matching.NewProducer(s.registry),
		Events:   repository.NewEventRepo(pool),
		Metrics:  s.metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	s.engine = eng

	st, err := repository.NewSnapshotRepo(pool).Latest(ctx)
	switch {
	case errors.Is(err, repository.ErrNoSnapshot):
		if err := s.engine.Reconcile(ctx); err != nil {
			return nil, fmt.Errorf("no snapshot to restore: %w", err)
		}
		logger.Info("no snapshot found, starting empty")
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	default:
		s.registry.Restore(st.Users)
		if err := s.engine.Restore(ctx, st.Engine); err != nil {
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
		logger.Info("snapshot restored", "tasks", len(st.Engine.Tasks), "users", len(st.Users))
	}

	s.sweeper = upkeep.NewSweeper(s.engine, cfg.Upkeep.ScanWindow, logger, s.metrics)
	return s, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, "gigvault", cfg.OtelExporter, cfg.Environment)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}()

	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := migrate(ctx, pool); err != nil {
		return err
	}

	s, err := buildStack(ctx, pool)
	if err != nil {
		return err
	}
	keeper := models.Caller{ID: cfg.Identity.Keeper, Role: models.RoleKeeper}

	workers := river.NewWorkers()
	river.AddWorker(workers, upkeep.NewSweepWorker(s.sweeper, keeper, logger))
	snapshots := upkeep.NewSnapshotWorker(s.engine, s.registry, repository.NewSnapshotRepo(pool), logger)
	river.AddWorker(workers, snapshots)

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.Upkeep.Interval),
				func() (river.JobArgs, *river.InsertOpts) { return upkeep.SweepArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.Upkeep.SnapshotInterval),
				func() (river.JobArgs, *river.InsertOpts) { return upkeep.SnapshotArgs{}, nil },
				nil,
			),
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("create River client: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := riverClient.Start(gctx); err != nil {
			return fmt.Errorf("start River client: %w", err)
		}
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return riverClient.Stop(stopCtx)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
		return metrics.Serve(srv)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	// Persist the final state before exit; the River client is already stopped.
	if err := snapshots.Flush(context.Background()); err != nil {
		logger.Warn("final snapshot not saved", "error", err)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("gigvault stopped")
	return nil
}
