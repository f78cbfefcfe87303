package upkeep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/gigvault/backend/internal/escrow"
	"github.com/gigvault/backend/internal/models"
	"github.com/gigvault/backend/internal/repository"
)

type SweepArgs struct{}

func (SweepArgs) Kind() string { return "upkeep_sweep" }

// SweepWorker runs one sweep per job as the keeper identity.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	sweeper *Sweeper
	keeper  models.Caller
	logger  *slog.Logger
}

func NewSweepWorker(sweeper *Sweeper, keeper models.Caller, logger *slog.Logger) *SweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepWorker{sweeper: sweeper, keeper: keeper, logger: logger}
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	rep, err := w.sweeper.Sweep(ctx, w.keeper)
	if rep.Performed+rep.Skipped+rep.Failed > 0 {
		w.logger.Info("upkeep sweep", "job_id", job.ID,
			"performed", rep.Performed, "skipped", rep.Skipped, "failed", rep.Failed)
	}
	if err != nil {
		return fmt.Errorf("upkeep sweep: %w", err)
	}
	return nil
}

func (w *SweepWorker) Timeout(*river.Job[SweepArgs]) time.Duration { return time.Minute }

type SnapshotArgs struct{}

func (SnapshotArgs) Kind() string { return "engine_snapshot" }

// StateSource produces the engine and registry records to persist.
type StateSource interface {
	Snapshot() (escrow.Snapshot, error)
}

type UserSource interface {
	Snapshot() []*models.User
}

type StateSaver interface {
	Save(ctx context.Context, s repository.State) (time.Time, error)
}

// SnapshotWorker persists engine and registry state so a restart can restore it.
type SnapshotWorker struct {
	river.WorkerDefaults[SnapshotArgs]
	engine StateSource
	users  UserSource
	saver  StateSaver
	logger *slog.Logger
}

func NewSnapshotWorker(engine StateSource, users UserSource, saver StateSaver, logger *slog.Logger) *SnapshotWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotWorker{engine: engine, users: users, saver: saver, logger: logger}
}

func (w *SnapshotWorker) Work(ctx context.Context, job *river.Job[SnapshotArgs]) error {
	err := w.Flush(ctx)
	if errors.Is(err, escrow.ErrSettlementInProgress) {
		return river.JobSnooze(5 * time.Second)
	}
	return err
}

// Flush saves the current state once. It fails with escrow.ErrSettlementInProgress while a
// payout is in flight.
func (w *SnapshotWorker) Flush(ctx context.Context) error {
	snap, err := w.engine.Snapshot()
	if err != nil {
		return fmt.Errorf("take snapshot: %w", err)
	}
	takenAt, err := w.saver.Save(ctx, repository.State{Engine: snap, Users: w.users.Snapshot()})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	w.logger.Debug("engine snapshot saved", "tasks", len(snap.Tasks), "taken_at", takenAt)
	return nil
}
