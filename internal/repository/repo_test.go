package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/gigvault/backend/internal/escrow"
	"github.com/gigvault/backend/internal/models"
)

// Postgres-backed tests; skipped unless DATABASE_URL is set.

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if applied, err := Migrate(ctx, pool); err != nil || len(applied) != 0 {
		t.Fatalf("second Migrate: applied %v, err %v", applied, err)
	}
	return pool
}

func TestEventRepo_RecordAndList(t *testing.T) {
	repo := NewEventRepo(testPool(t))
	ctx := context.Background()
	taskID := uint64(time.Now().UnixNano() / 1000)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	want := []*models.Event{
		{ID: uuid.New(), TaskID: taskID, Kind: models.EventTaskCreated, Actor: "client", Amount: 110, OccurredAt: at},
		{ID: uuid.New(), TaskID: taskID, Kind: models.EventTaskCompleted, Actor: "client", Amount: 97, OccurredAt: at.Add(time.Hour)},
	}
	for _, ev := range want {
		if err := repo.Record(ctx, *ev); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := repo.ListByTask(ctx, taskID)
	if err != nil {
		t.Fatalf("ListByTask: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if err := repo.Record(ctx, *want[0]); err == nil {
		t.Error("recording the same event id twice succeeded")
	}
}

func TestSnapshotRepo_SaveLatest(t *testing.T) {
	repo := NewSnapshotRepo(testPool(t))
	ctx := context.Background()
	deadline := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	want := State{
		Engine: escrow.Snapshot{
			NextID: 1,
			Tasks: []*models.Task{{
				ID: 1, Client: "client", Title: "port parser", RequiredSkills: []string{"go"},
				BudgetUSD: decimal.NewFromInt(100), BudgetTokens: 100, ClientStake: 10, Escrowed: 110,
				Deadline: deadline, Status: models.TaskStatusOpen, CreatedAt: deadline.Add(-time.Hour),
				UpdatedAt: deadline.Add(-time.Hour),
			}},
		},
		Users: []*models.User{{Address: "client", Skills: []string{"go"}, Reputation: 50, JoinedAt: deadline.Add(-48 * time.Hour)}},
	}
	takenAt, err := repo.Save(ctx, want)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if takenAt.IsZero() {
		t.Error("Save returned zero taken_at")
	}
	got, err := repo.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("snapshot (-want +got):\n%s", diff)
	}
}
