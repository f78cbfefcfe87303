package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigvault/backend/internal/escrow"
	"github.com/gigvault/backend/internal/models"
)

// ErrNoSnapshot is returned by Latest when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot saved")

// State is everything needed to rebuild the engine and registry after a restart.
type State struct {
	Engine escrow.Snapshot `json:"engine"`
	Users  []*models.User  `json:"users"`
}

type SnapshotRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

// Save appends a snapshot. Older rows are kept as history.
func (r *SnapshotRepo) Save(ctx context.Context, s State) (time.Time, error) {
	eng, err := json.Marshal(s.Engine)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode engine snapshot: %w", err)
	}
	users, err := json.Marshal(s.Users)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode users: %w", err)
	}
	var takenAt time.Time
	err = r.pool.QueryRow(ctx, `
		INSERT INTO engine_snapshots (engine, users) VALUES ($1, $2)
		RETURNING taken_at
	`, eng, users).Scan(&takenAt)
	return takenAt, err
}

// Latest loads the most recent snapshot.
func (r *SnapshotRepo) Latest(ctx context.Context) (*State, error) {
	var eng, users []byte
	err := r.pool.QueryRow(ctx, `
		SELECT engine, users FROM engine_snapshots ORDER BY id DESC LIMIT 1
	`).Scan(&eng, &users)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	var s State
	if err := json.Unmarshal(eng, &s.Engine); err != nil {
		return nil, fmt.Errorf("decode engine snapshot: %w", err)
	}
	if err := json.Unmarshal(users, &s.Users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return &s, nil
}
