package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gigvault/backend/internal/models"
)

func TestRegisterUser(t *testing.T) {
	r := New("verifier")
	ctx := context.Background()

	u, err := r.RegisterUser(ctx, "alice", []string{" Go ", "go", "Solidity", ""}, "ipfs://alice")
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if diff := cmp.Diff([]string{"go", "solidity"}, u.Skills); diff != "" {
		t.Errorf("skills mismatch (-want +got):\n%s", diff)
	}
	if u.Reputation != models.ReputationInitial {
		t.Errorf("reputation: got %d, want %d", u.Reputation, models.ReputationInitial)
	}
	if !r.IsRegistered("alice") {
		t.Error("alice should be registered")
	}
	if _, err := r.RegisterUser(ctx, "alice", nil, ""); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate: got %v, want ErrAlreadyRegistered", err)
	}
	if _, err := r.RegisterUser(ctx, "system:escrow", nil, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("system address: got %v, want ErrInvalidInput", err)
	}
}

func TestVerify(t *testing.T) {
	r := New("verifier")
	ctx := context.Background()
	_, _ = r.RegisterUser(ctx, "alice", nil, "")

	if err := r.Verify(ctx, models.Caller{ID: "mallory"}, "alice"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	if err := r.Verify(ctx, models.Caller{ID: "verifier"}, "alice"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	u, _ := r.GetUser(ctx, "alice")
	if !u.Verified {
		t.Error("alice should be verified")
	}
}

func TestNextReputation(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		positive bool
		want     int
	}{
		{"step up", 50, true, 55},
		{"step down", 50, false, 45},
		{"snap to ceiling", 95, true, 100},
		{"snap to ceiling from 97", 97, true, 100},
		{"just below ceiling", 94, true, 99},
		{"at max stays", 100, true, 100},
		{"snap to floor", 5, false, 1},
		{"snap to floor from 3", 3, false, 1},
		{"just above floor", 6, false, 1},
		{"at min stays", 1, false, 1},
		{"down from max", 100, false, 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextReputation(tt.current, tt.positive); got != tt.want {
				t.Errorf("nextReputation(%d, %v) = %d, want %d", tt.current, tt.positive, got, tt.want)
			}
		})
	}
}

func TestReputationStaysInBounds(t *testing.T) {
	r := New("")
	ctx := context.Background()
	_, _ = r.RegisterUser(ctx, "bob", nil, "")

	for i := 0; i < 40; i++ {
		rep, err := r.UpdateReputation("bob", i%7 != 0)
		if err != nil {
			t.Fatalf("UpdateReputation: %v", err)
		}
		if rep < models.ReputationMin || rep > models.ReputationMax {
			t.Fatalf("reputation %d out of bounds after %d updates", rep, i+1)
		}
	}
	for i := 0; i < 40; i++ {
		rep, _ := r.UpdateReputation("bob", false)
		if rep < models.ReputationMin {
			t.Fatalf("reputation %d below floor", rep)
		}
	}
	if _, err := r.UpdateReputation("ghost", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user: got %v, want ErrNotFound", err)
	}
}

func TestUpdateTaskStats(t *testing.T) {
	r := New("")
	ctx := context.Background()
	_, _ = r.RegisterUser(ctx, "bob", nil, "")

	if err := r.UpdateTaskStats("bob", 97_500_000); err != nil {
		t.Fatalf("UpdateTaskStats: %v", err)
	}
	if err := r.UpdateTaskStats("bob", 2_500_000); err != nil {
		t.Fatalf("UpdateTaskStats: %v", err)
	}
	u, _ := r.GetUser(ctx, "bob")
	if u.CompletedTasks != 2 || u.TotalEarned != 100_000_000 {
		t.Errorf("stats: got %d tasks / %d earned, want 2 / 100000000", u.CompletedTasks, u.TotalEarned)
	}
}

func TestSnapshotRestore(t *testing.T) {
	r := New("")
	ctx := context.Background()
	_, _ = r.RegisterUser(ctx, "alice", []string{"go"}, "")
	_, _ = r.RegisterUser(ctx, "bob", []string{"rust"}, "")
	_, _ = r.UpdateReputation("bob", true)

	restored := New("")
	restored.Restore(r.Snapshot())
	if diff := cmp.Diff(r.Snapshot(), restored.Snapshot()); diff != "" {
		t.Errorf("restore mismatch (-want +got):\n%s", diff)
	}
}
