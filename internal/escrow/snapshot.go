package escrow

import (
	"context"
	"fmt"
	"sort"

	"github.com/gigvault/backend/internal/models"
)

// Snapshot is the engine's full record set, for persistence between restarts.
type Snapshot struct {
	NextID   uint64            `json:"next_id"`
	Tasks    []*models.Task    `json:"tasks"`
	Bids     []models.Bid      `json:"bids"`
	Disputes []*models.Dispute `json:"disputes"`
}

// Snapshot copies every record. It fails while a payout is in flight, since the in-memory
// state of a settling task is not yet final.
func (e *Engine) Snapshot() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.settling) > 0 {
		return Snapshot{}, ErrSettlementInProgress
	}
	s := Snapshot{NextID: e.nextID}
	for id := uint64(1); id <= e.nextID; id++ {
		t, ok := e.tasks[id]
		if !ok {
			continue
		}
		s.Tasks = append(s.Tasks, t.Clone())
		for _, b := range e.bids[id] {
			s.Bids = append(s.Bids, *b)
		}
		if d := e.disputes[id]; d != nil {
			s.Disputes = append(s.Disputes, d.Clone())
		}
	}
	return s, nil
}

// Restore loads a snapshot into an engine that holds no tasks yet. The snapshot must account
// for exactly the escrow account balance; otherwise custody moved after the snapshot was taken
// and replaying from it could pay a settlement twice, so nothing is loaded.
func (e *Engine) Restore(ctx context.Context, s Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nextID != 0 || len(e.tasks) != 0 {
		return ErrNotEmpty
	}
	tasks := make(map[uint64]*models.Task, len(s.Tasks))
	for _, t := range s.Tasks {
		if t.ID == 0 || t.ID > s.NextID {
			return fmt.Errorf("%w: task id %d outside snapshot range", ErrInvalidInput, t.ID)
		}
		tasks[t.ID] = t.Clone()
	}
	bids := make(map[uint64][]*models.Bid)
	// Bids keep submission order within each task; the snapshot lists them task by task.
	sorted := append([]models.Bid(nil), s.Bids...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TaskID < sorted[j].TaskID })
	for i := range sorted {
		b := sorted[i]
		if _, ok := tasks[b.TaskID]; !ok {
			return fmt.Errorf("%w: bid for unknown task %d", ErrInvalidInput, b.TaskID)
		}
		bids[b.TaskID] = append(bids[b.TaskID], &b)
	}
	disputes := make(map[uint64]*models.Dispute, len(s.Disputes))
	for _, d := range s.Disputes {
		if _, ok := tasks[d.TaskID]; !ok {
			return fmt.Errorf("%w: dispute for unknown task %d", ErrInvalidInput, d.TaskID)
		}
		disputes[d.TaskID] = d.Clone()
	}
	var escrowed int64
	for _, t := range tasks {
		escrowed += t.Escrowed
	}
	if err := e.reconcileLocked(ctx, escrowed); err != nil {
		return err
	}
	e.nextID, e.tasks, e.bids, e.disputes = s.NextID, tasks, bids, disputes
	return nil
}

// Reconcile checks the escrow account balance against the current task records.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.settling) > 0 {
		return ErrSettlementInProgress
	}
	var escrowed int64
	for _, t := range e.tasks {
		escrowed += t.Escrowed
	}
	return e.reconcileLocked(ctx, escrowed)
}

func (e *Engine) reconcileLocked(ctx context.Context, escrowed int64) error {
	balance, err := e.custody.BalanceOf(ctx, models.EscrowAccount)
	if err != nil {
		return fmt.Errorf("read escrow balance: %w", err)
	}
	if balance != escrowed {
		return fmt.Errorf("%w: account holds %d, tasks hold %d", ErrCustodyMismatch, balance, escrowed)
	}
	return nil
}
