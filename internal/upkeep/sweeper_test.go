package upkeep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"github.com/gigvault/backend/internal/escrow"
	"github.com/gigvault/backend/internal/ledger"
	"github.com/gigvault/backend/internal/models"
	"github.com/gigvault/backend/internal/oracle"
	"github.com/gigvault/backend/internal/registry"
	"github.com/gigvault/backend/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client = models.Caller{ID: "client", Role: models.RoleParticipant}
	alice  = models.Caller{ID: "alice", Role: models.RoleParticipant}
	keeper = models.Caller{ID: "keeper", Role: models.RoleKeeper}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sweepCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

func (s *sweepCounts) ObserveSweep(action, outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[string]int{}
	}
	s.counts[action+"/"+outcome]++
}

type harness struct {
	eng     *escrow.Engine
	custody *ledger.MemoryCustody
	reg     *registry.Registry
	clock   *clock
	metrics *sweepCounts
	logger  *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c := &clock{now: t0}
	reg := registry.New("verifier").WithClock(c.Now)
	for _, addr := range []string{"client", "alice"} {
		if _, err := reg.RegisterUser(context.Background(), addr, []string{"go"}, ""); err != nil {
			t.Fatalf("RegisterUser: %v", err)
		}
	}
	custody := ledger.NewMemoryCustody()
	custody.Deposit("client", 10_000_000_000)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, err := escrow.New(escrow.DefaultConfig(), escrow.Deps{
		Registry: reg,
		Pricer:   oracle.NewAdapter(oracle.NewStaticFeed(decimal.NewFromInt(1), t0), 6, 0),
		Custody:  custody,
		Logger:   logger,
		Clock:    c.Now,
	})
	if err != nil {
		t.Fatalf("escrow.New: %v", err)
	}
	return &harness{eng: eng, custody: custody, reg: reg, clock: c, metrics: &sweepCounts{}, logger: logger}
}

// task creates a 10 USD task due after days.
func (h *harness) task(t *testing.T, days int) uint64 {
	t.Helper()
	id, err := h.eng.CreateTask(context.Background(), client, escrow.TaskInput{
		Title:          "task",
		RequiredSkills: []string{"go"},
		BudgetUSD:      decimal.NewFromInt(10),
		Deadline:       t0.Add(time.Duration(days) * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return id
}

// disputed creates a task assigned to alice and disputes it.
func (h *harness) disputed(t *testing.T) uint64 {
	t.Helper()
	ctx := context.Background()
	id := h.task(t, 30)
	idx, err := h.eng.SubmitBid(ctx, alice, id, escrow.BidInput{ProposedPrice: decimal.NewFromInt(5), EstimatedDelivery: t0.Add(24 * time.Hour)})
	if err != nil {
		t.Fatalf("SubmitBid: %v", err)
	}
	if err := h.eng.AcceptBid(ctx, client, id, idx); err != nil {
		t.Fatalf("AcceptBid: %v", err)
	}
	if _, err := h.eng.CreateDispute(ctx, alice, id, "no response"); err != nil {
		t.Fatalf("CreateDispute: %v", err)
	}
	return id
}

func decode(t *testing.T, payload []byte) []Entry {
	t.Helper()
	p, err := DecodePayload(payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	return p.Entries
}

// ---- 1. TestCheck ----

func TestCheck_NothingDue(t *testing.T) {
	h := newHarness(t)
	s := NewSweeper(h.eng, 0, h.logger, h.metrics)
	if needed, _, err := s.Check(context.Background()); needed || err != nil {
		t.Fatalf("empty engine: needed=%v err=%v", needed, err)
	}
	h.task(t, 5)
	h.disputed(t)
	if needed, _, _ := s.Check(context.Background()); needed {
		t.Fatal("nothing is due yet")
	}
}

func TestCheck_FindsExpiredAndTimedOut(t *testing.T) {
	h := newHarness(t)
	short := h.task(t, 5)
	h.task(t, 60)
	disputed := h.disputed(t)

	h.clock.Advance(escrow.DefaultDisputeTimeout + time.Hour)
	s := NewSweeper(h.eng, 0, h.logger, h.metrics)
	needed, payload, err := s.Check(context.Background())
	if err != nil || !needed {
		t.Fatalf("Check: needed=%v err=%v", needed, err)
	}
	want := []Entry{
		{TaskID: short, Action: ActionExpire},
		{TaskID: disputed, Action: ActionAutoResolve},
	}
	if diff := cmp.Diff(want, decode(t, payload)); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
	if h.eng.TotalEscrowed() != h.custody.Balance(models.EscrowAccount) {
		t.Error("Check moved funds")
	}
}

func TestCheck_CapsEntriesAndRotates(t *testing.T) {
	h := newHarness(t)
	for range 15 {
		h.task(t, 1)
	}
	h.clock.Advance(48 * time.Hour)

	s := NewSweeper(h.eng, 8, h.logger, h.metrics)
	_, payload, _ := s.Check(context.Background())
	first := decode(t, payload)
	if len(first) != 8 || first[0].TaskID != 1 || first[7].TaskID != 8 {
		t.Fatalf("first window: %+v", first)
	}
	_, payload, _ = s.Check(context.Background())
	second := decode(t, payload)
	// Ids 9..15 then wrap to 1.
	if len(second) != 8 || second[0].TaskID != 9 || second[7].TaskID != 1 {
		t.Fatalf("second window: %+v", second)
	}

	// A window wider than the cap resumes after the last entry it returned.
	s = NewSweeper(h.eng, 100, h.logger, h.metrics)
	_, payload, _ = s.Check(context.Background())
	full := decode(t, payload)
	if len(full) != MaxEntries || full[MaxEntries-1].TaskID != 10 {
		t.Fatalf("first capped payload: %+v", full)
	}
	_, payload, _ = s.Check(context.Background())
	rest := decode(t, payload)
	if len(rest) != MaxEntries || rest[0].TaskID != 11 || rest[4].TaskID != 15 || rest[5].TaskID != 1 {
		t.Fatalf("second capped payload: %+v", rest)
	}
}

// ---- 2. TestPerform ----

func TestPerform_ExecutesAndSkipsStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	expired := h.task(t, 5)
	disputed := h.disputed(t)
	h.clock.Advance(escrow.DefaultDisputeTimeout + time.Hour)

	s := NewSweeper(h.eng, 0, h.logger, h.metrics)
	_, payload, _ := s.Check(ctx)

	// Resolve one entry out of band before perform runs.
	if err := h.eng.ExpireTask(ctx, keeper, expired); err != nil {
		t.Fatalf("ExpireTask: %v", err)
	}
	rep, err := s.Perform(ctx, keeper, payload)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if rep.Performed != 1 || rep.Skipped != 1 || rep.Failed != 0 {
		t.Fatalf("report: %+v", rep)
	}
	d, _ := h.eng.Dispute(disputed)
	if d.Outcome == nil || !d.Outcome.Automatic {
		t.Errorf("dispute not auto-resolved: %+v", d)
	}
	if got := h.custody.Balance(models.EscrowAccount); got != 0 {
		t.Errorf("escrow still holds %d", got)
	}
	want := map[string]int{"expire/skipped": 1, "auto_resolve/performed": 1}
	if diff := cmp.Diff(want, h.metrics.counts); diff != "" {
		t.Errorf("metrics (-want +got):\n%s", diff)
	}

	// Replaying the same payload changes nothing.
	rep, err = s.Perform(ctx, keeper, payload)
	if err != nil || rep.Skipped != 2 {
		t.Errorf("replay: %+v, %v", rep, err)
	}
}

func TestPerform_ForgedEntriesAreRevalidated(t *testing.T) {
	h := newHarness(t)
	open := h.task(t, 30)
	disputed := h.disputed(t)
	s := NewSweeper(h.eng, 0, h.logger, nil)

	forged, _ := EncodePayload([]Entry{
		{TaskID: open, Action: ActionExpire},
		{TaskID: disputed, Action: ActionAutoResolve},
		{TaskID: 999, Action: ActionExpire},
	})
	rep, err := s.Perform(context.Background(), keeper, forged)
	if err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if rep.Performed != 0 || rep.Skipped != 3 {
		t.Fatalf("report: %+v", rep)
	}
	if task, _ := h.eng.Task(open); task.Status != models.TaskStatusOpen {
		t.Errorf("forged expire changed task to %s", task.Status)
	}
}

func TestPerform_RejectsMalformedPayload(t *testing.T) {
	h := newHarness(t)
	s := NewSweeper(h.eng, 0, h.logger, nil)
	eleven := make([]Entry, MaxEntries+1)
	for i := range eleven {
		eleven[i] = Entry{TaskID: uint64(i + 1), Action: ActionExpire}
	}
	tooMany, _ := EncodePayload(eleven)

	for name, payload := range map[string]string{
		"not json":       `{`,
		"missing list":   `{}`,
		"unknown action": `{"entries":[{"task_id":1,"action":"refund_all"}]}`,
		"zero id":        `{"entries":[{"task_id":0,"action":"expire"}]}`,
		"fractional id":  `{"entries":[{"task_id":1.5,"action":"expire"}]}`,
		"extra field":    `{"entries":[{"task_id":1,"action":"expire","amount":5}]}`,
		"too many":       string(tooMany),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Perform(context.Background(), keeper, []byte(payload)); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("got %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestPerform_CustodyFailureIsReported(t *testing.T) {
	h := newHarness(t)
	id := h.task(t, 1)
	h.clock.Advance(48 * time.Hour)
	h.custody.Refuse = func(string, string, int64) error { return errors.New("rail down") }

	s := NewSweeper(h.eng, 0, h.logger, h.metrics)
	rep, err := s.Sweep(context.Background(), keeper)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
	if rep.Failed != 1 || rep.Results[0].TaskID != id {
		t.Errorf("report: %+v", rep)
	}
	if task, _ := h.eng.Task(id); task.Status != models.TaskStatusOpen {
		t.Errorf("failed refund left task %s", task.Status)
	}
}

func TestSweep_ConcurrentWithEngineWrites(t *testing.T) {
	h := newHarness(t)
	for range 20 {
		h.task(t, 1)
	}
	h.clock.Advance(48 * time.Hour)
	s := NewSweeper(h.eng, 5, h.logger, nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				if _, err := s.Sweep(context.Background(), keeper); err != nil {
					t.Errorf("Sweep: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	for _, task := range h.eng.ListTasks(1, 20) {
		if task.Status != models.TaskStatusCancelled {
			t.Errorf("task %d still %s", task.ID, task.Status)
		}
	}
	if got := h.custody.Balance("client"); got != 10_000_000_000 {
		t.Errorf("client balance %d, want every task refunded", got)
	}
}

// ---- 3. TestWorkers ----

type stateSaver struct {
	saved []repository.State
}

func (s *stateSaver) Save(_ context.Context, st repository.State) (time.Time, error) {
	s.saved = append(s.saved, st)
	return t0, nil
}

func TestSweepWorker(t *testing.T) {
	h := newHarness(t)
	id := h.task(t, 1)
	h.clock.Advance(48 * time.Hour)

	w := NewSweepWorker(NewSweeper(h.eng, 0, h.logger, nil), keeper, h.logger)
	job := &river.Job[SweepArgs]{JobRow: &rivertype.JobRow{ID: 7}}
	if err := w.Work(context.Background(), job); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if task, _ := h.eng.Task(id); task.Status != models.TaskStatusCancelled {
		t.Errorf("task %s, want cancelled", task.Status)
	}
}

func TestSnapshotWorker(t *testing.T) {
	h := newHarness(t)
	h.task(t, 3)
	saver := &stateSaver{}

	w := NewSnapshotWorker(h.eng, h.reg, saver, h.logger)
	if err := w.Work(context.Background(), &river.Job[SnapshotArgs]{JobRow: &rivertype.JobRow{ID: 1}}); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(saver.saved) != 1 {
		t.Fatalf("saved %d snapshots", len(saver.saved))
	}
	st := saver.saved[0]
	if len(st.Engine.Tasks) != 1 || len(st.Users) != 2 {
		t.Errorf("snapshot: %d tasks, %d users", len(st.Engine.Tasks), len(st.Users))
	}
}

type settlingSource struct{}

func (settlingSource) Snapshot() (escrow.Snapshot, error) {
	return escrow.Snapshot{}, escrow.ErrSettlementInProgress
}

func TestSnapshotWorker_SettlementInFlight(t *testing.T) {
	h := newHarness(t)
	saver := &stateSaver{}
	w := NewSnapshotWorker(settlingSource{}, h.reg, saver, h.logger)

	if err := w.Flush(context.Background()); !errors.Is(err, escrow.ErrSettlementInProgress) {
		t.Fatalf("Flush: got %v, want ErrSettlementInProgress", err)
	}
	if err := w.Work(context.Background(), &river.Job[SnapshotArgs]{JobRow: &rivertype.JobRow{ID: 2}}); err == nil {
		t.Fatal("Work saved a snapshot mid-settlement")
	}
	if len(saver.saved) != 0 {
		t.Errorf("saved %d snapshots, want none", len(saver.saved))
	}
}
