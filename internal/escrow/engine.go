// Package escrow is the settlement state machine: task lifecycle, bid book, custody accounting
// and dispute resolution. Engine is the single writer for all of it.
package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gigvault/backend/internal/ledger"
	"github.com/gigvault/backend/internal/matching"
	"github.com/gigvault/backend/internal/models"
)

const (
	DefaultPlatformFeeBps       = 250
	DefaultDisputeTimeout       = 14 * 24 * time.Hour
	DefaultBiddingCutoff        = 7 * 24 * time.Hour
	DefaultAutoResolveClientPct = 70

	// stakeDivisor makes the client stake 10% of the escrowed budget.
	stakeDivisor   = 10
	bpsDenominator = 10_000
)

// Registry is the identity and reputation collaborator.
type Registry interface {
	IsRegistered(address string) bool
	UpdateReputation(address string, positive bool) (int, error)
	UpdateTaskStats(address string, payment int64) error
}

// Pricer converts a USD budget into token base units.
type Pricer interface {
	ToTokens(ctx context.Context, usd decimal.Decimal) (int64, error)
}

// MatchProducer proposes candidates for a task profile.
type MatchProducer interface {
	Propose(ctx context.Context, task matching.TaskProfile) ([]models.MatchResult, error)
}

// EventSink receives an audit event for every committed state change.
type EventSink interface {
	Record(ctx context.Context, ev models.Event) error
}

// Metrics observes engine activity.
type Metrics interface {
	ObserveOperation(op string, err error)
	ObservePayout(entryType string, amount int64)
}

type Config struct {
	PlatformFeeBps       int64
	Arbitrator           string
	DisputeTimeout       time.Duration
	BiddingCutoff        time.Duration
	AutoResolveClientPct int64
}

// DefaultConfig returns the production constants.
func DefaultConfig() Config {
	return Config{
		PlatformFeeBps:       DefaultPlatformFeeBps,
		DisputeTimeout:       DefaultDisputeTimeout,
		BiddingCutoff:        DefaultBiddingCutoff,
		AutoResolveClientPct: DefaultAutoResolveClientPct,
	}
}

func (c Config) validate() error {
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > bpsDenominator {
		return fmt.Errorf("%w: platform fee %d bps", ErrInvalidInput, c.PlatformFeeBps)
	}
	if c.AutoResolveClientPct < 0 || c.AutoResolveClientPct > 100 {
		return fmt.Errorf("%w: auto-resolve split %d%%", ErrInvalidInput, c.AutoResolveClientPct)
	}
	if c.DisputeTimeout <= 0 || c.BiddingCutoff < 0 {
		return fmt.Errorf("%w: durations", ErrInvalidInput)
	}
	return nil
}

// Deps are the engine's collaborators. Registry, Pricer and Custody are required.
type Deps struct {
	Registry Registry
	Pricer   Pricer
	Custody  ledger.Custody
	Matcher  MatchProducer
	Events   EventSink
	Metrics  Metrics
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Engine owns task, bid and dispute records and the funds escrowed for them.
// Every state change runs under mu; records are never deleted.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	nextID   uint64
	tasks    map[uint64]*models.Task
	bids     map[uint64][]*models.Bid
	disputes map[uint64]*models.Dispute
	// settling marks tasks whose payout is in flight with mu released.
	settling map[uint64]bool

	registry Registry
	pricer   Pricer
	custody  ledger.Custody
	matcher  MatchProducer
	events   EventSink
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil || deps.Pricer == nil || deps.Custody == nil {
		return nil, fmt.Errorf("%w: registry, pricer and custody are required", ErrInvalidInput)
	}
	e := &Engine{
		cfg:      cfg,
		tasks:    make(map[uint64]*models.Task),
		bids:     make(map[uint64][]*models.Bid),
		disputes: make(map[uint64]*models.Dispute),
		settling: make(map[uint64]bool),
		registry: deps.Registry,
		pricer:   deps.Pricer,
		custody:  deps.Custody,
		matcher:  deps.Matcher,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Clock,
		tracer:   otel.Tracer("github.com/gigvault/backend/internal/escrow"),
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	return e, nil
}

// Config returns the engine's settlement parameters.
func (e *Engine) Config() Config { return e.cfg }

// Now is the engine clock.
func (e *Engine) Now() time.Time { return e.now().UTC() }

// begin opens a span for a write operation; the returned func records the outcome.
func (e *Engine) begin(ctx context.Context, op string, taskID uint64) (context.Context, func(*error)) {
	ctx, span := e.tracer.Start(ctx, "escrow."+op, trace.WithAttributes(attribute.Int64("task.id", int64(taskID))))
	return ctx, func(errp *error) {
		err := *errp
		e.metrics.ObserveOperation(op, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func requireCaller(caller models.Caller) error {
	if caller.ID == "" {
		return fmt.Errorf("%w: anonymous caller", ErrUnauthorized)
	}
	return nil
}

// taskLocked returns the live record for a write. Caller holds mu.
func (e *Engine) taskLocked(id uint64) (*models.Task, error) {
	t, ok := e.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if e.settling[id] {
		return nil, fmt.Errorf("task %d: %w", id, ErrSettlementInProgress)
	}
	return t, nil
}

// emit records an audit event. Caller holds mu; the state change is already committed,
// so a sink failure is logged rather than returned.
func (e *Engine) emit(ctx context.Context, ev models.Event) {
	if e.events == nil {
		return
	}
	ev.ID = uuid.New()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.Now()
	}
	if err := e.events.Record(ctx, ev); err != nil {
		e.logger.Warn("audit event not recorded", "task_id", ev.TaskID, "kind", ev.Kind, "error", err)
	}
}

// mulDiv computes a*b/c without intermediate overflow, truncating toward zero.
func mulDiv(a, b, c int64) int64 {
	var r big.Int
	r.Mul(big.NewInt(a), big.NewInt(b))
	r.Quo(&r, big.NewInt(c))
	return r.Int64()
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, error) {}
func (nopMetrics) ObservePayout(string, int64)    {}
