// Package coordinator keeps the entity store fed from exactly one upstream
// transport at a time.
//
// The stream is preferred. When it fails, stalls or never acknowledges, the
// coordinator falls back to polling and retries the stream with capped
// exponential backoff. Every batch, whatever its source, goes through the
// deduplicator and into the store under a single write lock, and the
// resulting changes are handed to the publisher.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/internal/adapters/feed/poll"
	"github.com/okian/livetables/internal/adapters/feed/stream"
	"github.com/okian/livetables/internal/adapters/repository"
	"github.com/okian/livetables/internal/domain/dedupe"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/pkg/logger"
	"github.com/okian/livetables/pkg/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Default coordinator configuration constants.
const (
	DefaultConnectTimeout    = 10 * time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultBackoffBase       = time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultMaxAttempts       = 5
	DefaultHealthInterval    = 60 * time.Second
	DefaultStaleAfter        = 90 * time.Second

	livenessFactor = 3
)

// State is the coordinator phase.
type State string

// Coordinator states.
const (
	StateIdle             State = "idle"
	StateStreamPreferred  State = "stream_preferred"
	StateStreamActive     State = "stream_active"
	StatePollingFallback  State = "polling_fallback"
	StateReconnectBackoff State = "reconnect_backoff"
)

// Streamer is a push transport.
type Streamer interface {
	Connect(ctx context.Context) (<-chan stream.Signal, <-chan error, error)
	Disconnect()
	State() stream.State
}

// Poller is a request/response transport returning full snapshots.
type Poller interface {
	Poll(ctx context.Context) (model.UpdateBatch, error)
}

// Publisher receives the changes produced by each accepted batch. It must not block.
type Publisher interface {
	Publish(ctx context.Context, changes []model.Change, at time.Time) int
}

// Stats are cumulative coordinator counters.
type Stats struct {
	Batches      int64 `json:"batches"`
	Changes      int64 `json:"changes"`
	Polls        int64 `json:"polls"`
	PollErrors   int64 `json:"poll_errors"`
	SharedPolls  int64 `json:"shared_polls"`
	Sessions     int64 `json:"sessions"`
	Reconnects   int64 `json:"reconnects"`
	HealthForced int64 `json:"health_forced"`
}

// Coordinator owns the transports and the single writer path into the store.
type Coordinator struct {
	store     repository.Store
	deduper   dedupe.Deduper
	streamer  Streamer
	poller    Poller
	publisher Publisher
	onStatus  func(ctx context.Context, st model.Status)

	pollInterval   time.Duration
	connectTimeout time.Duration
	liveness       time.Duration
	backoffBase    time.Duration
	backoffMax     time.Duration
	maxAttempts    int
	healthInterval time.Duration
	staleAfter     time.Duration
	startupPoll    bool

	clock  clockwork.Clock
	logger logger.Logger

	// lifecycle
	runMu   sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	// status
	mu           sync.RWMutex
	runCtx       context.Context
	state        State
	since        time.Time
	attempt      int
	degraded     bool
	lastAccepted time.Time
	lastError    string

	writeMu sync.Mutex
	flight  singleflight.Group
	force   chan struct{}

	pollMu     sync.Mutex
	pollCancel context.CancelFunc
	pollDone   chan struct{}
	pollFails  atomic.Int64
	inFlight   atomic.Bool

	batches      atomic.Int64
	changes      atomic.Int64
	polls        atomic.Int64
	pollErrors   atomic.Int64
	sharedPolls  atomic.Int64
	sessions     atomic.Int64
	reconnects   atomic.Int64
	healthForced atomic.Int64
}

// New creates a Coordinator. Either transport may be nil: without a streamer
// the coordinator only polls, without a poller it only streams.
func New(store repository.Store, deduper dedupe.Deduper, streamer Streamer, poller Poller, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:          store,
		deduper:        deduper,
		streamer:       streamer,
		poller:         poller,
		pollInterval:   poll.DefaultInterval,
		connectTimeout: DefaultConnectTimeout,
		liveness:       livenessFactor * DefaultHeartbeatInterval,
		backoffBase:    DefaultBackoffBase,
		backoffMax:     DefaultBackoffMax,
		maxAttempts:    DefaultMaxAttempts,
		healthInterval: DefaultHealthInterval,
		staleAfter:     DefaultStaleAfter,
		startupPoll:    true,
		clock:          clockwork.NewRealClock(),
		logger:         logger.Get().Named("coordinator"),
		state:          StateIdle,
		force:          make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(c)
	}
	c.since = c.clock.Now()

	return c
}

// Start launches the transport loops. It is a no-op when already running.
// The loops run until Stop is called or ctx is canceled.
func (c *Coordinator) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running.Load() {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	c.cancel, c.group = cancel, g
	c.running.Store(true)

	select {
	case <-c.force:
	default:
	}

	c.mu.Lock()
	c.runCtx = gctx
	c.attempt = 0
	c.degraded = false
	c.lastAccepted = c.clock.Now()
	c.mu.Unlock()

	c.logger.Info(ctx, "starting coordinator",
		logger.Bool("stream", c.streamer != nil),
		logger.Bool("poll", c.poller != nil),
		logger.Duration("poll_interval", c.pollInterval),
		logger.Duration("liveness", c.liveness),
	)

	if c.streamer != nil {
		g.Go(func() error { return c.streamLoop(gctx) })
	} else {
		c.setState(gctx, StatePollingFallback)
		c.startPolling(gctx)
	}
	if c.poller != nil && c.streamer != nil && c.startupPoll {
		g.Go(func() error {
			_, _ = c.refresh(gctx, TriggerStartup)
			return nil
		})
	}
	g.Go(func() error { return c.healthLoop(gctx) })

	return nil
}

// Stop cancels every in-flight operation and waits for the loops to exit.
// The coordinator can be started again afterwards.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running.Load() {
		return
	}

	c.cancel()
	_ = c.group.Wait()
	c.stopPolling()
	c.running.Store(false)

	c.setState(context.Background(), StateIdle)
	c.logger.Info(context.Background(), "coordinator stopped")
}

// Running reports whether the loops are running.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// State returns the current phase.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastAccepted returns when a batch was last accepted.
func (c *Coordinator) LastAccepted() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAccepted
}

// Status returns the observable health of the pipeline.
func (c *Coordinator) Status() model.Status {
	running := c.Running()

	c.mu.RLock()
	st := model.Status{
		State:            string(c.state),
		Degraded:         c.degraded,
		Running:          running,
		ReconnectAttempt: c.attempt,
		LastAcceptedAt:   c.lastAccepted,
		LastError:        c.lastError,
		Since:            c.since,
	}
	c.mu.RUnlock()

	st.StreamState = "disabled"
	if c.streamer != nil {
		st.StreamState = c.streamer.State().String()
	}
	st.Entities = c.store.Count(context.Background())
	return st
}

// Stats returns a snapshot of coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Batches:      c.batches.Load(),
		Changes:      c.changes.Load(),
		Polls:        c.polls.Load(),
		PollErrors:   c.pollErrors.Load(),
		SharedPolls:  c.sharedPolls.Load(),
		Sessions:     c.sessions.Load(),
		Reconnects:   c.reconnects.Load(),
		HealthForced: c.healthForced.Load(),
	}
}

func (c *Coordinator) setState(ctx context.Context, s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	c.since = c.clock.Now()
	c.mu.Unlock()

	metrics.UpdateCoordinatorState(string(s))
	c.logger.Debug(ctx, "state changed", logger.String("from", string(prev)), logger.String("to", string(s)))
	c.notify(ctx)
}

func (c *Coordinator) setDegraded(ctx context.Context, degraded bool) {
	c.mu.Lock()
	if c.degraded == degraded {
		c.mu.Unlock()
		return
	}
	c.degraded = degraded
	c.mu.Unlock()

	metrics.UpdateDegraded(degraded)
	if degraded {
		c.logger.Warn(ctx, "upstream degraded")
	} else {
		c.logger.Info(ctx, "upstream recovered")
	}
	c.notify(ctx)
}

func (c *Coordinator) noteError(err error) {
	c.mu.Lock()
	c.lastError = err.Error()
	c.mu.Unlock()
}

func (c *Coordinator) notify(ctx context.Context) {
	if c.onStatus != nil {
		c.onStatus(ctx, c.Status())
	}
}
