// Package service is the lifecycle controller. It owns the entity store, the
// transports and the subscription hub, and exposes the consumer-facing API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/internal/adapters/feed/poll"
	"github.com/okian/livetables/internal/adapters/feed/stream"
	"github.com/okian/livetables/internal/adapters/repository"
	"github.com/okian/livetables/internal/coordinator"
	"github.com/okian/livetables/internal/domain/dedupe"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/internal/hub"
	"github.com/okian/livetables/pkg/logger"
	"github.com/okian/livetables/pkg/metrics"
)

// Default service configuration constants.
const (
	DefaultRefreshMinInterval = 5 * time.Second
	DefaultFreshness          = 30 * time.Second
	stopTimeout               = 10 * time.Second
	apiKeyHeader              = "X-Api-Key"
)

// Refresh outcomes reported in RefreshResult.Reason.
const (
	ReasonRateLimited = "rate_limited"
	ReasonInFlight    = "in_flight"
	ReasonStopped     = "stopped"
	ReasonInactive    = "inactive"
	ReasonNoPoller    = "no_poller"
	ReasonFailed      = "failed"
)

// RefreshResult reports what a ForceRefresh call did.
type RefreshResult struct {
	Ran     bool   // this call issued a fetch
	Reason  string // why no fetch was issued, or ReasonFailed
	Changed int    // entities changed by the fetch this call ran or joined
	Err     error
}

// Service is the facade consumers depend on.
type Service struct {
	mu sync.Mutex

	// Core components
	store    *repository.MemStore
	deduper  dedupe.Deduper
	hub      *hub.Hub
	coord    *coordinator.Coordinator
	streamer coordinator.Streamer
	poller   coordinator.Poller

	// Configuration
	streamURL      string
	pollURL        string
	apiKey         string
	pollTimeout    time.Duration
	connectTimeout time.Duration
	maxHistory     int
	dedupeWindow   int
	queueSize      int
	workers        int
	refreshMin     time.Duration
	freshness      time.Duration
	coordOpts      []coordinator.Option

	// State
	started    bool
	runCtx     context.Context
	active     atomic.Bool
	lastForced time.Time

	forcedRan     atomic.Int64
	forcedSkipped atomic.Int64

	clock  clockwork.Clock
	logger logger.Logger
}

// New constructs a Service and its components. Nothing runs until Start.
func New(opts ...Option) *Service {
	s := &Service{
		pollTimeout:    poll.DefaultTimeout,
		connectTimeout: coordinator.DefaultConnectTimeout,
		maxHistory:     repository.DefaultMaxHistory,
		dedupeWindow:   dedupe.DefaultWindow,
		refreshMin:     DefaultRefreshMinInterval,
		freshness:      DefaultFreshness,
		clock:          clockwork.NewRealClock(),
	}
	s.active.Store(true)

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.store = repository.NewMemStore(
		repository.WithMaxHistory(s.maxHistory),
		repository.WithClock(s.clock),
	)
	s.deduper = dedupe.New(dedupe.WithWindow(s.dedupeWindow))
	s.hub = hub.New(
		hub.WithQueueSize(s.queueSize),
		hub.WithWorkers(s.workers),
	)

	if s.streamer == nil && s.streamURL != "" {
		sopts := []stream.Option{
			stream.WithHandshakeTimeout(s.connectTimeout),
			stream.WithClock(s.clock),
		}
		if s.apiKey != "" {
			sopts = append(sopts, stream.WithHeader(apiKeyHeader, s.apiKey))
		}
		s.streamer = stream.New(s.streamURL, sopts...)
	}
	if s.poller == nil && s.pollURL != "" {
		popts := []poll.Option{
			poll.WithTimeout(s.pollTimeout),
			poll.WithClock(s.clock),
		}
		if s.apiKey != "" {
			popts = append(popts, poll.WithHeader(apiKeyHeader, s.apiKey))
		}
		s.poller = poll.New(s.pollURL, popts...)
	}

	copts := []coordinator.Option{
		coordinator.WithConnectTimeout(s.connectTimeout),
		coordinator.WithClock(s.clock),
		coordinator.WithPublisher(s.hub),
		coordinator.WithStatusHook(s.publishStatus),
	}
	s.coord = coordinator.New(s.store, s.deduper, s.streamer, s.poller, append(copts, s.coordOpts...)...)

	return s
}

// Start starts dispatch and, unless the consumer is inactive, the transports.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.streamer == nil && s.poller == nil {
		return ErrNoTransport
	}

	s.logger.Info(ctx, "starting live tables service...")

	s.runCtx = ctx
	s.hub.Start(ctx)
	if s.active.Load() {
		if err := s.coord.Start(ctx); err != nil {
			_ = s.hub.Stop(ctx)
			return fmt.Errorf("start coordinator: %w", err)
		}
	}

	s.started = true
	s.logger.Info(ctx, "live tables service started",
		logger.Bool("stream", s.streamer != nil),
		logger.Bool("poll", s.poller != nil),
		logger.Bool("active", s.active.Load()),
		logger.Int("max_history", s.maxHistory),
	)
	return nil
}

// Stop stops the transports and drains pending notifications.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping live tables service...")

	s.coord.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.hub.Stop(ctx); err != nil {
		s.logger.Warn(ctx, "dispatch did not drain", logger.Error(err))
	}

	s.started = false
	s.logger.Info(context.Background(), "live tables service stopped")
}

// GetEntity returns one table.
func (s *Service) GetEntity(ctx context.Context, id string) (model.Entity, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Entity{}, fmt.Errorf("get entity %q: %w", id, err)
	}
	return e, nil
}

// GetAllEntities returns every table sorted by id.
func (s *Service) GetAllEntities(ctx context.Context) []model.Entity {
	return s.store.All(ctx)
}

// Subscribe registers cb for an entity id, an event type or model.TopicAll.
func (s *Service) Subscribe(topic string, cb hub.Callback) (hub.Handle, error) {
	h, err := s.hub.Subscribe(topic, cb)
	if err != nil {
		return "", fmt.Errorf("subscribe %q: %w", topic, err)
	}
	return h, nil
}

// Unsubscribe removes a subscription.
func (s *Service) Unsubscribe(h hub.Handle) bool {
	return s.hub.Unsubscribe(h)
}

// ForceRefresh requests an out-of-cadence poll. It is rate-limited, and a
// call that arrives while a fetch is running joins it instead of issuing a
// second one.
func (s *Service) ForceRefresh(ctx context.Context) RefreshResult {
	s.mu.Lock()
	switch {
	case !s.started:
		s.mu.Unlock()
		return s.skipped(ReasonStopped)
	case !s.active.Load():
		s.mu.Unlock()
		return s.skipped(ReasonInactive)
	case s.poller == nil:
		s.mu.Unlock()
		return s.skipped(ReasonNoPoller)
	}
	now := s.clock.Now()
	if !s.lastForced.IsZero() && now.Sub(s.lastForced) < s.refreshMin {
		s.mu.Unlock()
		return s.skipped(ReasonRateLimited)
	}
	s.lastForced = now
	s.mu.Unlock()

	res, err := s.coord.Refresh(ctx, coordinator.TriggerForced)
	switch {
	case errors.Is(err, coordinator.ErrStopped):
		return s.skipped(ReasonStopped)
	case res.Joined:
		r := s.skipped(ReasonInFlight)
		r.Changed, r.Err = res.Changed, err
		return r
	case err != nil:
		s.forcedRan.Add(1)
		metrics.RecordForcedRefresh(ReasonFailed)
		s.logger.Warn(ctx, "forced refresh failed", logger.Error(err))
		return RefreshResult{Ran: true, Reason: ReasonFailed, Err: err}
	}

	s.forcedRan.Add(1)
	metrics.RecordForcedRefresh("ran")
	return RefreshResult{Ran: true, Changed: res.Changed}
}

func (s *Service) skipped(reason string) RefreshResult {
	s.forcedSkipped.Add(1)
	metrics.RecordForcedRefresh(reason)
	return RefreshResult{Reason: reason}
}

// SetActive handles the consumer activity signal. Inactive suspends both
// transports; active resumes them and, when the cache is older than the
// freshness threshold, fetches once before the normal cadence resumes.
func (s *Service) SetActive(ctx context.Context, active bool) error {
	s.mu.Lock()
	if s.active.Load() == active {
		s.mu.Unlock()
		return nil
	}
	s.active.Store(active)
	if !s.started {
		s.mu.Unlock()
		return nil
	}

	if !active {
		s.coord.Stop()
		s.mu.Unlock()
		s.logger.Info(ctx, "consumer inactive, transports suspended")
		return nil
	}

	age := s.clock.Since(s.coord.LastAccepted())
	if err := s.coord.Start(s.runCtx); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("resume coordinator: %w", err)
	}
	s.mu.Unlock()

	s.logger.Info(ctx, "consumer active, transports resumed", logger.Duration("cache_age", age))
	if age > s.freshness && s.poller != nil {
		if _, err := s.coord.Refresh(ctx, coordinator.TriggerResume); err != nil {
			s.logger.Warn(ctx, "resume fetch failed", logger.Error(err))
		}
	}
	return nil
}

// Active reports the last consumer activity signal.
func (s *Service) Active() bool {
	return s.active.Load()
}

// GetStatus returns the synchronization health.
func (s *Service) GetStatus() model.Status {
	st := s.coord.Status()
	st.Active = s.active.Load()
	return st
}

func (s *Service) publishStatus(ctx context.Context, st model.Status) {
	st.Active = s.active.Load()
	s.hub.PublishStatus(context.WithoutCancel(ctx), st, s.clock.Now())
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	ctx := context.Background()
	status := s.GetStatus()
	entities := s.store.Count(ctx)

	stats := map[string]interface{}{
		"started":         started,
		"active":          status.Active,
		"state":           status.State,
		"streamState":     status.StreamState,
		"degraded":        status.Degraded,
		"totalEntities":   entities,
		"maxHistory":      s.store.MaxHistory(),
		"dedupeWindow":    s.deduper.Window(),
		"forcedRefreshes": s.forcedRan.Load(),
		"forcedSkipped":   s.forcedSkipped.Load(),
		"coordinator":     s.coord.Stats(),
		"dedupe":          s.deduper.Stats(),
		"dispatch":        s.hub.Stats(),
	}

	metrics.UpdateStoreEntities(entities)
	return stats
}
