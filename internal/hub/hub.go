// Package hub fans out store changes to subscriber callbacks.
//
// Callbacks never run on the writer path: Publish enqueues a notification and
// returns, and dispatch workers invoke the callbacks.
package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/livetables/internal/adapters/mq/queue"
	"github.com/okian/livetables/internal/adapters/mq/worker"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/pkg/logger"
	"github.com/okian/livetables/pkg/metrics"
)

// Default hub configuration constants.
const (
	defaultQueueSize = 1024
	defaultWorkers   = 1
)

// Callback receives one notification. A returned error or panic is logged
// and does not affect other callbacks.
type Callback func(ctx context.Context, e model.Event) error

// Handle identifies a subscription.
type Handle string

type subscription struct {
	handle Handle
	topic  string
	cb     Callback
}

// Stats are cumulative dispatch counters.
type Stats struct {
	Subscriptions int   `json:"subscriptions"`
	Published     int64 `json:"published"`
	Dropped       int64 `json:"dropped"`
	Delivered     int64 `json:"delivered"`
	Failed        int64 `json:"failed"`
	QueueLen      int   `json:"queue_len"`
}

// Hub registers callbacks per topic and dispatches notifications to them.
type Hub struct {
	mu       sync.RWMutex
	byTopic  map[string][]subscription
	byHandle map[Handle]string

	runMu   sync.Mutex
	queue   *queue.InMemoryQueue
	pool    *worker.Pool
	started bool

	queueSize int
	workers   int
	logger    logger.Logger

	published atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// New creates a Hub with configuration options.
func New(opts ...Option) *Hub {
	h := &Hub{
		byTopic:   make(map[string][]subscription),
		byHandle:  make(map[Handle]string),
		queueSize: defaultQueueSize,
		workers:   defaultWorkers,
		logger:    logger.Get().Named("hub"),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Subscribe registers cb for topic: an entity id, a model.EventType or
// model.TopicAll.
func (h *Hub) Subscribe(topic string, cb Callback) (Handle, error) {
	if topic == "" {
		return "", ErrInvalidTopic
	}
	if cb == nil {
		return "", ErrNilCallback
	}

	handle := Handle(uuid.NewString())

	h.mu.Lock()
	h.byTopic[topic] = append(h.byTopic[topic], subscription{handle: handle, topic: topic, cb: cb})
	h.byHandle[handle] = topic
	n := len(h.byHandle)
	h.mu.Unlock()

	metrics.UpdateSubscriptions(n)
	return handle, nil
}

// Unsubscribe removes a subscription. It reports whether handle was registered.
func (h *Hub) Unsubscribe(handle Handle) bool {
	h.mu.Lock()
	topic, ok := h.byHandle[handle]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.byHandle, handle)

	subs := h.byTopic[topic]
	kept := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.handle != handle {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(h.byTopic, topic)
	} else {
		h.byTopic[topic] = kept
	}
	n := len(h.byHandle)
	h.mu.Unlock()

	metrics.UpdateSubscriptions(n)
	return true
}

// Count returns the number of registered subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byHandle)
}

// Start launches the dispatch workers. It is a no-op if already started.
func (h *Hub) Start(ctx context.Context) {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.started {
		return
	}

	if h.workers > 1 {
		h.logger.Warn(ctx, "multiple dispatch workers, notifications for one entity may arrive out of order",
			logger.Int("workers", h.workers))
	}

	h.queue = queue.NewInMemoryQueue(queue.WithCapacity(h.queueSize))
	h.pool = worker.NewPool(h.workers, h.queue, worker.HandlerFunc(h.dispatch))
	h.pool.Start(context.WithoutCancel(ctx))
	h.started = true
}

// Stop closes the queue and waits for workers to dispatch what was already
// queued, bounded by ctx.
func (h *Hub) Stop(ctx context.Context) error {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if !h.started {
		return nil
	}
	h.started = false
	if err := h.pool.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop hub: %w", err)
	}
	return nil
}

// Publish enqueues one notification per change. It never blocks; it returns
// the number of notifications accepted.
func (h *Hub) Publish(ctx context.Context, changes []model.Change, at time.Time) int {
	n := 0
	for _, c := range changes {
		if h.enqueue(ctx, model.EventFromChange(c, at)) {
			n++
		}
	}
	return n
}

// PublishStatus enqueues a status.changed notification.
func (h *Hub) PublishStatus(ctx context.Context, st model.Status, at time.Time) bool {
	return h.enqueue(ctx, model.Event{Type: model.EventStatusChanged, Status: &st, At: at})
}

func (h *Hub) enqueue(ctx context.Context, e model.Event) bool { //nolint:gocritic // hugeParam
	h.runMu.Lock()
	q, started := h.queue, h.started
	h.runMu.Unlock()

	if !started {
		h.dropped.Add(1)
		metrics.RecordDispatchDropped()
		return false
	}
	if !q.Enqueue(ctx, e) {
		h.dropped.Add(1)
		h.logger.Warn(ctx, "notification dropped", logger.String("type", string(e.Type)), logger.String("entity", e.EntityID))
		return false
	}
	h.published.Add(1)
	return true
}

// dispatch runs every matching callback: entity id topic, then event-type
// topics, then wildcard.
func (h *Hub) dispatch(ctx context.Context, e model.Event) error { //nolint:gocritic // hugeParam
	type call struct {
		sub subscription
		ev  model.Event
	}

	h.mu.RLock()
	var calls []call
	if e.EntityID != "" {
		for _, s := range h.byTopic[e.EntityID] {
			calls = append(calls, call{s, e})
		}
	}
	for _, t := range e.Types() {
		ev := e
		ev.Type = t
		for _, s := range h.byTopic[string(t)] {
			calls = append(calls, call{s, ev})
		}
	}
	for _, s := range h.byTopic[model.TopicAll] {
		calls = append(calls, call{s, e})
	}
	h.mu.RUnlock()

	for _, c := range calls {
		h.invoke(ctx, c.sub, c.ev)
	}
	return nil
}

func (h *Hub) invoke(ctx context.Context, s subscription, e model.Event) { //nolint:gocritic // hugeParam
	start := time.Now()
	defer func() {
		metrics.RecordCallbackLatency(float64(time.Since(start).Microseconds()) / 1000)
		if r := recover(); r != nil {
			h.failed.Add(1)
			metrics.RecordCallbackError("panic")
			h.logger.Error(ctx, "subscriber callback panicked",
				logger.String("topic", s.topic),
				logger.String("handle", string(s.handle)),
				logger.Any("panic", r),
			)
		}
	}()

	if err := s.cb(ctx, e); err != nil {
		h.failed.Add(1)
		metrics.RecordCallbackError("error")
		h.logger.Warn(ctx, "subscriber callback failed",
			logger.String("topic", s.topic),
			logger.String("handle", string(s.handle)),
			logger.Error(err),
		)
		return
	}
	h.delivered.Add(1)
}

// Stats returns a snapshot of dispatch counters.
func (h *Hub) Stats() Stats {
	h.runMu.Lock()
	q := h.queue
	h.runMu.Unlock()

	s := Stats{
		Subscriptions: h.Count(),
		Published:     h.published.Load(),
		Dropped:       h.dropped.Load(),
		Delivered:     h.delivered.Load(),
		Failed:        h.failed.Load(),
	}
	if q != nil {
		s.QueueLen = q.Len(context.Background())
	}
	return s
}
