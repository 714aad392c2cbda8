package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/internal/adapters/feed/stream"
	"github.com/okian/livetables/internal/adapters/feed/wire"
	"github.com/okian/livetables/internal/adapters/repository"
	"github.com/okian/livetables/internal/domain/dedupe"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2026, 4, 2, 18, 0, 0, 0, time.UTC)

func obs(v, sec int) model.Observation {
	return model.Observation{Value: v, ObservedAt: base.Add(time.Duration(sec) * time.Second)}
}

func batch(source model.Source, patches ...model.EntityPatch) model.UpdateBatch {
	return model.UpdateBatch{Source: source, Entities: patches, ReceivedAt: time.Now()}
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

type fakeSession struct {
	signals chan stream.Signal
	errs    chan error
}

func (s *fakeSession) send(kind stream.SignalKind, b model.UpdateBatch) {
	s.signals <- stream.Signal{Kind: kind, Batch: b, At: time.Now()}
}

type fakeStreamer struct {
	sessions    chan *fakeSession
	dialErr     atomic.Pointer[error]
	connects    atomic.Int64
	disconnects atomic.Int64
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{sessions: make(chan *fakeSession, 64)}
}

func (f *fakeStreamer) Connect(ctx context.Context) (<-chan stream.Signal, <-chan error, error) {
	f.connects.Add(1)
	if p := f.dialErr.Load(); p != nil {
		return nil, nil, *p
	}
	s := &fakeSession{signals: make(chan stream.Signal, 16), errs: make(chan error, 1)}
	select {
	case f.sessions <- s:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return s.signals, s.errs, nil
}

func (f *fakeStreamer) Disconnect()         { f.disconnects.Add(1) }
func (f *fakeStreamer) State() stream.State { return stream.StateConnected }

func (f *fakeStreamer) next() *fakeSession {
	select {
	case s := <-f.sessions:
		return s
	case <-time.After(3 * time.Second):
		return nil
	}
}

type fakePoller struct {
	calls atomic.Int64
	gate  chan struct{}
	err   atomic.Pointer[error]
	batch func() model.UpdateBatch
}

func (f *fakePoller) Poll(ctx context.Context) (model.UpdateBatch, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return model.UpdateBatch{}, ctx.Err()
		}
	}
	if p := f.err.Load(); p != nil {
		return model.UpdateBatch{}, *p
	}
	if f.batch == nil {
		return batch(model.SourcePoll), nil
	}
	return f.batch(), nil
}

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]model.Change
}

func (p *fakePublisher) Publish(_ context.Context, changes []model.Change, _ time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, changes)
	return len(changes)
}

func (p *fakePublisher) get() [][]model.Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]model.Change(nil), p.batches...)
}

func newCoordinator(s Streamer, p Poller, pub Publisher, opts ...Option) (*Coordinator, *repository.MemStore) {
	store := repository.NewMemStore()
	opts = append([]Option{WithPublisher(pub)}, opts...)
	return New(store, dedupe.New(), s, p, opts...), store
}

func TestIngest(t *testing.T) {
	Convey("Given a coordinator with an empty store", t, func() {
		_ = logger.Init()
		pub := &fakePublisher{}
		c, store := newCoordinator(nil, nil, pub)
		ctx := context.Background()

		Convey("When a table is seen with [5,1] and then with [7,5,1]", func() {
			n1 := c.Ingest(ctx, batch(model.SourcePoll, model.EntityPatch{ID: "A", Observations: []model.Observation{obs(5, 20), obs(1, 10)}}))
			n2 := c.Ingest(ctx, batch(model.SourceStream, model.EntityPatch{ID: "A", Observations: []model.Observation{obs(7, 30), obs(5, 20), obs(1, 10)}}))

			Convey("Then history is [7,5,1] and the second batch yields one change with only 7", func() {
				So(n1, ShouldEqual, 1)
				So(n2, ShouldEqual, 1)
				e, err := store.Get(ctx, "A")
				So(err, ShouldBeNil)
				So(len(e.History), ShouldEqual, 3)
				So(e.History[0].Value, ShouldEqual, 7)

				published := pub.get()
				So(len(published), ShouldEqual, 2)
				So(published[0][0].Created, ShouldBeTrue)
				So(len(published[1]), ShouldEqual, 1)
				So(published[1][0].Created, ShouldBeFalse)
				So(len(published[1][0].NewObservations), ShouldEqual, 1)
				So(published[1][0].NewObservations[0].Value, ShouldEqual, 7)
			})

			Convey("Then replaying the same snapshot changes nothing", func() {
				n := c.Ingest(ctx, batch(model.SourcePoll, model.EntityPatch{ID: "A", Observations: []model.Observation{obs(7, 30), obs(5, 20), obs(1, 10)}}))
				So(n, ShouldEqual, 0)
				So(len(pub.get()), ShouldEqual, 2)
			})
		})

		Convey("When a batch mixes malformed entities and observations", func() {
			n := c.Ingest(ctx, batch(model.SourcePoll,
				model.EntityPatch{Observations: []model.Observation{obs(3, 1)}},
				model.EntityPatch{ID: "B", Observations: []model.Observation{obs(40, 2), obs(9, 3), obs(9, 3)}},
			))

			Convey("Then only the valid part is applied", func() {
				So(n, ShouldEqual, 1)
				So(store.Count(ctx), ShouldEqual, 1)
				e, _ := store.Get(ctx, "B")
				So(len(e.History), ShouldEqual, 1)
				So(e.History[0].Value, ShouldEqual, 9)
				So(c.LastAccepted().IsZero(), ShouldBeFalse)
			})
		})

		Convey("When the stream fills the window before an older snapshot lands", func() {
			c.Ingest(ctx, batch(model.SourceStream, model.EntityPatch{ID: "A", Observations: []model.Observation{
				obs(12, 12), obs(11, 11), obs(10, 10),
			}}))
			n := c.Ingest(ctx, batch(model.SourcePoll, model.EntityPatch{ID: "A", Observations: []model.Observation{
				obs(12, 12), obs(11, 11), obs(10, 10), obs(9, 9), obs(8, 8), obs(7, 7),
			}}))

			Convey("Then the older history is backfilled without duplicates", func() {
				So(n, ShouldEqual, 1)
				e, err := store.Get(ctx, "A")
				So(err, ShouldBeNil)
				values := make([]int, 0, len(e.History))
				for _, o := range e.History {
					values = append(values, o.Value)
				}
				So(values, ShouldResemble, []int{12, 11, 10, 9, 8, 7})

				published := pub.get()
				So(len(published[1][0].NewObservations), ShouldEqual, 3)
			})
		})

		Convey("When a decoded payload carries one corrupt outcome", func() {
			b, err := wire.Batch([]byte(`[
				{"id":"A","name":"Auto","numbers":[{"number":9,"timestamp":"2026-04-02T18:00:09Z"}]},
				{"id":"B","numbers":[{"number":3,"timestamp":"garbage"},{"number":4,"timestamp":"2026-04-02T18:00:04Z"}]}
			]`), model.SourcePoll, time.Now(), "")
			So(err, ShouldBeNil)
			n := c.Ingest(ctx, b)

			Convey("Then the good tables and outcomes still apply and the bad one is counted", func() {
				So(n, ShouldEqual, 2)
				a, _ := store.Get(ctx, "A")
				So(a.Name, ShouldEqual, "Auto")
				So(a.History[0].Value, ShouldEqual, 9)
				bb, _ := store.Get(ctx, "B")
				So(len(bb.History), ShouldEqual, 1)
				So(bb.History[0].Value, ShouldEqual, 4)
				So(c.deduper.Stats().Malformed, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a coordinator on a fake clock", t, func() {
		_ = logger.Init()
		clock := clockwork.NewFakeClockAt(base)
		c, _ := newCoordinator(nil, nil, nil, WithClock(clock))
		ctx := context.Background()
		c.Ingest(ctx, batch(model.SourcePoll, model.EntityPatch{ID: "A", Observations: []model.Observation{obs(5, 20)}}))
		stamped := c.LastAccepted()
		clock.Advance(time.Minute)

		Convey("When an empty or id-less batch arrives", func() {
			c.Ingest(ctx, batch(model.SourcePoll))
			c.Ingest(ctx, batch(model.SourceStream, model.EntityPatch{Observations: []model.Observation{obs(3, 30)}}))

			Convey("Then nothing counts as accepted", func() {
				So(c.LastAccepted().Equal(stamped), ShouldBeTrue)
			})
		})

		Convey("When a well-formed snapshot is replayed", func() {
			n := c.Ingest(ctx, batch(model.SourcePoll, model.EntityPatch{ID: "A", Observations: []model.Observation{obs(5, 20)}}))

			Convey("Then nothing changes but the feed counts as alive", func() {
				So(n, ShouldEqual, 0)
				So(c.LastAccepted().Equal(clock.Now()), ShouldBeTrue)
			})
		})
	})
}

func TestBackoffDelay(t *testing.T) {
	Convey("Given default backoff settings", t, func() {
		_ = logger.Init()
		c, _ := newCoordinator(nil, nil, nil)

		Convey("Then delays double from the base and hold at the cap", func() {
			want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
			for n, w := range want {
				So(c.backoffDelay(n), ShouldEqual, w*time.Second)
			}
		})
	})

	Convey("Given a small cap", t, func() {
		_ = logger.Init()
		c, _ := newCoordinator(nil, nil, nil, WithBackoff(time.Second, 5*time.Second, 10))

		Convey("Then the cap applies before the attempt limit", func() {
			So(c.backoffDelay(2), ShouldEqual, 4*time.Second)
			So(c.backoffDelay(3), ShouldEqual, 5*time.Second)
			So(c.backoffDelay(9), ShouldEqual, 5*time.Second)
		})
	})
}

func TestStreamLifecycle(t *testing.T) {
	Convey("Given a coordinator with a stream and a poller", t, func() {
		_ = logger.Init()
		streamer := newFakeStreamer()
		poller := &fakePoller{batch: func() model.UpdateBatch {
			return batch(model.SourcePoll, model.EntityPatch{ID: "A", Observations: []model.Observation{obs(5, 20), obs(1, 10)}})
		}}
		pub := &fakePublisher{}

		var statesMu sync.Mutex
		var states []string
		hook := WithStatusHook(func(_ context.Context, st model.Status) {
			statesMu.Lock()
			states = append(states, st.State)
			statesMu.Unlock()
		})

		c, store := newCoordinator(streamer, poller, pub,
			hook,
			WithBackoff(10*time.Millisecond, 40*time.Millisecond, 2),
			WithConnectTimeout(time.Second),
		)
		ctx := context.Background()
		So(c.Start(ctx), ShouldBeNil)
		defer c.Stop()

		sess := streamer.next()
		So(sess, ShouldNotBeNil)

		Convey("When the stream acknowledges", func() {
			sess.send(stream.SignalConnected, model.UpdateBatch{})

			Convey("Then the coordinator is stream active and the startup poll warmed the cache", func() {
				So(eventually(func() bool { return c.State() == StateStreamActive }), ShouldBeTrue)
				So(eventually(func() bool { return store.Count(ctx) == 1 }), ShouldBeTrue)
				So(poller.calls.Load(), ShouldEqual, 1)
				So(c.Polling(), ShouldBeFalse)
			})

			Convey("Then stream updates reach the store without duplicating polled data", func() {
				So(eventually(func() bool { return store.Count(ctx) == 1 }), ShouldBeTrue)
				sess.send(stream.SignalUpdate, batch(model.SourceStream,
					model.EntityPatch{ID: "A", Observations: []model.Observation{obs(7, 30), obs(5, 20)}}))

				So(eventually(func() bool {
					e, err := store.Get(ctx, "A")
					return err == nil && len(e.History) == 3
				}), ShouldBeTrue)
				e, _ := store.Get(ctx, "A")
				So(e.History[0].Value, ShouldEqual, 7)
				So(e.History[1].Value, ShouldEqual, 5)
				So(e.History[2].Value, ShouldEqual, 1)
			})

			Convey("Then a stream failure falls back to polling and reconnects", func() {
				So(eventually(func() bool { return c.State() == StateStreamActive }), ShouldBeTrue)
				sess.errs <- errors.New("connection reset")

				So(eventually(func() bool { return c.Polling() }), ShouldBeTrue)
				So(eventually(func() bool { return poller.calls.Load() >= 2 }), ShouldBeTrue)

				again := streamer.next()
				So(again, ShouldNotBeNil)
				So(c.State(), ShouldEqual, StatePollingFallback)
				again.send(stream.SignalConnected, model.UpdateBatch{})

				So(eventually(func() bool { return c.State() == StateStreamActive }), ShouldBeTrue)
				So(c.Polling(), ShouldBeFalse)
				So(c.Status().ReconnectAttempt, ShouldEqual, 0)
				So(c.Stats().Reconnects, ShouldEqual, 1)

				statesMu.Lock()
				seen := append([]string(nil), states...)
				statesMu.Unlock()
				So(seen, ShouldContain, string(StateReconnectBackoff))
				So(seen, ShouldContain, string(StatePollingFallback))
			})
		})

		Convey("When the stream never acknowledges", func() {
			c.Stop()
			streamer = newFakeStreamer()
			c, _ = newCoordinator(streamer, poller, pub,
				WithBackoff(10*time.Millisecond, 20*time.Millisecond, 2),
				WithConnectTimeout(30*time.Millisecond),
				WithStartupPoll(false),
			)
			So(c.Start(ctx), ShouldBeNil)
			defer c.Stop()

			Convey("Then handshake timeouts are retried and the status degrades", func() {
				So(eventually(func() bool { return streamer.connects.Load() >= 3 }), ShouldBeTrue)
				So(eventually(func() bool { return c.Status().Degraded }), ShouldBeTrue)
				So(c.Polling(), ShouldBeTrue)
				So(c.Status().LastError, ShouldContainSubstring, "handshake")
				So(streamer.disconnects.Load(), ShouldBeGreaterThanOrEqualTo, 2)
			})
		})

		Convey("When an established stream goes silent", func() {
			c.Stop()
			streamer = newFakeStreamer()
			c, _ = newCoordinator(streamer, poller, pub,
				WithBackoff(time.Hour, time.Hour, 5),
				WithLivenessTimeout(300*time.Millisecond),
				WithStartupPoll(false),
			)
			So(c.Start(ctx), ShouldBeNil)
			defer c.Stop()
			s := streamer.next()
			So(s, ShouldNotBeNil)
			s.send(stream.SignalConnected, model.UpdateBatch{})

			Convey("Then the liveness timeout moves it to polling", func() {
				So(eventually(func() bool { return c.State() == StatePollingFallback }), ShouldBeTrue)
				So(c.Status().LastError, ShouldContainSubstring, "liveness")
			})

			Convey("Then a forced reconnect skips the backoff wait", func() {
				So(eventually(func() bool { return c.State() == StateStreamActive }), ShouldBeTrue)
				c.ForceReconnect()
				So(streamer.next(), ShouldNotBeNil)
				So(c.Status().ReconnectAttempt, ShouldEqual, 0)
			})
		})

		Convey("When stopped", func() {
			c.Stop()

			Convey("Then it is idle, refuses refreshes and can start again", func() {
				So(c.State(), ShouldEqual, StateIdle)
				So(c.Running(), ShouldBeFalse)
				_, err := c.Refresh(ctx, TriggerForced)
				So(errors.Is(err, ErrStopped), ShouldBeTrue)

				So(c.Start(ctx), ShouldBeNil)
				So(streamer.next(), ShouldNotBeNil)
				So(c.Running(), ShouldBeTrue)
			})
		})
	})
}

func TestRefreshSingleFlight(t *testing.T) {
	Convey("Given a running poll-only coordinator whose poll is held open", t, func() {
		_ = logger.Init()
		poller := &fakePoller{gate: make(chan struct{})}
		c, _ := newCoordinator(nil, poller, nil)
		ctx := context.Background()
		So(c.Start(ctx), ShouldBeNil)
		defer c.Stop()

		So(eventually(func() bool { return c.InFlight() }), ShouldBeTrue)

		Convey("When two refreshes arrive during the scheduled poll", func() {
			results := make(chan RefreshResult, 2)
			for i := 0; i < 2; i++ {
				go func() {
					r, _ := c.Refresh(ctx, TriggerForced)
					results <- r
				}()
			}
			time.Sleep(50 * time.Millisecond)
			close(poller.gate)

			Convey("Then both join the in-flight fetch", func() {
				r1, r2 := <-results, <-results
				So(r1.Joined, ShouldBeTrue)
				So(r2.Joined, ShouldBeTrue)
				So(poller.calls.Load(), ShouldEqual, 1)
				So(c.Stats().SharedPolls, ShouldEqual, 2)
			})
		})
	})
}

func TestPollOnly(t *testing.T) {
	Convey("Given a coordinator without a stream", t, func() {
		_ = logger.Init()
		poller := &fakePoller{}
		failure := errors.New("upstream 503")
		poller.err.Store(&failure)
		c, _ := newCoordinator(nil, poller, nil, WithBackoff(time.Second, 30*time.Second, 2))
		ctx := context.Background()
		So(c.Start(ctx), ShouldBeNil)
		defer c.Stop()

		Convey("Then it polls immediately and reports polling fallback", func() {
			So(c.State(), ShouldEqual, StatePollingFallback)
			So(eventually(func() bool { return poller.calls.Load() >= 1 }), ShouldBeTrue)
			So(c.Status().StreamState, ShouldEqual, "disabled")
		})

		Convey("When polls keep failing", func() {
			_, _ = c.Refresh(ctx, TriggerForced)
			_, _ = c.Refresh(ctx, TriggerForced)

			Convey("Then the status degrades until a poll succeeds", func() {
				So(c.Status().Degraded, ShouldBeTrue)
				poller.err.Store(nil)
				_, err := c.Refresh(ctx, TriggerForced)
				So(err, ShouldBeNil)
				So(c.Status().Degraded, ShouldBeFalse)
			})
		})
	})
}

func TestHealthCheck(t *testing.T) {
	Convey("Given a coordinator on a fake clock", t, func() {
		_ = logger.Init()
		clock := clockwork.NewFakeClockAt(base)
		streamer := newFakeStreamer()
		poller := &fakePoller{batch: func() model.UpdateBatch {
			return batch(model.SourcePoll, model.EntityPatch{ID: "A", Observations: []model.Observation{obs(5, 20)}})
		}}
		c, _ := newCoordinator(streamer, poller, nil, WithClock(clock), WithHealthCheck(time.Minute, 90*time.Second))
		ctx := context.Background()
		c.mu.Lock()
		c.lastAccepted = clock.Now()
		c.mu.Unlock()

		Convey("When an update was accepted recently", func() {
			clock.Advance(30 * time.Second)
			c.checkHealth(ctx)

			Convey("Then nothing is forced", func() {
				So(c.Stats().HealthForced, ShouldEqual, 0)
				So(poller.calls.Load(), ShouldEqual, 0)
				So(len(c.force), ShouldEqual, 0)
			})
		})

		Convey("When nothing was accepted within the threshold", func() {
			clock.Advance(2 * time.Minute)
			c.checkHealth(ctx)

			Convey("Then a reconnect and a poll are forced", func() {
				So(c.Stats().HealthForced, ShouldEqual, 1)
				So(poller.calls.Load(), ShouldEqual, 1)
				So(len(c.force), ShouldEqual, 1)
				So(c.LastAccepted().Equal(clock.Now()), ShouldBeTrue)
			})
		})
	})
}
