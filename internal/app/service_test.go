package service_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	service "github.com/okian/livetables/internal/app"
	"github.com/okian/livetables/internal/adapters/repository"
	"github.com/okian/livetables/internal/coordinator"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/internal/feedsim"
	"github.com/okian/livetables/internal/hub"
	"github.com/okian/livetables/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

type stubPoller struct {
	calls atomic.Int64
}

func (p *stubPoller) Poll(context.Context) (model.UpdateBatch, error) {
	p.calls.Add(1)
	name, open := "Lightning", true
	return model.UpdateBatch{
		Source: model.SourcePoll,
		Entities: []model.EntityPatch{{
			ID:     "t1",
			Name:   &name,
			IsOpen: &open,
			Observations: []model.Observation{
				{Value: 12, ObservedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
			},
		}},
		ReceivedAt: time.Now(),
	}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) callback(_ context.Context, e model.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestServiceEndToEnd(t *testing.T) {
	Convey("Given a service wired to a simulated feed", t, func() {
		_ = logger.Init()
		sim := feedsim.New(feedsim.Config{Tables: 3})
		srv := httptest.NewServer(sim.Handler())
		defer srv.Close()

		svc := service.New(
			service.WithStreamURL(srv.URL+feedsim.StreamPath),
			service.WithPollURL(srv.URL+feedsim.TablesPath),
			service.WithAPIKey("secret"),
		)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		rec := &recorder{}
		_, err := svc.Subscribe("table-01", rec.callback)
		So(err, ShouldBeNil)

		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Then the stream becomes active and the startup poll fills the cache", func() {
			So(eventually(func() bool {
				return svc.GetStatus().State == string(coordinator.StateStreamActive)
			}), ShouldBeTrue)
			So(eventually(func() bool { return len(svc.GetAllEntities(ctx)) == 3 }), ShouldBeTrue)

			st := svc.GetStatus()
			So(st.Running, ShouldBeTrue)
			So(st.Active, ShouldBeTrue)
			So(st.StreamState, ShouldEqual, "connected")
		})

		Convey("When a table spins", func() {
			So(eventually(func() bool {
				return svc.GetStatus().State == string(coordinator.StateStreamActive)
			}), ShouldBeTrue)
			_, err := sim.Spin("table-01", 17)
			So(err, ShouldBeNil)

			Convey("Then the outcome lands in the store and reaches the subscriber", func() {
				So(eventually(func() bool {
					e, err := svc.GetEntity(ctx, "table-01")
					if err != nil {
						return false
					}
					latest, ok := e.Latest()
					return ok && latest.Value == 17
				}), ShouldBeTrue)

				So(eventually(func() bool {
					for _, e := range rec.snapshot() {
						if len(e.Added) > 0 && e.Added[0].Value == 17 {
							return true
						}
					}
					return false
				}), ShouldBeTrue)
			})
		})

		Convey("When the stream drops", func() {
			So(eventually(func() bool {
				return svc.GetStatus().State == string(coordinator.StateStreamActive)
			}), ShouldBeTrue)
			sim.DropStreams()

			Convey("Then the service reconnects", func() {
				So(eventually(func() bool {
					return sim.Stats().StreamConnects >= 2 &&
						svc.GetStatus().State == string(coordinator.StateStreamActive)
				}), ShouldBeTrue)
			})
		})

		Convey("When asking for an unknown table", func() {
			_, err := svc.GetEntity(ctx, "table-99")

			Convey("Then it should report not found", func() {
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service without endpoints", t, func() {
		_ = logger.Init()
		svc := service.New()

		Convey("Then Start should fail and refresh reports stopped", func() {
			So(errors.Is(svc.Start(context.Background()), service.ErrNoTransport), ShouldBeTrue)
			So(svc.ForceRefresh(context.Background()).Reason, ShouldEqual, service.ReasonStopped)
			So(svc.GetStatus().State, ShouldEqual, string(coordinator.StateIdle))
		})
	})

	Convey("Given a poll-only service", t, func() {
		_ = logger.Init()
		poller := &stubPoller{}
		svc := service.New(service.WithPoller(poller), service.WithRefreshMinInterval(0))
		ctx := context.Background()

		Convey("When subscribing with bad arguments", func() {
			_, err1 := svc.Subscribe("", func(context.Context, model.Event) error { return nil })
			_, err2 := svc.Subscribe(model.TopicAll, nil)

			Convey("Then it should fail", func() {
				So(errors.Is(err1, hub.ErrInvalidTopic), ShouldBeTrue)
				So(errors.Is(err2, hub.ErrNilCallback), ShouldBeTrue)
			})
		})

		Convey("When started", func() {
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			Convey("Then it polls and reports polling fallback without a stream", func() {
				So(eventually(func() bool { return len(svc.GetAllEntities(ctx)) == 1 }), ShouldBeTrue)
				st := svc.GetStatus()
				So(st.State, ShouldEqual, string(coordinator.StatePollingFallback))
				So(st.StreamState, ShouldEqual, "disabled")

				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["totalEntities"], ShouldEqual, 1)
			})

			Convey("Then a forced refresh eventually runs its own fetch", func() {
				So(eventually(func() bool { return svc.ForceRefresh(ctx).Ran }), ShouldBeTrue)
				So(poller.calls.Load(), ShouldBeGreaterThanOrEqualTo, 2)
			})

			Convey("Then unsubscribing twice reports false the second time", func() {
				h, err := svc.Subscribe(model.TopicAll, func(context.Context, model.Event) error { return nil })
				So(err, ShouldBeNil)
				So(svc.Unsubscribe(h), ShouldBeTrue)
				So(svc.Unsubscribe(h), ShouldBeFalse)
			})
		})
	})
}

func TestForceRefreshRateLimit(t *testing.T) {
	Convey("Given a started poll-only service on a fake clock", t, func() {
		_ = logger.Init()
		clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		svc := service.New(
			service.WithPoller(&stubPoller{}),
			service.WithClock(clock),
			service.WithRefreshMinInterval(5*time.Second),
		)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When refreshing twice in a row", func() {
			first := svc.ForceRefresh(ctx)
			second := svc.ForceRefresh(ctx)

			Convey("Then the second call is rate limited", func() {
				So(first.Reason, ShouldNotEqual, service.ReasonRateLimited)
				So(second.Ran, ShouldBeFalse)
				So(second.Reason, ShouldEqual, service.ReasonRateLimited)
			})

			Convey("Then the limit lifts once the interval passes", func() {
				clock.Advance(5 * time.Second)
				So(svc.ForceRefresh(ctx).Reason, ShouldNotEqual, service.ReasonRateLimited)
			})
		})
	})
}

func TestSetActive(t *testing.T) {
	Convey("Given a started poll-only service on a fake clock", t, func() {
		_ = logger.Init()
		clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		poller := &stubPoller{}
		svc := service.New(
			service.WithPoller(poller),
			service.WithClock(clock),
			service.WithRefreshMinInterval(0),
			service.WithFreshnessThreshold(30*time.Second),
		)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()
		So(eventually(func() bool { return poller.calls.Load() >= 1 }), ShouldBeTrue)

		Convey("When the consumer goes inactive", func() {
			So(svc.SetActive(ctx, false), ShouldBeNil)

			Convey("Then transports are suspended and refreshes refused", func() {
				st := svc.GetStatus()
				So(st.Active, ShouldBeFalse)
				So(st.Running, ShouldBeFalse)
				So(st.State, ShouldEqual, string(coordinator.StateIdle))
				So(svc.ForceRefresh(ctx).Reason, ShouldEqual, service.ReasonInactive)
			})

			Convey("Then resuming after the freshness threshold fetches again", func() {
				before := poller.calls.Load()
				clock.Advance(time.Minute)
				So(svc.SetActive(ctx, true), ShouldBeNil)

				So(svc.Active(), ShouldBeTrue)
				So(svc.GetStatus().Running, ShouldBeTrue)
				So(eventually(func() bool { return poller.calls.Load() > before }), ShouldBeTrue)
			})

			Convey("Then repeating the same signal is a no-op", func() {
				So(svc.SetActive(ctx, false), ShouldBeNil)
				So(svc.Active(), ShouldBeFalse)
			})
		})
	})
}
