// Package feedsim simulates the upstream live-table feed: a websocket stream
// of update and heartbeat frames plus a polling snapshot endpoint.
package feedsim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/internal/adapters/feed/wire"
	"github.com/okian/livetables/internal/domain/classify"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/pkg/logger"
)

// frame is an encoded update kept for cursor replay.
type frame struct {
	id   string
	data []byte
}

// Simulator owns the simulated tables and the connected stream peers.
type Simulator struct {
	cfg    Config
	clock  clockwork.Clock
	logger logger.Logger

	mu         sync.Mutex
	tables     map[string]*model.Entity
	order      []string
	seq        int64
	frames     []frame
	peers      map[*peer]struct{}
	lastCursor string

	streamEnabled atomic.Bool
	ackEnabled    atomic.Bool
	pollStatus    atomic.Int32
	pollDelay     atomic.Int64

	spins          atomic.Int64
	pollRequests   atomic.Int64
	streamConnects atomic.Int64
	framesSent     atomic.Int64
	replayed       atomic.Int64

	upgrader websocket.Upgrader
}

// New creates a simulator with cfg.Tables open tables and empty histories.
func New(cfg Config, opts ...Option) *Simulator {
	s := &Simulator{
		cfg:    cfg.withDefaults(),
		clock:  clockwork.NewRealClock(),
		tables: make(map[string]*model.Entity),
		peers:  make(map[*peer]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("feedsim")
	}

	for i := 0; i < s.cfg.Tables; i++ {
		id := tableID(i)
		s.tables[id] = &model.Entity{ID: id, Name: tableName(i), IsOpen: true}
		s.order = append(s.order, id)
	}

	s.streamEnabled.Store(true)
	s.ackEnabled.Store(true)
	s.pollStatus.Store(http.StatusOK)

	return s
}

// TableIDs returns the simulated table ids in creation order.
func (s *Simulator) TableIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Spin records value as the next outcome of table id and broadcasts it.
func (s *Simulator) Spin(id string, value int) (model.Observation, error) {
	if err := classify.Validate(value); err != nil {
		return model.Observation{}, err
	}

	s.mu.Lock()
	t, ok := s.tables[id]
	if !ok {
		s.mu.Unlock()
		return model.Observation{}, fmt.Errorf("%w: %s", ErrUnknownTable, id)
	}

	at := s.clock.Now().UTC()
	if last, ok := t.Latest(); ok && !at.After(last.ObservedAt) {
		at = last.ObservedAt.Add(time.Millisecond)
	}
	o := model.Observation{Value: value, ObservedAt: at}
	t.History = append([]model.Observation{o}, t.History...)
	if len(t.History) > s.cfg.History {
		t.History = t.History[:s.cfg.History]
	}
	t.LastUpdatedAt = at

	name, open := t.Name, t.IsOpen
	s.broadcastUpdateLocked(wire.Table{
		ID:      id,
		Name:    &name,
		IsOpen:  &open,
		Numbers: []wire.Number{{Number: value, Timestamp: wire.Timestamp(at)}},
	})
	s.mu.Unlock()

	s.spins.Add(1)
	return o, nil
}

// SpinRandom spins a random table with a random outcome.
func (s *Simulator) SpinRandom() (string, model.Observation, error) {
	ids := s.TableIDs()
	if len(ids) == 0 {
		return "", model.Observation{}, ErrUnknownTable
	}
	id := ids[randomInt(len(ids))]
	o, err := s.Spin(id, randomOutcome())
	return id, o, err
}

// SetOpen opens or closes a table and broadcasts the change.
func (s *Simulator) SetOpen(id string, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, id)
	}
	t.IsOpen = open
	s.broadcastUpdateLocked(wire.Table{ID: id, IsOpen: &open})
	return nil
}

// Snapshot returns every table with its retained history, newest first.
func (s *Simulator) Snapshot() []wire.Table {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]wire.Table, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, wire.FromEntity(s.tables[id].Clone()))
	}
	return out
}

// Heartbeat sends a heartbeat frame to every peer.
func (s *Simulator) Heartbeat() {
	data, _ := json.Marshal(wire.Envelope{Type: wire.FrameHeartbeat})
	s.mu.Lock()
	s.sendAllLocked(data)
	s.mu.Unlock()
}

// SendRaw sends data verbatim to every peer.
func (s *Simulator) SendRaw(data []byte) {
	s.mu.Lock()
	s.sendAllLocked(data)
	s.mu.Unlock()
}

// broadcastUpdateLocked assigns the next event id, remembers the frame for
// replay and fans it out. s.mu must be held.
func (s *Simulator) broadcastUpdateLocked(t wire.Table) {
	s.seq++
	id := "evt-" + strconv.FormatInt(s.seq, 10)
	payload, err := json.Marshal(t)
	if err != nil {
		s.logger.Error(context.Background(), "encode table", logger.Error(err))
		return
	}
	data, err := json.Marshal(wire.Envelope{Type: wire.FrameUpdate, ID: id, Data: payload})
	if err != nil {
		s.logger.Error(context.Background(), "encode frame", logger.Error(err))
		return
	}

	s.frames = append(s.frames, frame{id: id, data: data})
	if len(s.frames) > replayBuffer {
		s.frames = s.frames[len(s.frames)-replayBuffer:]
	}
	s.sendAllLocked(data)
}

func (s *Simulator) sendAllLocked(data []byte) {
	for p := range s.peers {
		if !p.enqueue(data) {
			s.logger.Warn(context.Background(), "peer send buffer full, closing connection", logger.String("peer", p.id))
			delete(s.peers, p)
			p.close()
		}
	}
}

// framesAfterLocked returns the frames published after cursor. Unknown
// cursors replay nothing. s.mu must be held.
func (s *Simulator) framesAfterLocked(cursor string) [][]byte {
	for i, f := range s.frames {
		if f.id == cursor {
			out := make([][]byte, 0, len(s.frames)-i-1)
			for _, later := range s.frames[i+1:] {
				out = append(out, later.data)
			}
			return out
		}
	}
	return nil
}

// DropStreams closes every connected peer and returns how many were closed.
func (s *Simulator) DropStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.peers)
	for p := range s.peers {
		delete(s.peers, p)
		p.close()
	}
	return n
}

// SetStreamEnabled makes the stream endpoint accept or refuse upgrades.
func (s *Simulator) SetStreamEnabled(enabled bool) { s.streamEnabled.Store(enabled) }

// SetAck controls whether new peers receive the connected frame.
func (s *Simulator) SetAck(enabled bool) { s.ackEnabled.Store(enabled) }

// SetPollStatus sets the HTTP status returned by the poll endpoint.
func (s *Simulator) SetPollStatus(code int) { s.pollStatus.Store(int32(code)) }

// SetPollDelay delays every poll response by d.
func (s *Simulator) SetPollDelay(d time.Duration) { s.pollDelay.Store(int64(d)) }

// LastCursor returns the last_event_id presented by the most recent peer.
func (s *Simulator) LastCursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCursor
}

// Stats returns simulator counters.
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	peers := len(s.peers)
	s.mu.Unlock()

	return Stats{
		Spins:          s.spins.Load(),
		PollRequests:   s.pollRequests.Load(),
		StreamConnects: s.streamConnects.Load(),
		ActivePeers:    peers,
		FramesSent:     s.framesSent.Load(),
		Replayed:       s.replayed.Load(),
	}
}

// Run spins tables and sends heartbeats until ctx is canceled, then closes
// every peer.
func (s *Simulator) Run(ctx context.Context) error {
	spin := s.clock.NewTicker(s.cfg.SpinInterval)
	defer spin.Stop()
	beat := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	defer beat.Stop()

	s.logger.Info(ctx, "feed simulator running",
		logger.Int("tables", s.cfg.Tables),
		logger.Duration("spin_interval", s.cfg.SpinInterval),
		logger.Duration("heartbeat_interval", s.cfg.HeartbeatInterval),
	)

	for {
		select {
		case <-ctx.Done():
			s.DropStreams()
			return nil
		case <-spin.Chan():
			id, o, err := s.SpinRandom()
			if err != nil {
				s.logger.Error(ctx, "spin failed", logger.Error(err))
				continue
			}
			if s.cfg.Verbose {
				s.logger.Info(ctx, "spin", logger.String("table", id), logger.Int("value", o.Value))
			}
		case <-beat.Chan():
			s.Heartbeat()
		}
	}
}
