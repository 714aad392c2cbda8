package feedsim

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/okian/livetables/internal/adapters/feed/wire"
	"github.com/okian/livetables/pkg/logger"
)

// Endpoint paths served by Handler.
const (
	StreamPath = "/stream"
	TablesPath = "/tables"
	StatsPath  = "/stats"
	SpinPath   = "/spin"
)

// peer is one connected stream client.
type peer struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, peerSendBuffer),
		closed: make(chan struct{}),
	}
}

// enqueue never blocks; it reports false when the peer cannot keep up.
func (p *peer) enqueue(data []byte) bool {
	select {
	case <-p.closed:
		return true
	default:
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}

// writePump serializes writes to the connection.
func (p *peer) writePump(sent func()) {
	defer p.close()
	for {
		select {
		case <-p.closed:
			return
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			sent()
		}
	}
}

// readPump discards client frames and returns when the connection ends.
func (p *peer) readPump() {
	defer p.close()
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Handler returns the simulator's HTTP surface.
func (s *Simulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StreamPath, s.HandleStream)
	mux.HandleFunc("GET "+TablesPath, s.HandleTables)
	mux.HandleFunc("GET "+StatsPath, s.HandleStats)
	mux.HandleFunc("POST "+SpinPath, s.HandleSpin)
	return mux
}

// HandleStream upgrades to a websocket, acknowledges, replays frames after
// last_event_id and then streams live frames.
func (s *Simulator) HandleStream(w http.ResponseWriter, r *http.Request) {
	if !s.streamEnabled.Load() {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(r.Context(), "failed to upgrade websocket connection", logger.Error(err))
		return
	}
	p := newPeer(conn)
	s.streamConnects.Add(1)

	cursor := r.URL.Query().Get("last_event_id")

	s.mu.Lock()
	s.lastCursor = cursor
	var lastID string
	if n := len(s.frames); n > 0 {
		lastID = s.frames[n-1].id
	}
	if s.ackEnabled.Load() {
		ack, _ := json.Marshal(wire.Envelope{Type: wire.FrameConnected, ID: lastID})
		p.enqueue(ack)
	}
	if cursor != "" {
		for _, data := range s.framesAfterLocked(cursor) {
			if p.enqueue(data) {
				s.replayed.Add(1)
			}
		}
	}
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug(r.Context(), "stream peer connected", logger.String("peer", p.id), logger.String("cursor", cursor))

	go p.writePump(func() { s.framesSent.Add(1) })
	p.readPump()

	s.mu.Lock()
	delete(s.peers, p)
	s.mu.Unlock()
	s.logger.Debug(context.Background(), "stream peer disconnected", logger.String("peer", p.id))
}

// HandleTables serves the polling snapshot.
func (s *Simulator) HandleTables(w http.ResponseWriter, r *http.Request) {
	s.pollRequests.Add(1)

	if d := time.Duration(s.pollDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}

	if code := int(s.pollStatus.Load()); code != http.StatusOK {
		http.Error(w, http.StatusText(code), code)
		return
	}

	writeJSON(w, http.StatusOK, s.Snapshot())
}

// HandleStats serves simulator counters.
func (s *Simulator) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

// HandleSpin spins ?table= with ?value=, or a random table when absent.
func (s *Simulator) HandleSpin(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("table")
	if id == "" {
		_, o, err := s.SpinRandom()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, wire.Number{Number: o.Value, Timestamp: wire.Timestamp(o.ObservedAt)})
		return
	}

	value := randomOutcome()
	if raw := r.URL.Query().Get("value"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "value must be an integer", http.StatusBadRequest)
			return
		}
		value = v
	}
	o, err := s.Spin(id, value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, wire.Number{Number: o.Value, Timestamp: wire.Timestamp(o.ObservedAt)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
