// Package stream maintains a long-lived websocket connection to the table feed.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/okian/livetables/internal/adapters/feed/wire"
	"github.com/okian/livetables/internal/domain/model"
	"github.com/okian/livetables/pkg/logger"
	"github.com/okian/livetables/pkg/metrics"
)

// Default client configuration constants.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	defaultReadLimit        = 1 << 20
	signalBuffer            = 16
	closeWriteTimeout       = time.Second

	cursorParam = "last_event_id"
)

// State of the connection.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// SignalKind distinguishes handshake acks, data and liveness.
type SignalKind int

// Signal kinds.
const (
	SignalConnected SignalKind = iota + 1
	SignalUpdate
	SignalHeartbeat
)

func (k SignalKind) String() string {
	switch k {
	case SignalConnected:
		return "connected"
	case SignalUpdate:
		return "update"
	case SignalHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Signal is one event delivered by the stream. Batch is set only for updates.
type Signal struct {
	Kind  SignalKind
	Batch model.UpdateBatch
	At    time.Time
}

// session is one websocket connection and its reader goroutine.
type session struct {
	conn     *websocket.Conn
	done     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	stopping atomic.Bool
	release  func() bool
}

func (s *session) stop() {
	s.stopping.Store(true)
	s.quitOnce.Do(func() { close(s.quit) })
}

// Client connects to one configured websocket endpoint. At most one
// connection is open at a time.
type Client struct {
	url              string
	handshakeTimeout time.Duration
	readLimit        int64
	header           http.Header
	clock            clockwork.Clock
	logger           logger.Logger

	state atomic.Int32

	mu      sync.Mutex
	sess    *session
	cursorM sync.Mutex
	cursor  string
}

// New creates a streaming client for rawURL. http and https URLs are mapped
// to ws and wss.
func New(rawURL string, opts ...Option) *Client {
	c := &Client{
		url:              rawURL,
		handshakeTimeout: DefaultHandshakeTimeout,
		readLimit:        defaultReadLimit,
		header:           make(http.Header),
		clock:            clockwork.NewRealClock(),
		logger:           logger.Get().Named("stream"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Cursor returns the last upstream event id seen, if any.
func (c *Client) Cursor() string {
	c.cursorM.Lock()
	defer c.cursorM.Unlock()
	return c.cursor
}

func (c *Client) setCursor(id string) {
	if id == "" {
		return
	}
	c.cursorM.Lock()
	c.cursor = id
	c.cursorM.Unlock()
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	metrics.UpdateStreamConnected(s == StateConnected)
}

// Connect dials the endpoint and starts reading frames. Signals arrive on the
// first channel until the connection ends; a terminal error, if any, is sent
// on the second channel before the signal channel is closed. Canceling ctx
// closes the connection.
func (c *Client) Connect(ctx context.Context) (<-chan Signal, <-chan error, error) {
	if c.url == "" {
		return nil, nil, ErrNoEndpoint
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		select {
		case <-c.sess.done:
			c.sess = nil
		default:
			return nil, nil, ErrAlreadyConnected
		}
	}

	target, err := c.target()
	if err != nil {
		c.setState(StateError)
		return nil, nil, err
	}

	c.setState(StateConnecting)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.handshakeTimeout,
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	conn, resp, err := dialer.DialContext(dialCtx, target, c.header)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.setState(StateError)
		metrics.RecordTransportError(string(model.SourceStream), "dial")
		return nil, nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(c.readLimit)

	signals := make(chan Signal, signalBuffer)
	errs := make(chan error, 1)
	s := &session{conn: conn, done: make(chan struct{}), quit: make(chan struct{})}
	s.release = context.AfterFunc(ctx, func() {
		s.stop()
		_ = conn.Close()
	})
	c.sess = s

	conn.SetPingHandler(func(data string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(closeWriteTimeout))
		select {
		case signals <- Signal{Kind: SignalHeartbeat, At: c.clock.Now()}:
		default:
		}
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	go c.read(ctx, s, signals, errs)

	c.logger.Info(ctx, "stream dialed", logger.String("url", c.url))
	return signals, errs, nil
}

// target builds the dial URL including the resume cursor.
func (c *Client) target() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrNoEndpoint, u.Scheme)
	}
	if cur := c.Cursor(); cur != "" {
		q := u.Query()
		q.Set(cursorParam, cur)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) read(ctx context.Context, s *session, signals chan<- Signal, errs chan<- error) {
	defer func() {
		s.release()
		_ = s.conn.Close()
		if s.stopping.Load() {
			c.setState(StateDisconnected)
		}
		close(signals)
		close(s.done)
	}()

	fail := func(err error) {
		if s.stopping.Load() {
			return
		}
		c.setState(StateError)
		errs <- err
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.stopping.Load() {
				return
			}
			kind := "read"
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				kind = "closed"
				err = fmt.Errorf("%w: %v", ErrClosedByPeer, err)
			}
			metrics.RecordTransportError(string(model.SourceStream), kind)
			fail(fmt.Errorf("read stream: %w", err))
			return
		}

		sig, err := c.decode(data)
		if err != nil {
			metrics.RecordTransportError(string(model.SourceStream), "decode")
			fail(err)
			return
		}
		if sig.Kind == 0 {
			continue
		}
		if sig.Kind == SignalConnected {
			c.setState(StateConnected)
		}

		select {
		case signals <- sig:
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) decode(data []byte) (Signal, error) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	now := c.clock.Now()

	switch env.Type {
	case wire.FrameConnected:
		return Signal{Kind: SignalConnected, At: now}, nil
	case wire.FrameHeartbeat:
		return Signal{Kind: SignalHeartbeat, At: now}, nil
	case wire.FrameUpdate:
		batch, err := wire.Batch(env.Data, model.SourceStream, now, env.ID)
		if err != nil {
			return Signal{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		c.setCursor(env.ID)
		return Signal{Kind: SignalUpdate, Batch: batch, At: now}, nil
	default:
		c.logger.Debug(context.Background(), "ignoring unknown frame", logger.String("type", env.Type))
		return Signal{}, nil
	}
}

// Disconnect closes the current connection, if any, and waits for the reader
// to exit. It is safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s != nil {
		s.stop()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout))
		_ = s.conn.Close()
		<-s.done
	}
	c.setState(StateDisconnected)
}
