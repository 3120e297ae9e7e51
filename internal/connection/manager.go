package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/communitycar/realtime/internal/backoff"
	"github.com/communitycar/realtime/internal/dispatch"
	"github.com/communitycar/realtime/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

var (
	ErrNotConnected = errors.New("connection: not connected")
	ErrFailed       = errors.New("connection: retries exhausted")
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Manager owns a single websocket connection and its reconnect loop.
// Lost connections are redialed with exponential backoff until the attempt
// cap is hit, at which point the manager parks in Failed and waits for an
// explicit Retry. Subscribed channels survive disconnects and are replayed
// through the rejoin hook after every successful dial.
type Manager struct {
	name      string
	url       string
	header    http.Header
	policy    backoff.Policy
	writeWait time.Duration
	pongWait  time.Duration

	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu          sync.Mutex
	status      Status
	conn        *websocket.Conn
	cancel      context.CancelFunc
	attempt     int
	channels    map[string]bool
	intentional bool
	retryTimer  *time.Timer

	onStatus func(Status)
	rejoin   func(ctx context.Context, channel string) error

	writeMu sync.Mutex
}

// NewManager builds a manager for one feature connection. The token, when
// set, is sent as a bearer Authorization header on the handshake.
func NewManager(name, url, token string, policy backoff.Policy, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Manager {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		name:       name,
		url:        url,
		header:     header,
		policy:     policy,
		writeWait:  defaultWriteWait,
		pongWait:   defaultPongWait,
		dispatcher: dispatcher,
		logger:     logger,
		status:     StatusDisconnected,
		channels:   make(map[string]bool),
	}
}

// SetTimeouts overrides the write and pong deadlines. Zero or negative
// values keep the defaults. Call before Connect.
func (m *Manager) SetTimeouts(write, pong time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if write > 0 {
		m.writeWait = write
	}
	if pong > 0 {
		m.pongWait = pong
	}
}

// pingPeriod derives the keepalive interval. Must be less than pongWait.
func (m *Manager) pingPeriod() time.Duration {
	return (m.pongWait * 9) / 10
}

// OnStatusChange registers the status callback. It is invoked outside the
// manager's lock, once per transition, in transition order.
func (m *Manager) OnStatusChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = fn
}

// OnRejoin registers the hook used to replay subscribed channels after a
// successful dial.
func (m *Manager) OnRejoin(fn func(ctx context.Context, channel string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejoin = fn
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect dials the server. Calling it while already connected or
// connecting is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusConnected || m.status == StatusConnecting || m.status == StatusReconnecting {
		m.mu.Unlock()
		return nil
	}
	m.stopRetryTimerLocked()
	m.intentional = false
	notify := m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()
	notify()

	return m.dial(ctx)
}

// Retry resets the attempt counter after the manager has given up and
// dials again. Outside Failed it behaves like Connect.
func (m *Manager) Retry(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusFailed {
		m.mu.Unlock()
		return m.Connect(ctx)
	}
	m.attempt = 0
	m.intentional = false
	notify := m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()
	notify()

	m.logger.Info("retrying after failure", "connection", m.name)
	return m.dial(ctx)
}

// Disconnect tears the connection down on purpose. Subscribed channels are
// kept so a later Connect replays them.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.intentional = true
	m.stopRetryTimerLocked()
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	notify := m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()
	notify()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		m.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(m.writeWait))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		conn.Close()
	}
	m.logger.Info("disconnected", "connection", m.name)
}

// Invoke sends a method call over the live connection. It fails fast with
// ErrNotConnected instead of queueing while offline.
func (m *Manager) Invoke(ctx context.Context, method string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(protocol.NewCommand(method, payload))
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	deadline := time.Now().Add(m.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Track records a channel subscription for replay after reconnects.
func (m *Manager) Track(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel] = true
}

// Untrack removes a channel from the replay set.
func (m *Manager) Untrack(channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channel)
}

// Channels returns the tracked channel set.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

func (m *Manager) dial(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, m.url, m.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.logger.Warn("dial failed", "connection", m.name, "url", m.url, "error", err)
		m.scheduleRetry()
		return err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.intentional {
		m.mu.Unlock()
		cancel()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.cancel = cancel
	m.attempt = 0
	channels := make([]string, 0, len(m.channels))
	for ch := range m.channels {
		channels = append(channels, ch)
	}
	rejoin := m.rejoin
	notify := m.setStatusLocked(StatusConnected)
	m.mu.Unlock()
	notify()

	m.logger.Info("connected", "connection", m.name, "url", m.url)

	go m.readLoop(connCtx, conn)
	go m.pingLoop(connCtx, conn)

	if rejoin != nil {
		for _, ch := range channels {
			if err := rejoin(ctx, ch); err != nil {
				m.logger.Warn("channel rejoin failed", "connection", m.name, "channel", ch, "error", err)
			}
		}
	}
	return nil
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(m.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Error("connection lost", "connection", m.name, "error", err)
			} else {
				m.logger.Debug("connection closed", "connection", m.name, "error", err)
			}
			m.scheduleRetry()
			return
		}

		event, err := protocol.Decode(data)
		if err != nil {
			m.logger.Warn("dropping malformed frame", "connection", m.name, "error", err)
			continue
		}
		m.dispatcher.Dispatch(event)
	}
}

func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(m.writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Debug("ping failed", "connection", m.name, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	if m.intentional {
		m.conn = nil
		notify := m.setStatusLocked(StatusDisconnected)
		m.mu.Unlock()
		notify()
		return
	}
	m.conn = nil
	if m.policy.Exhausted(m.attempt) {
		notify := m.setStatusLocked(StatusFailed)
		m.mu.Unlock()
		notify()
		m.logger.Error("giving up after max reconnect attempts", "connection", m.name, "attempts", m.attempt)
		return
	}
	delay := m.policy.Delay(m.attempt)
	m.attempt++
	attempt := m.attempt
	m.retryTimer = time.AfterFunc(delay, m.redial)
	notify := m.setStatusLocked(StatusReconnecting)
	m.mu.Unlock()
	notify()

	m.logger.Info("scheduling reconnect", "connection", m.name, "attempt", attempt, "delay", delay)
}

func (m *Manager) redial() {
	m.mu.Lock()
	if m.intentional || m.status != StatusReconnecting {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.dial(context.Background())
}

func (m *Manager) stopRetryTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

// setStatusLocked updates the status and returns the callback to run after
// the lock is released. Callers must invoke the returned func.
func (m *Manager) setStatusLocked(s Status) func() {
	if m.status == s {
		return func() {}
	}
	m.status = s
	fn := m.onStatus
	if fn == nil {
		return func() {}
	}
	return func() { fn(s) }
}
