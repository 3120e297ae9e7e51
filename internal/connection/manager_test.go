package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/communitycar/realtime/internal/backoff"
	"github.com/communitycar/realtime/internal/dispatch"
	"github.com/communitycar/realtime/internal/protocol"
)

var testPolicy = backoff.Policy{
	Base:        10 * time.Millisecond,
	Multiplier:  2,
	Max:         50 * time.Millisecond,
	MaxAttempts: 5,
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testServer accepts websocket connections and records every command
// frame the client sends.
type testServer struct {
	*httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	commands []protocol.Command
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd protocol.Command
			if json.Unmarshal(data, &cmd) == nil {
				s.mu.Lock()
				s.commands = append(s.commands, cmd)
				s.mu.Unlock()
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *testServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// Close severs live websocket connections before shutting the server
// down; httptest's Close does not close hijacked connections.
func (s *testServer) Close() {
	s.dropConnections()
	s.Server.Close()
}

func (s *testServer) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	for i, c := range s.commands {
		out[i] = c.Method
	}
	return out
}

func (s *testServer) push(t *testing.T, frame string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.conns)
	require.NoError(t, s.conns[len(s.conns)-1].WriteMessage(websocket.TextMessage, []byte(frame)))
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func newManager(t *testing.T, srv *testServer, table dispatch.Table) *Manager {
	t.Helper()
	d := dispatch.New(table, nil)
	m := NewManager("test", srv.wsURL(), "token", testPolicy, d, nil)
	t.Cleanup(m.Disconnect)
	return m
}

func TestConnectAndStatusTransitions(t *testing.T) {
	srv := newTestServer(t)
	m := newManager(t, srv, nil)

	rec := &statusRecorder{}
	m.OnStatusChange(rec.record)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StatusConnected, m.Status())
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, rec.all())

	// Connect while connected is a no-op.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, rec.all())

	m.Disconnect()
	assert.Equal(t, StatusDisconnected, m.Status())
}

func TestSetTimeouts(t *testing.T) {
	srv := newTestServer(t)
	m := newManager(t, srv, nil)

	assert.Equal(t, defaultWriteWait, m.writeWait)
	assert.Equal(t, defaultPongWait, m.pongWait)

	m.SetTimeouts(5*time.Second, 20*time.Second)
	assert.Equal(t, 5*time.Second, m.writeWait)
	assert.Equal(t, 20*time.Second, m.pongWait)
	assert.Equal(t, 18*time.Second, m.pingPeriod())

	// Zero keeps the previous values.
	m.SetTimeouts(0, 0)
	assert.Equal(t, 5*time.Second, m.writeWait)
	assert.Equal(t, 20*time.Second, m.pongWait)
}

func TestInvokeFailsFastWhenDisconnected(t *testing.T) {
	srv := newTestServer(t)
	m := newManager(t, srv, nil)

	err := m.Invoke(context.Background(), "JoinConversation", map[string]string{"conversationId": "c1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInvokeDeliversCommand(t *testing.T) {
	srv := newTestServer(t)
	m := newManager(t, srv, nil)
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Invoke(context.Background(), "SendMessage", map[string]string{"content": "hi"}))

	require.Eventually(t, func() bool {
		return len(srv.methods()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "SendMessage", srv.methods()[0])
}

func TestInboundFramesDispatched(t *testing.T) {
	srv := newTestServer(t)

	received := make(chan protocol.Event, 1)
	table := dispatch.Table{
		protocol.KindReceiveMessage: {func(ev protocol.Event) { received <- ev }},
	}
	m := newManager(t, srv, table)
	require.NoError(t, m.Connect(context.Background()))

	srv.push(t, `{"type":"ReceiveMessage","payload":{"id":"m1","conversationId":"c1","senderId":"alice","content":"hi"}}`)

	select {
	case ev := <-received:
		msg := ev.Payload.(*protocol.MessagePayload)
		assert.Equal(t, "m1", msg.ID)
	case <-time.After(time.Second):
		t.Fatal("event not dispatched")
	}
}

func TestReconnectReplaysTrackedChannels(t *testing.T) {
	srv := newTestServer(t)
	m := newManager(t, srv, nil)
	m.OnRejoin(func(ctx context.Context, channel string) error {
		return m.Invoke(ctx, "JoinConversation", map[string]string{"conversationId": channel})
	})

	m.Track("c1")
	m.Track("c2")
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return len(srv.methods()) == 2
	}, time.Second, 10*time.Millisecond)

	// Drop the connection server side and wait for the automatic redial to
	// replay both subscriptions.
	srv.dropConnections()

	require.Eventually(t, func() bool {
		return m.Status() == StatusConnected && len(srv.methods()) == 4
	}, 2*time.Second, 10*time.Millisecond)

	joined := map[string]int{}
	for _, cmd := range srv.methods() {
		joined[cmd]++
	}
	assert.Equal(t, 4, joined["JoinConversation"])
}

func TestDisconnectKeepsChannels(t *testing.T) {
	srv := newTestServer(t)
	m := newManager(t, srv, nil)
	m.Track("c1")
	require.NoError(t, m.Connect(context.Background()))

	m.Disconnect()
	assert.Equal(t, []string{"c1"}, m.Channels())

	// An intentional disconnect must not trigger a redial.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StatusDisconnected, m.Status())
}

func TestFailedAfterExhaustedAttempts(t *testing.T) {
	d := dispatch.New(nil, nil)
	policy := backoff.Policy{Base: time.Millisecond, Multiplier: 2, Max: 5 * time.Millisecond, MaxAttempts: 2}
	m := NewManager("test", "ws://127.0.0.1:1/ws", "", policy, d, nil)

	rec := &statusRecorder{}
	m.OnStatusChange(rec.record)

	require.Error(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return m.Status() == StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	// No further dials once failed.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StatusFailed, m.Status())
}

func TestRetryResetsAfterFailure(t *testing.T) {
	srv := newTestServer(t)

	policy := backoff.Policy{Base: time.Millisecond, Multiplier: 2, Max: 5 * time.Millisecond, MaxAttempts: 1}
	d := dispatch.New(nil, nil)
	m := NewManager("test", srv.wsURL(), "", policy, d, nil)
	t.Cleanup(m.Disconnect)

	require.NoError(t, m.Connect(context.Background()))

	// Stop the server so the drop exhausts the single allowed attempt.
	srv.Close()
	require.Eventually(t, func() bool {
		return m.Status() == StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	// A user-driven retry resets the counter and runs the dial cycle
	// again before giving up.
	require.Error(t, m.Retry(context.Background()))
	require.Eventually(t, func() bool {
		return m.Status() == StatusFailed
	}, 2*time.Second, 5*time.Millisecond)
}
