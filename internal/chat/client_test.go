package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/communitycar/realtime/internal/connection"
	"github.com/communitycar/realtime/internal/dispatch"
	"github.com/communitycar/realtime/internal/protocol"
	"github.com/communitycar/realtime/internal/store"
)

// fakeConn records invokes and tracked channels.
type fakeConn struct {
	mu       sync.Mutex
	invokes  []string
	err      error
	tracked  map[string]bool
	rejoinFn func(ctx context.Context, channel string) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{tracked: make(map[string]bool)}
}

func (f *fakeConn) Invoke(ctx context.Context, method string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.invokes = append(f.invokes, method)
	return nil
}

func (f *fakeConn) Track(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked[channel] = true
}

func (f *fakeConn) Untrack(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tracked, channel)
}

func (f *fakeConn) OnRejoin(fn func(ctx context.Context, channel string) error) {
	f.rejoinFn = fn
}

func (f *fakeConn) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invokes...)
}

func (f *fakeConn) count(method string) int {
	n := 0
	for _, m := range f.methods() {
		if m == method {
			n++
		}
	}
	return n
}

func newClient(t *testing.T, conn *fakeConn, idle time.Duration) (*Client, *store.ChatStore) {
	t.Helper()
	st := store.NewChatStore("me")
	c := New(st, "me", "", "", idle, nil)
	c.Attach(conn)
	return c, st
}

func TestJoinConversation(t *testing.T) {
	conn := newFakeConn()
	c, st := newClient(t, conn, 0)

	require.NoError(t, c.JoinConversation(context.Background(), "c1"))

	assert.Equal(t, []string{"JoinConversation"}, conn.methods())
	assert.True(t, conn.tracked["c1"])
	assert.Equal(t, "c1", c.CurrentConversation())
	assert.True(t, st.Conversation("c1").CurrentlyJoined)
}

func TestLeaveConversation(t *testing.T) {
	conn := newFakeConn()
	c, st := newClient(t, conn, 0)
	require.NoError(t, c.JoinConversation(context.Background(), "c1"))

	require.NoError(t, c.LeaveConversation(context.Background(), "c1"))

	assert.False(t, conn.tracked["c1"])
	assert.Empty(t, c.CurrentConversation())
	assert.False(t, st.Conversation("c1").CurrentlyJoined)
}

func TestMarkMessageAsRead(t *testing.T) {
	conn := newFakeConn()
	c, st := newClient(t, conn, 0)
	d := dispatch.New(c.Handlers(), nil)
	ev, err := protocol.Decode([]byte(`{"type":"ReceiveMessage","payload":{"id":"m1","conversationId":"c1","senderId":"bob","content":"hi"}}`))
	require.NoError(t, err)
	d.Dispatch(ev)

	require.NoError(t, c.MarkMessageAsRead(context.Background(), "c1", "m1"))

	assert.Equal(t, []string{"MarkMessageAsRead"}, conn.methods())
	assert.Equal(t, store.StatusRead, st.Conversation("c1").Messages[0].Status)
}

func TestSendMessageOptimisticAndIdempotent(t *testing.T) {
	conn := newFakeConn()
	c, st := newClient(t, conn, 0)
	d := dispatch.New(c.Handlers(), nil)

	id, err := c.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	require.Len(t, st.Conversation("c1").Messages, 1)

	// The server echo of the same message must not duplicate it.
	ev, err := protocol.Decode([]byte(`{"type":"ReceiveMessage","payload":{"id":"` + id + `","conversationId":"c1","senderId":"me","content":"hello"}}`))
	require.NoError(t, err)
	d.Dispatch(ev)

	conv := st.Conversation("c1")
	assert.Len(t, conv.Messages, 1)
	assert.Equal(t, store.StatusSent, conv.Messages[0].Status)
	assert.Equal(t, 0, conv.Unread)
}

func TestSendMessageFallsBackToRest(t *testing.T) {
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("RequestVerificationToken")
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	conn := newFakeConn()
	conn.err = connection.ErrNotConnected
	st := store.NewChatStore("me")
	c := New(st, "me", srv.URL, "anti-forgery", 0, nil)
	c.Attach(conn)

	_, err := c.SendMessage(context.Background(), "c1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "/chats/messages", gotPath)
	assert.Equal(t, "anti-forgery", gotToken)
}

func TestSendMessageFailureSurfacedNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"message":"nope"}`))
	}))
	defer srv.Close()

	conn := newFakeConn()
	conn.err = connection.ErrNotConnected
	st := store.NewChatStore("me")
	c := New(st, "me", srv.URL, "", 0, nil)
	c.Attach(conn)

	_, err := c.SendMessage(context.Background(), "c1", "hello")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestTypingDebounce(t *testing.T) {
	conn := newFakeConn()
	c, _ := newClient(t, conn, 60*time.Millisecond)

	// Keystrokes inside the idle window never emit StopTyping.
	for i := 0; i < 4; i++ {
		c.Typing(context.Background(), "c1")
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, 1, conn.count("StartTyping"))
	assert.Equal(t, 0, conn.count("StopTyping"))

	// One idle window with no input emits exactly one StopTyping.
	require.Eventually(t, func() bool {
		return conn.count("StopTyping") == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, conn.count("StopTyping"))
}

func TestTypingRestartsAfterStop(t *testing.T) {
	conn := newFakeConn()
	c, _ := newClient(t, conn, 30*time.Millisecond)

	c.Typing(context.Background(), "c1")
	require.Eventually(t, func() bool {
		return conn.count("StopTyping") == 1
	}, time.Second, 5*time.Millisecond)

	c.Typing(context.Background(), "c1")
	assert.Equal(t, 2, conn.count("StartTyping"))
}

func TestExplicitStopTyping(t *testing.T) {
	conn := newFakeConn()
	c, _ := newClient(t, conn, time.Minute)

	c.Typing(context.Background(), "c1")
	c.StopTyping(context.Background(), "c1")
	assert.Equal(t, 1, conn.count("StopTyping"))

	// Not typing: nothing to stop.
	c.StopTyping(context.Background(), "c1")
	assert.Equal(t, 1, conn.count("StopTyping"))
}

func TestTypingPresenceHandlers(t *testing.T) {
	conn := newFakeConn()
	c, _ := newClient(t, conn, 0)
	d := dispatch.New(c.Handlers(), nil)

	dispatchFrame := func(frame string) {
		ev, err := protocol.Decode([]byte(frame))
		require.NoError(t, err)
		d.Dispatch(ev)
	}

	dispatchFrame(`{"type":"UserTyping","payload":{"userId":"alice","conversationId":"c1"}}`)
	assert.Equal(t, map[string]string{"alice": "c1"}, c.TypingUsers())

	// Own typing echoes are ignored.
	dispatchFrame(`{"type":"UserTyping","payload":{"userId":"me","conversationId":"c1"}}`)
	assert.Len(t, c.TypingUsers(), 1)

	dispatchFrame(`{"type":"UserStoppedTyping","payload":{"userId":"alice","conversationId":"c1"}}`)
	assert.Empty(t, c.TypingUsers())

	dispatchFrame(`{"type":"UserOnline","payload":{"userId":"bob"}}`)
	assert.Equal(t, []string{"bob"}, c.OnlineUsers())
	dispatchFrame(`{"type":"UserOffline","payload":{"userId":"bob"}}`)
	assert.Empty(t, c.OnlineUsers())
}

func TestRejoinHookRejoinsConversation(t *testing.T) {
	conn := newFakeConn()
	c, _ := newClient(t, conn, 0)
	require.NoError(t, c.JoinConversation(context.Background(), "c1"))

	require.NotNil(t, conn.rejoinFn)
	require.NoError(t, conn.rejoinFn(context.Background(), "c1"))
	assert.Equal(t, 2, conn.count("JoinConversation"))
}
