package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/communitycar/realtime/internal/dispatch"
	"github.com/communitycar/realtime/internal/protocol"
	"github.com/communitycar/realtime/internal/store"
)

type fakeConn struct {
	mu      sync.Mutex
	invokes []string
}

func (f *fakeConn) Invoke(ctx context.Context, method string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invokes = append(f.invokes, method)
	return nil
}

func (f *fakeConn) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invokes...)
}

func setup(t *testing.T) (*Client, *store.NotificationStore, *fakeConn, *dispatch.Dispatcher) {
	t.Helper()
	st := store.NewNotificationStore()
	c := New(st, nil)
	conn := &fakeConn{}
	c.Attach(conn)
	return c, st, conn, dispatch.New(c.Handlers(), nil)
}

func dispatchFrame(t *testing.T, d *dispatch.Dispatcher, frame string) {
	t.Helper()
	ev, err := protocol.Decode([]byte(frame))
	require.NoError(t, err)
	d.Dispatch(ev)
}

func TestReceiveRaisesToast(t *testing.T) {
	c, st, _, d := setup(t)

	dispatchFrame(t, d, `{"type":"ReceiveNotification","payload":{"id":"n1","type":"system","title":"Hi","message":"welcome"}}`)

	assert.Equal(t, 1, st.UnreadCount())
	toasts := c.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, "Hi", toasts[0].Title)

	// Duplicate delivery: no second toast, no double count.
	dispatchFrame(t, d, `{"type":"ReceiveNotification","payload":{"id":"n1","type":"system","title":"Hi","message":"welcome"}}`)
	assert.Equal(t, 1, st.UnreadCount())
	assert.Len(t, c.Toasts(), 1)
}

func TestReadNotificationNoToast(t *testing.T) {
	c, _, _, d := setup(t)
	dispatchFrame(t, d, `{"type":"ReceiveNotification","payload":{"id":"n1","isRead":true,"title":"old"}}`)
	assert.Empty(t, c.Toasts())
}

func TestToastCapEvictsOldest(t *testing.T) {
	c, _, _, d := setup(t)
	for i := 0; i < 7; i++ {
		dispatchFrame(t, d, fmt.Sprintf(`{"type":"ReceiveNotification","payload":{"id":"n%d","title":"t%d"}}`, i, i))
	}

	toasts := c.Toasts()
	require.Len(t, toasts, 5)
	assert.Equal(t, "n2", toasts[0].NotificationID)
	assert.Equal(t, "n6", toasts[4].NotificationID)
}

func TestDismissToast(t *testing.T) {
	c, _, _, d := setup(t)
	dispatchFrame(t, d, `{"type":"ReceiveNotification","payload":{"id":"n1","title":"a"}}`)
	dispatchFrame(t, d, `{"type":"ReceiveNotification","payload":{"id":"n2","title":"b"}}`)

	c.DismissToast("n1")
	toasts := c.Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, "n2", toasts[0].NotificationID)
}

func TestMarkNotificationAsRead(t *testing.T) {
	c, st, conn, d := setup(t)
	dispatchFrame(t, d, `{"type":"ReceiveNotification","payload":{"id":"n1","title":"a"}}`)

	require.NoError(t, c.MarkNotificationAsRead(context.Background(), "n1"))
	assert.Equal(t, 0, st.UnreadCount())
	assert.Equal(t, []string{"MarkNotificationAsRead"}, conn.methods())
}

func TestMarkAllNotificationsAsRead(t *testing.T) {
	c, st, conn, d := setup(t)
	dispatchFrame(t, d, `{"type":"ReceiveNotification","payload":{"id":"n1","title":"a"}}`)
	dispatchFrame(t, d, `{"type":"ReceiveNotification","payload":{"id":"n2","title":"b"}}`)

	require.NoError(t, c.MarkAllNotificationsAsRead(context.Background()))
	assert.Equal(t, 0, st.UnreadCount())
	assert.Equal(t, []string{"MarkAllNotificationsAsRead"}, conn.methods())
}

func TestServerDrivenReadEvents(t *testing.T) {
	_, st, _, d := setup(t)
	dispatchFrame(t, d, `{"type":"ReceiveNotification","payload":{"id":"n1","title":"a"}}`)
	dispatchFrame(t, d, `{"type":"ReceiveNotification","payload":{"id":"n2","title":"b"}}`)

	dispatchFrame(t, d, `{"type":"NotificationMarkedAsRead","payload":{"notificationId":"n1"}}`)
	assert.Equal(t, 1, st.UnreadCount())

	dispatchFrame(t, d, `{"type":"AllNotificationsMarkedAsRead"}`)
	assert.Equal(t, 0, st.UnreadCount())
}
