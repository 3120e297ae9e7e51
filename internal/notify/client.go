package notify

import (
	"context"
	"fmt"
	"sync"

	"log/slog"

	"github.com/communitycar/realtime/internal/dispatch"
	"github.com/communitycar/realtime/internal/protocol"
	"github.com/communitycar/realtime/internal/store"
)

// Toast is a transient banner raised for an incoming notification.
type Toast struct {
	NotificationID string
	Title          string
	Message        string
}

// maxToasts is the visible toast cap; a new toast evicts the oldest.
const maxToasts = 5

// Conn is the slice of the connection manager the notify client needs.
type Conn interface {
	Invoke(ctx context.Context, method string, payload any) error
}

// Client drives the notification feed: inbound events mutate the store,
// user actions notify the server then the store.
type Client struct {
	store  *store.NotificationStore
	logger *slog.Logger
	conn   Conn

	mu     sync.Mutex
	toasts []Toast
}

func New(st *store.NotificationStore, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{store: st, logger: logger}
}

// Handlers returns the dispatcher table for notification events.
func (c *Client) Handlers() dispatch.Table {
	return dispatch.Table{
		protocol.KindReceiveNotification: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.NotificationPayload)
			if c.store.Receive(p) && !p.IsRead {
				c.pushToast(Toast{NotificationID: p.ID, Title: p.Title, Message: p.Message})
			}
		}},
		protocol.KindNotificationMarkedAsRead: {func(ev protocol.Event) {
			c.store.MarkRead(ev.Payload.(*protocol.NotificationReadPayload).NotificationID)
		}},
		protocol.KindAllNotificationsMarkedAsRead: {func(ev protocol.Event) {
			c.store.MarkAllRead()
		}},
	}
}

// Attach binds the connection manager.
func (c *Client) Attach(conn Conn) {
	c.conn = conn
}

// MarkNotificationAsRead marks one notification read locally and remotely.
func (c *Client) MarkNotificationAsRead(ctx context.Context, id string) error {
	c.store.MarkRead(id)
	if err := c.conn.Invoke(ctx, "MarkNotificationAsRead", map[string]string{"notificationId": id}); err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	return nil
}

// MarkAllNotificationsAsRead clears the unread count locally and remotely.
func (c *Client) MarkAllNotificationsAsRead(ctx context.Context) error {
	c.store.MarkAllRead()
	if err := c.conn.Invoke(ctx, "MarkAllNotificationsAsRead", nil); err != nil {
		return fmt.Errorf("marking all notifications read: %w", err)
	}
	return nil
}

// Toasts returns the visible toast stack, oldest first.
func (c *Client) Toasts() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Toast(nil), c.toasts...)
}

// DismissToast removes one toast by notification id.
func (c *Client) DismissToast(notificationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.toasts {
		if t.NotificationID == notificationID {
			c.toasts = append(c.toasts[:i], c.toasts[i+1:]...)
			return
		}
	}
}

func (c *Client) pushToast(t Toast) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toasts = append(c.toasts, t)
	if len(c.toasts) > maxToasts {
		c.toasts = c.toasts[len(c.toasts)-maxToasts:]
	}
}
