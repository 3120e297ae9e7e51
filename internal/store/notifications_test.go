package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/communitycar/realtime/internal/protocol"
)

func notif(id string, read bool) *protocol.NotificationPayload {
	return &protocol.NotificationPayload{
		ID:        id,
		Type:      "system",
		Title:     "title " + id,
		Message:   "body " + id,
		IsRead:    read,
		CreatedAt: time.Now(),
	}
}

func TestReceiveIdempotent(t *testing.T) {
	s := NewNotificationStore()

	assert.True(t, s.Receive(notif("n1", false)))
	assert.False(t, s.Receive(notif("n1", false)))

	assert.Len(t, s.Notifications(0), 1)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestUnreadCountMatchesEntries(t *testing.T) {
	s := NewNotificationStore()
	s.Receive(notif("n1", false))
	s.Receive(notif("n2", true))
	s.Receive(notif("n3", false))

	count := 0
	for _, n := range s.Notifications(0) {
		if !n.IsRead {
			count++
		}
	}
	assert.Equal(t, count, s.UnreadCount())

	s.MarkRead("n1")
	count = 0
	for _, n := range s.Notifications(0) {
		if !n.IsRead {
			count++
		}
	}
	assert.Equal(t, count, s.UnreadCount())
}

func TestMarkReadTwice(t *testing.T) {
	s := NewNotificationStore()
	s.Receive(notif("n1", false))

	assert.True(t, s.MarkRead("n1"))
	assert.False(t, s.MarkRead("n1"))
	assert.Equal(t, 0, s.UnreadCount())
}

func TestMarkReadUnknown(t *testing.T) {
	s := NewNotificationStore()
	assert.False(t, s.MarkRead("missing"))
}

func TestMarkAllRead(t *testing.T) {
	s := NewNotificationStore()
	s.Receive(notif("n1", false))
	s.Receive(notif("n2", false))
	s.Receive(notif("n3", true))

	assert.Equal(t, 2, s.MarkAllRead())
	assert.Equal(t, 0, s.UnreadCount())
	assert.Equal(t, 0, s.MarkAllRead())
}

func TestNotificationsNewestFirstAndLimit(t *testing.T) {
	s := NewNotificationStore()
	for i := 0; i < 5; i++ {
		s.Receive(notif(fmt.Sprintf("n%d", i), false))
	}

	all := s.Notifications(0)
	assert.Equal(t, "n4", all[0].ID)
	assert.Equal(t, "n0", all[4].ID)

	limited := s.Notifications(2)
	assert.Len(t, limited, 2)
	assert.Equal(t, "n4", limited[0].ID)
}
