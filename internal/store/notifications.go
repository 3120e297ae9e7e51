package store

import (
	"sync"
	"time"

	"github.com/communitycar/realtime/internal/protocol"
)

// Notification is a single user notification, newest first in the store.
type Notification struct {
	ID        string
	Type      string
	Title     string
	Message   string
	ActionURL string
	IsRead    bool
	CreatedAt time.Time
}

// NotificationStore keeps the notification list and its unread count.
// The count is updated in lock step with every mutation so it always equals
// the number of unread entries.
type NotificationStore struct {
	mu     sync.RWMutex
	order  []*Notification // newest first
	byID   map[string]*Notification
	unread int
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{byID: make(map[string]*Notification)}
}

// Receive adds a notification. Duplicates by ID are ignored.
func (s *NotificationStore) Receive(p *protocol.NotificationPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[p.ID]; exists {
		return false
	}
	n := &Notification{
		ID:        p.ID,
		Type:      p.Type,
		Title:     p.Title,
		Message:   p.Message,
		ActionURL: p.ActionURL,
		IsRead:    p.IsRead,
		CreatedAt: p.CreatedAt,
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.byID[n.ID] = n
	s.order = append([]*Notification{n}, s.order...)
	if !n.IsRead {
		s.unread++
	}
	return true
}

// MarkRead marks one notification read. Marking twice is a no-op.
func (s *NotificationStore) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[id]
	if !ok || n.IsRead {
		return false
	}
	n.IsRead = true
	s.unread--
	return true
}

// MarkAllRead marks every notification read and returns how many changed.
func (s *NotificationStore) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, n := range s.order {
		if !n.IsRead {
			n.IsRead = true
			changed++
		}
	}
	s.unread = 0
	return changed
}

// UnreadCount returns the number of unread notifications.
func (s *NotificationStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Notifications returns up to limit entries, newest first. limit <= 0
// returns everything.
func (s *NotificationStore) Notifications(limit int) []Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Notification, n)
	for i := 0; i < n; i++ {
		out[i] = *s.order[i]
	}
	return out
}
