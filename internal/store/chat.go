package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/communitycar/realtime/internal/protocol"
)

// MessageStatus tracks delivery state. Transitions are forward only:
// Sent -> Read, never back.
type MessageStatus string

const (
	StatusSent MessageStatus = "sent"
	StatusRead MessageStatus = "read"
)

// Message is one chat message in a conversation.
type Message struct {
	ID        string        `json:"id"`
	SenderID  string        `json:"senderId"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	Status    MessageStatus `json:"status"`
}

// Conversation holds an ordered message sequence. Insertion order is
// chronological; the conversation list itself is kept most recently active
// first.
type Conversation struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Messages        []*Message `json:"messages"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CurrentlyJoined bool       `json:"-"`
	Unread          int        `json:"-"`

	byID map[string]*Message
}

func (c *Conversation) message(id string) *Message {
	if c.byID == nil {
		c.byID = make(map[string]*Message, len(c.Messages))
		for _, m := range c.Messages {
			c.byID[m.ID] = m
		}
	}
	return c.byID[id]
}

func (c *Conversation) recountUnread(selfID string) {
	n := 0
	for _, m := range c.Messages {
		if m.Status != StatusRead && m.SenderID != selfID {
			n++
		}
	}
	c.Unread = n
}

// ChatStore is the single source of truth for conversations. Mutations
// happen only through dispatcher handlers or explicit user actions; the
// persist hook fires after every mutation so a page reload can restore the
// last session.
type ChatStore struct {
	mu      sync.RWMutex
	order   []*Conversation // most recently active first
	byID    map[string]*Conversation
	selfID  string
	persist func(id string, snapshot []byte, updatedAt time.Time)
}

func NewChatStore(selfID string) *ChatStore {
	return &ChatStore{
		byID:   make(map[string]*Conversation),
		selfID: selfID,
	}
}

// OnPersist registers the snapshot sink invoked after every mutation.
func (s *ChatStore) OnPersist(fn func(id string, snapshot []byte, updatedAt time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = fn
}

// Restore loads a persisted conversation snapshot without reordering or
// re-persisting. Used at startup only.
func (s *ChatStore) Restore(data []byte) error {
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[conv.ID]; exists {
		return nil
	}
	conv.recountUnread(s.selfID)
	s.byID[conv.ID] = &conv
	s.order = append(s.order, &conv)
	return nil
}

// Ensure returns the conversation, creating it if needed.
func (s *ChatStore) Ensure(id, title string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(id, title)
}

func (s *ChatStore) ensureLocked(id, title string) *Conversation {
	if conv, ok := s.byID[id]; ok {
		if title != "" && conv.Title == "" {
			conv.Title = title
		}
		return conv
	}
	conv := &Conversation{
		ID:        id,
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		byID:      make(map[string]*Message),
	}
	s.byID[id] = conv
	s.order = append([]*Conversation{conv}, s.order...)
	return conv
}

// ApplyMessage records a sent or received message. Duplicate IDs are
// ignored, keeping replayed events idempotent. A new message moves its
// conversation to the front of the list.
func (s *ChatStore) ApplyMessage(p *protocol.MessagePayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.ensureLocked(p.ConversationID, "")
	if conv.message(p.ID) != nil {
		return false
	}

	msg := &Message{
		ID:        p.ID,
		SenderID:  p.SenderID,
		Content:   p.Content,
		CreatedAt: p.CreatedAt,
		Status:    StatusSent,
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	conv.Messages = append(conv.Messages, msg)
	conv.byID[msg.ID] = msg
	conv.UpdatedAt = time.Now()
	if msg.SenderID != s.selfID {
		conv.Unread++
	}
	s.moveToFrontLocked(conv)
	s.persistLocked(conv)
	return true
}

// MarkMessageRead advances a message to Read. The transition is one way.
func (s *ChatStore) MarkMessageRead(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findMessageConversationLocked(conversationID, messageID)
	if conv == nil {
		return false
	}
	msg := conv.message(messageID)
	if msg == nil || msg.Status == StatusRead {
		return false
	}
	msg.Status = StatusRead
	conv.recountUnread(s.selfID)
	s.persistLocked(conv)
	return true
}

// MarkConversationRead marks every message in the conversation read.
func (s *ChatStore) MarkConversationRead(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[conversationID]
	if !ok {
		return
	}
	changed := false
	for _, m := range conv.Messages {
		if m.Status != StatusRead {
			m.Status = StatusRead
			changed = true
		}
	}
	conv.Unread = 0
	if changed {
		s.persistLocked(conv)
	}
}

// SetJoined flips the joined flag for a conversation.
func (s *ChatStore) SetJoined(conversationID string, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.byID[conversationID]; ok {
		conv.CurrentlyJoined = joined
	}
}

// Conversation returns a copy of one conversation, or nil.
func (s *ChatStore) Conversation(id string) *Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.byID[id]
	if !ok {
		return nil
	}
	return cloneConversation(conv)
}

// Conversations returns a snapshot of the list, most recently active first.
func (s *ChatStore) Conversations() []*Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conversation, 0, len(s.order))
	for _, conv := range s.order {
		out = append(out, cloneConversation(conv))
	}
	return out
}

// UnreadTotal sums unread messages across conversations.
func (s *ChatStore) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, conv := range s.order {
		total += conv.Unread
	}
	return total
}

func (s *ChatStore) findMessageConversationLocked(conversationID, messageID string) *Conversation {
	if conversationID != "" {
		return s.byID[conversationID]
	}
	// The MessageMarkedAsRead event may arrive without a conversation id.
	for _, conv := range s.order {
		if conv.message(messageID) != nil {
			return conv
		}
	}
	return nil
}

func (s *ChatStore) moveToFrontLocked(conv *Conversation) {
	for i, c := range s.order {
		if c == conv {
			copy(s.order[1:i+1], s.order[:i])
			s.order[0] = conv
			return
		}
	}
	s.order = append([]*Conversation{conv}, s.order...)
}

func (s *ChatStore) persistLocked(conv *Conversation) {
	if s.persist == nil {
		return
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return
	}
	s.persist(conv.ID, data, conv.UpdatedAt)
}

func cloneConversation(conv *Conversation) *Conversation {
	out := &Conversation{
		ID:              conv.ID,
		Title:           conv.Title,
		CreatedAt:       conv.CreatedAt,
		UpdatedAt:       conv.UpdatedAt,
		CurrentlyJoined: conv.CurrentlyJoined,
		Unread:          conv.Unread,
		Messages:        make([]*Message, len(conv.Messages)),
	}
	for i, m := range conv.Messages {
		msg := *m
		out.Messages[i] = &msg
	}
	return out
}
