package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/communitycar/realtime/internal/connection"
	"github.com/communitycar/realtime/internal/dispatch"
	"github.com/communitycar/realtime/internal/protocol"
	"github.com/communitycar/realtime/internal/store"
	"github.com/communitycar/realtime/pkg/response"
)

const sendFallbackPath = "/chats/messages"

// Conn is the slice of the connection manager the chat client needs.
type Conn interface {
	Invoke(ctx context.Context, method string, payload any) error
	Track(channel string)
	Untrack(channel string)
	OnRejoin(fn func(ctx context.Context, channel string) error)
}

// Client drives the chat feature: join/leave, sending, read receipts and
// the typing debounce. Store mutations for inbound events flow through the
// dispatcher table built by Handlers.
type Client struct {
	store  *store.ChatStore
	selfID string
	logger *slog.Logger

	restBase  string
	restToken string
	rest      *http.Client

	typingIdle time.Duration

	conn Conn

	mu           sync.Mutex
	current      string
	typingActive map[string]bool
	typingTimers map[string]*time.Timer
	typingUsers  map[string]string // userID -> conversationID
	onlineUsers  map[string]bool
}

// New builds the chat client. restBase is the HTTP API root used as the
// send fallback when the push invoke fails.
func New(st *store.ChatStore, selfID, restBase, restToken string, typingIdle time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if typingIdle <= 0 {
		typingIdle = 3 * time.Second
	}
	return &Client{
		store:        st,
		selfID:       selfID,
		logger:       logger,
		restBase:     restBase,
		restToken:    restToken,
		rest:         &http.Client{Timeout: 10 * time.Second},
		typingIdle:   typingIdle,
		typingActive: make(map[string]bool),
		typingTimers: make(map[string]*time.Timer),
		typingUsers:  make(map[string]string),
		onlineUsers:  make(map[string]bool),
	}
}

// Handlers returns the dispatcher table for chat events.
func (c *Client) Handlers() dispatch.Table {
	return dispatch.Table{
		protocol.KindReceiveMessage: {func(ev protocol.Event) {
			c.store.ApplyMessage(ev.Payload.(*protocol.MessagePayload))
		}},
		protocol.KindMessageMarkedAsRead: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.MessageReadPayload)
			c.store.MarkMessageRead(p.ConversationID, p.MessageID)
		}},
		protocol.KindUserTyping: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.TypingPayload)
			c.setTyping(p.UserID, p.ConversationID)
		}},
		protocol.KindUserStoppedTyping: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.TypingPayload)
			c.clearTyping(p.UserID)
		}},
		protocol.KindUserOnline: {func(ev protocol.Event) {
			c.setOnline(ev.Payload.(*protocol.PresencePayload).UserID, true)
		}},
		protocol.KindUserOffline: {func(ev protocol.Event) {
			c.setOnline(ev.Payload.(*protocol.PresencePayload).UserID, false)
		}},
	}
}

// Attach binds the connection manager and installs the rejoin hook so the
// current conversation survives reconnects.
func (c *Client) Attach(conn Conn) {
	c.conn = conn
	conn.OnRejoin(func(ctx context.Context, channel string) error {
		return conn.Invoke(ctx, "JoinConversation", map[string]string{"conversationId": channel})
	})
}

// JoinConversation enters a conversation and marks it joined. The channel
// is tracked for replay after reconnects.
func (c *Client) JoinConversation(ctx context.Context, conversationID string) error {
	if err := c.conn.Invoke(ctx, "JoinConversation", map[string]string{"conversationId": conversationID}); err != nil {
		return fmt.Errorf("joining conversation %s: %w", conversationID, err)
	}
	c.conn.Track(conversationID)
	c.store.Ensure(conversationID, "")
	c.store.SetJoined(conversationID, true)
	c.mu.Lock()
	c.current = conversationID
	c.mu.Unlock()
	return nil
}

// LeaveConversation exits a conversation and stops tracking it.
func (c *Client) LeaveConversation(ctx context.Context, conversationID string) error {
	c.stopTypingTimer(conversationID)
	c.conn.Untrack(conversationID)
	c.store.SetJoined(conversationID, false)
	c.mu.Lock()
	if c.current == conversationID {
		c.current = ""
	}
	c.mu.Unlock()
	if err := c.conn.Invoke(ctx, "LeaveConversation", map[string]string{"conversationId": conversationID}); err != nil {
		return fmt.Errorf("leaving conversation %s: %w", conversationID, err)
	}
	return nil
}

// SendMessage sends one message. The local store is updated first so the
// server echo deduplicates by id. A failed push invoke falls back to the
// REST endpoint once; failures after that surface to the caller and are
// never retried automatically.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (string, error) {
	msg := &protocol.MessagePayload{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       c.selfID,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	c.store.ApplyMessage(msg)

	if err := c.conn.Invoke(ctx, "SendMessage", msg); err != nil {
		c.logger.Warn("push send failed, falling back to rest", "conversation", conversationID, "error", err)
		if restErr := c.sendViaRest(ctx, msg); restErr != nil {
			return msg.ID, fmt.Errorf("sending message: %w", restErr)
		}
	}
	return msg.ID, nil
}

// MarkMessageAsRead marks the message read locally and notifies the server.
func (c *Client) MarkMessageAsRead(ctx context.Context, conversationID, messageID string) error {
	c.store.MarkMessageRead(conversationID, messageID)
	if err := c.conn.Invoke(ctx, "MarkMessageAsRead", map[string]string{"messageId": messageID}); err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	return nil
}

// Typing is called on every keystroke. The first call in an idle period
// emits StartTyping; StopTyping fires only after the idle window passes
// with no further calls, and each call restarts that window.
func (c *Client) Typing(ctx context.Context, conversationID string) {
	c.mu.Lock()
	active := c.typingActive[conversationID]
	c.typingActive[conversationID] = true
	if t, ok := c.typingTimers[conversationID]; ok {
		t.Stop()
	}
	c.typingTimers[conversationID] = time.AfterFunc(c.typingIdle, func() {
		c.typingIdleElapsed(conversationID)
	})
	c.mu.Unlock()

	if !active {
		if err := c.conn.Invoke(ctx, "StartTyping", map[string]string{"conversationId": conversationID}); err != nil {
			c.logger.Debug("start typing failed", "conversation", conversationID, "error", err)
		}
	}
}

// StopTyping emits the stop signal immediately, canceling the idle timer.
func (c *Client) StopTyping(ctx context.Context, conversationID string) {
	if !c.stopTypingTimer(conversationID) {
		return
	}
	if err := c.conn.Invoke(ctx, "StopTyping", map[string]string{"conversationId": conversationID}); err != nil {
		c.logger.Debug("stop typing failed", "conversation", conversationID, "error", err)
	}
}

func (c *Client) typingIdleElapsed(conversationID string) {
	c.mu.Lock()
	if !c.typingActive[conversationID] {
		c.mu.Unlock()
		return
	}
	delete(c.typingActive, conversationID)
	delete(c.typingTimers, conversationID)
	c.mu.Unlock()

	if err := c.conn.Invoke(context.Background(), "StopTyping", map[string]string{"conversationId": conversationID}); err != nil {
		c.logger.Debug("stop typing failed", "conversation", conversationID, "error", err)
	}
}

// stopTypingTimer cancels the debounce, reporting whether typing was active.
func (c *Client) stopTypingTimer(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.typingActive[conversationID]
	delete(c.typingActive, conversationID)
	if t, ok := c.typingTimers[conversationID]; ok {
		t.Stop()
		delete(c.typingTimers, conversationID)
	}
	return active
}

// CurrentConversation returns the joined conversation id, empty if none.
func (c *Client) CurrentConversation() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// TypingUsers returns userID -> conversationID for users typing right now.
func (c *Client) TypingUsers() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.typingUsers))
	for u, conv := range c.typingUsers {
		out[u] = conv
	}
	return out
}

// OnlineUsers returns the set of users currently online.
func (c *Client) OnlineUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.onlineUsers))
	for u, on := range c.onlineUsers {
		if on {
			out = append(out, u)
		}
	}
	return out
}

func (c *Client) setTyping(userID, conversationID string) {
	if userID == c.selfID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typingUsers[userID] = conversationID
}

func (c *Client) clearTyping(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.typingUsers, userID)
}

func (c *Client) setOnline(userID string, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if online {
		c.onlineUsers[userID] = true
	} else {
		delete(c.onlineUsers, userID)
	}
}

func (c *Client) sendViaRest(ctx context.Context, msg *protocol.MessagePayload) error {
	if c.restBase == "" {
		return connection.ErrNotConnected
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.restBase+sendFallbackPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.restToken != "" {
		req.Header.Set("RequestVerificationToken", c.restToken)
	}

	resp, err := c.rest.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	env, err := response.Decode(raw)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		return fmt.Errorf("rest send rejected: status %d: %s", resp.StatusCode, env.Message)
	}
	return nil
}
