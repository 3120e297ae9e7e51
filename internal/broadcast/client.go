package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"log/slog"

	"github.com/communitycar/realtime/internal/dispatch"
	"github.com/communitycar/realtime/internal/protocol"
	"github.com/communitycar/realtime/internal/store"
)

const (
	groupChannelPrefix = "group:"
	postUpdatesChannel = "post-updates"
)

// Conn is the slice of the connection manager the broadcast client needs.
type Conn interface {
	Connect(ctx context.Context) error
	Invoke(ctx context.Context, method string, payload any) error
	Track(channel string)
	Untrack(channel string)
	OnRejoin(fn func(ctx context.Context, channel string) error)
}

// Client drives the group broadcast feature: access requests, group
// channels, post update subscriptions and the join-request lifecycle.
// Group subscriptions and the post-updates subscription are tracked on the
// connection manager so they are restored automatically after reconnects.
type Client struct {
	store  *store.BroadcastStore
	logger *slog.Logger
	conn   Conn

	mu         sync.Mutex
	postTypes  []string
	postGroups []string
}

func New(st *store.BroadcastStore, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{store: st, logger: logger}
}

// Handlers returns the dispatcher table for broadcast events. Legacy event
// names are normalized to the same kinds upstream, so each entry here
// covers both spellings.
func (c *Client) Handlers() dispatch.Table {
	return dispatch.Table{
		protocol.KindPostAccessGranted: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.AccessPayload)
			c.store.GrantAccess(p.GroupID, p.Level)
		}},
		protocol.KindPostAccessDenied: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.AccessPayload)
			c.store.DenyAccess(p.GroupID, p.Reason)
		}},
		protocol.KindPostAccessRequested: {func(ev protocol.Event) {
			c.store.MarkPending(ev.Payload.(*protocol.AccessPayload).GroupID)
		}},
		protocol.KindPostAccessError: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.AccessPayload)
			c.logger.Warn("post access error", "group", p.GroupID, "error", p.Error)
			c.store.DenyAccess(p.GroupID, p.Error)
		}},
		protocol.KindGroupPostsUpdate: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.PostsPayload)
			c.store.SetGroupPosts(p.GroupID, p.Posts)
		}},
		protocol.KindAccessiblePostsUpdate: {func(ev protocol.Event) {
			c.store.SetAccessiblePosts(ev.Payload.(*protocol.PostsPayload).Posts)
		}},
		protocol.KindNewPostBroadcast: {func(ev protocol.Event) {
			c.store.AddPost(*ev.Payload.(*protocol.PostSummary))
		}},
		protocol.KindPostInteractionBroadcast: {func(ev protocol.Event) {
			c.store.RecordInteraction(ev.Payload.(*protocol.InteractionPayload))
		}},
		protocol.KindNewMemberJoined: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.MemberPayload)
			c.logger.Info("new group member", "group", p.GroupID, "user", p.UserID)
		}},
		protocol.KindNewJoinRequest: {func(ev protocol.Event) {
			c.store.AddJoinRequest(ev.Payload.(*protocol.JoinRequestPayload))
		}},
		protocol.KindJoinRequestApproved: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.JoinRequestPayload)
			c.store.ResolveJoinRequest(p.GroupID, p.UserID, true, p.Reason)
		}},
		protocol.KindJoinRequestDenied: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.JoinRequestPayload)
			c.store.ResolveJoinRequest(p.GroupID, p.UserID, false, p.Reason)
		}},
		protocol.KindUserGroupAccessUpdate: {func(ev protocol.Event) {
			c.store.ReplaceAccess(ev.Payload.(*protocol.GroupAccessPayload).Groups)
		}},
		protocol.KindAccessDenied: {func(ev protocol.Event) {
			p := ev.Payload.(*protocol.DeniedPayload)
			c.logger.Warn("access denied", "message", p.Message)
			c.store.DenyAccess("", p.Message)
		}},
	}
}

// Attach binds the connection manager and installs the rejoin hook that
// restores group channels and the post-updates subscription.
func (c *Client) Attach(conn Conn) {
	c.conn = conn
	conn.OnRejoin(func(ctx context.Context, channel string) error {
		if channel == postUpdatesChannel {
			c.mu.Lock()
			types := append([]string(nil), c.postTypes...)
			groups := append([]string(nil), c.postGroups...)
			c.mu.Unlock()
			return conn.Invoke(ctx, "SubscribeToPostUpdates", map[string]any{
				"types":    types,
				"groupIds": groups,
			})
		}
		if groupID, ok := strings.CutPrefix(channel, groupChannelPrefix); ok {
			return conn.Invoke(ctx, "JoinGroupBroadcast", map[string]string{"groupId": groupID})
		}
		return nil
	})
}

// Start connects and pulls the user's group access state, as the client
// does on page load.
func (c *Client) Start(ctx context.Context) error {
	if err := c.conn.Connect(ctx); err != nil {
		return err
	}
	return c.GetUserGroupAccess(ctx)
}

// AccessPosts requests the given access level for a group's posts.
func (c *Client) AccessPosts(ctx context.Context, groupID, level string) error {
	if err := c.conn.Invoke(ctx, "AccessPosts", map[string]string{"groupId": groupID, "level": level}); err != nil {
		return fmt.Errorf("requesting post access for group %s: %w", groupID, err)
	}
	c.store.MarkPending(groupID)
	return nil
}

// JoinGroupBroadcast joins a group's broadcast channel; tracked for replay.
func (c *Client) JoinGroupBroadcast(ctx context.Context, groupID string) error {
	if err := c.conn.Invoke(ctx, "JoinGroupBroadcast", map[string]string{"groupId": groupID}); err != nil {
		return fmt.Errorf("joining group broadcast %s: %w", groupID, err)
	}
	c.conn.Track(groupChannelPrefix + groupID)
	return nil
}

// LeaveGroupBroadcast leaves a group's broadcast channel.
func (c *Client) LeaveGroupBroadcast(ctx context.Context, groupID string) error {
	c.conn.Untrack(groupChannelPrefix + groupID)
	if err := c.conn.Invoke(ctx, "LeaveGroupBroadcast", map[string]string{"groupId": groupID}); err != nil {
		return fmt.Errorf("leaving group broadcast %s: %w", groupID, err)
	}
	return nil
}

// GetAccessiblePosts asks for the cross-group accessible feed; the result
// arrives as an AccessiblePostsUpdate event.
func (c *Client) GetAccessiblePosts(ctx context.Context, page int) error {
	if err := c.conn.Invoke(ctx, "GetAccessiblePosts", map[string]int{"page": page}); err != nil {
		return fmt.Errorf("fetching accessible posts: %w", err)
	}
	return nil
}

// SubscribeToPostUpdates subscribes to post updates for given types and
// groups. The subscription state is kept for reconnect replay.
func (c *Client) SubscribeToPostUpdates(ctx context.Context, types, groupIDs []string) error {
	if err := c.conn.Invoke(ctx, "SubscribeToPostUpdates", map[string]any{
		"types":    types,
		"groupIds": groupIDs,
	}); err != nil {
		return fmt.Errorf("subscribing to post updates: %w", err)
	}
	c.mu.Lock()
	c.postTypes = append([]string(nil), types...)
	c.postGroups = append([]string(nil), groupIDs...)
	c.mu.Unlock()
	c.conn.Track(postUpdatesChannel)
	return nil
}

// UnsubscribeFromPostUpdates drops the post-updates subscription.
func (c *Client) UnsubscribeFromPostUpdates(ctx context.Context) error {
	c.conn.Untrack(postUpdatesChannel)
	c.mu.Lock()
	c.postTypes = nil
	c.postGroups = nil
	c.mu.Unlock()
	if err := c.conn.Invoke(ctx, "UnsubscribeFromPostUpdates", nil); err != nil {
		return fmt.Errorf("unsubscribing from post updates: %w", err)
	}
	return nil
}

// ProcessJoinRequest approves or denies a pending join request.
func (c *Client) ProcessJoinRequest(ctx context.Context, groupID, userID string, approve bool, reason string) error {
	if err := c.conn.Invoke(ctx, "ProcessJoinRequest", map[string]any{
		"groupId": groupID,
		"userId":  userID,
		"approve": approve,
		"reason":  reason,
	}); err != nil {
		return fmt.Errorf("processing join request: %w", err)
	}
	c.store.ResolveJoinRequest(groupID, userID, approve, reason)
	return nil
}

// GetUserGroupAccess asks the server for the user's full access listing;
// the result arrives as a UserGroupAccessUpdate event.
func (c *Client) GetUserGroupAccess(ctx context.Context) error {
	if err := c.conn.Invoke(ctx, "GetUserGroupAccess", nil); err != nil {
		return fmt.Errorf("fetching group access: %w", err)
	}
	return nil
}
