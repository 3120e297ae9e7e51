package protocol

import "time"

// MessagePayload carries a chat message pushed by the server.
type MessagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessageReadPayload marks a single message as read.
type MessageReadPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
}

// TypingPayload carries typing start/stop indicators.
type TypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// PresencePayload carries online/offline transitions.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// NotificationPayload is a notification pushed into the feed.
type NotificationPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ActionURL string    `json:"actionUrl,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationReadPayload marks a single notification as read.
type NotificationReadPayload struct {
	NotificationID string `json:"notificationId"`
}

// AccessPayload covers the access granted/denied/requested/error family.
// The server fills the field relevant to the outcome; the rest stay empty.
type AccessPayload struct {
	GroupID string `json:"groupId"`
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PostSummary is one post inside a posts-update payload.
type PostSummary struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"groupId"`
	AuthorID  string    `json:"authorId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// PostsPayload carries group or accessible post listings.
type PostsPayload struct {
	GroupID    string        `json:"groupId,omitempty"`
	Posts      []PostSummary `json:"posts"`
	Page       int           `json:"page,omitempty"`
	TotalCount int           `json:"totalCount,omitempty"`
}

// InteractionPayload carries a reaction/comment broadcast on a post.
type InteractionPayload struct {
	PostID  string `json:"postId"`
	GroupID string `json:"groupId"`
	Kind    string `json:"kind"`
	UserID  string `json:"userId"`
}

// MemberPayload announces a new group member.
type MemberPayload struct {
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// JoinRequestPayload covers the join-request lifecycle events.
type JoinRequestPayload struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// GroupAccess is one entry of a user's group access listing.
type GroupAccess struct {
	GroupID string `json:"groupId"`
	Level   string `json:"level"`
}

// GroupAccessPayload carries the user's full group access state.
type GroupAccessPayload struct {
	Groups []GroupAccess `json:"groups"`
}

// DeniedPayload carries a bare access-denied message.
type DeniedPayload struct {
	Message string `json:"message"`
}
