package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire format for server-pushed events.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Command is the wire format for client-to-server invocations.
type Command struct {
	ID      string `json:"id"`
	Method  string `json:"method"`
	Payload any    `json:"payload,omitempty"`
}

// NewCommand builds a command with a generated id.
func NewCommand(method string, payload any) *Command {
	return &Command{
		ID:      uuid.New().String(),
		Method:  method,
		Payload: payload,
	}
}

// Event is a decoded server event: a kind plus its typed payload. Payload
// holds the concrete struct for the kind (e.g. *MessagePayload for
// KindReceiveMessage) and is nil only for payload-less kinds.
type Event struct {
	ID      string
	Kind    Kind
	Name    string
	Time    time.Time
	Payload any
	Raw     json.RawMessage
}

// Decode parses a raw frame into a typed event. Payloads are validated at
// this boundary so handlers never see loosely typed data. Unknown event
// names decode successfully into KindUnknown with the raw payload retained.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decoding envelope: %w", err)
	}

	ev := Event{
		ID:   env.ID,
		Kind: KindForName(env.Type),
		Name: env.Type,
		Raw:  env.Payload,
	}
	if env.Timestamp > 0 {
		ev.Time = time.Unix(env.Timestamp, 0)
	} else {
		ev.Time = time.Now()
	}

	payload, err := decodePayload(ev.Kind, env.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("decoding %s payload: %w", env.Type, err)
	}
	ev.Payload = payload
	return ev, nil
}

func decodePayload(kind Kind, raw json.RawMessage) (any, error) {
	unmarshal := func(v any) (any, error) {
		if len(raw) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}

	switch kind {
	case KindReceiveMessage:
		return unmarshal(&MessagePayload{})
	case KindMessageMarkedAsRead:
		return unmarshal(&MessageReadPayload{})
	case KindUserTyping, KindUserStoppedTyping:
		return unmarshal(&TypingPayload{})
	case KindUserOnline, KindUserOffline:
		return unmarshal(&PresencePayload{})
	case KindReceiveNotification:
		return unmarshal(&NotificationPayload{})
	case KindNotificationMarkedAsRead:
		return unmarshal(&NotificationReadPayload{})
	case KindAllNotificationsMarkedAsRead:
		return nil, nil
	case KindPostAccessGranted, KindPostAccessDenied, KindPostAccessRequested, KindPostAccessError:
		return unmarshal(&AccessPayload{})
	case KindGroupPostsUpdate, KindAccessiblePostsUpdate:
		return unmarshal(&PostsPayload{})
	case KindNewPostBroadcast:
		return unmarshal(&PostSummary{})
	case KindPostInteractionBroadcast:
		return unmarshal(&InteractionPayload{})
	case KindNewMemberJoined:
		return unmarshal(&MemberPayload{})
	case KindJoinRequestApproved, KindJoinRequestDenied, KindNewJoinRequest:
		return unmarshal(&JoinRequestPayload{})
	case KindUserGroupAccessUpdate:
		return unmarshal(&GroupAccessPayload{})
	case KindAccessDenied:
		return unmarshal(&DeniedPayload{})
	default:
		// Forward compatible: keep the raw payload, dispatch nowhere.
		return nil, nil
	}
}
