package protocol

// Kind identifies a server-pushed event using a closed enum so dispatch can
// be checked exhaustively instead of through runtime string lookups.
type Kind int

const (
	KindUnknown Kind = iota

	// Chat events
	KindReceiveMessage
	KindMessageMarkedAsRead
	KindUserTyping
	KindUserStoppedTyping
	KindUserOnline
	KindUserOffline

	// Notification events
	KindReceiveNotification
	KindNotificationMarkedAsRead
	KindAllNotificationsMarkedAsRead

	// Broadcast events
	KindPostAccessGranted
	KindPostAccessDenied
	KindPostAccessRequested
	KindPostAccessError
	KindGroupPostsUpdate
	KindAccessiblePostsUpdate
	KindNewPostBroadcast
	KindPostInteractionBroadcast
	KindNewMemberJoined
	KindJoinRequestApproved
	KindJoinRequestDenied
	KindNewJoinRequest
	KindUserGroupAccessUpdate
	KindAccessDenied
)

var kindNames = map[Kind]string{
	KindUnknown:                      "Unknown",
	KindReceiveMessage:               "ReceiveMessage",
	KindMessageMarkedAsRead:          "MessageMarkedAsRead",
	KindUserTyping:                   "UserTyping",
	KindUserStoppedTyping:            "UserStoppedTyping",
	KindUserOnline:                   "UserOnline",
	KindUserOffline:                  "UserOffline",
	KindReceiveNotification:          "ReceiveNotification",
	KindNotificationMarkedAsRead:     "NotificationMarkedAsRead",
	KindAllNotificationsMarkedAsRead: "AllNotificationsMarkedAsRead",
	KindPostAccessGranted:            "PostAccessGranted",
	KindPostAccessDenied:             "PostAccessDenied",
	KindPostAccessRequested:          "PostAccessRequested",
	KindPostAccessError:              "PostAccessError",
	KindGroupPostsUpdate:             "GroupPostsUpdate",
	KindAccessiblePostsUpdate:        "AccessiblePostsUpdate",
	KindNewPostBroadcast:             "NewPostBroadcast",
	KindPostInteractionBroadcast:     "PostInteractionBroadcast",
	KindNewMemberJoined:              "NewMemberJoined",
	KindJoinRequestApproved:          "JoinRequestApproved",
	KindJoinRequestDenied:            "JoinRequestDenied",
	KindNewJoinRequest:               "NewJoinRequest",
	KindUserGroupAccessUpdate:        "UserGroupAccessUpdate",
	KindAccessDenied:                 "AccessDenied",
}

// kindsByName maps wire event names to kinds. The Group* entries are the
// legacy broadcast names still emitted by older backends; they normalize to
// the same kind as their current counterpart, so both names are guaranteed
// to reach the same handlers.
var kindsByName = map[string]Kind{
	"ReceiveMessage":               KindReceiveMessage,
	"MessageMarkedAsRead":          KindMessageMarkedAsRead,
	"UserTyping":                   KindUserTyping,
	"UserStoppedTyping":            KindUserStoppedTyping,
	"UserOnline":                   KindUserOnline,
	"UserOffline":                  KindUserOffline,
	"ReceiveNotification":          KindReceiveNotification,
	"NotificationMarkedAsRead":     KindNotificationMarkedAsRead,
	"AllNotificationsMarkedAsRead": KindAllNotificationsMarkedAsRead,
	"PostAccessGranted":            KindPostAccessGranted,
	"PostAccessDenied":             KindPostAccessDenied,
	"PostAccessRequested":          KindPostAccessRequested,
	"PostAccessError":              KindPostAccessError,
	"GroupPostAccessGranted":       KindPostAccessGranted,
	"GroupPostAccessDenied":        KindPostAccessDenied,
	"GroupPostAccessRequested":     KindPostAccessRequested,
	"GroupPostAccessError":         KindPostAccessError,
	"GroupPostsUpdate":             KindGroupPostsUpdate,
	"AccessiblePostsUpdate":        KindAccessiblePostsUpdate,
	"NewPostBroadcast":             KindNewPostBroadcast,
	"PostInteractionBroadcast":     KindPostInteractionBroadcast,
	"NewMemberJoined":              KindNewMemberJoined,
	"JoinRequestApproved":          KindJoinRequestApproved,
	"JoinRequestDenied":            KindJoinRequestDenied,
	"NewJoinRequest":               KindNewJoinRequest,
	"UserGroupAccessUpdate":        KindUserGroupAccessUpdate,
	"AccessDenied":                 KindAccessDenied,
}

// KindForName resolves a wire event name to its kind. Unknown names resolve
// to KindUnknown; the dispatcher treats those as a no-op so the server may
// ship event kinds this client does not understand yet.
func KindForName(name string) Kind {
	return kindsByName[name]
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// IsValid reports whether k is a known, dispatchable kind.
func (k Kind) IsValid() bool {
	_, ok := kindNames[k]
	return ok && k != KindUnknown
}
