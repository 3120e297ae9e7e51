package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/communitycar/realtime/internal/connection"
	"github.com/communitycar/realtime/internal/notify"
	"github.com/communitycar/realtime/internal/recovery"
	"github.com/communitycar/realtime/internal/store"
)

// maxNotificationsShown truncates the notification list for display.
const maxNotificationsShown = 20

var (
	statusOKStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	statusWarnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	statusErrStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	unreadStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("203"))

	toastStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)

	fallbackStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(1).
			Margin(1, 0)
)

// StatusLine renders the connection indicator: text and severity styling
// per connection state.
func StatusLine(s connection.Status) string {
	switch s {
	case connection.StatusConnected:
		return statusOKStyle.Render("● Connected")
	case connection.StatusConnecting:
		return statusWarnStyle.Render("● Connecting...")
	case connection.StatusReconnecting:
		return statusWarnStyle.Render("● Reconnecting...")
	case connection.StatusFailed:
		return statusErrStyle.Render("● Connection Failed")
	default:
		return statusErrStyle.Render("● Disconnected")
	}
}

// Messages renders a conversation transcript. Nodes are keyed by message
// id: a message already rendered keeps its position, so replays and
// re-renders are idempotent.
func Messages(conv *store.Conversation, selfID string) string {
	if conv == nil || len(conv.Messages) == 0 {
		return metaStyle.Render("no messages yet")
	}

	var b strings.Builder
	seen := make(map[string]bool, len(conv.Messages))
	for _, m := range conv.Messages {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true

		who := m.SenderID
		if m.SenderID == selfID {
			who = "you"
		}
		line := fmt.Sprintf("%s %s", titleStyle.Render(who+":"), m.Content)
		if m.Status == store.StatusRead {
			line += metaStyle.Render(" ✓✓")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// TypingIndicators renders at most one indicator per user, sorted for
// stable output. A stop event simply removes the user from the input map.
func TypingIndicators(typing map[string]string, conversationID string) string {
	users := make([]string, 0, len(typing))
	for user, conv := range typing {
		if conversationID == "" || conv == conversationID {
			users = append(users, user)
		}
	}
	if len(users) == 0 {
		return ""
	}
	sort.Strings(users)
	if len(users) == 1 {
		return metaStyle.Render(users[0] + " is typing...")
	}
	return metaStyle.Render(strings.Join(users, ", ") + " are typing...")
}

// ConversationList renders the sidebar, most recently active first.
func ConversationList(convs []*store.Conversation, currentID string) string {
	if len(convs) == 0 {
		return metaStyle.Render("no conversations")
	}

	var b strings.Builder
	for _, conv := range convs {
		title := conv.Title
		if title == "" {
			title = conv.ID
		}
		marker := "  "
		if conv.ID == currentID {
			marker = "> "
		}
		line := marker + title
		if conv.Unread > 0 {
			line += " " + unreadStyle.Render(fmt.Sprintf("(%d)", conv.Unread))
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Notifications renders the feed, newest first, truncated for display.
func Notifications(list []store.Notification, unread int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Notifications (%d unread)", unread)))
	b.WriteByte('\n')

	if len(list) == 0 {
		b.WriteString(metaStyle.Render("nothing here"))
		return b.String()
	}

	shown := list
	if len(shown) > maxNotificationsShown {
		shown = shown[:maxNotificationsShown]
	}
	for _, n := range shown {
		line := "  " + n.Title
		if !n.IsRead {
			line = unreadStyle.Render("• ") + n.Title
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if len(list) > maxNotificationsShown {
		b.WriteString(metaStyle.Render(fmt.Sprintf("  ... and %d more", len(list)-maxNotificationsShown)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Toasts renders the transient toast stack.
func Toasts(toasts []notify.Toast) string {
	if len(toasts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(toasts))
	for _, t := range toasts {
		body := titleStyle.Render(t.Title)
		if t.Message != "" {
			body += "\n" + t.Message
		}
		parts = append(parts, toastStyle.Render(body))
	}
	return strings.Join(parts, "\n")
}

// FallbackCard renders the terminal-failure card for a boundary, with the
// manual retry hint.
func FallbackCard(boundary string, state recovery.State) string {
	switch state {
	case recovery.StateRecovering:
		return fallbackStyle.Render(fmt.Sprintf("%s hit a problem.\nRecovering...", boundary))
	case recovery.StateFailed:
		return fallbackStyle.Render(fmt.Sprintf("%s is unavailable.\nRun 'retry %s' to try again.", boundary, boundary))
	default:
		return ""
	}
}
