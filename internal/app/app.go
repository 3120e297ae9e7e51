package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/communitycar/realtime/internal/auth"
	"github.com/communitycar/realtime/internal/backoff"
	"github.com/communitycar/realtime/internal/broadcast"
	"github.com/communitycar/realtime/internal/chat"
	"github.com/communitycar/realtime/internal/config"
	"github.com/communitycar/realtime/internal/connection"
	"github.com/communitycar/realtime/internal/dispatch"
	"github.com/communitycar/realtime/internal/history"
	"github.com/communitycar/realtime/internal/notify"
	"github.com/communitycar/realtime/internal/recovery"
	"github.com/communitycar/realtime/internal/report"
	"github.com/communitycar/realtime/internal/store"
)

// Hub paths on the push backend.
const (
	chatHubPath      = "/hubs/chat"
	notifyHubPath    = "/hubs/notifications"
	broadcastHubPath = "/hubs/broadcast"
)

// App is the composition root: one instance owns the stores, the three
// feature connections, persistence, reporting and the recovery manager.
// Everything receives its dependencies here; nothing reaches for globals.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Identity *auth.Identity

	History  *history.Store
	Reporter *report.Reporter
	Recovery *recovery.Manager

	ChatStore      *store.ChatStore
	NotifyStore    *store.NotificationStore
	BroadcastStore *store.BroadcastStore
	Chat           *chat.Client
	Notify         *notify.Client
	Broadcast      *broadcast.Client
	ChatConn       *connection.Manager
	NotifyConn     *connection.Manager
	BroadcastConn  *connection.Manager
}

// New wires the full client from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	identity := &auth.Identity{UserID: "anonymous"}
	if cfg.Server.Token != "" {
		id, err := auth.FromToken(cfg.Server.Token)
		if err != nil {
			return nil, fmt.Errorf("parsing access token: %w", err)
		}
		if id.Expired(time.Now()) {
			logger.Warn("access token is expired", "user", id.UserID)
		}
		identity = id
	}

	hist, err := history.New(cfg.History.Path, cfg.History.MaxConversations, cfg.History.MaxPendingErrors)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	reporter := report.NewReporter(cfg.Server.BaseURL, cfg.Server.Token, hist, logger)

	recoveryPolicy := backoff.Policy{
		Base:        cfg.Recovery.BaseDelay,
		Multiplier:  2,
		Max:         cfg.Recovery.MaxDelay,
		MaxAttempts: cfg.Recovery.MaxAttempts,
	}
	recoveryMgr := recovery.NewManager(reporter, recoveryPolicy, logger)

	reconnectPolicy := backoff.Policy{
		Base:        cfg.Reconnect.BaseDelay,
		Multiplier:  2,
		Max:         cfg.Reconnect.MaxDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}

	a := &App{
		Config:         cfg,
		Logger:         logger,
		Identity:       identity,
		History:        hist,
		Reporter:       reporter,
		Recovery:       recoveryMgr,
		ChatStore:      store.NewChatStore(identity.UserID),
		NotifyStore:    store.NewNotificationStore(),
		BroadcastStore: store.NewBroadcastStore(),
	}

	// Persist every chat mutation; restore the previous session first so
	// loading does not re-persist what was just read.
	if err := a.restoreConversations(); err != nil {
		logger.Warn("restoring conversations failed", "error", err)
	}
	a.ChatStore.OnPersist(func(id string, snapshot []byte, updatedAt time.Time) {
		if err := hist.SaveConversation(id, snapshot, updatedAt); err != nil {
			logger.Warn("persisting conversation failed", "conversation", id, "error", err)
		}
	})

	a.Chat = chat.New(a.ChatStore, identity.UserID, cfg.Server.BaseURL, cfg.Server.Token, cfg.Chat.TypingIdle, logger)
	a.Notify = notify.New(a.NotifyStore, logger)
	a.Broadcast = broadcast.New(a.BroadcastStore, logger)

	base := cfg.Server.BaseURL
	token := cfg.Server.Token
	a.ChatConn = connection.NewManager("chat", wsURL(base, chatHubPath), token, reconnectPolicy,
		dispatch.New(a.Chat.Handlers(), logger), logger)
	a.NotifyConn = connection.NewManager("notifications", wsURL(base, notifyHubPath), token, reconnectPolicy,
		dispatch.New(a.Notify.Handlers(), logger), logger)
	a.BroadcastConn = connection.NewManager("broadcast", wsURL(base, broadcastHubPath), token, reconnectPolicy,
		dispatch.New(a.Broadcast.Handlers(), logger), logger)
	for _, conn := range []*connection.Manager{a.ChatConn, a.NotifyConn, a.BroadcastConn} {
		conn.SetTimeouts(cfg.Server.WriteTimeout, cfg.Server.PongTimeout)
	}

	a.Chat.Attach(a.ChatConn)
	a.Notify.Attach(a.NotifyConn)
	a.Broadcast.Attach(a.BroadcastConn)

	a.registerBoundaries()
	return a, nil
}

// Start connects the three feature channels and flushes any queued error
// reports from earlier sessions.
func (a *App) Start(ctx context.Context) error {
	if err := a.ChatConn.Connect(ctx); err != nil {
		a.Recovery.Capture("chat", err)
	}
	if err := a.NotifyConn.Connect(ctx); err != nil {
		a.Recovery.Capture("notifications", err)
	}
	if err := a.Broadcast.Start(ctx); err != nil {
		a.Recovery.Capture("broadcast", err)
	}
	if n := a.Reporter.Flush(ctx); n > 0 {
		a.Logger.Info("flushed queued error reports", "count", n)
	}
	return nil
}

// Stop tears everything down in order.
func (a *App) Stop() {
	a.ChatConn.Disconnect()
	a.NotifyConn.Disconnect()
	a.BroadcastConn.Disconnect()
	if err := a.History.Close(); err != nil {
		a.Logger.Warn("closing history store failed", "error", err)
	}
}

func (a *App) restoreConversations() error {
	snapshots, err := a.History.Conversations()
	if err != nil {
		return err
	}
	for _, snap := range snapshots {
		if err := a.ChatStore.Restore(snap.Data); err != nil {
			a.Logger.Warn("skipping corrupt conversation snapshot", "conversation", snap.ID, "error", err)
		}
	}
	return nil
}

func (a *App) registerBoundaries() {
	a.Recovery.Register("chat",
		func(ctx context.Context) error { return a.ChatConn.Retry(ctx) },
		func() { a.Logger.Error("chat is unavailable until manual retry") })
	a.Recovery.Register("notifications",
		func(ctx context.Context) error { return a.NotifyConn.Retry(ctx) },
		func() { a.Logger.Error("notifications are unavailable until manual retry") })
	a.Recovery.Register("broadcast",
		func(ctx context.Context) error {
			if err := a.BroadcastConn.Retry(ctx); err != nil {
				return err
			}
			return a.Broadcast.GetUserGroupAccess(ctx)
		},
		func() { a.Logger.Error("broadcast is unavailable until manual retry") })
}

// wsURL converts the HTTP base URL into the websocket endpoint for a hub.
func wsURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + path
}
