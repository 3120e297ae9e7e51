package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/communitycar/realtime/internal/app"
	"github.com/communitycar/realtime/internal/config"
	"github.com/communitycar/realtime/internal/render"
)

func main() {
	root := &cli.Command{
		Name:  "communitycar",
		Usage: "CommunityCar real-time client",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
				Value: false,
			},
		},
		Commands: []*cli.Command{
			chatCommand(),
			notificationsCommand(),
			broadcastCommand(),
			errorsCommand(),
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newApp(c *cli.Command) (*app.App, error) {
	logger := setupLogger(c.Bool("debug"))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return app.New(cfg, logger)
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Join a conversation and watch it live",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "conversation",
				Usage:    "Conversation id to join",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "send",
				Usage: "Send one message and exit",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			defer a.Stop()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.Start(ctx); err != nil {
				return err
			}

			conversationID := c.String("conversation")
			if err := a.Chat.JoinConversation(ctx, conversationID); err != nil {
				return err
			}

			if content := c.String("send"); content != "" {
				if _, err := a.Chat.SendMessage(ctx, conversationID, content); err != nil {
					return err
				}
				fmt.Println("sent")
				return nil
			}

			watch(ctx, func() {
				fmt.Println(render.StatusLine(a.ChatConn.Status()))
				fmt.Println(render.ConversationList(a.ChatStore.Conversations(), conversationID))
				fmt.Println(render.Messages(a.ChatStore.Conversation(conversationID), a.Identity.UserID))
				if line := render.TypingIndicators(a.Chat.TypingUsers(), conversationID); line != "" {
					fmt.Println(line)
				}
			})
			return nil
		},
	}
}

func notificationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "notifications",
		Usage: "Watch the notification feed",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "mark-all",
				Usage: "Mark everything read and exit",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			defer a.Stop()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.Start(ctx); err != nil {
				return err
			}

			if c.Bool("mark-all") {
				return a.Notify.MarkAllNotificationsAsRead(ctx)
			}

			watch(ctx, func() {
				fmt.Println(render.StatusLine(a.NotifyConn.Status()))
				if toasts := render.Toasts(a.Notify.Toasts()); toasts != "" {
					fmt.Println(toasts)
				}
				fmt.Println(render.Notifications(a.NotifyStore.Notifications(0), a.NotifyStore.UnreadCount()))
			})
			return nil
		},
	}
}

func broadcastCommand() *cli.Command {
	return &cli.Command{
		Name:  "broadcast",
		Usage: "Follow group broadcasts and post updates",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "group",
				Usage: "Group id(s) to join. Can be used multiple times",
			},
			&cli.StringSliceFlag{
				Name:  "post-type",
				Usage: "Post type(s) to subscribe to",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			defer a.Stop()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.Start(ctx); err != nil {
				return err
			}

			groups := c.StringSlice("group")
			for _, g := range groups {
				if err := a.Broadcast.JoinGroupBroadcast(ctx, g); err != nil {
					return err
				}
			}
			if types := c.StringSlice("post-type"); len(types) > 0 {
				if err := a.Broadcast.SubscribeToPostUpdates(ctx, types, groups); err != nil {
					return err
				}
			}

			watch(ctx, func() {
				fmt.Println(render.StatusLine(a.BroadcastConn.Status()))
				for _, p := range a.BroadcastStore.AccessiblePosts() {
					fmt.Printf("  [%s] %s (%d interactions)\n", p.GroupID, p.Title, a.BroadcastStore.Interactions(p.ID))
				}
			})
			return nil
		},
	}
}

func errorsCommand() *cli.Command {
	return &cli.Command{
		Name:  "errors",
		Usage: "Show boundary health and the pending report queue",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "flush",
				Usage: "Try to deliver queued error reports now",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}
			defer a.Stop()

			if c.Bool("flush") {
				n := a.Reporter.Flush(ctx)
				fmt.Printf("delivered %d queued reports\n", n)
			}

			pending, err := a.History.PendingCount()
			if err != nil {
				return err
			}
			fmt.Printf("pending error reports: %d\n", pending)
			for name, count := range a.Recovery.Stats() {
				fmt.Printf("  %s: %d errors\n", name, count)
			}
			for _, name := range []string{"chat", "notifications", "broadcast"} {
				if b := a.Recovery.Boundary(name); b != nil {
					if card := render.FallbackCard(name, b.State()); card != "" {
						fmt.Println(card)
					}
				}
			}
			return nil
		},
	}
}

// watch re-renders on an interval until the context is canceled. The
// refresh must tolerate concurrent store mutation by the dispatchers, so
// it only reads snapshots.
func watch(ctx context.Context, redraw func()) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	redraw()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			redraw()
		}
	}
}
