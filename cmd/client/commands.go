package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go-chatsync/internal/auth"
	"go-chatsync/internal/client"
	"go-chatsync/internal/message"
	"go-chatsync/internal/metrics"
	"go-chatsync/internal/serverstate"
	"go-chatsync/pkg/chat"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

var metricsFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Usage: "Serve sync metrics on this address, e.g. :9100",
}

var loginCommand = &cli.Command{
	Name:   "login",
	Usage:  "Log in and store the token pair",
	Before: prepareApp,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
		&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Read from stdin when omitted"},
	},
	Action: func(c *cli.Context) error {
		e := getEnv(c)
		password := c.String("password")
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return errors.Wrap(err, "read password")
			}
			password = strings.TrimRight(line, "\r\n")
		}

		pair, err := e.api.Login(c.Context, c.String("username"), password)
		if err != nil {
			return err
		}
		if err := e.store.SetTokens(pair.AccessToken, pair.RefreshToken); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s\n", c.String("username"))
		return nil
	},
}

var logoutCommand = &cli.Command{
	Name:   "logout",
	Usage:  "Forget the stored token pair",
	Before: prepareApp,
	Action: func(c *cli.Context) error {
		return getEnv(c).store.Clear()
	},
}

var whoamiCommand = &cli.Command{
	Name:   "whoami",
	Usage:  "Show the user of the stored access token",
	Before: requiresAuth,
	Action: func(c *cli.Context) error {
		claims, err := auth.ParseClaims(getEnv(c).store.AccessToken())
		if err != nil {
			return err
		}
		expires := "never"
		if claims.ExpiresAt != nil {
			expires = claims.ExpiresAt.Local().Format(time.RFC1123)
		}
		fmt.Printf("%s (%s), access token expires %s\n", claims.Username, claims.UserID(), expires)
		return nil
	},
}

var tailCommand = &cli.Command{
	Name:      "tail",
	Usage:     "Print a channel's history and follow new messages",
	ArgsUsage: "<channel-id>",
	Before:    requiresAuth,
	Flags:     []cli.Flag{metricsFlag},
	Action: func(c *cli.Context) error {
		channelID := c.Args().First()
		if channelID == "" {
			return cli.Exit("missing channel id", 2)
		}
		return follow(c, func(ctx context.Context, cl *client.Client) (func(), error) {
			printer := &messagePrinter{seen: make(map[string]time.Time)}
			view, err := cl.OpenChannel(channelID, printer.print)
			if err != nil {
				return nil, err
			}
			return view.Close, nil
		})
	},
}

var watchCommand = &cli.Command{
	Name:      "watch",
	Usage:     "Follow a server's voice presence and unread channels",
	ArgsUsage: "<server-id>",
	Before:    requiresAuth,
	Flags:     []cli.Flag{metricsFlag},
	Action: func(c *cli.Context) error {
		serverID := c.Args().First()
		if serverID == "" {
			return cli.Exit("missing server id", 2)
		}
		return follow(c, func(ctx context.Context, cl *client.Client) (func(), error) {
			var (
				mu           sync.Mutex
				lastChannels string
			)
			view, err := cl.OpenServer(serverID, client.ServerViewOptions{
				OnChange: func(st serverstate.State) {
					titles := make([]string, 0, len(st.Channels))
					for _, ch := range st.Channels {
						titles = append(titles, "#"+ch.Title)
					}
					mu.Lock()
					defer mu.Unlock()
					if line := strings.Join(titles, " "); line != lastChannels {
						lastChannels = line
						fmt.Printf("channels: %s\n", line)
					}
				},
				OnPresence: func(channelID string, ps []chat.Participant) {
					names := make([]string, 0, len(ps))
					for _, p := range ps {
						names = append(names, participantLabel(p))
					}
					fmt.Printf("voice %s: %s\n", channelID, strings.Join(names, ", "))
				},
			})
			if err != nil {
				return nil, err
			}
			if err := view.Reload(ctx); err != nil {
				view.Close()
				return nil, err
			}
			go reportUnread(ctx, func() map[string]int { return view.Unread().Unread() })
			return view.Close, nil
		})
	},
}

var feedCommand = &cli.Command{
	Name:   "feed",
	Usage:  "Follow activity and status changes across all servers",
	Before: requiresAuth,
	Flags:  []cli.Flag{metricsFlag},
	Action: func(c *cli.Context) error {
		return follow(c, func(ctx context.Context, cl *client.Client) (func(), error) {
			feed, err := cl.OpenPersonalFeed(client.FeedOptions{
				OnActivity: func(a chat.ChannelActivity) {
					fmt.Printf("new activity in %s/%s\n", a.ServerID, a.ChannelID)
				},
				OnStatus: func(s chat.StatusChanged) {
					fmt.Printf("%s is now %s\n", s.UserID, s.Status)
				},
			})
			if err != nil {
				return nil, err
			}
			return feed.Close, nil
		})
	},
}

// follow builds a client from the stored credentials, runs open and blocks
// until interrupted or until the session can no longer be refreshed.
func follow(c *cli.Context, open func(context.Context, *client.Client) (func(), error)) error {
	e := getEnv(c)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if addr := c.String("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.log.Warn().Err(err).Msg("metrics listener stopped")
			}
		}()
		defer srv.Close()
	}

	authFailed := make(chan error, 1)
	cl := client.New(client.Options{
		WSURL:          e.cfg.API.WSURL,
		API:            e.api,
		Credentials:    e.store,
		Renewer:        auth.NewSharedRefresher(e.store, e.api),
		InitialBackoff: e.cfg.Socket.InitialBackoff,
		MaxBackoff:     e.cfg.Socket.MaxBackoff,
		Heartbeat:      e.cfg.Socket.Heartbeat,
		TypingTTL:      e.cfg.Typing.TTL,
		TypingInterval: e.cfg.Typing.SendInterval,
		PageSize:       e.cfg.Messages.PageSize,
		OnAuthFailure: func(err error) {
			select {
			case authFailed <- err:
			default:
			}
		},
		Logger:  e.log,
		Metrics: m,
	})

	closeView, err := open(ctx, cl)
	if err != nil {
		return err
	}
	defer closeView()

	select {
	case <-ctx.Done():
		return nil
	case err := <-authFailed:
		return errors.Wrap(err, "session expired, log in again")
	}
}

// messagePrinter prints messages it has not printed before and edits of
// those it has.
type messagePrinter struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func (p *messagePrinter) print(snap message.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range snap.Messages {
		edited := time.Time{}
		if m.EditedAt != nil {
			edited = *m.EditedAt
		}
		last, ok := p.seen[m.ID]
		if ok && !edited.After(last) {
			continue
		}
		p.seen[m.ID] = edited
		marker := ""
		if ok {
			marker = " (edited)"
		}
		fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.Author.Username, m.Content, marker)
	}
}

func participantLabel(p chat.Participant) string {
	label := p.UserID
	var flags []string
	if p.IsMuted {
		flags = append(flags, "muted")
	}
	if p.IsDeafened {
		flags = append(flags, "deafened")
	}
	if p.IsSpeaking {
		flags = append(flags, "speaking")
	}
	if len(flags) > 0 {
		label += " [" + strings.Join(flags, " ") + "]"
	}
	return label
}

func reportUnread(ctx context.Context, unread func() map[string]int) {
	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		counts := unread()
		if len(counts) == 0 {
			continue
		}
		channels := make([]string, 0, len(counts))
		for ch := range counts {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		parts := make([]string, 0, len(channels))
		for _, ch := range channels {
			parts = append(parts, fmt.Sprintf("%s=%d", ch, counts[ch]))
		}
		line := strings.Join(parts, " ")
		if line != last {
			fmt.Printf("unread: %s\n", line)
			last = line
		}
	}
}
