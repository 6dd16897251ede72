// Package client wires sockets, synchronizers and the REST client into the
// views an application mounts: one channel, one server, the personal feed
// and the voice signaling socket.
package client

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"go-chatsync/internal/auth"
	"go-chatsync/internal/clock"
	"go-chatsync/internal/metrics"
	"go-chatsync/internal/serverstate"
	"go-chatsync/internal/socket"
	"go-chatsync/pkg/chat"

	"github.com/rs/zerolog"
)

const (
	DefaultHeartbeat      = 30 * time.Second
	DefaultTypingInterval = 3 * time.Second
)

// API is the REST surface the views refetch from. *rest.Client implements
// it.
type API interface {
	FetchMessages(ctx context.Context, channelID, before string, limit int) ([]chat.Message, error)
	FetchVoicePresence(ctx context.Context, serverID string) (serverstate.Presence, error)
	FetchServer(ctx context.Context, serverID string) (serverstate.State, error)
}

type Options struct {
	// WSURL is the socket root, e.g. ws://localhost:9876.
	WSURL       string
	API         API
	Credentials auth.CredentialStore
	Renewer     socket.Renewer
	Dialer      socket.Dialer
	Clock       clock.Clock

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Heartbeat      time.Duration
	TypingTTL      time.Duration
	TypingInterval time.Duration
	PageSize       int

	// OnAuthFailure runs when any socket's token can no longer be
	// refreshed. The application should show its login screen.
	OnAuthFailure func(error)

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Client is shared by all views of one logged-in user.
type Client struct {
	opts   Options
	log    zerolog.Logger
	active *ActiveServers
}

func New(opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = DefaultTypingInterval
	}
	opts.WSURL = strings.TrimRight(opts.WSURL, "/")
	return &Client{opts: opts, log: opts.Logger, active: NewActiveServers()}
}

// SelfID is the user id carried by the current access token, or "" when
// logged out.
func (c *Client) SelfID() string {
	claims, err := auth.ParseClaims(c.opts.Credentials.AccessToken())
	if err != nil {
		return ""
	}
	return claims.UserID()
}

// ActiveServers lists the servers that currently have a mounted ServerView.
func (c *Client) ActiveServers() *ActiveServers { return c.active }

func (c *Client) subscription(path string, query url.Values, handler func(chat.Frame), onOpen func()) *socket.Subscription {
	u := c.opts.WSURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return socket.New(socket.Options{
		URL:            u,
		Credentials:    c.opts.Credentials,
		Renewer:        c.opts.Renewer,
		Dialer:         c.opts.Dialer,
		Clock:          c.opts.Clock,
		Handler:        handler,
		OnOpen:         onOpen,
		OnAuthFailure:  c.opts.OnAuthFailure,
		InitialBackoff: c.opts.InitialBackoff,
		MaxBackoff:     c.opts.MaxBackoff,
		Logger:         c.log,
		Metrics:        c.opts.Metrics,
	})
}

// ActiveServers counts mounted server subscriptions. A server socket
// already reports channel.message for its own channels, so the personal
// feed skips those servers to count each message once.
type ActiveServers struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewActiveServers() *ActiveServers {
	return &ActiveServers{counts: make(map[string]int)}
}

// Add registers serverID until the returned release is called. Release is
// safe to call more than once.
func (a *ActiveServers) Add(serverID string) (release func()) {
	a.mu.Lock()
	a.counts[serverID]++
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.counts[serverID]--; a.counts[serverID] <= 0 {
				delete(a.counts, serverID)
			}
		})
	}
}

func (a *ActiveServers) Contains(serverID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[serverID] > 0
}
