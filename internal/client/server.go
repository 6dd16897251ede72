package client

import (
	"context"
	"net/url"

	"go-chatsync/internal/serverstate"
	"go-chatsync/internal/socket"
	"go-chatsync/pkg/chat"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type ServerViewOptions struct {
	OnChange   func(serverstate.State)
	OnPresence func(channelID string, participants []chat.Participant)
}

// ServerView keeps a server's channels, members, roles and voice presence
// live, and counts unread channels.
type ServerView struct {
	serverID string
	log      zerolog.Logger
	api      API
	unread   *serverstate.UnreadTracker
	sync     *serverstate.Synchronizer
	sub      *socket.Subscription
	release  func()

	ctx    context.Context
	cancel context.CancelFunc
}

// OpenServer subscribes to serverID and marks it active until Close.
func (c *Client) OpenServer(serverID string, opts ServerViewOptions) (*ServerView, error) {
	ctx, cancel := context.WithCancel(context.Background())
	v := &ServerView{
		serverID: serverID,
		log:      c.log.With().Str("server_id", serverID).Logger(),
		api:      c.opts.API,
		unread:   serverstate.NewUnreadTracker(),
		release:  c.active.Add(serverID),
		ctx:      ctx,
		cancel:   cancel,
	}
	v.sync = serverstate.NewSynchronizer(serverstate.Options{
		ServerID:   serverID,
		Logger:     c.log,
		Metrics:    c.opts.Metrics,
		Unread:     v.unread,
		OnChange:   opts.OnChange,
		OnPresence: opts.OnPresence,
	})
	v.sub = c.subscription("/ws/servers/"+url.PathEscape(serverID), nil, v.sync.HandleFrame, v.opened)

	if err := v.sub.Open(); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

func (v *ServerView) opened() {
	go func() {
		err := v.RefetchPresence(v.ctx)
		switch {
		case err == nil, v.ctx.Err() != nil:
		case errors.Is(err, serverstate.ErrRefetchSuperseded):
			v.log.Debug().Msg("presence refetch superseded")
		default:
			v.log.Warn().Err(err).Msg("presence refetch failed")
		}
	}()
}

// RefetchPresence replaces voice presence with the REST snapshot unless a
// realtime voice event arrives first.
func (v *ServerView) RefetchPresence(ctx context.Context) error {
	if v.api == nil {
		return nil
	}
	return v.sync.RefetchPresence(ctx, func(ctx context.Context) (serverstate.Presence, error) {
		return v.api.FetchVoicePresence(ctx, v.serverID)
	})
}

// Load installs a state fetched by the application.
func (v *ServerView) Load(state serverstate.State) { v.sync.Load(state) }

// Reload fetches the server over REST and installs it. Events received
// while the request is in flight are lost, so call it before relying on
// the socket or after a reconnect.
func (v *ServerView) Reload(ctx context.Context) error {
	if v.api == nil {
		return nil
	}
	state, err := v.api.FetchServer(ctx, v.serverID)
	if err != nil {
		return err
	}
	v.sync.Load(state)
	return nil
}

// SetActiveChannel clears and suppresses the unread marker of the channel
// being viewed.
func (v *ServerView) SetActiveChannel(channelID string) { v.unread.SetActive(channelID) }

func (v *ServerView) Unread() *serverstate.UnreadTracker { return v.unread }

func (v *ServerView) State() serverstate.State { return v.sync.State() }

func (v *ServerView) Participants(channelID string) []chat.Participant {
	return v.sync.Presence().Participants(channelID)
}

func (v *ServerView) SocketState() socket.State { return v.sub.State() }

func (v *ServerView) Close() {
	v.cancel()
	if v.sub != nil {
		v.sub.Close()
	}
	v.release()
}
