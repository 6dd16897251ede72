package client

import (
	"sync"

	"go-chatsync/internal/serverstate"
	"go-chatsync/internal/socket"
	"go-chatsync/pkg/chat"

	"github.com/rs/zerolog"
)

type FeedOptions struct {
	// OnActivity runs for channel.message events that were counted.
	OnActivity func(chat.ChannelActivity)
	OnStatus   func(chat.StatusChanged)
}

// PersonalFeed is the per-user socket: activity in servers that are not
// mounted, and status changes of other users. It pings on an interval to
// satisfy the server's idle timeout.
type PersonalFeed struct {
	opts          FeedOptions
	log           zerolog.Logger
	active        *ActiveServers
	unread        *serverstate.UnreadTracker
	sub           *socket.Subscription
	stopHeartbeat func()

	mu       sync.Mutex
	statuses map[string]string
}

func (c *Client) OpenPersonalFeed(opts FeedOptions) (*PersonalFeed, error) {
	f := &PersonalFeed{
		opts:     opts,
		log:      c.log.With().Str("feed", "me").Logger(),
		active:   c.active,
		unread:   serverstate.NewUnreadTracker(),
		statuses: make(map[string]string),
	}
	f.sub = c.subscription("/ws/me", nil, f.handle, nil)
	if err := f.sub.Open(); err != nil {
		return nil, err
	}
	f.stopHeartbeat = socket.StartHeartbeat(f.sub, c.opts.Clock, c.opts.Heartbeat)
	return f, nil
}

func (f *PersonalFeed) handle(fr chat.Frame) {
	switch fr.Type {
	case chat.EventChannelMessage:
		var ev chat.ChannelActivity
		if err := fr.Decode(&ev); err != nil {
			f.log.Debug().Err(err).Msg("dropping channel.message")
			return
		}
		if f.active.Contains(ev.ServerID) {
			return
		}
		if f.unread.Notify(ev.ChannelID) && f.opts.OnActivity != nil {
			f.opts.OnActivity(ev)
		}

	case chat.EventUserStatusChanged:
		var ev chat.StatusChanged
		if err := fr.Decode(&ev); err != nil || ev.UserID == "" {
			f.log.Debug().Err(err).Msg("dropping user.status_changed")
			return
		}
		f.mu.Lock()
		f.statuses[ev.UserID] = ev.Status
		f.mu.Unlock()
		if f.opts.OnStatus != nil {
			f.opts.OnStatus(ev)
		}
	}
}

func (f *PersonalFeed) Unread() *serverstate.UnreadTracker { return f.unread }

// Status returns the last status reported for userID.
func (f *PersonalFeed) Status(userID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.statuses[userID]
	return s, ok
}

func (f *PersonalFeed) State() socket.State { return f.sub.State() }

func (f *PersonalFeed) Close() {
	f.stopHeartbeat()
	f.sub.Close()
}
