package serverstate

import (
	"context"
	"sync"

	"go-chatsync/internal/metrics"
	"go-chatsync/pkg/chat"

	"github.com/rs/zerolog"
)

type Options struct {
	ServerID string
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics

	// Unread receives channel.message notifications. Optional.
	Unread *UnreadTracker

	OnChange   func(State)
	OnPresence func(channelID string, participants []chat.Participant)
}

// Synchronizer applies server socket frames to a State and a
// PresenceTable.
type Synchronizer struct {
	opts     Options
	log      zerolog.Logger
	presence *PresenceTable

	mu    sync.Mutex
	state State
}

func NewSynchronizer(opts Options) *Synchronizer {
	s := &Synchronizer{
		opts:  opts,
		log:   opts.Logger.With().Str("server_id", opts.ServerID).Logger(),
		state: State{ServerID: opts.ServerID},
	}
	s.presence = NewPresenceTable(s.presenceChanged)
	return s
}

func (s *Synchronizer) HandleFrame(f chat.Frame) {
	switch f.Type {
	case chat.EventVoiceUserJoined, chat.EventVoiceUserLeft, chat.EventVoiceStateChanged, chat.EventVoiceMembers:
		if f.ChannelID == "" {
			s.drop(f, "voice event without channel_id")
			return
		}
		if _, err := s.presence.Apply(f.ChannelID, f); err != nil {
			s.dropErr(f, err)
			return
		}
		s.opts.Metrics.Applied(f.Type)
		return

	case chat.EventChannelMessage:
		var ev chat.ChannelActivity
		if err := f.Decode(&ev); err != nil {
			s.dropErr(f, err)
			return
		}
		if s.opts.Unread != nil {
			s.opts.Unread.Notify(ev.ChannelID)
		}
		s.opts.Metrics.Applied(f.Type)
		return
	}

	s.mu.Lock()
	next, handled, err := Apply(s.state, f)
	if !handled {
		s.mu.Unlock()
		s.log.Trace().Str("type", f.Type).Msg("ignoring event")
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.dropErr(f, err)
		return
	}
	s.state = next
	s.mu.Unlock()

	s.opts.Metrics.Applied(f.Type)
	if s.opts.OnChange != nil {
		s.opts.OnChange(next)
	}
}

// Load installs a state fetched over REST.
func (s *Synchronizer) Load(state State) {
	state.ServerID = s.opts.ServerID
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.opts.OnChange != nil {
		s.opts.OnChange(state)
	}
}

// RefetchPresence replaces voice presence with a REST snapshot unless a
// realtime voice event overtakes it.
func (s *Synchronizer) RefetchPresence(ctx context.Context, fetch func(context.Context) (Presence, error)) error {
	err := s.presence.Refetch(ctx, fetch)
	if err != nil {
		s.log.Debug().Err(err).Msg("presence refetch not applied")
	}
	return err
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Synchronizer) Presence() *PresenceTable { return s.presence }

func (s *Synchronizer) presenceChanged(channelID string) {
	if s.opts.OnPresence != nil {
		s.opts.OnPresence(channelID, s.presence.Participants(channelID))
	}
}

func (s *Synchronizer) drop(f chat.Frame, reason string) {
	s.opts.Metrics.Dropped("payload")
	s.log.Debug().Str("type", f.Type).Msg(reason)
}

func (s *Synchronizer) dropErr(f chat.Frame, err error) {
	s.opts.Metrics.Dropped("payload")
	s.log.Debug().Err(err).Str("type", f.Type).Msg("dropping event")
}
