package message

import (
	"context"
	"sync"
	"time"

	"go-chatsync/internal/clock"
	"go-chatsync/internal/metrics"
	"go-chatsync/pkg/chat"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultPageSize = 50

// ErrClosed is returned by CatchUp once the synchronizer has been closed.
var ErrClosed = errors.New("message synchronizer closed")

// Snapshot is a read-only copy handed to views.
type Snapshot struct {
	ChannelID    string
	Messages     []chat.Message
	Typing       []TypingUser
	ReachedStart bool
}

type Options struct {
	ChannelID string
	// SelfID is the local user; their own typing frames are ignored.
	SelfID    string
	Clock     clock.Clock
	TypingTTL time.Duration
	PageSize  int
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics

	// OnChange receives a snapshot after every state change. It runs on
	// the goroutine that caused the change.
	OnChange func(Snapshot)
}

// Synchronizer owns one channel's Cache and TypingRegistry. Socket frames
// and local optimistic writes both go through HandleFrame so they share the
// same reducers.
type Synchronizer struct {
	opts   Options
	log    zerolog.Logger
	typing *TypingRegistry

	mu     sync.Mutex
	cache  Cache
	closed bool
	// touched holds, per in-flight catch-up, the ids realtime frames changed
	// after that fetch started.
	touched map[uint64]map[string]struct{}
	fetchN  uint64
}

func NewSynchronizer(opts Options) *Synchronizer {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	s := &Synchronizer{
		opts: opts,
		log:  opts.Logger.With().Str("channel_id", opts.ChannelID).Logger(),
	}
	s.typing = NewTypingRegistry(opts.Clock, opts.TypingTTL, s.changed)
	return s
}

// HandleFrame applies one inbound event. Frames for other channels,
// unknown types and undecodable payloads change nothing.
func (s *Synchronizer) HandleFrame(f chat.Frame) {
	if f.ChannelID != "" && f.ChannelID != s.opts.ChannelID {
		s.opts.Metrics.Dropped("foreign_channel")
		return
	}

	if f.Type == chat.EventTypingStart {
		var ev chat.TypingStart
		if err := f.Decode(&ev); err != nil {
			s.drop(f, err)
			return
		}
		if ev.UserID == "" || ev.UserID == s.opts.SelfID {
			return
		}
		s.typing.Start(ev.UserID, ev.Username)
		s.opts.Metrics.Applied(f.Type)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next, handled, err := Apply(s.cache, f)
	if !handled {
		s.mu.Unlock()
		s.log.Trace().Str("type", f.Type).Msg("ignoring event")
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.drop(f, err)
		return
	}
	s.cache = next
	if len(s.touched) > 0 {
		if id := frameMessageID(f); id != "" {
			for _, ids := range s.touched {
				ids[id] = struct{}{}
			}
		}
	}
	s.mu.Unlock()

	s.opts.Metrics.Applied(f.Type)

	if f.Type == chat.EventMessageCreated {
		var msg chat.Message
		if f.Decode(&msg) == nil && s.typing.Clear(msg.Author.ID) {
			// Clear already notified
			return
		}
	}
	s.changed()
}

// ApplyLocal runs an optimistic local write through the socket path.
func (s *Synchronizer) ApplyLocal(eventType string, payload any) error {
	f, err := chat.NewFrame(eventType, payload)
	if err != nil {
		return err
	}
	s.HandleFrame(f)
	return nil
}

// Load replaces the cache with the newest page, e.g. after (re)connecting.
func (s *Synchronizer) Load(newest []chat.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cache = Reset(newest, s.opts.PageSize)
	s.mu.Unlock()
	s.changed()
}

// CatchUp fetches the newest page and merges it into the cache. Messages
// that realtime frames created, edited, deleted or reacted to while the
// fetch was in flight keep their realtime state. Nothing is applied if ctx
// is done or the synchronizer closes before the fetch returns.
func (s *Synchronizer) CatchUp(ctx context.Context, fetch func(context.Context) ([]chat.Message, error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.fetchN++
	n := s.fetchN
	if s.touched == nil {
		s.touched = make(map[uint64]map[string]struct{})
	}
	s.touched[n] = make(map[string]struct{})
	s.mu.Unlock()

	newest, err := fetch(ctx)

	s.mu.Lock()
	touched := s.touched[n]
	delete(s.touched, n)
	switch {
	case s.closed:
		err = ErrClosed
	case err != nil:
		err = errors.Wrap(err, "fetch newest messages")
	case ctx.Err() != nil:
		err = ctx.Err()
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if len(touched) > 0 {
		kept := make([]chat.Message, 0, len(newest))
		for _, m := range newest {
			if _, ok := touched[m.ID]; !ok {
				kept = append(kept, m)
			}
		}
		s.log.Debug().Int("skipped", len(newest)-len(kept)).Msg("catch up kept realtime changes")
		newest = kept
	}
	s.cache = CatchUp(s.cache, newest, s.opts.PageSize)
	s.mu.Unlock()
	s.changed()
	return nil
}

// MergeOlder adds a page fetched with OldestID as the cursor.
func (s *Synchronizer) MergeOlder(older []chat.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cache = MergeOlder(s.cache, older, s.opts.PageSize)
	s.mu.Unlock()
	s.changed()
}

func (s *Synchronizer) OldestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.OldestID()
}

func (s *Synchronizer) ReachedStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.ReachedStart
}

func (s *Synchronizer) PageSize() int { return s.opts.PageSize }

func (s *Synchronizer) Cache() Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	c := s.cache
	s.mu.Unlock()
	return Snapshot{
		ChannelID:    s.opts.ChannelID,
		Messages:     c.Messages(),
		Typing:       s.typing.Users(),
		ReachedStart: c.ReachedStart,
	}
}

// Typing exposes the registry for views that render it separately.
func (s *Synchronizer) Typing() *TypingRegistry { return s.typing }

// Close stops typing timers and freezes the cache. It stays readable.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.typing.Reset()
}

func (s *Synchronizer) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.Snapshot())
	}
}

// frameMessageID returns the id of the message a cache event refers to.
func frameMessageID(f chat.Frame) string {
	var ref struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
	}
	if f.Decode(&ref) != nil {
		return ""
	}
	if ref.MessageID != "" {
		return ref.MessageID
	}
	return ref.ID
}

func (s *Synchronizer) drop(f chat.Frame, err error) {
	s.opts.Metrics.Dropped("payload")
	s.log.Debug().Err(err).Str("type", f.Type).Msg("dropping event")
}
