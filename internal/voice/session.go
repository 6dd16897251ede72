package voice

import (
	"context"
	"sync"

	"go-chatsync/internal/serverstate"
	"go-chatsync/pkg/chat"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrNotIdle      = errors.New("voice session already active")
	ErrNotConnected = errors.New("voice session not connected")
	ErrJoinAborted  = errors.New("voice join aborted by leave")
)

type State int

const (
	StateIdle State = iota
	StateJoining
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Signaler is the voice socket for one channel.
type Signaler interface {
	// Connect opens the socket and delivers its frames to handler until
	// Disconnect.
	Connect(channelID string, handler func(chat.Frame)) error
	Send(v any) bool
	Disconnect()
}

type Options struct {
	SelfID   string
	Media    MediaProvider
	Signaler Signaler
	Detector DetectorOptions
	Logger   zerolog.Logger

	// OnChange receives a snapshot after every state change.
	OnChange func(Snapshot)
}

// Snapshot is a copy of the session state. Participants never contains
// the local user.
type Snapshot struct {
	State         State
	ChannelID     string
	Muted         bool
	Deafened      bool
	SharingScreen bool
	SharingWebcam bool
	Speaking      bool
	Participants  map[string]chat.Participant
}

// Session is the single voice session of a client: Idle, then Joining
// while the microphone and signaling come up, then Connected once the
// server sends the member list. Leave returns to Idle from any state.
type Session struct {
	opts Options
	log  zerolog.Logger
	mic  StreamSlot

	mu           sync.Mutex
	gen          uint64
	state        State
	channelID    string
	muted        bool
	deafened     bool
	speaking     bool
	screen       Stream
	webcam       Stream
	participants []chat.Participant
	detector     *SpeakingDetector
}

func NewSession(opts Options) *Session {
	return &Session{opts: opts, log: opts.Logger}
}

// Microphone exposes the read-only microphone slot.
func (s *Session) Microphone() AudioSource { return &s.mic }

// Join acquires the microphone and opens signaling for channelID. It
// returns once signaling is requested; the session becomes Connected when
// the server's member list arrives.
func (s *Session) Join(ctx context.Context, channelID string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.gen++
	gen := s.gen
	s.state = StateJoining
	s.channelID = channelID
	s.mu.Unlock()
	s.changed()

	log := s.log.With().Str("channel_id", channelID).Logger()

	mic, err := s.opts.Media.Microphone(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("microphone unavailable")
		s.abortJoin(gen)
		return errors.Wrap(err, "acquire microphone")
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		mic.Stop()
		return ErrJoinAborted
	}
	mic.SetEnabled(!s.muted)
	s.mic.set(mic)
	s.mu.Unlock()

	if err := s.opts.Signaler.Connect(channelID, func(f chat.Frame) { s.handleFrame(gen, f) }); err != nil {
		log.Warn().Err(err).Msg("voice signaling failed")
		s.abortJoin(gen)
		return errors.Wrap(err, "connect voice socket")
	}

	s.mu.Lock()
	aborted := gen != s.gen
	s.mu.Unlock()
	if aborted {
		s.opts.Signaler.Disconnect()
		return ErrJoinAborted
	}
	return nil
}

func (s *Session) abortJoin(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = StateIdle
	s.channelID = ""
	s.mu.Unlock()

	if mic := s.mic.take(); mic != nil {
		mic.Stop()
	}
	s.changed()
}

func (s *Session) handleFrame(gen uint64, f chat.Frame) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}

	next, handled, err := serverstate.ReducePresence(s.participants, f)
	if !handled {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.log.Debug().Err(err).Str("type", f.Type).Msg("dropping voice event")
		return
	}
	s.participants = withoutUser(next, s.opts.SelfID)

	var (
		detector *SpeakingDetector
		restore  []chat.VoiceStateFrame
	)
	if f.Type == chat.EventVoiceMembers {
		if s.state == StateJoining {
			s.state = StateConnected
			s.detector = NewSpeakingDetector(&s.mic, s.opts.Detector, func(v bool) { s.localSpeaking(gen, v) })
			detector = s.detector
		}
		restore = s.localFlagsLocked()
	}
	s.mu.Unlock()

	// the server starts every connection with default flags
	for _, frame := range restore {
		s.opts.Signaler.Send(frame)
	}
	if detector != nil {
		detector.Start()
		s.log.Info().Str("channel_id", s.ChannelID()).Msg("voice connected")
	}
	s.changed()
}

// localFlagsLocked lists a frame for every local toggle that is not at
// its default.
func (s *Session) localFlagsLocked() []chat.VoiceStateFrame {
	var out []chat.VoiceStateFrame
	if s.muted {
		out = append(out, chat.VoiceMute(true))
	}
	if s.deafened {
		out = append(out, chat.VoiceDeafen(true))
	}
	if s.screen != nil {
		out = append(out, chat.VoiceScreenShare(true))
	}
	if s.webcam != nil {
		out = append(out, chat.VoiceWebcam(true))
	}
	return out
}

// SyncParticipants projects a presence list for the joined channel, e.g.
// from the server socket's presence table.
func (s *Session) SyncParticipants(channelID string, participants []chat.Participant) {
	s.mu.Lock()
	if s.state == StateIdle || channelID != s.channelID {
		s.mu.Unlock()
		return
	}
	list := make([]chat.Participant, 0, len(participants))
	list = append(list, participants...)
	s.participants = withoutUser(list, s.opts.SelfID)
	s.mu.Unlock()
	s.changed()
}

func (s *Session) localSpeaking(gen uint64, speaking bool) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.muted {
		speaking = false
	}
	if speaking == s.speaking {
		s.mu.Unlock()
		return
	}
	s.speaking = speaking
	s.mu.Unlock()

	s.opts.Signaler.Send(chat.VoiceSpeaking(speaking))
	s.changed()
}

// Leave releases all local media and closes signaling.
func (s *Session) Leave() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	detector := s.detector
	s.detector = nil
	s.mu.Unlock()

	// emits a final not-speaking frame while the socket is still up
	if detector != nil {
		detector.Stop()
	}

	s.mu.Lock()
	s.gen++
	screen, webcam := s.screen, s.webcam
	s.screen, s.webcam = nil, nil
	s.state = StateIdle
	s.channelID = ""
	s.speaking = false
	s.participants = nil
	s.mu.Unlock()

	if mic := s.mic.take(); mic != nil {
		mic.Stop()
	}
	if screen != nil {
		screen.Stop()
	}
	if webcam != nil {
		webcam.Stop()
	}
	s.opts.Signaler.Disconnect()
	s.changed()
}

func (s *Session) SetMuted(muted bool) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.muted == muted {
		s.mu.Unlock()
		return nil
	}
	s.muted = muted
	stopSpeaking := muted && s.speaking
	if stopSpeaking {
		s.speaking = false
	}
	s.mu.Unlock()

	if mic := s.mic.Audio(); mic != nil {
		mic.SetEnabled(!muted)
	}
	s.opts.Signaler.Send(chat.VoiceMute(muted))
	if stopSpeaking {
		s.opts.Signaler.Send(chat.VoiceSpeaking(false))
	}
	s.changed()
	return nil
}

func (s *Session) SetDeafened(deafened bool) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.deafened == deafened {
		s.mu.Unlock()
		return nil
	}
	s.deafened = deafened
	s.mu.Unlock()

	s.opts.Signaler.Send(chat.VoiceDeafen(deafened))
	s.changed()
	return nil
}

// SetScreenShare starts or stops screen capture. If capture cannot be
// acquired the flag is left unchanged and the error returned.
func (s *Session) SetScreenShare(ctx context.Context, on bool) error {
	return s.toggleCapture(ctx, on, &s.screen, s.opts.Media.Screen, chat.VoiceScreenShare)
}

// SetWebcam is SetScreenShare for the camera.
func (s *Session) SetWebcam(ctx context.Context, on bool) error {
	return s.toggleCapture(ctx, on, &s.webcam, s.opts.Media.Webcam, chat.VoiceWebcam)
}

func (s *Session) toggleCapture(
	ctx context.Context,
	on bool,
	slot *Stream,
	acquire func(context.Context) (Stream, error),
	frame func(bool) chat.VoiceStateFrame,
) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	gen := s.gen
	current := *slot
	s.mu.Unlock()

	if (current != nil) == on {
		return nil
	}

	if !on {
		s.mu.Lock()
		if *slot != current {
			s.mu.Unlock()
			return nil
		}
		*slot = nil
		s.mu.Unlock()
		current.Stop()
		s.opts.Signaler.Send(frame(false))
		s.changed()
		return nil
	}

	stream, err := acquire(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("media capture unavailable")
		return errors.Wrap(err, "acquire capture")
	}

	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected || *slot != nil {
		s.mu.Unlock()
		stream.Stop()
		return ErrNotConnected
	}
	*slot = stream
	s.mu.Unlock()

	s.opts.Signaler.Send(frame(true))
	s.changed()
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants := make(map[string]chat.Participant, len(s.participants))
	for _, p := range s.participants {
		participants[p.UserID] = p
	}
	return Snapshot{
		State:         s.state,
		ChannelID:     s.channelID,
		Muted:         s.muted,
		Deafened:      s.deafened,
		SharingScreen: s.screen != nil,
		SharingWebcam: s.webcam != nil,
		Speaking:      s.speaking,
		Participants:  participants,
	}
}

func (s *Session) changed() {
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.Snapshot())
	}
}

func withoutUser(list []chat.Participant, userID string) []chat.Participant {
	for i := range list {
		if list[i].UserID == userID {
			out := make([]chat.Participant, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...)
		}
	}
	return list
}
