// Package voice runs the local side of a voice channel: the join/leave
// state machine, local media toggles and speaking detection.
package voice

import (
	"context"
	"sync"
)

// Stream is a live capture owned by the session.
type Stream interface {
	Stop()
}

// AudioStream is the microphone capture. FrequencyData returns the current
// magnitude per frequency bin on a 0..255 scale.
type AudioStream interface {
	Stream
	SetEnabled(enabled bool)
	FrequencyData() []float64
}

// MediaProvider acquires local captures. Each call may block on a
// permission prompt and fails if the user or the OS refuses.
type MediaProvider interface {
	Microphone(ctx context.Context) (AudioStream, error)
	Screen(ctx context.Context) (Stream, error)
	Webcam(ctx context.Context) (Stream, error)
}

// AudioSource is the read-only view of the microphone handed to the
// speaking detector.
type AudioSource interface {
	Audio() AudioStream
}

// StreamSlot holds the session's microphone. The session is the only
// writer; readers get the current stream or nil.
type StreamSlot struct {
	mu     sync.RWMutex
	stream AudioStream
}

func (s *StreamSlot) Audio() AudioStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stream
}

func (s *StreamSlot) set(stream AudioStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = stream
}

// take empties the slot and returns what it held.
func (s *StreamSlot) take() AudioStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream := s.stream
	s.stream = nil
	return stream
}
