package serverstate

import (
	"sync"
)

// UnreadTracker counts channel.message notifications per channel. It is a
// derived signal and never touches the message cache.
type UnreadTracker struct {
	mu     sync.Mutex
	active string
	muted  map[string]bool
	counts map[string]int
}

func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{muted: make(map[string]bool), counts: make(map[string]int)}
}

// Notify records activity in channelID unless it is being viewed or muted.
// It reports whether the marker changed.
func (u *UnreadTracker) Notify(channelID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if channelID == "" || channelID == u.active || u.muted[channelID] {
		return false
	}
	u.counts[channelID]++
	return true
}

// SetActive marks channelID as being viewed and clears its marker. Pass
// an empty id when no channel is open.
func (u *UnreadTracker) SetActive(channelID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.active = channelID
	delete(u.counts, channelID)
}

func (u *UnreadTracker) SetMuted(channelID string, muted bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if muted {
		u.muted[channelID] = true
		delete(u.counts, channelID)
	} else {
		delete(u.muted, channelID)
	}
}

func (u *UnreadTracker) Count(channelID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[channelID]
}

func (u *UnreadTracker) Unread() map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]int, len(u.counts))
	for k, v := range u.counts {
		out[k] = v
	}
	return out
}
