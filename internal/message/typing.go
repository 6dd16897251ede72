package message

import (
	"sort"
	"sync"
	"time"

	"go-chatsync/internal/clock"
)

const DefaultTypingTTL = 4 * time.Second

type TypingUser struct {
	UserID   string
	Username string
}

type typingEntry struct {
	user  TypingUser
	seq   uint64
	arm   uint64
	timer clock.Timer
}

// TypingRegistry tracks who is composing a message. An entry lives for a
// fixed TTL after the latest typing.start from that user.
type TypingRegistry struct {
	clk      clock.Clock
	ttl      time.Duration
	onChange func()

	mu      sync.Mutex
	seq     uint64
	entries map[string]*typingEntry
}

// NewTypingRegistry creates an empty registry. onChange, if set, runs after
// every visible change, including expiry, without the registry lock held.
func NewTypingRegistry(clk clock.Clock, ttl time.Duration, onChange func()) *TypingRegistry {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingRegistry{
		clk:      clk,
		ttl:      ttl,
		onChange: onChange,
		entries:  make(map[string]*typingEntry),
	}
}

// Start adds the user or re-arms their expiry.
func (r *TypingRegistry) Start(userID, username string) {
	r.mu.Lock()
	e, exists := r.entries[userID]
	if exists {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.user.Username = username
	} else {
		r.seq++
		e = &typingEntry{user: TypingUser{UserID: userID, Username: username}, seq: r.seq}
		r.entries[userID] = e
	}
	e.arm++
	arm := e.arm
	r.mu.Unlock()

	timer := r.clk.AfterFunc(r.ttl, func() { r.expire(userID, e, arm) })

	r.mu.Lock()
	if e.arm == arm {
		e.timer = timer
	} else {
		timer.Stop()
	}
	r.mu.Unlock()

	if !exists {
		r.notify()
	}
}

func (r *TypingRegistry) expire(userID string, e *typingEntry, arm uint64) {
	r.mu.Lock()
	if r.entries[userID] != e || e.arm != arm {
		r.mu.Unlock()
		return
	}
	delete(r.entries, userID)
	r.mu.Unlock()
	r.notify()
}

// Clear removes the user at once, e.g. because their message arrived.
func (r *TypingRegistry) Clear(userID string) bool {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if ok {
		delete(r.entries, userID)
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	r.mu.Unlock()

	if ok {
		r.notify()
	}
	return ok
}

// Users lists typing users in the order they started.
func (r *TypingRegistry) Users() []TypingUser {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*typingEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	users := make([]TypingUser, len(entries))
	for i, e := range entries {
		users[i] = e.user
	}
	return users
}

// Reset drops every entry and stops their timers.
func (r *TypingRegistry) Reset() {
	r.mu.Lock()
	for id, e := range r.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

func (r *TypingRegistry) notify() {
	if r.onChange != nil {
		r.onChange()
	}
}
