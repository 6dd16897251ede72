package serverstate

import (
	"context"
	"sync"

	"go-chatsync/pkg/chat"

	"github.com/pkg/errors"
)

// ErrRefetchSuperseded is returned by Refetch when a realtime voice event
// arrived while the request was in flight. The response is discarded.
var ErrRefetchSuperseded = errors.New("presence refetch superseded by a realtime event")

// Presence maps voice channel id to its participants.
type Presence map[string][]chat.Participant

func participantID(p chat.Participant) string { return p.UserID }

// ReducePresence applies one voice event to the participants of a channel:
// joined adds if absent, left removes, state_changed replaces only known
// participants, and voice.members replaces the list.
func ReducePresence(list []chat.Participant, f chat.Frame) ([]chat.Participant, bool, error) {
	switch f.Type {
	case chat.EventVoiceUserJoined:
		var p chat.Participant
		if err := f.Decode(&p); err != nil {
			return list, true, err
		}
		return upsertAbsent(list, p, participantID), true, nil
	case chat.EventVoiceUserLeft:
		var ref chat.UserRef
		if err := f.Decode(&ref); err != nil {
			return list, true, err
		}
		return removeKey(list, ref.UserID, participantID), true, nil
	case chat.EventVoiceStateChanged:
		var p chat.Participant
		if err := f.Decode(&p); err != nil {
			return list, true, err
		}
		return replacePresent(list, p, participantID), true, nil
	case chat.EventVoiceMembers:
		var all []chat.Participant
		if err := f.Decode(&all); err != nil {
			return list, true, err
		}
		return dedupeParticipants(all), true, nil
	}
	return list, false, nil
}

func dedupeParticipants(all []chat.Participant) []chat.Participant {
	out := make([]chat.Participant, 0, len(all))
	for _, p := range all {
		out = upsertAbsent(out, p, participantID)
	}
	return out
}

// PresenceTable owns voice presence for one server. Realtime events always
// win over a REST refetch that started before them.
type PresenceTable struct {
	onChange func(channelID string)

	mu       sync.Mutex
	channels Presence
	epoch    uint64
	cancel   context.CancelFunc
}

func NewPresenceTable(onChange func(channelID string)) *PresenceTable {
	return &PresenceTable{onChange: onChange, channels: make(Presence)}
}

// Apply reduces a voice event for channelID and cancels any refetch in
// flight.
func (t *PresenceTable) Apply(channelID string, f chat.Frame) (bool, error) {
	t.mu.Lock()
	next, handled, err := ReducePresence(t.channels[channelID], f)
	if !handled {
		t.mu.Unlock()
		return false, nil
	}
	t.supersedeLocked()
	if err != nil {
		t.mu.Unlock()
		return true, err
	}
	if len(next) == 0 {
		delete(t.channels, channelID)
	} else {
		t.channels[channelID] = next
	}
	t.mu.Unlock()

	if t.onChange != nil {
		t.onChange(channelID)
	}
	return true, nil
}

func (t *PresenceTable) supersedeLocked() {
	t.epoch++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Refetch loads the full table with fetch and installs it, unless a
// realtime event or another Refetch arrives first. A superseded refetch
// applies nothing.
func (t *PresenceTable) Refetch(ctx context.Context, fetch func(context.Context) (Presence, error)) error {
	t.mu.Lock()
	t.supersedeLocked()
	epoch := t.epoch
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	fetched, err := fetch(ctx)

	t.mu.Lock()
	if epoch != t.epoch {
		t.mu.Unlock()
		return ErrRefetchSuperseded
	}
	t.cancel = nil
	if err != nil {
		t.mu.Unlock()
		return errors.Wrap(err, "fetch voice presence")
	}

	changed := make([]string, 0, len(fetched)+len(t.channels))
	for id := range t.channels {
		changed = append(changed, id)
	}
	t.channels = make(Presence, len(fetched))
	for id, list := range fetched {
		if len(list) == 0 {
			continue
		}
		t.channels[id] = dedupeParticipants(list)
		changed = append(changed, id)
	}
	t.mu.Unlock()

	if t.onChange != nil {
		seen := make(map[string]bool, len(changed))
		for _, id := range changed {
			if !seen[id] {
				seen[id] = true
				t.onChange(id)
			}
		}
	}
	return nil
}

// Participants returns a copy of channelID's participants.
func (t *PresenceTable) Participants(channelID string) []chat.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneList(t.channels[channelID])
}

// Snapshot copies the whole table.
func (t *PresenceTable) Snapshot() Presence {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(Presence, len(t.channels))
	for id, list := range t.channels {
		out[id] = cloneList(list)
	}
	return out
}
