package server

import (
	"sync"

	"go-chatsync/internal/serverstate"
	"go-chatsync/pkg/chat"
)

type voiceRoom struct {
	serverID     string
	participants []chat.Participant
	// owners maps each user to the connection that last joined for them.
	owners map[string]any
}

// VoiceRooms tracks who is connected to each voice channel.
type VoiceRooms struct {
	mu    sync.Mutex
	rooms map[string]*voiceRoom
}

func NewVoiceRooms() *VoiceRooms {
	return &VoiceRooms{rooms: make(map[string]*voiceRoom)}
}

// Join adds p to channelID on behalf of owner, the connection that will
// later leave, and returns the full member list afterwards. A user already
// present is replaced and the new owner takes over the entry.
func (v *VoiceRooms) Join(channelID, serverID string, p chat.Participant, owner any) []chat.Participant {
	v.mu.Lock()
	defer v.mu.Unlock()

	room, ok := v.rooms[channelID]
	if !ok {
		room = &voiceRoom{serverID: serverID, owners: make(map[string]any)}
		v.rooms[channelID] = room
	}
	room.participants = append(without(room.participants, p.UserID), p)
	room.owners[p.UserID] = owner
	return append([]chat.Participant(nil), room.participants...)
}

// Leave removes userID if owner still holds the entry and reports whether
// anything was removed. A connection replaced by a newer one leaves nothing.
func (v *VoiceRooms) Leave(channelID, userID string, owner any) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	room, ok := v.rooms[channelID]
	if !ok || room.owners[userID] != owner {
		return false
	}
	delete(room.owners, userID)
	before := len(room.participants)
	room.participants = without(room.participants, userID)
	if len(room.participants) == 0 {
		delete(v.rooms, channelID)
	}
	return len(room.participants) != before
}

// Update applies a local media toggle sent by userID over owner's voice
// socket.
func (v *VoiceRooms) Update(channelID, userID string, owner any, f chat.VoiceStateFrame) (chat.Participant, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	room, ok := v.rooms[channelID]
	if !ok || room.owners[userID] != owner {
		return chat.Participant{}, false
	}
	for i := range room.participants {
		p := &room.participants[i]
		if p.UserID != userID {
			continue
		}
		if !applyVoiceState(p, f) {
			return chat.Participant{}, false
		}
		return *p, true
	}
	return chat.Participant{}, false
}

func (v *VoiceRooms) ServerOf(channelID string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if room, ok := v.rooms[channelID]; ok {
		return room.serverID
	}
	return ""
}

// Presence lists the occupied voice channels of serverID.
func (v *VoiceRooms) Presence(serverID string) serverstate.Presence {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := serverstate.Presence{}
	for id, room := range v.rooms {
		if room.serverID == serverID {
			out[id] = append([]chat.Participant(nil), room.participants...)
		}
	}
	return out
}

func applyVoiceState(p *chat.Participant, f chat.VoiceStateFrame) bool {
	switch {
	case f.Type == chat.FrameMute && f.IsMuted != nil:
		p.IsMuted = *f.IsMuted
	case f.Type == chat.FrameDeafen && f.IsDeafened != nil:
		p.IsDeafened = *f.IsDeafened
	case f.Type == chat.FrameScreenShare && f.Enabled != nil:
		p.IsSharingScreen = *f.Enabled
	case f.Type == chat.FrameWebcam && f.Enabled != nil:
		p.IsSharingWebcam = *f.Enabled
	case f.Type == chat.FrameSpeaking && f.IsSpeaking != nil:
		p.IsSpeaking = *f.IsSpeaking
	default:
		return false
	}
	return true
}

func without(list []chat.Participant, userID string) []chat.Participant {
	out := list[:0:0]
	for _, p := range list {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	return out
}
