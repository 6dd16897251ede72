package serverstate

import (
	"testing"

	"go-chatsync/pkg/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynchronizer_RoutesFrames(t *testing.T) {
	unread := NewUnreadTracker()
	var states []State
	presence := map[string][]chat.Participant{}

	s := NewSynchronizer(Options{
		ServerID:   "s1",
		Unread:     unread,
		OnChange:   func(st State) { states = append(states, st) },
		OnPresence: func(id string, p []chat.Participant) { presence[id] = p },
	})

	s.HandleFrame(frame(t, chat.EventChannelCreated, chat.Channel{ID: "c1", ServerID: "s1"}))
	require.Len(t, states, 1)
	assert.Len(t, s.State().Channels, 1)

	joined := frame(t, chat.EventVoiceUserJoined, participant("u1"))
	joined.ChannelID = "v1"
	s.HandleFrame(joined)
	assert.Equal(t, []chat.Participant{participant("u1")}, presence["v1"])

	// voice frames need a channel
	s.HandleFrame(frame(t, chat.EventVoiceUserJoined, participant("u2")))
	assert.Len(t, s.Presence().Participants("v1"), 1)

	s.HandleFrame(frame(t, chat.EventChannelMessage, chat.ChannelActivity{ChannelID: "c1", ServerID: "s1"}))
	assert.Equal(t, 1, unread.Count("c1"))

	s.HandleFrame(chat.Frame{Type: "server.boosted", Data: []byte(`{}`)})
	s.HandleFrame(chat.Frame{Type: chat.EventRoleCreated, Data: []byte(`"x"`)})
	assert.Len(t, states, 1)
}

func TestSynchronizer_Load(t *testing.T) {
	s := NewSynchronizer(Options{ServerID: "s1"})
	s.Load(State{Channels: []chat.Channel{{ID: "c1"}}})

	st := s.State()
	assert.Equal(t, "s1", st.ServerID)
	assert.Len(t, st.Channels, 1)
}

func TestUnreadTracker(t *testing.T) {
	u := NewUnreadTracker()

	assert.True(t, u.Notify("c1"))
	assert.True(t, u.Notify("c1"))
	assert.Equal(t, 2, u.Count("c1"))

	u.SetActive("c1")
	assert.Zero(t, u.Count("c1"))
	assert.False(t, u.Notify("c1"))

	u.SetMuted("c2", true)
	assert.False(t, u.Notify("c2"))
	u.SetMuted("c2", false)
	assert.True(t, u.Notify("c2"))

	assert.False(t, u.Notify(""))
	assert.Equal(t, map[string]int{"c2": 1}, u.Unread())
}
