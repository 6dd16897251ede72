package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"go-chatsync/internal/auth"
	"go-chatsync/internal/rest"
	"go-chatsync/internal/storage"
	"go-chatsync/pkg/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelStore(t *testing.T) {
	db, err := storage.Connect(storage.Options{Models: Models()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	store := NewChannelStore(db)

	general, err := store.Create("s1", "u1", "general", "")
	require.NoError(t, err)
	assert.Equal(t, ChannelTypeText, general.Type)
	lounge, err := store.Create("s1", "u1", "lounge", ChannelTypeVoice)
	require.NoError(t, err)
	_, err = store.Create("s2", "u1", "elsewhere", "")
	require.NoError(t, err)

	_, err = store.Create("s1", "u1", "", "")
	assert.ErrorIs(t, err, ErrEmptyChannelName)
	_, err = store.Create("s1", "u1", "x", "stage")
	assert.Error(t, err)

	list, err := store.List("s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []int{0, 1}, []int{list[0].Position, list[1].Position})
	assert.Equal(t, lounge.ID, list[1].ID)

	_, err = store.Delete("s1", general.ID, "u2")
	assert.ErrorIs(t, err, ErrNotChannelOwner)
	_, err = store.Delete("s2", general.ID, "u1")
	assert.ErrorIs(t, err, ErrChannelNotFound, "channel belongs to another server")

	deleted, err := store.Delete("s1", general.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "general", deleted.Title)
	list, err = store.List("s1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAuditLog_Paging(t *testing.T) {
	db, err := storage.Connect(storage.Options{Models: Models()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	now := time.Unix(1000, 0)
	log := NewAuditLog(db, func() time.Time { return now })
	for _, target := range []string{"a", "b", "c"} {
		require.NoError(t, log.Record("s1", ActionCreateChannel, "u1", target, "created "+target))
	}
	require.NoError(t, log.Record("s2", ActionCreateChannel, "u1", "z", "other server"))

	entries, total, err := log.List("s1", 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].TargetID, "newest first")

	entries, _, err = log.List("s1", 2, 2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].TargetID)
}

func TestChannels_EventsSnapshotAndAudit(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	feed := env.dial(t, "/ws/servers/s1", bob.AccessToken)

	status, data := env.do(t, http.MethodPost, "/servers/s1/channels", alice.AccessToken, channelInput{Title: "general"})
	require.Equal(t, http.StatusCreated, status, string(data))
	var created chat.Channel
	require.NoError(t, json.Unmarshal(data, &created))

	f := readFrame(t, feed)
	assert.Equal(t, chat.EventChannelCreated, f.Type)
	var got chat.Channel
	require.NoError(t, f.Decode(&got))
	assert.Equal(t, created, got)

	api, err := rest.New(rest.Options{BaseURL: env.http.URL, Tokens: auth.NewMemoryStore(bob.AccessToken, "")})
	require.NoError(t, err)
	state, err := api.FetchServer(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, state.Channels, 1)
	assert.Equal(t, "general", state.Channels[0].Title)
	require.Len(t, state.Members, 1, "bob holds the only server socket")
	claims, err := auth.ParseClaims(bob.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, claims.UserID(), state.Members[0].UserID)

	status, _ = env.do(t, http.MethodDelete, "/servers/s1/channels/"+created.ID, bob.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = env.do(t, http.MethodDelete, "/servers/s1/channels/"+created.ID, alice.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	f = readFrame(t, feed)
	assert.Equal(t, chat.EventChannelDeleted, f.Type)
	var ref chat.ChannelRef
	require.NoError(t, f.Decode(&ref))
	assert.Equal(t, created.ID, ref.Key())

	status, data = env.do(t, http.MethodGet, "/servers/s1/audit-log", alice.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	var page struct {
		Entries []AuditEntry `json:"entries"`
		Total   int64        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(data, &page))
	assert.EqualValues(t, 2, page.Total)
	assert.Equal(t, ActionDeleteChannel, page.Entries[0].Action)
	assert.Equal(t, ActionCreateChannel, page.Entries[1].Action)
}
