package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-chatsync/internal/auth"
	"go-chatsync/internal/rest"
	"go-chatsync/internal/server"
	"go-chatsync/internal/socket"
	"go-chatsync/internal/storage"
	"go-chatsync/internal/voice"
	"go-chatsync/pkg/chat"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type liveEnv struct {
	http *httptest.Server
}

func newLiveEnv(t *testing.T) *liveEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Connect(storage.Options{
		Models: server.Models(),
		Seeds:  []storage.Seed{server.SeedAccount("alice", "pw"), server.SeedAccount("bob", "pw")},
	})
	require.NoError(t, err)
	srv, err := server.New(server.Options{DB: db, Secret: []byte("live-secret")})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		_ = storage.Close(db)
	})
	return &liveEnv{http: ts}
}

// session logs username in and returns a client wired to the dev server.
func (e *liveEnv) session(t *testing.T, username string) (*Client, *rest.Client) {
	t.Helper()
	store := auth.NewMemoryStore("", "")
	api, err := rest.New(rest.Options{BaseURL: e.http.URL, Tokens: store})
	require.NoError(t, err)

	pair, err := api.Login(context.Background(), username, "pw")
	require.NoError(t, err)
	require.NoError(t, store.SetTokens(pair.AccessToken, pair.RefreshToken))

	c := New(Options{
		WSURL:          "ws" + strings.TrimPrefix(e.http.URL, "http"),
		API:            api,
		Credentials:    store,
		Renewer:        auth.NewSharedRefresher(store, api),
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	})
	return c, api
}

type silentMedia struct{}

type silentMic struct{}

func (silentMic) Stop()                    {}
func (silentMic) SetEnabled(bool)          {}
func (silentMic) FrequencyData() []float64 { return []float64{0, 0, 0} }

type noStream struct{}

func (noStream) Stop() {}

func (silentMedia) Microphone(context.Context) (voice.AudioStream, error) { return silentMic{}, nil }
func (silentMedia) Screen(context.Context) (voice.Stream, error)         { return noStream{}, nil }
func (silentMedia) Webcam(context.Context) (voice.Stream, error)         { return noStream{}, nil }

func TestLive_VoiceSessionVisibleToServerView(t *testing.T) {
	env := newLiveEnv(t)
	alice, _ := env.session(t, "alice")
	bob, _ := env.session(t, "bob")

	view, err := bob.OpenServer("s1", ServerViewOptions{})
	require.NoError(t, err)
	t.Cleanup(view.Close)
	require.Eventually(t, func() bool { return view.SocketState() == socket.StateOpen }, timeout, tick)
	// let the server register the session before anything is published
	time.Sleep(50 * time.Millisecond)

	session := voice.NewSession(voice.Options{
		SelfID:   alice.SelfID(),
		Media:    silentMedia{},
		Signaler: alice.VoiceSignaler("s1"),
	})
	require.NoError(t, session.Join(context.Background(), "v1"))
	require.Eventually(t, func() bool { return session.State() == voice.StateConnected }, timeout, tick)

	require.Eventually(t, func() bool { return len(view.Participants("v1")) == 1 }, timeout, tick)
	assert.Equal(t, alice.SelfID(), view.Participants("v1")[0].UserID)

	require.NoError(t, session.SetMuted(true))
	require.Eventually(t, func() bool {
		ps := view.Participants("v1")
		return len(ps) == 1 && ps[0].IsMuted
	}, timeout, tick)

	session.Leave()
	assert.Eventually(t, func() bool { return len(view.Participants("v1")) == 0 }, timeout, tick)
}

func TestLive_TypingReachesOtherChannelViews(t *testing.T) {
	env := newLiveEnv(t)
	alice, _ := env.session(t, "alice")

	view, err := alice.OpenChannel("c1", nil)
	require.NoError(t, err)
	t.Cleanup(view.Close)

	require.Eventually(t, func() bool { return view.sub.Send(chat.Ping()) }, timeout, tick)
	time.Sleep(50 * time.Millisecond)

	bob, _ := env.session(t, "bob")
	bobView, err := bob.OpenChannel("c1", nil)
	require.NoError(t, err)
	t.Cleanup(bobView.Close)
	require.Eventually(t, func() bool { return bobView.State() == socket.StateOpen }, timeout, tick)
	time.Sleep(50 * time.Millisecond)

	assert.True(t, bobView.NotifyTyping())
	assert.Eventually(t, func() bool {
		typing := view.Snapshot().Typing
		return len(typing) == 1 && typing[0].Username == "bob"
	}, timeout, tick)
}
