package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go-chatsync/internal/auth"
	"go-chatsync/internal/clock"
	"go-chatsync/internal/serverstate"
	"go-chatsync/internal/socket"
	"go-chatsync/pkg/chat"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	timeout = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) FetchMessages(ctx context.Context, channelID, before string, limit int) ([]chat.Message, error) {
	args := m.Called(ctx, channelID, before, limit)
	msgs, _ := args.Get(0).([]chat.Message)
	return msgs, args.Error(1)
}

func (m *mockAPI) FetchVoicePresence(ctx context.Context, serverID string) (serverstate.Presence, error) {
	args := m.Called(ctx, serverID)
	p, _ := args.Get(0).(serverstate.Presence)
	return p, args.Error(1)
}

func (m *mockAPI) FetchServer(ctx context.Context, serverID string) (serverstate.State, error) {
	args := m.Called(ctx, serverID)
	st, _ := args.Get(0).(serverstate.State)
	return st, args.Error(1)
}

// pipeConn is an in-process socket: tests push inbound frames and read
// back what was written.
type pipeConn struct {
	reads chan []byte
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	written []string
}

func newPipeConn() *pipeConn {
	return &pipeConn{reads: make(chan []byte), done: make(chan struct{})}
}

func (c *pipeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.reads:
		return websocket.TextMessage, data, nil
	case <-c.done:
		return 0, nil, errors.New("closed")
	}
}

func (c *pipeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var f chat.OutboundFrame
	_ = json.Unmarshal(data, &f)
	c.written = append(c.written, f.Type)
	return nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *pipeConn) push(t *testing.T, eventType string, data any) {
	t.Helper()
	f, err := chat.NewFrame(eventType, data)
	require.NoError(t, err)
	raw, err := json.Marshal(f)
	require.NoError(t, err)
	select {
	case c.reads <- raw:
	case <-time.After(timeout):
		t.Fatal("nobody is reading")
	}
}

func (c *pipeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

type fixture struct {
	client *Client
	clk    *clock.FakeClock
	api    *mockAPI

	mu    sync.Mutex
	conns map[string]*pipeConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clk:   clock.Fake(time.Unix(1000, 0)),
		api:   &mockAPI{},
		conns: make(map[string]*pipeConn),
	}
	f.client = New(Options{
		WSURL:       "ws://chat.test/",
		API:         f.api,
		Credentials: auth.NewMemoryStore("tok", "ref"),
		Clock:       f.clk,
		Dialer: socket.DialerFunc(func(_ context.Context, rawURL string) (socket.Conn, error) {
			c := newPipeConn()
			f.mu.Lock()
			f.conns[rawURL] = c
			f.mu.Unlock()
			return c, nil
		}),
	})
	return f
}

func (f *fixture) conn(t *testing.T, rawURL string) *pipeConn {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conns[rawURL]
	require.True(t, ok, "no connection to %s (have %v)", rawURL, f.conns)
	return c
}

func TestActiveServers(t *testing.T) {
	a := NewActiveServers()
	assert.False(t, a.Contains("s1"))

	r1 := a.Add("s1")
	r2 := a.Add("s1")
	assert.True(t, a.Contains("s1"))

	r1()
	r1()
	assert.True(t, a.Contains("s1"), "second mount still active")
	r2()
	assert.False(t, a.Contains("s1"))
}

func TestChannelView_CatchUpAndPaging(t *testing.T) {
	f := newFixture(t)
	f.client.opts.PageSize = 2

	t0 := time.Unix(0, 0).UTC()
	m := func(id string, minute int) chat.Message {
		return chat.Message{ID: id, CreatedAt: t0.Add(time.Duration(minute) * time.Minute)}
	}

	f.api.On("FetchMessages", mock.Anything, "c1", "", 2).Return([]chat.Message{m("c", 3), m("d", 4)}, nil).Once()
	f.api.On("FetchMessages", mock.Anything, "c1", "c", 2).Return([]chat.Message{m("a", 1)}, nil).Once()

	view, err := f.client.OpenChannel("c1", nil)
	require.NoError(t, err)
	t.Cleanup(view.Close)

	require.Eventually(t, func() bool { return len(view.Snapshot().Messages) == 2 }, timeout, tick)

	require.NoError(t, view.LoadOlder(context.Background()))
	snap := view.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "a", snap.Messages[0].ID)
	assert.True(t, snap.ReachedStart)

	require.NoError(t, view.LoadOlder(context.Background()), "no fetch past the start")
	f.api.AssertExpectations(t)
}

func TestChannelView_FramesAndTypingThrottle(t *testing.T) {
	f := newFixture(t)
	f.api.On("FetchMessages", mock.Anything, "c1", "", 50).Return([]chat.Message{}, nil).Maybe()

	var mu sync.Mutex
	var typing []string
	view, err := f.client.OpenChannel("c1", nil)
	require.NoError(t, err)
	t.Cleanup(view.Close)

	conn := f.conn(t, "ws://chat.test/ws/channels/c1?token=tok")
	conn.push(t, chat.EventMessageCreated, chat.Message{ID: "m1", Author: chat.Author{ID: "u2"}})
	conn.push(t, chat.EventTypingStart, chat.TypingStart{UserID: "u3", Username: "carol"})
	require.Eventually(t, func() bool {
		snap := view.Snapshot()
		mu.Lock()
		defer mu.Unlock()
		typing = nil
		for _, u := range snap.Typing {
			typing = append(typing, u.Username)
		}
		return len(snap.Messages) == 1 && len(typing) == 1
	}, timeout, tick)
	assert.Equal(t, []string{"carol"}, typing)

	assert.True(t, view.NotifyTyping())
	assert.False(t, view.NotifyTyping(), "throttled")
	f.clk.Advance(DefaultTypingInterval + time.Millisecond)
	assert.True(t, view.NotifyTyping())
	assert.Equal(t, []string{chat.FrameTyping, chat.FrameTyping}, conn.writes())
}

func TestChannelView_OpenWithoutToken(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.opts.Credentials.Clear())

	_, err := f.client.OpenChannel("c1", nil)
	assert.ErrorIs(t, err, socket.ErrNoToken)
}

func TestPersonalFeed(t *testing.T) {
	f := newFixture(t)

	var activity []chat.ChannelActivity
	var mu sync.Mutex
	feed, err := f.client.OpenPersonalFeed(FeedOptions{
		OnActivity: func(a chat.ChannelActivity) {
			mu.Lock()
			defer mu.Unlock()
			activity = append(activity, a)
		},
	})
	require.NoError(t, err)
	t.Cleanup(feed.Close)

	release := f.client.ActiveServers().Add("s1")
	t.Cleanup(release)

	conn := f.conn(t, "ws://chat.test/ws/me?token=tok")
	conn.push(t, chat.EventChannelMessage, chat.ChannelActivity{ChannelID: "c1", ServerID: "s1"})
	conn.push(t, chat.EventChannelMessage, chat.ChannelActivity{ChannelID: "c2", ServerID: "s2"})
	conn.push(t, chat.EventChannelMessage, chat.ChannelActivity{ChannelID: "c2", ServerID: "s2"})
	conn.push(t, chat.EventUserStatusChanged, chat.StatusChanged{UserID: "u2", Status: "idle"})

	require.Eventually(t, func() bool {
		_, ok := feed.Status("u2")
		return ok
	}, timeout, tick)
	assert.Equal(t, map[string]int{"c2": 2}, feed.Unread().Unread(), "active server is counted by its own socket")
	mu.Lock()
	assert.Len(t, activity, 2)
	mu.Unlock()

	f.clk.Advance(DefaultHeartbeat)
	assert.Eventually(t, func() bool { return len(conn.writes()) == 1 }, timeout, tick)
	assert.Equal(t, []string{chat.FramePing}, conn.writes())
}

func TestServerView_RegistersActiveAndRefetches(t *testing.T) {
	f := newFixture(t)
	f.api.On("FetchVoicePresence", mock.Anything, "s1").
		Return(serverstate.Presence{"v1": {{UserID: "u2"}}}, nil).Once()

	view, err := f.client.OpenServer("s1", ServerViewOptions{})
	require.NoError(t, err)
	assert.True(t, f.client.ActiveServers().Contains("s1"))

	require.Eventually(t, func() bool { return len(view.Participants("v1")) == 1 }, timeout, tick)

	conn := f.conn(t, "ws://chat.test/ws/servers/s1?token=tok")
	view.SetActiveChannel("c1")
	conn.push(t, chat.EventChannelMessage, chat.ChannelActivity{ChannelID: "c1", ServerID: "s1"})
	conn.push(t, chat.EventChannelMessage, chat.ChannelActivity{ChannelID: "c2", ServerID: "s1"})
	assert.Eventually(t, func() bool { return view.Unread().Count("c2") == 1 }, timeout, tick)
	assert.Zero(t, view.Unread().Count("c1"))

	f.api.On("FetchServer", mock.Anything, "s1").
		Return(serverstate.State{Channels: []chat.Channel{{ID: "c1", ServerID: "s1"}}}, nil).Once()
	require.NoError(t, view.Reload(context.Background()))
	assert.Len(t, view.State().Channels, 1)
	assert.Equal(t, "s1", view.State().ServerID)

	view.Close()
	assert.False(t, f.client.ActiveServers().Contains("s1"))
	f.api.AssertExpectations(t)
}

func TestVoiceSignaler(t *testing.T) {
	f := newFixture(t)
	sig := f.client.VoiceSignaler("s1")

	assert.False(t, sig.Send(chat.VoiceMute(true)), "not connected")

	got := make(chan chat.Frame, 1)
	require.NoError(t, sig.Connect("v1", func(fr chat.Frame) { got <- fr }))

	conn := f.conn(t, "ws://chat.test/ws/voice/v1?server_id=s1&token=tok")
	conn.push(t, chat.EventVoiceMembers, []chat.Participant{{UserID: "u2"}})
	select {
	case fr := <-got:
		assert.Equal(t, chat.EventVoiceMembers, fr.Type)
	case <-time.After(timeout):
		t.Fatal("frame not delivered")
	}

	assert.True(t, sig.Send(chat.VoiceMute(true)))
	assert.Equal(t, []string{chat.FrameMute}, conn.writes())

	sig.Disconnect()
	assert.False(t, sig.Send(chat.VoiceMute(false)))
}
