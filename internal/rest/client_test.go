package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-chatsync/internal/auth"
	"go-chatsync/pkg/chat"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL + "/", Tokens: auth.NewMemoryStore(token, "")})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestClient_Login(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Password != "secret" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid username or password"})
			return
		}
		writeJSON(w, http.StatusOK, auth.TokenPair{AccessToken: "a1", RefreshToken: "r1"})
	}, "")

	pair, err := c.Login(context.Background(), "john", "secret")
	require.NoError(t, err)
	assert.Equal(t, auth.TokenPair{AccessToken: "a1", RefreshToken: "r1"}, pair)

	_, err = c.Login(context.Background(), "john", "wrong")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid username or password", apiErr.Message)
}

func TestClient_Refresh(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    any
		want    auth.TokenPair
		wantErr error
	}{
		{
			name:   "rotated pair",
			status: http.StatusOK,
			body:   auth.TokenPair{AccessToken: "a2", RefreshToken: "r2"},
			want:   auth.TokenPair{AccessToken: "a2", RefreshToken: "r2"},
		},
		{
			name:    "revoked refresh token",
			status:  http.StatusUnauthorized,
			body:    map[string]string{"error": "invalid or revoked refresh token"},
			wantErr: ErrUnauthorized,
		},
		{
			name:   "incomplete pair",
			status: http.StatusOK,
			body:   auth.TokenPair{AccessToken: "a2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body refreshRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "r1", body.RefreshToken)
				writeJSON(w, tt.status, tt.body)
			}, "")

			pair, err := c.Refresh(context.Background(), "r1")
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.want == (auth.TokenPair{}):
				assert.Error(t, err)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, pair)
			}
		})
	}
}

func TestClient_FetchMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/c1/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "m5", r.URL.Query().Get("before"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, []chat.Message{{ID: "m3"}, {ID: "m4"}})
	}, "tok")

	msgs, err := c.FetchMessages(context.Background(), "c1", "m5", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m3", msgs[0].ID)
}

func TestClient_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}, "expired")

	_, err := c.FetchMessages(context.Background(), "c1", "", 0)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_FetchVoicePresence(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers/s1/voice-presence", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string][]chat.Participant{
			"v1": {{UserID: "u1", IsMuted: true}},
		})
	}, "tok")

	presence, err := c.PresenceFetcher("s1")(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []chat.Participant{{UserID: "u1", IsMuted: true}}, presence["v1"])
}

func TestClient_FetchServer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers/s1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, chat.ServerSnapshot{
			ServerID: "s1",
			Channels: []chat.Channel{{ID: "c1", ServerID: "s1", Title: "general"}},
			Roles:    []chat.Role{{ID: "r1", ServerID: "s1", Name: "mod"}},
		})
	}, "tok")

	state, err := c.FetchServer(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", state.ServerID)
	require.Len(t, state.Channels, 1)
	assert.Equal(t, "general", state.Channels[0].Title)
	assert.Len(t, state.Roles, 1)
	assert.Empty(t, state.Members)
}

func TestClient_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []chat.Message{})
	}, "tok")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchMessages(ctx, "c1", "", 0)
	assert.ErrorIs(t, err, context.Canceled)
}
