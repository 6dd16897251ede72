// Package rest is the client for the request/response half of the chat
// API: login, token refresh and the snapshots the sync layer refetches
// after a reconnect.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go-chatsync/internal/auth"
	"go-chatsync/internal/serverstate"
	"go-chatsync/pkg/chat"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrUnauthorized is returned for any 401 answer. Callers holding a
// refresh token may retry after auth.SharedRefresher.Renew.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx answer other than 401.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// TokenSource supplies the bearer token; auth.CredentialStore satisfies it.
type TokenSource interface {
	AccessToken() string
}

type Options struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	log     zerolog.Logger
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("rest: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, errors.Wrapf(err, "rest: invalid base URL %q", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		tokens:  opts.Tokens,
		http:    httpClient,
		log:     opts.Logger,
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, username, password string) (auth.TokenPair, error) {
	var pair auth.TokenPair
	err := c.do(ctx, http.MethodPost, "/auth/login", nil, loginRequest{username, password}, false, &pair)
	if err != nil {
		return auth.TokenPair{}, errors.Wrap(err, "login")
	}
	return pair, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh implements auth.TokenRefresher. The returned refresh token
// replaces the one sent, which the server has revoked.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	var pair auth.TokenPair
	err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, refreshRequest{refreshToken}, false, &pair)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return auth.TokenPair{}, errors.New("refresh response is missing a token")
	}
	return pair, nil
}

// FetchMessages returns up to limit messages of channelID older than the
// message before (or the newest ones if before is empty), oldest first.
func (c *Client) FetchMessages(ctx context.Context, channelID, before string, limit int) ([]chat.Message, error) {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var msgs []chat.Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, q, nil, true, &msgs); err != nil {
		return nil, errors.Wrapf(err, "fetch messages of %s", channelID)
	}
	return msgs, nil
}

// FetchVoicePresence returns the participants of every voice channel of
// serverID, keyed by channel id.
func (c *Client) FetchVoicePresence(ctx context.Context, serverID string) (serverstate.Presence, error) {
	var presence serverstate.Presence
	path := "/servers/" + url.PathEscape(serverID) + "/voice-presence"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, true, &presence); err != nil {
		return nil, errors.Wrapf(err, "fetch voice presence of %s", serverID)
	}
	if presence == nil {
		presence = serverstate.Presence{}
	}
	return presence, nil
}

// FetchServer returns the server's channels, members, roles and invites as
// the initial state for serverstate.Synchronizer.Load.
func (c *Client) FetchServer(ctx context.Context, serverID string) (serverstate.State, error) {
	var snap chat.ServerSnapshot
	if err := c.do(ctx, http.MethodGet, "/servers/"+url.PathEscape(serverID), nil, nil, true, &snap); err != nil {
		return serverstate.State{}, errors.Wrapf(err, "fetch server %s", serverID)
	}
	return serverstate.State{
		ServerID:   serverID,
		Channels:   snap.Channels,
		Categories: snap.Categories,
		Members:    snap.Members,
		Roles:      snap.Roles,
		Invites:    snap.Invites,
	}, nil
}

// PresenceFetcher binds FetchVoicePresence to one server for
// serverstate.Synchronizer.RefetchPresence.
func (c *Client) PresenceFetcher(serverID string) func(context.Context) (serverstate.Presence, error) {
	return func(ctx context.Context) (serverstate.Presence, error) {
		return c.FetchVoicePresence(ctx, serverID)
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any, authed bool, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authed && c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api request")

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// errorMessage pulls {"error": "..."} out of a failure body.
func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
