// Package socket maintains one realtime websocket per logical path,
// reconnecting with exponential backoff and refreshing the access token when
// the server rejects it.
package socket

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"go-chatsync/internal/clock"
	"go-chatsync/internal/metrics"
	"go-chatsync/pkg/chat"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrNoToken     = errors.New("no access token")
	ErrNoRenewer   = errors.New("no token renewer configured")
	ErrAuthFailure = errors.New("access token rejected and could not be refreshed")
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateWaiting
	StateClosed
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateWaiting:
		return "waiting"
	case StateClosed:
		return "closed"
	case StateAuthFailed:
		return "auth_failed"
	}
	return "unknown"
}

// Credentials is the part of auth.CredentialStore a subscription reads.
type Credentials interface {
	AccessToken() string
	Clear() error
}

// Renewer replaces a rejected access token and persists the new one.
// auth.SharedRefresher implements it.
type Renewer interface {
	Renew(ctx context.Context, rejected string) (string, error)
}

type Options struct {
	// URL of the endpoint without the token query, e.g.
	// ws://localhost:9876/ws/channels/abc.
	URL         string
	Credentials Credentials
	Renewer     Renewer
	Dialer      Dialer
	Clock       clock.Clock

	// Handler receives every decoded frame, in delivery order, from the
	// subscription's read goroutine. It must not call Close on the same
	// subscription.
	Handler func(chat.Frame)

	// OnOpen runs after each successful connect, e.g. to refetch state
	// that may have changed while disconnected.
	OnOpen func()

	// OnAuthFailure runs once when a rejected token cannot be refreshed.
	// Credentials are already cleared when it is called.
	OnAuthFailure func(error)

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Subscription owns at most one live connection to one path.
//
// Every connect attempt, reconnect timer and read loop is tagged with the
// generation current when it started. Close and terminal auth failures bump
// the generation first, so anything tagged with an older one does nothing
// when it eventually runs.
type Subscription struct {
	id   string
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	state   State
	conn    Conn
	timer   clock.Timer
	backoff *backoff.ExponentialBackOff
	ctx     context.Context
	cancel  context.CancelFunc

	dispatchMu sync.Mutex
	writeMu    sync.Mutex
}

func New(opts Options) *Subscription {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
	}

	id, err := nanoid.New(10)
	if err != nil {
		id = "sub"
	}

	path := opts.URL
	if u, err := url.Parse(opts.URL); err == nil {
		path = u.Path
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     opts.InitialBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         opts.MaxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               opts.Clock,
	}
	b.Reset()

	return &Subscription{
		id:      id,
		opts:    opts,
		log:     opts.Logger.With().Str("subscription", id).Str("path", path).Logger(),
		backoff: b,
		ctx:     context.Background(),
		cancel:  func() {},
	}
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Open makes the first connection attempt synchronously. A failed dial is
// not an error: it is retried with backoff. Only a missing token prevents
// the subscription from starting. Open on a running subscription is a no-op.
func (s *Subscription) Open() error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateOpen, StateWaiting:
		s.mu.Unlock()
		return nil
	}
	if s.opts.Credentials == nil || s.opts.Credentials.AccessToken() == "" {
		s.state = StateIdle
		s.mu.Unlock()
		return ErrNoToken
	}

	s.gen++
	gen := s.gen
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.backoff.Reset()
	s.state = StateConnecting
	s.mu.Unlock()

	s.connect(gen)
	return nil
}

// Close tears the subscription down. No handler call, reconnect or refresh
// started before Close has any effect once it returns.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateClosed
	s.cancel()
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	// wait out a handler that is already running
	s.dispatchMu.Lock()
	s.dispatchMu.Unlock()
}

// Send marshals v and writes it if the socket is open. Delivery is not
// guaranteed; the result only reports whether a write was attempted and
// succeeded locally.
func (s *Subscription) Send(v any) bool {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn().Err(err).Msg("encode outbound frame")
		return false
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug().Err(err).Msg("write failed")
		return false
	}
	return true
}

func (s *Subscription) connect(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	token := s.opts.Credentials.AccessToken()
	if token == "" {
		s.state = StateIdle
		s.mu.Unlock()
		s.log.Info().Msg("no access token, not connecting")
		return
	}
	s.state = StateConnecting
	ctx := s.ctx
	s.mu.Unlock()

	conn, err := s.opts.Dialer.Dial(ctx, s.endpoint(token))

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.state = StateWaiting
		s.mu.Unlock()
		s.log.Debug().Err(err).Uint64("generation", gen).Msg("connect failed")
		s.closed(gen, token, err)
		return
	}
	s.conn = conn
	s.state = StateOpen
	s.backoff.Reset()
	s.mu.Unlock()

	s.opts.Metrics.SocketOpened()
	s.log.Debug().Uint64("generation", gen).Msg("connected")
	if s.opts.OnOpen != nil {
		s.opts.OnOpen()
	}
	go s.readLoop(gen, token, conn)
}

func (s *Subscription) readLoop(gen uint64, token string, conn Conn) {
	defer s.opts.Metrics.SocketClosed()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()

			s.mu.Lock()
			if gen == s.gen && s.conn == conn {
				s.conn = nil
				s.state = StateWaiting
			}
			s.mu.Unlock()

			s.closed(gen, token, err)
			return
		}

		frame, err := chat.DecodeFrame(data)
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping frame")
			s.opts.Metrics.Dropped("malformed")
			continue
		}
		if !s.dispatch(gen, frame) {
			return
		}
	}
}

func (s *Subscription) dispatch(gen uint64, frame chat.Frame) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.Generation() != gen {
		return false
	}
	if s.opts.Handler != nil {
		s.opts.Handler(frame)
	}
	return true
}

// closed handles a dropped connection or failed dial for generation gen.
func (s *Subscription) closed(gen uint64, token string, cause error) {
	if s.Generation() != gen {
		return
	}

	reason := "close"
	if CloseCode(cause) == CloseTokenInvalid {
		reason = "auth"
		if !s.renew(gen, token) {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	delay := s.backoff.NextBackOff()
	s.state = StateWaiting
	s.timer = s.opts.Clock.AfterFunc(delay, func() { s.connect(gen) })
	s.opts.Metrics.Reconnect(reason)
	s.log.Info().
		Err(cause).
		Dur("delay", delay).
		Int("close_code", CloseCode(cause)).
		Msg("reconnect scheduled")
}

// renew refreshes a rejected token. On failure the subscription becomes
// terminal: credentials are cleared and the caller is told to log in again.
func (s *Subscription) renew(gen uint64, token string) bool {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	err := ErrNoRenewer
	if s.opts.Renewer != nil {
		_, err = s.opts.Renewer.Renew(ctx, token)
	}
	if err == nil {
		s.opts.Metrics.Refresh("ok")
		s.log.Info().Msg("access token refreshed")
		return true
	}
	if ctx.Err() != nil {
		// closed while refreshing; the credentials were never rejected
		return false
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}
	s.gen++
	s.state = StateAuthFailed
	s.cancel()
	s.mu.Unlock()

	s.opts.Metrics.Refresh("failed")
	s.log.Warn().Err(err).Msg("token refresh failed, re-authentication required")

	if cerr := s.opts.Credentials.Clear(); cerr != nil {
		s.log.Error().Err(cerr).Msg("clear credentials")
	}
	if s.opts.OnAuthFailure != nil {
		s.opts.OnAuthFailure(errors.Wrap(ErrAuthFailure, err.Error()))
	}
	return false
}

func (s *Subscription) endpoint(token string) string {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return s.opts.URL + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
