package client

import (
	"context"
	"net/url"

	"go-chatsync/internal/message"
	"go-chatsync/internal/socket"
	"go-chatsync/pkg/chat"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ChannelView keeps one channel's message cache live.
type ChannelView struct {
	client    *Client
	channelID string
	log       zerolog.Logger
	sync      *message.Synchronizer
	sub       *socket.Subscription
	typing    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
}

// OpenChannel subscribes to channelID. Every (re)connect catches the cache
// up with the newest page over REST.
func (c *Client) OpenChannel(channelID string, onChange func(message.Snapshot)) (*ChannelView, error) {
	ctx, cancel := context.WithCancel(context.Background())
	v := &ChannelView{
		client:    c,
		channelID: channelID,
		log:       c.log.With().Str("channel_id", channelID).Logger(),
		typing:    rate.NewLimiter(rate.Every(c.opts.TypingInterval), 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	v.sync = message.NewSynchronizer(message.Options{
		ChannelID: channelID,
		SelfID:    c.SelfID(),
		Clock:     c.opts.Clock,
		TypingTTL: c.opts.TypingTTL,
		PageSize:  c.opts.PageSize,
		Logger:    c.log,
		Metrics:   c.opts.Metrics,
		OnChange:  onChange,
	})
	v.sub = c.subscription("/ws/channels/"+url.PathEscape(channelID), nil, v.sync.HandleFrame, v.opened)

	if err := v.sub.Open(); err != nil {
		cancel()
		v.sync.Close()
		return nil, err
	}
	return v, nil
}

func (v *ChannelView) opened() {
	go func() {
		if err := v.Refresh(v.ctx); err != nil && v.ctx.Err() == nil {
			v.log.Warn().Err(err).Msg("catch up after connect")
		}
	}()
}

// Refresh fetches the newest page and merges it into the cache.
func (v *ChannelView) Refresh(ctx context.Context) error {
	if v.client.opts.API == nil {
		return nil
	}
	return v.sync.CatchUp(ctx, func(ctx context.Context) ([]chat.Message, error) {
		return v.client.opts.API.FetchMessages(ctx, v.channelID, "", v.sync.PageSize())
	})
}

// LoadOlder fetches the page before the oldest cached message. It is a
// no-op once the start of the channel has been reached.
func (v *ChannelView) LoadOlder(ctx context.Context) error {
	if v.sync.ReachedStart() {
		return nil
	}
	if v.client.opts.API == nil {
		return errors.New("no API configured")
	}
	before := v.sync.OldestID()
	if before == "" {
		return v.Refresh(ctx)
	}
	msgs, err := v.client.opts.API.FetchMessages(ctx, v.channelID, before, v.sync.PageSize())
	if err != nil {
		return errors.Wrap(err, "load older messages")
	}
	v.sync.MergeOlder(msgs)
	return nil
}

// NotifyTyping sends a typing frame, at most once per typing interval. It
// reports whether a frame went out.
func (v *ChannelView) NotifyTyping() bool {
	if !v.typing.AllowN(v.client.opts.Clock.Now(), 1) {
		return false
	}
	return v.sub.Send(chat.Typing())
}

// ApplyLocal shows an optimistic write before the server echoes it.
func (v *ChannelView) ApplyLocal(eventType string, payload any) error {
	return v.sync.ApplyLocal(eventType, payload)
}

func (v *ChannelView) Snapshot() message.Snapshot { return v.sync.Snapshot() }

func (v *ChannelView) State() socket.State { return v.sub.State() }

func (v *ChannelView) Close() {
	v.cancel()
	v.sub.Close()
	v.sync.Close()
}
