package client

import (
	"net/url"
	"sync"

	"go-chatsync/internal/socket"
	"go-chatsync/pkg/chat"
)

// VoiceSignaler implements voice.Signaler over a socket subscription to
// /ws/voice/{channel}. The subscription reconnects like any other; the
// server answers each connect with a fresh voice.members snapshot.
type VoiceSignaler struct {
	client   *Client
	serverID string

	mu  sync.Mutex
	sub *socket.Subscription
}

// VoiceSignaler returns a signaler for voice channels of serverID.
func (c *Client) VoiceSignaler(serverID string) *VoiceSignaler {
	return &VoiceSignaler{client: c, serverID: serverID}
}

func (s *VoiceSignaler) Connect(channelID string, handler func(chat.Frame)) error {
	var q url.Values
	if s.serverID != "" {
		q = url.Values{"server_id": {s.serverID}}
	}
	sub := s.client.subscription("/ws/voice/"+url.PathEscape(channelID), q, handler, nil)

	s.mu.Lock()
	old := s.sub
	s.sub = sub
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	if err := sub.Open(); err != nil {
		s.Disconnect()
		return err
	}
	return nil
}

func (s *VoiceSignaler) Send(v any) bool {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return false
	}
	return sub.Send(v)
}

func (s *VoiceSignaler) Disconnect() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}
