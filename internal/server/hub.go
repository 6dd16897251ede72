package server

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go-chatsync/pkg/chat"

	"github.com/olahol/melody"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Session keys set when a socket is upgraded.
const (
	keyUserID   = "user_id"
	keyUsername = "username"
	keyTopic    = "topic"
	keyServerID = "server_id"
	keyJoinedAt = "joined_at"
)

const (
	channelPrefix = "channel:"
	serverPrefix  = "server:"
	userPrefix    = "user:"
	voicePrefix   = "voice:"
)

func channelTopic(id string) string { return channelPrefix + id }
func serverTopic(id string) string  { return serverPrefix + id }
func userTopic(id string) string    { return userPrefix + id }
func voiceTopic(id string) string   { return voicePrefix + id }

// Hub fans frames out to the melody sessions subscribed to a topic. Every
// socket path maps to exactly one topic.
type Hub struct {
	m   *melody.Melody
	log zerolog.Logger
}

func NewHub(m *melody.Melody, log zerolog.Logger) *Hub {
	return &Hub{m: m, log: log}
}

// Publish sends f to every session on topic.
func (h *Hub) Publish(topic string, f chat.Frame) {
	h.broadcast(f, func(s *melody.Session) bool { return sessionString(s, keyTopic) == topic })
}

// PublishExcept is Publish without the originating session.
func (h *Hub) PublishExcept(topic string, f chat.Frame, except *melody.Session) {
	h.broadcast(f, func(s *melody.Session) bool {
		return s != except && sessionString(s, keyTopic) == topic
	})
}

// PublishPrefix sends f to every topic starting with prefix, e.g. all
// personal feeds.
func (h *Hub) PublishPrefix(prefix string, f chat.Frame) {
	h.broadcast(f, func(s *melody.Session) bool {
		return strings.HasPrefix(sessionString(s, keyTopic), prefix)
	})
}

func (h *Hub) broadcast(f chat.Frame, filter func(*melody.Session) bool) {
	data, err := json.Marshal(f)
	if err != nil {
		h.log.Error().Err(err).Str("type", f.Type).Msg("encode frame")
		return
	}
	if err := h.m.BroadcastFilter(data, filter); err != nil {
		h.log.Debug().Err(err).Str("type", f.Type).Msg("broadcast")
	}
}

// Write sends one frame to a single session.
func (h *Hub) Write(s *melody.Session, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("encode frame")
		return
	}
	if err := s.Write(data); err != nil {
		h.log.Debug().Err(err).Msg("write to session")
	}
}

// Members lists the distinct users with a session on topic, by user id.
// JoinedAt is the earliest of their connections.
func (h *Hub) Members(topic, serverID string) []chat.Member {
	sessions, err := h.m.Sessions()
	if err != nil {
		h.log.Debug().Err(err).Msg("list sessions")
		return []chat.Member{}
	}
	byUser := make(map[string]chat.Member)
	for _, s := range sessions {
		userID := sessionString(s, keyUserID)
		if userID == "" || sessionString(s, keyTopic) != topic {
			continue
		}
		joined, _ := s.Get(keyJoinedAt)
		at, _ := joined.(time.Time)
		m, ok := byUser[userID]
		if !ok || at.Before(m.JoinedAt) {
			byUser[userID] = chat.Member{UserID: userID, ServerID: serverID, JoinedAt: at, RoleIDs: []string{}}
		}
	}
	out := make([]chat.Member, 0, len(byUser))
	for _, m := range byUser {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// event builds a frame for delivery; channelID is set on server-wide
// sockets so clients can route it.
func event(eventType, channelID string, data any) (chat.Frame, error) {
	f, err := chat.NewFrame(eventType, data)
	if err != nil {
		return chat.Frame{}, errors.Wrap(err, "build event")
	}
	f.ChannelID = channelID
	return f, nil
}

func sessionString(s *melody.Session, key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}
