package server

import (
	"encoding/json"
	"strings"

	"go-chatsync/internal/auth"
	"go-chatsync/internal/socket"
	"go-chatsync/pkg/chat"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/olahol/melody"
)

// upgrade hands the request to melody. Authentication already ran in
// QueryTokenMiddleware; an unauthenticated socket is accepted and then
// closed with 4001 so clients see the same signal as for a token that
// expires mid-session.
func (s *Server) upgrade(topic func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := map[string]any{keyTopic: topic(c), keyJoinedAt: s.opts.Now()}
		if userID := c.GetString(auth.ContextUserID); userID != "" {
			keys[keyUserID] = userID
			keys[keyUsername] = c.GetString(auth.ContextUsername)
		}
		if serverID := c.Query("server_id"); serverID != "" {
			keys[keyServerID] = serverID
		}
		if err := s.melody.HandleRequestWithKeys(c.Writer, c.Request, keys); err != nil {
			s.log.Debug().Err(err).Msg("upgrade failed")
		}
	}
}

func (s *Server) onConnect(sess *melody.Session) {
	userID := sessionString(sess, keyUserID)
	if userID == "" {
		msg := websocket.FormatCloseMessage(socket.CloseTokenInvalid, "invalid or expired token")
		_ = sess.CloseWithMsg(msg)
		return
	}

	topic := sessionString(sess, keyTopic)
	s.log.Debug().Str("topic", topic).Str("user_id", userID).Msg("socket connected")

	if channelID, ok := strings.CutPrefix(topic, voicePrefix); ok {
		s.joinVoice(sess, channelID, userID)
	}
}

func (s *Server) onDisconnect(sess *melody.Session) {
	userID := sessionString(sess, keyUserID)
	if userID == "" {
		return
	}
	topic := sessionString(sess, keyTopic)
	if channelID, ok := strings.CutPrefix(topic, voicePrefix); ok {
		serverID := s.voice.ServerOf(channelID)
		if s.voice.Leave(channelID, userID, sess) {
			s.voiceEvent(channelID, serverID, chat.EventVoiceUserLeft, chat.UserRef{UserID: userID}, nil)
		}
	}
}

func (s *Server) onMessage(sess *melody.Session, data []byte) {
	userID := sessionString(sess, keyUserID)
	if userID == "" {
		return
	}

	var in chat.VoiceStateFrame
	if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
		s.log.Debug().Msg("ignoring malformed client frame")
		return
	}

	topic := sessionString(sess, keyTopic)
	switch {
	case in.Type == chat.FramePing:
		s.hub.Write(sess, chat.OutboundFrame{Type: chat.EventPong})

	case in.Type == chat.FrameTyping && strings.HasPrefix(topic, channelPrefix):
		channelID := strings.TrimPrefix(topic, channelPrefix)
		f, err := event(chat.EventTypingStart, channelID, chat.TypingStart{
			UserID:   userID,
			Username: sessionString(sess, keyUsername),
		})
		if err == nil {
			s.hub.PublishExcept(topic, f, sess)
		}

	case strings.HasPrefix(topic, voicePrefix):
		channelID := strings.TrimPrefix(topic, voicePrefix)
		p, ok := s.voice.Update(channelID, userID, sess, in)
		if !ok {
			return
		}
		s.voiceEvent(channelID, s.voice.ServerOf(channelID), chat.EventVoiceStateChanged, p, nil)
	}
}

func (s *Server) joinVoice(sess *melody.Session, channelID, userID string) {
	serverID := sessionString(sess, keyServerID)
	p := chat.Participant{UserID: userID}
	members := s.voice.Join(channelID, serverID, p, sess)

	if f, err := event(chat.EventVoiceMembers, channelID, members); err == nil {
		s.hub.Write(sess, f)
	}
	s.voiceEvent(channelID, serverID, chat.EventVoiceUserJoined, p, sess)
}

// voiceEvent notifies the other members of the voice channel and, if the
// channel belongs to a server, that server's socket.
func (s *Server) voiceEvent(channelID, serverID, eventType string, data any, except *melody.Session) {
	f, err := event(eventType, channelID, data)
	if err != nil {
		s.log.Error().Err(err).Msg("voice event")
		return
	}
	s.hub.PublishExcept(voiceTopic(channelID), f, except)
	if serverID != "" {
		s.hub.Publish(serverTopic(serverID), f)
	}
}
