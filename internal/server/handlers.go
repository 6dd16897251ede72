package server

import (
	"net/http"
	"strconv"

	"go-chatsync/internal/auth"
	"go-chatsync/pkg/chat"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type credentialsInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshInput struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (s *Server) register(c *gin.Context) {
	var input credentialsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := s.auth.Register(input.Username, input.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": account.ID, "username": account.Username})
}

func (s *Server) login(c *gin.Context) {
	var input credentialsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := s.auth.Login(input.Username, input.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	pair, err := s.auth.IssuePair(account)
	if err != nil {
		s.log.Error().Err(err).Msg("issue token pair")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (s *Server) refresh(c *gin.Context) {
	var input refreshInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pair, err := s.auth.Rotate(input.RefreshToken)
	switch {
	case errors.Is(err, auth.ErrInvalidRefresh):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case err != nil:
		s.log.Error().Err(err).Msg("rotate refresh token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
	default:
		c.JSON(http.StatusOK, pair)
	}
}

func (s *Server) logout(c *gin.Context) {
	var input refreshInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.auth.Revoke(input.RefreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	msgs, err := s.messages.List(c.Param("id"), c.Query("before"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type messageInput struct {
	Content string `json:"content" binding:"required"`
	// ServerID, when set, also notifies the server and personal feeds.
	ServerID string `json:"server_id"`
}

func (s *Server) createMessage(c *gin.Context) {
	var input messageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	channelID := c.Param("id")
	msg, err := s.messages.Create(channelID, c.GetString(auth.ContextUserID), c.GetString(auth.ContextUsername), input.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.publish(channelTopic(channelID), chat.EventMessageCreated, channelID, msg)
	if input.ServerID != "" {
		activity := chat.ChannelActivity{ChannelID: channelID, ServerID: input.ServerID}
		s.publish(serverTopic(input.ServerID), chat.EventChannelMessage, "", activity)
		if f, err := event(chat.EventChannelMessage, "", activity); err == nil {
			s.hub.PublishPrefix(userPrefix, f)
		}
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) editMessage(c *gin.Context) {
	var input messageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	channelID := c.Param("id")
	msg, err := s.messages.Edit(channelID, c.Param("mid"), c.GetString(auth.ContextUserID), input.Content)
	if err != nil {
		s.messageError(c, err)
		return
	}
	s.publish(channelTopic(channelID), chat.EventMessageUpdated, channelID, msg)
	c.JSON(http.StatusOK, msg)
}

func (s *Server) deleteMessage(c *gin.Context) {
	channelID, messageID := c.Param("id"), c.Param("mid")
	if err := s.messages.Delete(channelID, messageID, c.GetString(auth.ContextUserID)); err != nil {
		s.messageError(c, err)
		return
	}
	s.publish(channelTopic(channelID), chat.EventMessageDeleted, channelID,
		chat.MessageRef{MessageID: messageID, ChannelID: channelID})
	c.Status(http.StatusNoContent)
}

// react relays reaction events; the development server does not store
// reactions.
func (s *Server) react(add bool) gin.HandlerFunc {
	eventType := chat.EventReactionRemoved
	if add {
		eventType = chat.EventReactionAdded
	}
	return func(c *gin.Context) {
		channelID := c.Param("id")
		s.publish(channelTopic(channelID), eventType, channelID, chat.ReactionEvent{
			MessageID: c.Param("mid"),
			UserID:    c.GetString(auth.ContextUserID),
			Emoji:     c.Param("emoji"),
		})
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) voicePresence(c *gin.Context) {
	c.JSON(http.StatusOK, s.voice.Presence(c.Param("id")))
}

type eventInput struct {
	// Topic is one of channel:<id>, server:<id>, user:<id>, voice:<id>.
	Topic     string `json:"topic" binding:"required"`
	chat.Frame
}

// publishEvent injects an arbitrary frame, for exercising server-side
// events the development server has no REST surface for.
func (s *Server) publishEvent(c *gin.Context) {
	var input eventInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}
	s.hub.Publish(input.Topic, input.Frame)
	c.Status(http.StatusAccepted)
}

func (s *Server) messageError(c *gin.Context, err error) {
	if errors.Is(err, ErrMessageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) publish(topic, eventType, channelID string, data any) {
	f, err := event(eventType, channelID, data)
	if err != nil {
		s.log.Error().Err(err).Msg("publish")
		return
	}
	s.hub.Publish(topic, f)
}
