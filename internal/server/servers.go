package server

import (
	"net/http"
	"strconv"

	"go-chatsync/internal/auth"
	"go-chatsync/pkg/chat"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// serverSnapshot lists the stored channels. Members are the users that
// currently hold a socket on the server topic.
func (s *Server) serverSnapshot(c *gin.Context) {
	serverID := c.Param("id")
	channels, err := s.channels.List(serverID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, chat.ServerSnapshot{
		ServerID:   serverID,
		Channels:   channels,
		Categories: []chat.Category{},
		Members:    s.hub.Members(serverTopic(serverID), serverID),
		Roles:      []chat.Role{},
		Invites:    []chat.Invite{},
	})
}

type channelInput struct {
	Title string `json:"title" binding:"required"`
	Type  string `json:"type"`
}

func (s *Server) createChannel(c *gin.Context) {
	var input channelInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	serverID, actorID := c.Param("id"), c.GetString(auth.ContextUserID)
	ch, err := s.channels.Create(serverID, actorID, input.Title, input.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.audit(serverID, ActionCreateChannel, actorID, ch.ID, "Created channel '"+ch.Title+"'")
	s.publish(serverTopic(serverID), chat.EventChannelCreated, "", ch)
	c.JSON(http.StatusCreated, ch)
}

func (s *Server) deleteChannel(c *gin.Context) {
	serverID, actorID := c.Param("id"), c.GetString(auth.ContextUserID)
	ch, err := s.channels.Delete(serverID, c.Param("cid"), actorID)
	switch {
	case errors.Is(err, ErrChannelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ErrNotChannelOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.audit(serverID, ActionDeleteChannel, actorID, ch.ID, "Deleted channel '"+ch.Title+"'")
	s.publish(serverTopic(serverID), chat.EventChannelDeleted, "", chat.ChannelRef{ID: ch.ID, ServerID: serverID})
	c.Status(http.StatusNoContent)
}

func (s *Server) auditLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	entries, total, err := s.audits.List(c.Param("id"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

// audit failures are logged and never fail the request.
func (s *Server) audit(serverID, action, actorID, targetID, description string) {
	if err := s.audits.Record(serverID, action, actorID, targetID, description); err != nil {
		s.log.Warn().Err(err).Str("action", action).Msg("audit")
	}
}
