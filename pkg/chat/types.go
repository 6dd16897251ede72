package chat

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Inbound event types delivered over the realtime sockets.
const (
	EventMessageCreated = "message.created"
	EventMessageUpdated = "message.updated"
	EventMessageDeleted = "message.deleted"
	EventReactionAdded   = "reaction.added"
	EventReactionRemoved = "reaction.removed"
	EventTypingStart     = "typing.start"

	EventChannelCreated      = "channel.created"
	EventChannelUpdated      = "channel.updated"
	EventChannelDeleted      = "channel.deleted"
	EventChannelsReordered   = "channels.reordered"
	EventCategoryCreated     = "category.created"
	EventCategoryUpdated     = "category.updated"
	EventCategoryDeleted     = "category.deleted"
	EventCategoriesReordered = "categories.reordered"
	EventChannelMessage      = "channel.message"

	EventVoiceMembers      = "voice.members"
	EventVoiceUserJoined   = "voice.user_joined"
	EventVoiceUserLeft     = "voice.user_left"
	EventVoiceStateChanged = "voice.state_changed"

	EventUserStatusChanged = "user.status_changed"

	EventMemberJoined  = "server.member_joined"
	EventMemberLeft    = "server.member_left"
	EventMemberKicked  = "server.member_kicked"
	EventMemberBanned  = "server.member_banned"
	EventMemberUpdated = "server.member_updated"

	EventRoleCreated  = "role.created"
	EventRoleUpdated  = "role.updated"
	EventRoleDeleted  = "role.deleted"
	EventRoleAssigned = "role.assigned"
	EventRoleRemoved  = "role.removed"

	EventInviteCreated = "invite.created"
	EventInviteDeleted = "invite.deleted"

	EventPong = "pong"
)

// Outbound frame types.
const (
	FramePing        = "ping"
	FrameTyping      = "typing"
	FrameMute        = "mute"
	FrameDeafen      = "deafen"
	FrameScreenShare = "screen_share"
	FrameWebcam      = "webcam"
	FrameSpeaking    = "speaking"
)

// ErrMalformedFrame is returned by DecodeFrame for anything that is not a
// JSON object carrying a string "type".
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is the envelope of every inbound socket message.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	ChannelID string          `json:"channel_id,omitempty"`
	ServerID  string          `json:"server_id,omitempty"`
}

// DecodeFrame parses one raw socket message.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if f.Type == "" {
		return Frame{}, errors.Wrap(ErrMalformedFrame, "missing type")
	}
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return errors.Wrapf(ErrMalformedFrame, "%s: empty data", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return errors.Wrapf(err, "decode %s payload", f.Type)
	}
	return nil
}

// NewFrame builds an inbound-shaped frame. Used for local optimistic writes
// so they share the reducers with socket-delivered events.
func NewFrame(eventType string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "encode %s payload", eventType)
	}
	return Frame{Type: eventType, Data: raw}, nil
}

// OutboundFrame is a frame without payload, e.g. ping or typing.
type OutboundFrame struct {
	Type string `json:"type"`
}

// Ping is the heartbeat frame.
func Ping() OutboundFrame { return OutboundFrame{Type: FramePing} }

// Typing announces that the local user is composing a message.
func Typing() OutboundFrame { return OutboundFrame{Type: FrameTyping} }

// VoiceStateFrame carries one local media toggle to the voice socket.
type VoiceStateFrame struct {
	Type       string `json:"type"`
	IsMuted    *bool  `json:"is_muted,omitempty"`
	IsDeafened *bool  `json:"is_deafened,omitempty"`
	IsSpeaking *bool  `json:"is_speaking,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
}

func VoiceMute(muted bool) VoiceStateFrame {
	return VoiceStateFrame{Type: FrameMute, IsMuted: &muted}
}

func VoiceDeafen(deafened bool) VoiceStateFrame {
	return VoiceStateFrame{Type: FrameDeafen, IsDeafened: &deafened}
}

func VoiceScreenShare(enabled bool) VoiceStateFrame {
	return VoiceStateFrame{Type: FrameScreenShare, Enabled: &enabled}
}

func VoiceWebcam(enabled bool) VoiceStateFrame {
	return VoiceStateFrame{Type: FrameWebcam, Enabled: &enabled}
}

func VoiceSpeaking(speaking bool) VoiceStateFrame {
	return VoiceStateFrame{Type: FrameSpeaking, IsSpeaking: &speaking}
}
