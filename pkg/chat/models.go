package chat

import "time"

type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Attachment struct {
	ID       string `json:"id"`
	FilePath string `json:"file_path"`
	FileType string `json:"file_type"`
}

// Reaction is one (user, emoji) pair. A message holds them as a set.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id,omitempty"`
	Author      Author       `json:"author"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"created_at"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
	ReplyToID   *string      `json:"reply_to_id,omitempty"`
	Attachments []Attachment `json:"attachments"`
	Reactions   []Reaction   `json:"reactions"`
}

// HasReaction reports whether the pair is already in the reaction set.
func (m Message) HasReaction(r Reaction) bool {
	for _, existing := range m.Reactions {
		if existing == r {
			return true
		}
	}
	return false
}

type Channel struct {
	ID          string  `json:"id"`
	ServerID    string  `json:"server_id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Type        string  `json:"type"`
	Position    int     `json:"position"`
	CategoryID  *string `json:"category_id,omitempty"`
}

type Category struct {
	ID       string `json:"id"`
	ServerID string `json:"server_id"`
	Title    string `json:"title"`
	Position int    `json:"position"`
}

type Role struct {
	ID       string `json:"id"`
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	Position int    `json:"position"`
}

type Member struct {
	UserID   string    `json:"user_id"`
	ServerID string    `json:"server_id"`
	Nickname *string   `json:"nickname,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
	RoleIDs  []string  `json:"role_ids"`
}

type Invite struct {
	Code     string `json:"code"`
	ServerID string `json:"server_id"`
}

// Participant is one user's media state inside a voice channel.
type Participant struct {
	UserID          string `json:"user_id"`
	IsMuted         bool   `json:"is_muted"`
	IsDeafened      bool   `json:"is_deafened"`
	IsSharingScreen bool   `json:"is_sharing_screen"`
	IsSharingWebcam bool   `json:"is_sharing_webcam"`
	IsSpeaking      bool   `json:"is_speaking"`
}

// Payloads of the id-only events.

type MessageRef struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id,omitempty"`
}

type ReactionEvent struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

func (e ReactionEvent) Reaction() Reaction {
	return Reaction{UserID: e.UserID, Emoji: e.Emoji}
}

type TypingStart struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type ChannelRef struct {
	ID        string `json:"id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	ServerID  string `json:"server_id,omitempty"`
}

// Key returns whichever id field the server populated.
func (r ChannelRef) Key() string {
	if r.ChannelID != "" {
		return r.ChannelID
	}
	return r.ID
}

type CategoryRef struct {
	ID         string `json:"id,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
}

func (r CategoryRef) Key() string {
	if r.CategoryID != "" {
		return r.CategoryID
	}
	return r.ID
}

type MemberRef struct {
	ServerID string `json:"server_id"`
	UserID   string `json:"user_id"`
}

type RoleRef struct {
	ServerID string `json:"server_id"`
	RoleID   string `json:"role_id"`
	UserID   string `json:"user_id,omitempty"`
}

type StatusChanged struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type UserRef struct {
	UserID string `json:"user_id"`
}

type ChannelActivity struct {
	ChannelID string `json:"channel_id"`
	ServerID  string `json:"server_id"`
}

// ServerSnapshot is the REST view of a server used to seed the realtime
// state before events are applied.
type ServerSnapshot struct {
	ServerID   string     `json:"server_id"`
	Channels   []Channel  `json:"channels"`
	Categories []Category `json:"categories"`
	Members    []Member   `json:"members"`
	Roles      []Role     `json:"roles"`
	Invites    []Invite   `json:"invites"`
}
