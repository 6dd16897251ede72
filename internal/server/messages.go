package server

import (
	"time"

	"go-chatsync/pkg/chat"

	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

var ErrMessageNotFound = errors.New("message not found")

// StoredMessage is a channel message row. Seq orders messages that share a
// timestamp.
type StoredMessage struct {
	Seq        uint   `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"uniqueIndex;not null"`
	ChannelID  string `gorm:"index;not null"`
	AuthorID   string `gorm:"not null"`
	AuthorName string
	Content    string
	CreatedAt  time.Time
	EditedAt   *time.Time
}

func (m *StoredMessage) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID, err = nanoid.New()
	}
	return
}

func (m StoredMessage) wire() chat.Message {
	return chat.Message{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		Author:      chat.Author{ID: m.AuthorID, Username: m.AuthorName},
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
		EditedAt:    m.EditedAt,
		Attachments: []chat.Attachment{},
		Reactions:   []chat.Reaction{},
	}
}

// MessageStore persists channel history for the development server.
type MessageStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMessageStore(db *gorm.DB, now func() time.Time) *MessageStore {
	if now == nil {
		now = time.Now
	}
	return &MessageStore{db: db, now: now}
}

// List returns up to limit messages older than beforeID (or the newest ones
// when beforeID is empty), oldest first. An unknown cursor yields the
// newest page.
func (s *MessageStore) List(channelID, beforeID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	query := s.db.Where("channel_id = ?", channelID)
	if beforeID != "" {
		var before StoredMessage
		if err := s.db.First(&before, "id = ?", beforeID).Error; err == nil {
			query = query.Where("seq < ?", before.Seq)
		}
	}

	var rows []StoredMessage
	if err := query.Order("seq DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list messages")
	}

	out := make([]chat.Message, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.wire()
	}
	return out, nil
}

func (s *MessageStore) Create(channelID, authorID, authorName, content string) (chat.Message, error) {
	if content == "" {
		return chat.Message{}, errors.New("content cannot be empty")
	}
	row := StoredMessage{
		ChannelID:  channelID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Content:    content,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return chat.Message{}, errors.Wrap(err, "create message")
	}
	return row.wire(), nil
}

// Edit changes the content of a message written by authorID.
func (s *MessageStore) Edit(channelID, messageID, authorID, content string) (chat.Message, error) {
	row, err := s.owned(channelID, messageID, authorID)
	if err != nil {
		return chat.Message{}, err
	}
	edited := s.now().UTC()
	row.Content = content
	row.EditedAt = &edited
	if err := s.db.Save(&row).Error; err != nil {
		return chat.Message{}, errors.Wrap(err, "edit message")
	}
	return row.wire(), nil
}

func (s *MessageStore) Delete(channelID, messageID, authorID string) error {
	row, err := s.owned(channelID, messageID, authorID)
	if err != nil {
		return err
	}
	return errors.Wrap(s.db.Delete(&row).Error, "delete message")
}

func (s *MessageStore) owned(channelID, messageID, authorID string) (StoredMessage, error) {
	var row StoredMessage
	err := s.db.Where("id = ? AND channel_id = ? AND author_id = ?", messageID, channelID, authorID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, ErrMessageNotFound
	}
	return row, err
}
