package server

import (
	"time"

	"go-chatsync/pkg/chat"

	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	ChannelTypeText  = "text"
	ChannelTypeVoice = "voice"
)

var (
	ErrChannelNotFound  = errors.New("channel not found")
	ErrNotChannelOwner  = errors.New("only the channel creator can delete it")
	ErrEmptyChannelName = errors.New("channel title cannot be empty")
)

// StoredChannel is a channel row. Servers themselves are not stored: any
// server id names a server that exists.
type StoredChannel struct {
	ID        string `gorm:"primaryKey"`
	ServerID  string `gorm:"index;not null"`
	Title     string `gorm:"not null"`
	Type      string `gorm:"not null"`
	Position  int
	CreatedBy string `gorm:"not null"`
	CreatedAt time.Time
}

func (c *StoredChannel) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID, err = nanoid.New()
	}
	return
}

func (c StoredChannel) wire() chat.Channel {
	return chat.Channel{
		ID:       c.ID,
		ServerID: c.ServerID,
		Title:    c.Title,
		Type:     c.Type,
		Position: c.Position,
	}
}

type ChannelStore struct {
	db *gorm.DB
}

func NewChannelStore(db *gorm.DB) *ChannelStore {
	return &ChannelStore{db: db}
}

// Create appends a channel at the end of the server's list.
func (s *ChannelStore) Create(serverID, actorID, title, kind string) (chat.Channel, error) {
	if title == "" {
		return chat.Channel{}, ErrEmptyChannelName
	}
	if kind == "" {
		kind = ChannelTypeText
	}
	if kind != ChannelTypeText && kind != ChannelTypeVoice {
		return chat.Channel{}, errors.Errorf("unknown channel type %q", kind)
	}

	row := StoredChannel{ServerID: serverID, Title: title, Type: kind, CreatedBy: actorID}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&StoredChannel{}).Where("server_id = ?", serverID).Count(&count).Error; err != nil {
			return err
		}
		row.Position = int(count)
		return tx.Create(&row).Error
	})
	if err != nil {
		return chat.Channel{}, errors.Wrap(err, "create channel")
	}
	return row.wire(), nil
}

func (s *ChannelStore) List(serverID string) ([]chat.Channel, error) {
	var rows []StoredChannel
	if err := s.db.Where("server_id = ?", serverID).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list channels")
	}
	out := make([]chat.Channel, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.wire())
	}
	return out, nil
}

// Delete removes the channel and its messages.
func (s *ChannelStore) Delete(serverID, channelID, actorID string) (chat.Channel, error) {
	var row StoredChannel
	err := s.db.First(&row, "id = ? AND server_id = ?", channelID, serverID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return chat.Channel{}, errors.Wrap(err, "load channel")
	}
	if row.CreatedBy != actorID {
		return chat.Channel{}, ErrNotChannelOwner
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", channelID).Delete(&StoredMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&StoredChannel{}, "id = ?", channelID).Error
	})
	if err != nil {
		return chat.Channel{}, errors.Wrap(err, "delete channel")
	}
	return row.wire(), nil
}
