package server

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const (
	ActionCreateChannel = "CREATE_CHANNEL"
	ActionDeleteChannel = "DELETE_CHANNEL"
)

// AuditEntry records one moderation-relevant action in a server.
type AuditEntry struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ServerID    string    `gorm:"index;not null" json:"server_id"`
	Action      string    `gorm:"not null" json:"action"`
	ActorID     string    `gorm:"not null" json:"actor_id"`
	TargetID    string    `json:"target_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type AuditLog struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditLog(db *gorm.DB, now func() time.Time) *AuditLog {
	return &AuditLog{db: db, now: now}
}

func (a *AuditLog) Record(serverID, action, actorID, targetID, description string) error {
	entry := AuditEntry{
		ServerID:    serverID,
		Action:      action,
		ActorID:     actorID,
		TargetID:    targetID,
		Description: description,
		CreatedAt:   a.now(),
	}
	return errors.Wrap(a.db.Create(&entry).Error, "record audit entry")
}

// List returns the newest entries first, with the total count for paging.
func (a *AuditLog) List(serverID string, limit, offset int) ([]AuditEntry, int64, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	query := a.db.Model(&AuditEntry{}).Where("server_id = ?", serverID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count audit entries")
	}

	var entries []AuditEntry
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&entries).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list audit entries")
	}
	return entries, total, nil
}
