package auth

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// StoredCredential is the single row persisted by SQLiteStore.
type StoredCredential struct {
	ID           uint `gorm:"primaryKey"`
	AccessToken  string
	RefreshToken string
	UpdatedAt    time.Time
}

const credentialRowID = 1

// SQLiteStore persists credentials so a restarted client can reconnect
// without logging in again. Reads are served from memory.
type SQLiteStore struct {
	db *gorm.DB

	mu      sync.RWMutex
	access  string
	refresh string
}

// NewSQLiteStore loads the stored pair, if any. The StoredCredential table
// must already be migrated.
func NewSQLiteStore(db *gorm.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	var row StoredCredential
	err := db.First(&row, "id = ?", credentialRowID).Error
	switch {
	case err == nil:
		s.access = row.AccessToken
		s.refresh = row.RefreshToken
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, errors.Wrap(err, "load credentials")
	}
	return s, nil
}

func (s *SQLiteStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

func (s *SQLiteStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func (s *SQLiteStore) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := StoredCredential{ID: credentialRowID, AccessToken: access, RefreshToken: refresh}
	if err := s.db.Save(&row).Error; err != nil {
		return errors.Wrap(err, "save credentials")
	}
	s.access = access
	s.refresh = refresh
	return nil
}

func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.access = ""
	s.refresh = ""
	if err := s.db.Delete(&StoredCredential{}, credentialRowID).Error; err != nil {
		return errors.Wrap(err, "clear credentials")
	}
	return nil
}
