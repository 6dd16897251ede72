package storage

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func seedWidget(db *gorm.DB) error {
	return db.FirstOrCreate(&widget{}, widget{Name: "first"}).Error
}

func TestConnect_MigratesAndSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 2; i++ {
		db, err := Connect(Options{Path: path, Models: []any{&widget{}}, Seeds: []Seed{seedWidget}})
		require.NoError(t, err)

		var count int64
		require.NoError(t, db.Model(&widget{}).Count(&count).Error)
		assert.EqualValues(t, 1, count, "seed is idempotent")
		require.NoError(t, Close(db))
	}
}

func TestConnect_MemoryIsShared(t *testing.T) {
	db, err := Connect(Options{Models: []any{&widget{}}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, db.Create(&widget{Name: "a"}).Error)

	var got widget
	require.NoError(t, db.First(&got, "name = ?", "a").Error)
	assert.Equal(t, "a", got.Name)
}

func TestConnect_SeedFailure(t *testing.T) {
	_, err := Connect(Options{Seeds: []Seed{func(*gorm.DB) error { return errors.New("boom") }}})
	assert.ErrorContains(t, err, "boom")
}
