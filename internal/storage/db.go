// Package storage opens the sqlite databases used by the client (stored
// credentials) and by the development server (accounts, refresh tokens,
// messages).
package storage

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

// Seed inserts rows a fresh database needs. It must be idempotent.
type Seed func(db *gorm.DB) error

type Options struct {
	Path   string
	Models []any
	Seeds  []Seed
	Logger zerolog.Logger
}

// Connect opens the database, migrates Models and runs Seeds.
func Connect(opts Options) (*gorm.DB, error) {
	if opts.Path == "" {
		opts.Path = Memory
	}

	db, err := gorm.Open(sqlite.Open(opts.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", opts.Path)
	}

	if opts.Path == Memory {
		// every pooled connection would otherwise get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "sql handle")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if len(opts.Models) > 0 {
		if err := db.AutoMigrate(opts.Models...); err != nil {
			return nil, errors.Wrap(err, "migrate")
		}
	}

	for _, seed := range opts.Seeds {
		if err := seed(db); err != nil {
			return nil, errors.Wrap(err, "seed")
		}
	}

	opts.Logger.Debug().Str("path", opts.Path).Int("models", len(opts.Models)).Msg("database ready")
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
