package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Account is a user of the development server.
type Account struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;not null"`
	Password  string `gorm:"not null"`
	CreatedAt time.Time
}

func (a *Account) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID, err = nanoid.New()
	}
	return
}

// RefreshToken stores the digest of an issued refresh token.
type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"`
	AccountID string `gorm:"index;not null"`
	TokenHash string `gorm:"uniqueIndex;not null"`
	ExpiresAt int64  `gorm:"not null"`
}

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidRefresh     = errors.New("invalid or revoked refresh token")
)

type ServiceOptions struct {
	Secret          []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Now             func() time.Time
}

// Service issues and rotates token pairs for the development server.
type Service struct {
	db   *gorm.DB
	opts ServiceOptions
}

func NewService(db *gorm.DB, opts ServiceOptions) *Service {
	if opts.AccessTokenTTL == 0 {
		opts.AccessTokenTTL = 15 * time.Minute
	}
	if opts.RefreshTokenTTL == 0 {
		opts.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{db: db, opts: opts}
}

func (s *Service) Register(username, password string) (*Account, error) {
	if username == "" {
		return nil, errors.New("username cannot be empty")
	}
	if password == "" {
		return nil, errors.New("password cannot be empty")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	account := Account{Username: username, Password: string(hashed)}
	if err := s.db.Create(&account).Error; err != nil {
		return nil, errors.Wrap(err, "create account")
	}
	return &account, nil
}

func (s *Service) Login(username, password string) (*Account, error) {
	var account Account
	if err := s.db.Where("username = ?", username).First(&account).Error; err != nil {
		return nil, ErrInvalidCredentials
	}
	if !passwordMatches(account.Password, password) {
		return nil, ErrInvalidCredentials
	}
	return &account, nil
}

// IssuePair signs an access token and stores a new refresh token.
func (s *Service) IssuePair(account *Account) (TokenPair, error) {
	now := s.opts.Now()
	access, err := GenerateToken(s.opts.Secret, account.ID, account.Username, s.opts.AccessTokenTTL, now)
	if err != nil {
		return TokenPair{}, errors.Wrap(err, "sign access token")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return TokenPair{}, err
	}
	refresh := base64.RawURLEncoding.EncodeToString(raw)

	row := RefreshToken{
		AccountID: account.ID,
		TokenHash: digest(refresh),
		ExpiresAt: now.Add(s.opts.RefreshTokenTTL).Unix(),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return TokenPair{}, errors.Wrap(err, "store refresh token")
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Rotate consumes a refresh token and returns a new pair.
func (s *Service) Rotate(refresh string) (TokenPair, error) {
	var pair TokenPair
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var row RefreshToken
		if err := tx.Where("token_hash = ? AND expires_at > ?", digest(refresh), s.opts.Now().Unix()).
			First(&row).Error; err != nil {
			return ErrInvalidRefresh
		}
		if err := tx.Delete(&row).Error; err != nil {
			return err
		}

		var account Account
		if err := tx.First(&account, "id = ?", row.AccountID).Error; err != nil {
			return ErrInvalidRefresh
		}

		issued, err := (&Service{db: tx, opts: s.opts}).IssuePair(&account)
		if err != nil {
			return err
		}
		pair = issued
		return nil
	})
	return pair, err
}

// Revoke deletes a refresh token. Unknown tokens are not an error.
func (s *Service) Revoke(refresh string) error {
	return s.db.Where("token_hash = ?", digest(refresh)).Delete(&RefreshToken{}).Error
}

// RevokeAll ends every session of an account.
func (s *Service) RevokeAll(accountID string) error {
	return s.db.Where("account_id = ?", accountID).Delete(&RefreshToken{}).Error
}

// digest is deterministic so refresh tokens can be looked up by index;
// bcrypt's salting would force a scan.
func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func passwordMatches(hashed, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
