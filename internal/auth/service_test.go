package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testSecret = []byte("test-secret")

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Account{}, &RefreshToken{}, &StoredCredential{}))
	return db
}

func TestService_Register(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, ServiceOptions{Secret: testSecret})

	tests := []struct {
		name     string
		username string
		password string
		errorMsg string
	}{
		{name: "valid registration", username: "testuser", password: "testpassword"},
		{name: "empty username", username: "", password: "testpassword", errorMsg: "username cannot be empty"},
		{name: "empty password", username: "testuser", password: "", errorMsg: "password cannot be empty"},
		{name: "second valid user", username: "testuser2", password: "testpassword2"},
		{name: "duplicate username", username: "testuser", password: "other", errorMsg: "create account"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, err := service.Register(tt.username, tt.password)
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, account.ID)
			assert.Equal(t, tt.username, account.Username)
			assert.NotEqual(t, tt.password, account.Password)
		})
	}
}

func TestService_Login(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, ServiceOptions{Secret: testSecret})

	_, err := service.Register("alice", "hunter2")
	require.NoError(t, err)

	account, err := service.Login("alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)

	_, err = service.Login("alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login("bob", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_IssuePair(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, ServiceOptions{Secret: testSecret})

	account, err := service.Register("alice", "hunter2")
	require.NoError(t, err)

	pair, err := service.IssuePair(account)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.RefreshToken)

	claims, err := ValidateToken(testSecret, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, claims.UserID())
	assert.Equal(t, "alice", claims.Username)

	var stored RefreshToken
	require.NoError(t, db.First(&stored).Error)
	assert.NotEqual(t, pair.RefreshToken, stored.TokenHash)
	assert.Equal(t, digest(pair.RefreshToken), stored.TokenHash)
}

func TestService_Rotate(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, ServiceOptions{Secret: testSecret})

	account, err := service.Register("alice", "hunter2")
	require.NoError(t, err)
	first, err := service.IssuePair(account)
	require.NoError(t, err)

	second, err := service.Rotate(first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// the consumed token cannot be reused
	_, err = service.Rotate(first.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	_, err = service.Rotate(second.RefreshToken)
	assert.NoError(t, err)
}

func TestService_RotateExpired(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()
	service := NewService(db, ServiceOptions{
		Secret:          testSecret,
		RefreshTokenTTL: time.Hour,
		Now:             func() time.Time { return now },
	})

	account, err := service.Register("alice", "hunter2")
	require.NoError(t, err)
	pair, err := service.IssuePair(account)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = service.Rotate(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestService_Revoke(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, ServiceOptions{Secret: testSecret})

	account, err := service.Register("alice", "hunter2")
	require.NoError(t, err)
	a, err := service.IssuePair(account)
	require.NoError(t, err)
	b, err := service.IssuePair(account)
	require.NoError(t, err)

	require.NoError(t, service.Revoke(a.RefreshToken))
	_, err = service.Rotate(a.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	require.NoError(t, service.RevokeAll(account.ID))
	_, err = service.Rotate(b.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefresh)

	assert.NoError(t, service.Revoke("never-issued"))
}

func TestService_StoresPasswordHash(t *testing.T) {
	service := NewService(setupTestDB(t), ServiceOptions{Secret: testSecret})

	account, err := service.Register("carol", "secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", account.Password)
	assert.True(t, passwordMatches(account.Password, "secret"))
	assert.False(t, passwordMatches(account.Password, "Secret"))
}
