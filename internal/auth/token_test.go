package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateToken(t *testing.T) {
	now := time.Now()

	valid, err := GenerateToken(testSecret, "u1", "alice", time.Minute, now)
	require.NoError(t, err)
	expired, err := GenerateToken(testSecret, "u1", "alice", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	foreign, err := GenerateToken([]byte("other"), "u1", "alice", time.Minute, now)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "valid", token: valid},
		{name: "expired", token: expired, wantErr: true},
		{name: "wrong secret", token: foreign, wantErr: true},
		{name: "unsigned", token: none, wantErr: true},
		{name: "garbage", token: "not.a.token", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ValidateToken(testSecret, tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", claims.UserID())
		})
	}
}

func TestParseClaims(t *testing.T) {
	token, err := GenerateToken([]byte("unknown-to-client"), "u42", "bob", time.Minute, time.Now())
	require.NoError(t, err)

	claims, err := ParseClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "u42", claims.UserID())
	assert.Equal(t, "bob", claims.Username)

	_, err = ParseClaims("garbage")
	assert.Error(t, err)
}
