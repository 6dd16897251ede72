package auth

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var ErrNoRefreshToken = errors.New("no refresh token stored")

// refreshTimeout bounds a shared refresh, which outlives any one caller.
const refreshTimeout = 15 * time.Second

// TokenPair is what the refresh endpoint returns. The refresh token rotates
// on every call.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenRefresher exchanges a refresh token for a new pair.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// SharedRefresher coordinates refreshes for every subscription that shares
// one CredentialStore. Because the server rotates refresh tokens, two
// independent refreshes with the same token would invalidate each other;
// concurrent callers therefore share a single in-flight call.
type SharedRefresher struct {
	store     CredentialStore
	refresher TokenRefresher
	group     singleflight.Group
}

func NewSharedRefresher(store CredentialStore, refresher TokenRefresher) *SharedRefresher {
	return &SharedRefresher{store: store, refresher: refresher}
}

// Renew returns a fresh access token to replace rejected. If another
// subscription already replaced it, the stored token is returned without a
// network call. On success the new pair is written to the store.
// Cancelling ctx only abandons this caller's wait; the shared refresh keeps
// running for the others.
func (r *SharedRefresher) Renew(ctx context.Context, rejected string) (string, error) {
	if current := r.store.AccessToken(); current != "" && current != rejected {
		return current, nil
	}

	refreshToken := r.store.RefreshToken()
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	ch := r.group.DoChan(refreshToken, func() (any, error) {
		// a call that finished just before this one already rotated the pair
		if r.store.RefreshToken() != refreshToken {
			return r.store.AccessToken(), nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		pair, err := r.refresher.Refresh(rctx, refreshToken)
		if err != nil {
			return "", errors.Wrap(err, "refresh access token")
		}
		if err := r.store.SetTokens(pair.AccessToken, pair.RefreshToken); err != nil {
			return "", err
		}
		return pair.AccessToken, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}
