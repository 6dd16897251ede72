package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

type stubRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (s *stubRefresher) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	n := s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return TokenPair{}, ctx.Err()
		}
	}
	if s.err != nil {
		return TokenPair{}, s.err
	}
	return TokenPair{
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: fmt.Sprintf("refresh-%d", n),
	}, nil
}

func TestSharedRefresher_Renew(t *testing.T) {
	store := NewMemoryStore("stale", "refresh-0")
	stub := &stubRefresher{}
	r := NewSharedRefresher(store, stub)

	token, err := r.Renew(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, "access-1", store.AccessToken())
	assert.Equal(t, "refresh-1", store.RefreshToken())
}

func TestSharedRefresher_AlreadyRenewed(t *testing.T) {
	store := NewMemoryStore("fresh", "refresh-0")
	stub := &stubRefresher{}
	r := NewSharedRefresher(store, stub)

	token, err := r.Renew(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Zero(t, stub.calls.Load())
}

func TestSharedRefresher_Concurrent(t *testing.T) {
	store := NewMemoryStore("stale", "refresh-0")
	stub := &stubRefresher{release: make(chan struct{})}
	r := NewSharedRefresher(store, stub)

	const callers = 3
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	started := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			tokens[i], errs[i] = r.Renew(context.Background(), "stale")
		}(i)
	}
	for i := 0; i < callers; i++ {
		<-started
	}

	require.Eventually(t, func() bool { return stub.calls.Load() == 1 }, timeout, tick)
	close(stub.release)
	wg.Wait()

	assert.EqualValues(t, 1, stub.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-1", tokens[i])
	}
}

func TestSharedRefresher_CallerCancelDoesNotFailOthers(t *testing.T) {
	store := NewMemoryStore("stale", "refresh-0")
	stub := &stubRefresher{release: make(chan struct{})}
	r := NewSharedRefresher(store, stub)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Renew(ctxA, "stale")
		errA <- err
	}()
	require.Eventually(t, func() bool { return stub.calls.Load() == 1 }, timeout, tick)

	type result struct {
		token string
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		token, err := r.Renew(context.Background(), "stale")
		resB <- result{token, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(timeout):
		t.Fatal("cancelled caller did not return")
	}

	close(stub.release)
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Equal(t, "access-1", res.token)
	case <-time.After(timeout):
		t.Fatal("second caller did not return")
	}
	assert.EqualValues(t, 1, stub.calls.Load())
	assert.Equal(t, "refresh-1", store.RefreshToken())
}

func TestSharedRefresher_Failure(t *testing.T) {
	store := NewMemoryStore("stale", "refresh-0")
	stub := &stubRefresher{err: errors.New("401")}
	r := NewSharedRefresher(store, stub)

	_, err := r.Renew(context.Background(), "stale")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh access token")
	assert.Equal(t, "stale", store.AccessToken())
}

func TestSharedRefresher_NoRefreshToken(t *testing.T) {
	r := NewSharedRefresher(NewMemoryStore("stale", ""), &stubRefresher{})

	_, err := r.Renew(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestSQLiteStore(t *testing.T) {
	db := setupTestDB(t)

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	assert.Empty(t, store.AccessToken())

	require.NoError(t, store.SetTokens("a1", "r1"))
	require.NoError(t, store.SetTokens("a2", "r2"))

	reloaded, err := NewSQLiteStore(db)
	require.NoError(t, err)
	assert.Equal(t, "a2", reloaded.AccessToken())
	assert.Equal(t, "r2", reloaded.RefreshToken())

	require.NoError(t, reloaded.Clear())
	assert.Empty(t, reloaded.AccessToken())

	cleared, err := NewSQLiteStore(db)
	require.NoError(t, err)
	assert.Empty(t, cleared.RefreshToken())
}
