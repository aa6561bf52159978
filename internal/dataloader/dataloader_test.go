package dataloader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/technews/internal/domain"
)

type countingSource struct {
	mu    sync.Mutex
	calls int
	users map[string]*domain.User
	err   error
}

func (s *countingSource) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]*domain.User)
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func TestLoadUsers_BatchesThroughLoader(t *testing.T) {
	src := &countingSource{users: map[string]*domain.User{
		"u1": {ID: "u1", Avatar: "a1"},
		"u2": {ID: "u2", Avatar: "a2"},
	}}
	ctx := WithLoaders(context.Background(), NewLoaders(src, dataloader.WithWait(50*time.Millisecond)))

	users, err := LoadUsers(ctx, src, []string{"u1", "u2", "ghost"})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "a2", users["u2"].Avatar)
	assert.Equal(t, 1, src.calls)

	_, err = LoadUsers(ctx, src, []string{"u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls, "second load must be served from the loader cache")
}

func TestLoadUsers_FallbackWithoutLoader(t *testing.T) {
	src := &countingSource{users: map[string]*domain.User{"u1": {ID: "u1"}}}

	users, err := LoadUsers(context.Background(), src, []string{"u1"})
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestLoadUsers_PropagatesErrors(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	ctx := WithLoaders(context.Background(), NewLoaders(src))

	_, err := LoadUsers(ctx, src, []string{"u1"})
	assert.Error(t, err)
}

func TestMiddleware_InstallsLoaders(t *testing.T) {
	var got *Loaders
	h := Middleware(&countingSource{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = For(r.Context())
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotNil(t, got)
	assert.Nil(t, For(context.Background()))
}
