package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/storage"
	"github.com/UkralStul/technews/internal/storage/storagetest"
)

func TestStore_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage { return New() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	post, err := s.CreatePost(ctx, &domain.Post{Title: "Оригинал", AuthorID: "a"})
	require.NoError(t, err)
	_, err = s.AppendComment(ctx, post.ID, &domain.Comment{AuthorID: "a", Text: "Первый"})
	require.NoError(t, err)

	got, err := s.GetPostByID(ctx, post.ID)
	require.NoError(t, err)
	got.Title = "Изменено"
	got.Comments[0].Text = "Изменено"
	got.Comments = append(got.Comments, &domain.Comment{ID: "fake"})

	again, err := s.GetPostByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Оригинал", again.Title)
	require.Len(t, again.Comments, 1)
	assert.Equal(t, "Первый", again.Comments[0].Text)

	u, err := s.CreateUser(ctx, &domain.User{Username: "u", Email: "u@example.com"})
	require.NoError(t, err)
	_, err = s.AddSubscription(ctx, u.ID, "x")
	require.NoError(t, err)
	fetched, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	fetched.Subscriptions[0] = "y"

	fresh, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", fresh.Subscriptions[0])
}
