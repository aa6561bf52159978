// Package storagetest - общий набор проверок для реализаций storage.Storage.
// Каждое хранилище вызывает Run из своего _test.go.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/storage"
)

// Run прогоняет все проверки. newStore должен возвращать пустое хранилище.
func Run(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	t.Run("Posts", func(t *testing.T) { testPosts(t, newStore(t)) })
	t.Run("PostStatus", func(t *testing.T) { testPostStatus(t, newStore(t)) })
	t.Run("ConcurrentPostStatus", func(t *testing.T) { testConcurrentPostStatus(t, newStore(t)) })
	t.Run("Comments", func(t *testing.T) { testComments(t, newStore(t)) })
	t.Run("ConcurrentCommentTree", func(t *testing.T) { testConcurrentCommentTree(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, newStore(t)) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, newStore(t)) })
	t.Run("Likes", func(t *testing.T) { testLikes(t, newStore(t)) })
	t.Run("ConcurrentLikes", func(t *testing.T) { testConcurrentLikes(t, newStore(t)) })
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func createUser(t *testing.T, s storage.Storage, name string) *domain.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), &domain.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		Avatar:       "https://example.com/" + name + ".png",
		CreatedAt:    base,
	})
	require.NoError(t, err)
	return u
}

func createPost(t *testing.T, s storage.Storage, authorID, category string) *domain.Post {
	t.Helper()
	p, err := s.CreatePost(context.Background(), &domain.Post{
		Title:       "Заголовок",
		Description: "Описание",
		Body:        "Текст",
		Category:    category,
		AuthorID:    authorID,
		CreatedAt:   base,
	})
	require.NoError(t, err)
	return p
}

func testPosts(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	author := createUser(t, s, "author")
	other := createUser(t, s, "other")

	p1 := createPost(t, s, author.ID, "ai")
	p2 := createPost(t, s, author.ID, "space")
	p3 := createPost(t, s, other.ID, "ai")
	assert.NotEmpty(t, p1.ID)
	assert.NotEqual(t, p1.ID, p2.ID)
	assert.Equal(t, domain.StatusPending, p1.Status)
	assert.Zero(t, p1.LikeCount)

	got, err := s.GetPostByID(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Заголовок", got.Title)
	assert.Empty(t, got.Comments)

	_, err = s.GetPostByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := s.ListPosts(ctx, storage.PostFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ai, err := s.ListPosts(ctx, storage.PostFilter{Category: "ai"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{p1.ID, p3.ID}, ids(ai))

	byAuthor, err := s.ListPosts(ctx, storage.PostFilter{AuthorIDs: []string{author.ID}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{p1.ID, p2.ID}, ids(byAuthor))

	none, err := s.ListPosts(ctx, storage.PostFilter{AuthorIDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.DeletePost(ctx, p2.ID))
	assert.ErrorIs(t, s.DeletePost(ctx, p2.ID), domain.ErrNotFound)
	_, err = s.GetPostByID(ctx, p2.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testPostStatus(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	author := createUser(t, s, "author")
	p := createPost(t, s, author.ID, "ai")

	rejected, err := s.UpdatePostStatus(ctx, p.ID, domain.StatusPending, domain.StatusRejected, "мало фактов")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, "мало фактов", rejected.RejectionReason)

	// Статья уже не pending: переход по устаревшему состоянию ничего не меняет
	_, err = s.UpdatePostStatus(ctx, p.ID, domain.StatusPending, domain.StatusPublished, "")
	assert.ErrorIs(t, err, domain.ErrConflict)
	got, err := s.GetPostByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
	assert.Equal(t, "мало фактов", got.RejectionReason)

	published := domain.StatusPublished
	list, err := s.ListPosts(ctx, storage.PostFilter{Status: &published})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.UpdatePostStatus(ctx, p.ID, domain.StatusPending, "archived", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.UpdatePostStatus(ctx, "missing", domain.StatusPending, domain.StatusPublished, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testConcurrentPostStatus(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	author := createUser(t, s, "author")
	p := createPost(t, s, author.ID, "ai")

	targets := []domain.PostStatus{
		domain.StatusPublished, domain.StatusRejected,
		domain.StatusPublished, domain.StatusRejected,
		domain.StatusPublished, domain.StatusRejected,
	}
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner []domain.PostStatus
	)
	for _, to := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdatePostStatus(ctx, p.ID, domain.StatusPending, to, "причина "+string(to))
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrConflict)
				return
			}
			mu.Lock()
			winner = append(winner, to)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, winner, 1, "exactly one transition out of pending wins")
	got, err := s.GetPostByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, winner[0], got.Status)
	assert.Equal(t, "причина "+string(winner[0]), got.RejectionReason)
}

func testComments(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	author := createUser(t, s, "author")
	p := createPost(t, s, author.ID, "ai")

	a, err := s.AppendComment(ctx, p.ID, &domain.Comment{AuthorID: author.ID, Text: "A", CreatedAt: base})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, p.ID, a.PostID)

	b, err := s.AppendComment(ctx, p.ID, &domain.Comment{AuthorID: author.ID, Text: "B", ParentID: &a.ID, CreatedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	c, err := s.AppendComment(ctx, p.ID, &domain.Comment{AuthorID: author.ID, Text: "C", CreatedAt: base.Add(2 * time.Minute)})
	require.NoError(t, err)

	_, err = s.AppendComment(ctx, p.ID, &domain.Comment{AuthorID: author.ID, Text: "  "})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = s.AppendComment(ctx, "missing", &domain.Comment{AuthorID: author.ID, Text: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	unknown := "unknown"
	_, err = s.AppendComment(ctx, p.ID, &domain.Comment{AuthorID: author.ID, Text: "x", ParentID: &unknown})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	other := createPost(t, s, author.ID, "space")
	_, err = s.AppendComment(ctx, other.ID, &domain.Comment{AuthorID: author.ID, Text: "x", ParentID: &a.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound, "parent must belong to the same post")

	flat, err := s.GetComments(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, flat, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, commentIDs(flat))
	require.NotNil(t, flat[1].ParentID)
	assert.Equal(t, a.ID, *flat[1].ParentID)

	post, err := s.GetPostByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, post.Comments, 3)

	// Ответ, добавленный уже после того, как вызывающий прочитал ветку,
	// удаляется вместе с ней: поддерево вычисляет само хранилище.
	late, err := s.AppendComment(ctx, p.ID, &domain.Comment{AuthorID: author.ID, Text: "D", ParentID: &b.ID, CreatedAt: base.Add(3 * time.Minute)})
	require.NoError(t, err)

	removed, err := s.RemoveCommentTree(ctx, p.ID, a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID, late.ID}, removed)

	flat, err = s.GetComments(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, commentIDs(flat))

	_, err = s.GetComments(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.RemoveCommentTree(ctx, "missing", c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.RemoveCommentTree(ctx, p.ID, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// testConcurrentCommentTree проверяет, что параллельные ответы внутрь
// удаляемой ветки не остаются в статье без родителя.
func testConcurrentCommentTree(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	author := createUser(t, s, "author")
	p := createPost(t, s, author.ID, "ai")

	root, err := s.AppendComment(ctx, p.ID, &domain.Comment{AuthorID: author.ID, Text: "root", CreatedAt: base})
	require.NoError(t, err)
	child, err := s.AppendComment(ctx, p.ID, &domain.Comment{AuthorID: author.ID, Text: "child", ParentID: &root.ID, CreatedAt: base})
	require.NoError(t, err)
	keep, err := s.AppendComment(ctx, p.ID, &domain.Comment{AuthorID: author.ID, Text: "keep", CreatedAt: base})
	require.NoError(t, err)

	const writers = 8
	var (
		wg        sync.WaitGroup
		removeErr error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendComment(ctx, p.ID, &domain.Comment{AuthorID: author.ID, Text: "reply", ParentID: &child.ID})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrNotFound)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, removeErr = s.RemoveCommentTree(ctx, p.ID, root.ID)
	}()
	wg.Wait()

	if removeErr != nil {
		// Хранилище с оптимистичной проверкой может сдаться при постоянных изменениях
		require.ErrorIs(t, removeErr, domain.ErrConflict)
		_, err = s.RemoveCommentTree(ctx, p.ID, root.ID)
		require.NoError(t, err)
	}

	flat, err := s.GetComments(ctx, p.ID)
	require.NoError(t, err)
	present := make(map[string]bool, len(flat))
	for _, c := range flat {
		present[c.ID] = true
	}
	for _, c := range flat {
		if c.ParentID != nil {
			assert.True(t, present[*c.ParentID], "comment %s lost its parent %s", c.ID, *c.ParentID)
		}
	}
	assert.Equal(t, []string{keep.ID}, commentIDs(flat))
}

func testUsers(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	u := createUser(t, s, "ivan")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, domain.RoleUser, u.Role)

	_, err := s.CreateUser(ctx, &domain.User{Username: "ivan2", Email: "ivan@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = s.CreateUser(ctx, &domain.User{Username: "ivan", Email: "other@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	byID, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ivan", byID.Username)

	byMail, err := s.GetUserByEmail(ctx, "ivan@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byMail.ID)

	byName, err := s.GetUserByUsername(ctx, "ivan")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	petr := createUser(t, s, "petr")
	batch, err := s.GetUsersByIDs(ctx, []string{u.ID, petr.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, "petr", batch[petr.ID].Username)

	bio := "Пишу о космосе"
	updated, err := s.UpdateUser(ctx, u.ID, domain.UserUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, bio, updated.Bio)
	assert.Equal(t, "https://example.com/ivan.png", updated.Avatar)

	_, err = s.UpdateUser(ctx, "missing", domain.UserUpdate{Bio: &bio})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testSubscriptions(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	a := createUser(t, s, "alice")
	b := createUser(t, s, "bob")
	c := createUser(t, s, "carol")

	changed, err := s.AddSubscription(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.AddSubscription(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, changed)
	_, err = s.AddSubscription(ctx, c.ID, b.ID)
	require.NoError(t, err)

	got, err := s.GetUserByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, got.Subscriptions)

	subs, err := s.ListSubscribers(ctx, b.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(subs))
	for _, u := range subs {
		names = append(names, u.Username)
	}
	assert.ElementsMatch(t, []string{"alice", "carol"}, names)

	changed, err = s.RemoveSubscription(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.RemoveSubscription(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.AddSubscription(ctx, "missing", b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testNotifications(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	u := createUser(t, s, "author")

	require.NoError(t, s.PushNotification(ctx, u.ID, domain.Notification{PostID: "p1", Message: "Статья отклонена", CreatedAt: base}))
	require.NoError(t, s.PushNotification(ctx, u.ID, domain.Notification{Message: "Ещё одно", CreatedAt: base.Add(time.Minute)}))
	assert.ErrorIs(t, s.PushNotification(ctx, "missing", domain.Notification{Message: "x"}), domain.ErrNotFound)

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, got.Notifications, 2)
	assert.Equal(t, "Статья отклонена", got.Notifications[0].Message)
	assert.Equal(t, "p1", got.Notifications[0].PostID)
	assert.NotEmpty(t, got.Notifications[0].ID)
	assert.False(t, got.Notifications[0].Read)

	require.NoError(t, s.MarkNotificationsRead(ctx, u.ID))
	got, err = s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	for _, n := range got.Notifications {
		assert.True(t, n.Read)
	}
}

func testLikes(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	author := createUser(t, s, "author")
	reader := createUser(t, s, "reader")
	p := createPost(t, s, author.ID, "ai")
	like := domain.Like{PostID: p.ID, UserID: reader.ID, CreatedAt: base}

	inserted, err := s.InsertLike(ctx, like)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.InsertLike(ctx, like)
	require.NoError(t, err)
	assert.False(t, inserted)

	has, err := s.HasLike(ctx, p.ID, reader.ID)
	require.NoError(t, err)
	assert.True(t, has)

	n, err := s.AddLikeCount(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.AddLikeCount(ctx, p.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = s.AddLikeCount(ctx, p.ID, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "counter never goes below zero")

	deleted, err := s.DeleteLike(ctx, p.ID, reader.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteLike(ctx, p.ID, reader.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.InsertLike(ctx, domain.Like{PostID: "missing", UserID: reader.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.AddLikeCount(ctx, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.InsertLike(ctx, like)
	require.NoError(t, err)
	require.NoError(t, s.DeletePost(ctx, p.ID))
	has, err = s.HasLike(ctx, p.ID, reader.ID)
	require.NoError(t, err)
	assert.False(t, has, "likes are removed with the post")
}

func testConcurrentLikes(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	author := createUser(t, s, "author")
	reader := createUser(t, s, "reader")
	p := createPost(t, s, author.ID, "ai")

	const workers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertLike(ctx, domain.Like{PostID: p.ID, UserID: reader.ID})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
}

func ids(posts []*domain.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func commentIDs(comments []*domain.Comment) []string {
	out := make([]string, 0, len(comments))
	for _, c := range comments {
		out = append(out, c.ID)
	}
	return out
}
