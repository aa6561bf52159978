package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/technews/internal/auth"
	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/metrics"
	"github.com/UkralStul/technews/internal/observer"
	"github.com/UkralStul/technews/internal/storage/inmemory"
)

type fixture struct {
	store    *inmemory.Store
	metrics  *metrics.Metrics
	observer *observer.CommentObserver
	posts    *Posts
	comments *Comments
	users    *Users
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := inmemory.New()
	m := metrics.New(prometheus.NewRegistry())
	obs := observer.NewCommentObserver()
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	return &fixture{
		store:    store,
		metrics:  m,
		observer: obs,
		posts:    NewPosts(store, m, nil),
		comments: NewComments(store, obs, m, nil, 3),
		users: NewUsers(store, issuer, func(email string) bool {
			return email == "admin@example.com"
		}, nil),
	}
}

func (f *fixture) register(t *testing.T, name string) domain.Principal {
	t.Helper()
	res, err := f.users.Register(context.Background(), RegisterInput{
		Username: name,
		Email:    name + "@example.com",
		Password: "password",
		Avatar:   "https://example.com/" + name + ".png",
	})
	require.NoError(t, err)
	return domain.Principal{UserID: res.User.ID, Role: res.User.Role}
}

func (f *fixture) publishedPost(t *testing.T, author domain.Principal, category string) *domain.Post {
	t.Helper()
	ctx := context.Background()
	post, err := f.posts.Create(ctx, author, PostInput{
		Title:       "Квантовый компьютер",
		Description: "Кратко о главном",
		Body:        "Полный текст статьи",
		Category:    category,
	})
	require.NoError(t, err)
	published, err := f.store.UpdatePostStatus(ctx, post.ID, domain.StatusPending, domain.StatusPublished, "")
	require.NoError(t, err)
	return published
}

// === Posts ===

func TestPosts_CreateStartsPending(t *testing.T) {
	f := newFixture(t)
	author := f.register(t, "author")

	post, err := f.posts.Create(context.Background(), author, PostInput{
		Title:       "  Новый смартфон ",
		Description: "Обзор",
		Body:        "Текст",
		Category:    " Mobile",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, post.Status)
	assert.Equal(t, author.UserID, post.AuthorID)
	assert.Equal(t, "Новый смартфон", post.Title)
	assert.Equal(t, "mobile", post.Category)
	assert.Zero(t, post.LikeCount)
}

func TestPosts_CreateValidation(t *testing.T) {
	f := newFixture(t)
	author := f.register(t, "author")

	_, err := f.posts.Create(context.Background(), author, PostInput{Title: "Без текста", Category: "ai"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPosts_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	reader := f.register(t, "reader")
	admin := domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin}

	pending, err := f.posts.Create(ctx, author, PostInput{Title: "Черновик", Description: "d", Body: "b", Category: "ai"})
	require.NoError(t, err)
	f.publishedPost(t, author, "ai")

	_, err = f.posts.Get(ctx, reader, pending.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.posts.Get(ctx, domain.Principal{}, pending.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.posts.Get(ctx, author, pending.ID)
	assert.NoError(t, err)
	_, err = f.posts.Get(ctx, admin, pending.ID)
	assert.NoError(t, err)

	page, err := f.posts.ListPublished(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	for _, p := range page.Items {
		assert.Equal(t, domain.StatusPublished, p.Status)
	}

	own, err := f.posts.ListByAuthor(ctx, author, author.UserID, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, own.Total)

	foreign, err := f.posts.ListByAuthor(ctx, reader, author.UserID, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, foreign.Total)
}

func TestPosts_ListPublishedRankedAndPaged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	r1 := f.register(t, "reader1")
	r2 := f.register(t, "reader2")

	quiet := f.publishedPost(t, author, "ai")
	popular := f.publishedPost(t, author, "ai")
	other := f.publishedPost(t, author, "space")

	for _, p := range []domain.Principal{r1, r2} {
		_, err := f.posts.ToggleLike(ctx, p, popular.ID)
		require.NoError(t, err)
	}
	_, err := f.posts.ToggleLike(ctx, r1, other.ID)
	require.NoError(t, err)

	page, err := f.posts.ListPublished(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, popular.ID, page.Items[0].ID)
	assert.Equal(t, other.ID, page.Items[1].ID)
	assert.Equal(t, quiet.ID, page.Items[2].ID)

	ai, err := f.posts.ListPublished(ctx, ListQuery{Category: "AI", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, ai.Total)
	require.Len(t, ai.Items, 1)
	assert.Equal(t, quiet.ID, ai.Items[0].ID)
}

func TestPosts_ToggleLike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	u1 := f.register(t, "user1")
	u2 := f.register(t, "user2")
	post := f.publishedPost(t, author, "ai")

	res, err := f.posts.ToggleLike(ctx, u1, post.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: true, LikeCount: 1}, res)

	res, err = f.posts.ToggleLike(ctx, u2, post.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: true, LikeCount: 2}, res)

	res, err = f.posts.ToggleLike(ctx, u1, post.ID)
	require.NoError(t, err)
	assert.Equal(t, LikeResult{Liked: false, LikeCount: 1}, res)

	liked, err := f.posts.Liked(ctx, u2, post.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	liked, err = f.posts.Liked(ctx, u1, post.ID)
	require.NoError(t, err)
	assert.False(t, liked)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LikeToggles.WithLabelValues("like")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LikeToggles.WithLabelValues("unlike")))
}

func TestPosts_ToggleLikeTwiceRestoresCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	u := f.register(t, "liker")
	post := f.publishedPost(t, author, "ai")

	_, err := f.posts.ToggleLike(ctx, u, post.ID)
	require.NoError(t, err)
	res, err := f.posts.ToggleLike(ctx, u, post.ID)
	require.NoError(t, err)
	assert.False(t, res.Liked)
	assert.Equal(t, post.LikeCount, res.LikeCount)
}

func TestPosts_ToggleLikeConcurrentUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	post := f.publishedPost(t, author, "ai")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.posts.ToggleLike(ctx, domain.Principal{UserID: string(rune('a' + i))}, post.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.store.GetPostByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.LikeCount)
}

func TestPosts_ToggleLikeRequiresPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")

	pending, err := f.posts.Create(ctx, author, PostInput{Title: "t", Description: "d", Body: "b", Category: "ai"})
	require.NoError(t, err)

	stranger := f.register(t, "stranger")

	_, err = f.posts.ToggleLike(ctx, author, pending.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.posts.ToggleLike(ctx, domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin}, pending.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.posts.ToggleLike(ctx, stranger, pending.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "hidden post stays hidden")
	_, err = f.posts.ToggleLike(ctx, author, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPosts_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	stranger := f.register(t, "stranger")
	post := f.publishedPost(t, author, "ai")

	assert.ErrorIs(t, f.posts.Delete(ctx, stranger, post.ID), domain.ErrPermissionDenied)
	require.NoError(t, f.posts.Delete(ctx, author, post.ID))
	assert.ErrorIs(t, f.posts.Delete(ctx, author, post.ID), domain.ErrNotFound)
}

func TestPosts_Feed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	followed := f.register(t, "followed")
	ignored := f.register(t, "ignored")
	reader := f.register(t, "reader")

	want := f.publishedPost(t, followed, "ai")
	f.publishedPost(t, ignored, "ai")

	empty, err := f.posts.Feed(ctx, reader, ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, empty.Items)

	_, err = f.users.Subscribe(ctx, reader, followed.UserID)
	require.NoError(t, err)

	feed, err := f.posts.Feed(ctx, reader, ListQuery{})
	require.NoError(t, err)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, want.ID, feed.Items[0].ID)
}

// === Comments ===

func TestComments_AddAndTree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	reader := f.register(t, "reader")
	post := f.publishedPost(t, author, "ai")

	sub, cancel := context.WithCancel(ctx)
	defer cancel()
	events := f.observer.Subscribe(sub, post.ID)

	a, err := f.comments.Add(ctx, reader, post.ID, CommentInput{Text: "Первый"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/reader.png", a.AuthorAvatar)

	b, err := f.comments.Add(ctx, author, post.ID, CommentInput{Text: "Ответ", ParentID: &a.ID})
	require.NoError(t, err)
	c, err := f.comments.Add(ctx, reader, post.ID, CommentInput{Text: "Ответ на ответ", ParentID: &b.ID})
	require.NoError(t, err)

	select {
	case got := <-events:
		assert.Equal(t, a.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("comment was not published to observer")
	}

	tree, err := f.comments.Tree(ctx, reader, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, tree.Total)
	assert.Equal(t, 1, tree.Roots)
	require.Len(t, tree.Comments, 1)

	root := tree.Comments[0]
	assert.Equal(t, a.ID, root.ID)
	assert.Equal(t, 0, root.Level)
	assert.True(t, root.CanReply)
	assert.True(t, root.CanDelete)
	require.Len(t, root.Replies, 1)

	mid := root.Replies[0]
	assert.Equal(t, b.ID, mid.ID)
	assert.False(t, mid.CanDelete)
	require.Len(t, mid.Replies, 1)

	leaf := mid.Replies[0]
	assert.Equal(t, c.ID, leaf.ID)
	assert.Equal(t, 2, leaf.Level)
	assert.True(t, leaf.CanReply)

	d, err := f.comments.Add(ctx, reader, post.ID, CommentInput{Text: "Последний уровень", ParentID: &c.ID})
	require.NoError(t, err)
	tree, err = f.comments.Tree(ctx, reader, post.ID)
	require.NoError(t, err)
	deepest := tree.Comments[0].Replies[0].Replies[0].Replies[0]
	assert.Equal(t, d.ID, deepest.ID)
	assert.Equal(t, 3, deepest.Level)
	assert.False(t, deepest.CanReply)

	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.CommentsCreated))
}

func TestComments_TreeRefreshesAvatars(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	post := f.publishedPost(t, author, "ai")

	_, err := f.comments.Add(ctx, author, post.ID, CommentInput{Text: "Привет"})
	require.NoError(t, err)

	avatar := "https://example.com/new.png"
	_, err = f.users.UpdateProfile(ctx, author, author.UserID, ProfileInput{Avatar: &avatar})
	require.NoError(t, err)

	tree, err := f.comments.Tree(ctx, domain.Principal{}, post.ID)
	require.NoError(t, err)
	require.Len(t, tree.Comments, 1)
	assert.Equal(t, avatar, tree.Comments[0].AuthorAvatar)
	assert.False(t, tree.Comments[0].CanReply)
}

func TestComments_AddRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	post := f.publishedPost(t, author, "ai")
	other := f.publishedPost(t, author, "space")

	foreign, err := f.comments.Add(ctx, author, other.ID, CommentInput{Text: "Чужой"})
	require.NoError(t, err)

	_, err = f.comments.Add(ctx, author, post.ID, CommentInput{Text: "   "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	long := make([]rune, 2001)
	for i := range long {
		long[i] = 'ж'
	}
	_, err = f.comments.Add(ctx, author, post.ID, CommentInput{Text: string(long)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.comments.Add(ctx, author, post.ID, CommentInput{Text: string(long[:2000])})
	assert.NoError(t, err)

	_, err = f.comments.Add(ctx, author, post.ID, CommentInput{Text: "x", ParentID: &foreign.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.comments.Add(ctx, author, "missing", CommentInput{Text: "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pending, err := f.posts.Create(ctx, author, PostInput{Title: "t", Description: "d", Body: "b", Category: "ai"})
	require.NoError(t, err)
	_, err = f.comments.Add(ctx, author, pending.ID, CommentInput{Text: "x"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestComments_ReplyDepthLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	post := f.publishedPost(t, author, "ai")

	// Уровни 0..3 допустимы, ответ на комментарий уровня 3 уже нет
	var parent *string
	for i := 0; i < 4; i++ {
		c, err := f.comments.Add(ctx, author, post.ID, CommentInput{Text: "ещё", ParentID: parent})
		require.NoError(t, err)
		parent = &c.ID
	}
	_, err := f.comments.Add(ctx, author, post.ID, CommentInput{Text: "слишком глубоко", ParentID: parent})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestComments_DeleteCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := f.register(t, "author")
	reader := f.register(t, "reader")
	post := f.publishedPost(t, author, "ai")

	a, err := f.comments.Add(ctx, reader, post.ID, CommentInput{Text: "A"})
	require.NoError(t, err)
	b, err := f.comments.Add(ctx, author, post.ID, CommentInput{Text: "B", ParentID: &a.ID})
	require.NoError(t, err)
	c, err := f.comments.Add(ctx, reader, post.ID, CommentInput{Text: "C", ParentID: &b.ID})
	require.NoError(t, err)
	d, err := f.comments.Add(ctx, reader, post.ID, CommentInput{Text: "D"})
	require.NoError(t, err)

	_, err = f.comments.Delete(ctx, author, post.ID, a.ID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	removed, err := f.comments.Delete(ctx, reader, post.ID, a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID}, removed)

	left, err := f.store.GetComments(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, d.ID, left[0].ID)

	_, err = f.comments.Delete(ctx, reader, post.ID, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	admin := domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin}
	_, err = f.comments.Delete(ctx, admin, post.ID, d.ID)
	require.NoError(t, err)

	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.CommentsRemoved))
}

// === Users ===

func TestUsers_RegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.users.Register(ctx, RegisterInput{Username: "ivan", Email: "Ivan@Example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "ivan@example.com", res.User.Email)
	assert.Equal(t, domain.RoleUser, res.User.Role)
	assert.NotEqual(t, "secret1", res.User.PasswordHash)

	_, err = f.users.Register(ctx, RegisterInput{Username: "ivan2", Email: "ivan@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.users.Register(ctx, RegisterInput{Username: "ivan", Email: "other@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = f.users.Register(ctx, RegisterInput{Username: "x", Email: "not-an-email", Password: "1"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	login, err := f.users.Login(ctx, LoginInput{Email: "IVAN@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, login.User.ID)

	_, err = f.users.Login(ctx, LoginInput{Email: "ivan@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = f.users.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestUsers_AdminByEmail(t *testing.T) {
	f := newFixture(t)
	res, err := f.users.Register(context.Background(), RegisterInput{Username: "boss", Email: "admin@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, res.User.Role)
}

func TestUsers_Subscriptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "alice")
	b := f.register(t, "bob")

	_, err := f.users.Subscribe(ctx, a, a.UserID)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.users.Subscribe(ctx, a, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	changed, err := f.users.Subscribe(ctx, a, b.UserID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.users.Subscribe(ctx, a, b.UserID)
	require.NoError(t, err)
	assert.False(t, changed)

	profile, err := f.users.Profile(ctx, b.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, profile.Followers)

	followers, err := f.users.Followers(ctx, b.UserID)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "alice", followers[0].Username)

	changed, err = f.users.Unsubscribe(ctx, a, b.UserID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.users.Unsubscribe(ctx, a, b.UserID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestUsers_UpdateProfilePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "alice")
	b := f.register(t, "bob")

	bio := "Пишу про железо"
	_, err := f.users.UpdateProfile(ctx, b, a.UserID, ProfileInput{Bio: &bio})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	u, err := f.users.UpdateProfile(ctx, a, a.UserID, ProfileInput{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, bio, u.Bio)
	assert.Equal(t, "https://example.com/alice.png", u.Avatar)
}

func TestUsers_Notifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "alice")

	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.PushNotification(ctx, a.UserID, domain.Notification{Message: "старое", CreatedAt: older}))
	require.NoError(t, f.store.PushNotification(ctx, a.UserID, domain.Notification{Message: "новое", CreatedAt: older.Add(time.Hour)}))

	ns, err := f.users.Notifications(ctx, a)
	require.NoError(t, err)
	require.Len(t, ns, 2)
	assert.Equal(t, "новое", ns[0].Message)
	assert.False(t, ns[0].Read)

	require.NoError(t, f.users.MarkNotificationsRead(ctx, a))
	ns, err = f.users.Notifications(ctx, a)
	require.NoError(t, err)
	for _, n := range ns {
		assert.True(t, n.Read)
	}
}
