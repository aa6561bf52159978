package moderation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/metrics"
	"github.com/UkralStul/technews/internal/storage/inmemory"
)

var admin = domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin}

func newTestService(t *testing.T) (*Service, *inmemory.Store, *metrics.Metrics, *domain.User, *domain.Post) {
	store := inmemory.New()
	ctx := context.Background()

	author, err := store.CreateUser(ctx, &domain.User{Username: "author", Email: "author@example.com"})
	require.NoError(t, err)

	post, err := store.CreatePost(ctx, &domain.Post{
		Title:       "Новый процессор",
		Description: "Кратко",
		Body:        "Текст",
		Category:    "hardware",
		AuthorID:    author.ID,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, post.Status)

	m := metrics.New(prometheus.NewRegistry())
	return NewService(store, m, nil), store, m, author, post
}

func TestTransition(t *testing.T) {
	assert.NoError(t, Transition(domain.StatusPending, domain.StatusPublished))
	assert.NoError(t, Transition(domain.StatusPending, domain.StatusRejected))
	assert.ErrorIs(t, Transition(domain.StatusPublished, domain.StatusPublished), errAlreadyInState)
	assert.ErrorIs(t, Transition(domain.StatusPublished, domain.StatusRejected), domain.ErrConflict)
	assert.ErrorIs(t, Transition(domain.StatusRejected, domain.StatusPublished), domain.ErrConflict)
	assert.ErrorIs(t, Transition(domain.StatusRejected, domain.StatusPending), domain.ErrConflict)
	assert.ErrorIs(t, Transition(domain.StatusPending, "archived"), domain.ErrValidation)
}

func TestReject_Scenario(t *testing.T) {
	svc, store, m, author, post := newTestService(t)
	ctx := context.Background()

	rejected, err := svc.Reject(ctx, post.ID, admin, "low quality")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, "low quality", rejected.RejectionReason)

	u, err := store.GetUserByID(ctx, author.ID)
	require.NoError(t, err)
	require.Len(t, u.Notifications, 1)
	assert.Contains(t, u.Notifications[0].Message, post.Title)
	assert.Contains(t, u.Notifications[0].Message, "low quality")
	assert.Equal(t, post.ID, u.Notifications[0].PostID)
	assert.False(t, u.Notifications[0].CreatedAt.IsZero())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ModerationTransitions.WithLabelValues("rejected")))
}

func TestReject_TwiceIsNoop(t *testing.T) {
	svc, store, _, author, post := newTestService(t)
	ctx := context.Background()

	_, err := svc.Reject(ctx, post.ID, admin, "low quality")
	require.NoError(t, err)
	again, err := svc.Reject(ctx, post.ID, admin, "other reason")
	require.NoError(t, err)
	assert.Equal(t, "low quality", again.RejectionReason)

	u, err := store.GetUserByID(ctx, author.ID)
	require.NoError(t, err)
	assert.Len(t, u.Notifications, 1)
}

func TestReject_Validation(t *testing.T) {
	svc, _, _, _, post := newTestService(t)
	ctx := context.Background()

	_, err := svc.Reject(ctx, post.ID, admin, "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Reject(ctx, "missing", admin, "spam")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Reject(ctx, post.ID, domain.Principal{UserID: "u", Role: domain.RoleUser}, "spam")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestReject_AuthorGone(t *testing.T) {
	store := inmemory.New()
	ctx := context.Background()
	post, err := store.CreatePost(ctx, &domain.Post{Title: "t", AuthorID: "ghost"})
	require.NoError(t, err)

	rejected, err := NewService(store, nil, nil).Reject(ctx, post.ID, admin, "spam")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
}

func TestPublish(t *testing.T) {
	svc, _, _, _, post := newTestService(t)
	ctx := context.Background()

	_, err := svc.Publish(ctx, post.ID, domain.Principal{UserID: "u", Role: domain.RoleUser})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	published, err := svc.Publish(ctx, post.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, published.Status)

	again, err := svc.Publish(ctx, post.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, again.Status)

	_, err = svc.Reject(ctx, post.ID, admin, "too late")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Publish(ctx, "missing", admin)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestList(t *testing.T) {
	svc, store, _, author, post := newTestService(t)
	ctx := context.Background()

	other, err := store.CreatePost(ctx, &domain.Post{Title: "Второй", AuthorID: author.ID})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, other.ID, admin)
	require.NoError(t, err)

	all, err := svc.List(ctx, admin, FilterAll)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := svc.List(ctx, admin, StatusFilter(domain.StatusPending))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, post.ID, pending[0].ID)

	_, err = svc.List(ctx, domain.Principal{UserID: "u"}, FilterAll)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestParseStatusFilter(t *testing.T) {
	f, err := ParseStatusFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterAll, f)

	f, err = ParseStatusFilter(" Published ")
	require.NoError(t, err)
	assert.Equal(t, StatusFilter("published"), f)

	_, err = ParseStatusFilter("draft")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// racingStore задерживает первые два чтения статьи, пока их не сделают оба
// модератора. Так оба видят pending и дальше соревнуются уже на записи.
type racingStore struct {
	*inmemory.Store
	reads   atomic.Int32
	barrier sync.WaitGroup
}

func newRacingStore(store *inmemory.Store) *racingStore {
	rs := &racingStore{Store: store}
	rs.barrier.Add(2)
	return rs
}

func (s *racingStore) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	post, err := s.Store.GetPostByID(ctx, id)
	if s.reads.Add(1) <= 2 {
		s.barrier.Done()
		s.barrier.Wait()
	}
	return post, err
}

func TestPublishAndRejectRace(t *testing.T) {
	_, store, _, author, post := newTestService(t)
	ctx := context.Background()
	svc := NewService(newRacingStore(store), nil, nil)

	var (
		wg                    sync.WaitGroup
		publishErr, rejectErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, publishErr = svc.Publish(ctx, post.ID, admin)
	}()
	go func() {
		defer wg.Done()
		_, rejectErr = svc.Reject(ctx, post.ID, admin, "low quality")
	}()
	wg.Wait()

	got, err := store.GetPostByID(ctx, post.ID)
	require.NoError(t, err)
	u, err := store.GetUserByID(ctx, author.ID)
	require.NoError(t, err)

	switch got.Status {
	case domain.StatusPublished:
		assert.NoError(t, publishErr)
		assert.ErrorIs(t, rejectErr, domain.ErrConflict)
		assert.Empty(t, got.RejectionReason)
		assert.Empty(t, u.Notifications, "losing rejection must not notify the author")
	case domain.StatusRejected:
		assert.NoError(t, rejectErr)
		assert.ErrorIs(t, publishErr, domain.ErrConflict)
		assert.Equal(t, "low quality", got.RejectionReason)
		assert.Len(t, u.Notifications, 1)
	default:
		t.Fatalf("post left in %s", got.Status)
	}
}

func TestRejectRaceNotifiesOnce(t *testing.T) {
	_, store, _, author, post := newTestService(t)
	ctx := context.Background()
	svc := NewService(newRacingStore(store), nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Reject(ctx, post.ID, admin, "low quality")
		}()
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	u, err := store.GetUserByID(ctx, author.ID)
	require.NoError(t, err)
	assert.Len(t, u.Notifications, 1)
}
