package inmemory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UkralStul/technews/internal/commenttree"
	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/storage"
)

type likeKey struct {
	postID string
	userID string
}

// Store реализует интерфейс Storage в памяти.
// Наружу отдаются только копии, чтобы вызывающий код не мог менять состояние в обход блокировки.
type Store struct {
	mu          sync.RWMutex
	posts       map[string]*domain.Post
	users       map[string]*domain.User
	usersByMail map[string]string // map[email]userID
	usersByName map[string]string // map[username]userID
	likes       map[likeKey]domain.Like
}

// New создает новый экземпляр in-memory хранилища.
func New() *Store {
	return &Store{
		posts:       make(map[string]*domain.Post),
		users:       make(map[string]*domain.User),
		usersByMail: make(map[string]string),
		usersByName: make(map[string]string),
		likes:       make(map[likeKey]domain.Like),
	}
}

func (s *Store) Close(ctx context.Context) error { return nil }

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := clonePost(post)
	p.ID = uuid.NewString()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	for _, c := range p.Comments {
		c.PostID = p.ID
	}
	s.posts[p.ID] = p
	return clonePost(p), nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("%w: post with id %s", domain.ErrNotFound, id)
	}
	return clonePost(post), nil
}

func (s *Store) ListPosts(ctx context.Context, filter storage.PostFilter) ([]*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.AuthorIDs != nil && !slices.Contains(filter.AuthorIDs, p.AuthorID) {
			continue
		}
		result = append(result, clonePost(p))
	}
	return result, nil
}

func (s *Store) UpdatePostStatus(ctx context.Context, id string, from, to domain.PostStatus, reason string) (*domain.Post, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("%w: post with id %s", domain.ErrNotFound, id)
	}
	if post.Status != from {
		return nil, fmt.Errorf("%w: post is %s, expected %s", domain.ErrConflict, post.Status, from)
	}
	post.Status = to
	post.RejectionReason = reason
	return clonePost(post), nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return fmt.Errorf("%w: post with id %s", domain.ErrNotFound, id)
	}
	delete(s.posts, id)
	for k := range s.likes {
		if k.postID == id {
			delete(s.likes, k)
		}
	}
	return nil
}

// === Comment Methods ===

func (s *Store) AppendComment(ctx context.Context, postID string, comment *domain.Comment) (*domain.Comment, error) {
	if strings.TrimSpace(comment.Text) == "" {
		return nil, fmt.Errorf("%w: comment text cannot be empty", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[postID]
	if !ok {
		return nil, fmt.Errorf("%w: post with id %s", domain.ErrNotFound, postID)
	}
	if comment.ParentID != nil && !slices.ContainsFunc(post.Comments, func(c *domain.Comment) bool {
		return c.ID == *comment.ParentID
	}) {
		return nil, fmt.Errorf("%w: parent comment %s", domain.ErrNotFound, *comment.ParentID)
	}

	c := cloneComment(comment)
	c.ID = uuid.NewString()
	c.PostID = postID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	post.Comments = append(post.Comments, c)
	return cloneComment(c), nil
}

func (s *Store) GetComments(ctx context.Context, postID string) ([]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, ok := s.posts[postID]
	if !ok {
		return nil, fmt.Errorf("%w: post with id %s", domain.ErrNotFound, postID)
	}
	return cloneComments(post.Comments), nil
}

func (s *Store) RemoveCommentTree(ctx context.Context, postID, commentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[postID]
	if !ok {
		return nil, fmt.Errorf("%w: post with id %s", domain.ErrNotFound, postID)
	}
	ids := commenttree.DescendantIDs(post.Comments, commentID)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: comment with id %s", domain.ErrNotFound, commentID)
	}
	post.Comments = slices.DeleteFunc(post.Comments, func(c *domain.Comment) bool {
		return slices.Contains(ids, c.ID)
	})
	return ids, nil
}

// === User Methods ===

func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByMail[user.Email]; ok {
		return nil, fmt.Errorf("%w: email already registered", domain.ErrConflict)
	}
	if _, ok := s.usersByName[user.Username]; ok {
		return nil, fmt.Errorf("%w: username already taken", domain.ErrConflict)
	}

	u := cloneUser(user)
	u.ID = uuid.NewString()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	s.users[u.ID] = u
	s.usersByMail[u.Email] = u.ID
	s.usersByName[u.Username] = u.ID
	return cloneUser(u), nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user with id %s", domain.ErrNotFound, id)
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByMail[email]
	if !ok {
		return nil, fmt.Errorf("%w: user with email %s", domain.ErrNotFound, email)
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[username]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			result[id] = cloneUser(u)
		}
	}
	return result, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd domain.UserUpdate) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user with id %s", domain.ErrNotFound, id)
	}
	if upd.Avatar != nil {
		u.Avatar = *upd.Avatar
	}
	if upd.Bio != nil {
		u.Bio = *upd.Bio
	}
	return cloneUser(u), nil
}

func (s *Store) PushNotification(ctx context.Context, userID string, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user with id %s", domain.ErrNotFound, userID)
	}
	n.ID = uuid.NewString()
	n.UserID = userID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	u.Notifications = append(u.Notifications, n)
	return nil
}

func (s *Store) MarkNotificationsRead(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%w: user with id %s", domain.ErrNotFound, userID)
	}
	for i := range u.Notifications {
		u.Notifications[i].Read = true
	}
	return nil
}

func (s *Store) AddSubscription(ctx context.Context, userID, targetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, fmt.Errorf("%w: user with id %s", domain.ErrNotFound, userID)
	}
	if slices.Contains(u.Subscriptions, targetID) {
		return false, nil
	}
	u.Subscriptions = append(u.Subscriptions, targetID)
	return true, nil
}

func (s *Store) RemoveSubscription(ctx context.Context, userID, targetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, fmt.Errorf("%w: user with id %s", domain.ErrNotFound, userID)
	}
	i := slices.Index(u.Subscriptions, targetID)
	if i < 0 {
		return false, nil
	}
	u.Subscriptions = slices.Delete(u.Subscriptions, i, i+1)
	return true, nil
}

func (s *Store) ListSubscribers(ctx context.Context, targetID string) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.User
	for _, u := range s.users {
		if slices.Contains(u.Subscriptions, targetID) {
			result = append(result, cloneUser(u))
		}
	}
	return result, nil
}

// === Like Methods ===

func (s *Store) InsertLike(ctx context.Context, like domain.Like) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[like.PostID]; !ok {
		return false, fmt.Errorf("%w: post with id %s", domain.ErrNotFound, like.PostID)
	}
	k := likeKey{postID: like.PostID, userID: like.UserID}
	if _, ok := s.likes[k]; ok {
		return false, nil
	}
	if like.CreatedAt.IsZero() {
		like.CreatedAt = time.Now().UTC()
	}
	s.likes[k] = like
	return true, nil
}

func (s *Store) DeleteLike(ctx context.Context, postID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := likeKey{postID: postID, userID: userID}
	if _, ok := s.likes[k]; !ok {
		return false, nil
	}
	delete(s.likes, k)
	return true, nil
}

func (s *Store) HasLike(ctx context.Context, postID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.likes[likeKey{postID: postID, userID: userID}]
	return ok, nil
}

func (s *Store) AddLikeCount(ctx context.Context, postID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[postID]
	if !ok {
		return 0, fmt.Errorf("%w: post with id %s", domain.ErrNotFound, postID)
	}
	post.LikeCount = max(post.LikeCount+delta, 0)
	return post.LikeCount, nil
}

// === Копирование ===

func clonePost(p *domain.Post) *domain.Post {
	cp := *p
	cp.Comments = cloneComments(p.Comments)
	return &cp
}

func cloneComments(src []*domain.Comment) []*domain.Comment {
	out := make([]*domain.Comment, len(src))
	for i, c := range src {
		out[i] = cloneComment(c)
	}
	return out
}

func cloneComment(c *domain.Comment) *domain.Comment {
	cp := *c
	if c.ParentID != nil {
		pid := *c.ParentID
		cp.ParentID = &pid
	}
	cp.Replies = nil
	cp.Level = 0
	return &cp
}

func cloneUser(u *domain.User) *domain.User {
	cp := *u
	cp.Subscriptions = slices.Clone(u.Subscriptions)
	cp.Notifications = slices.Clone(u.Notifications)
	return &cp
}
