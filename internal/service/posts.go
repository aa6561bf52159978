package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/metrics"
	"github.com/UkralStul/technews/internal/ranking"
	"github.com/UkralStul/technews/internal/storage"
)

// PostInput - данные новой статьи.
type PostInput struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description" validate:"required,max=1000"`
	Body        string `json:"body" validate:"required"`
	Category    string `json:"category" validate:"required,max=64"`
	Image       string `json:"image" validate:"omitempty,max=1024"`
}

// LikeResult - состояние отметки после переключения.
type LikeResult struct {
	Liked     bool `json:"liked"`
	LikeCount int  `json:"likeCount"`
}

type Posts struct {
	store   storage.Storage
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewPosts(store storage.Storage, m *metrics.Metrics, logger *slog.Logger) *Posts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Posts{store: store, metrics: m, logger: logger, now: time.Now}
}

// Create создаёт статью в состоянии pending от имени actor.
func (s *Posts) Create(ctx context.Context, actor domain.Principal, in PostInput) (*domain.Post, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Body = strings.TrimSpace(in.Body)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.Image = strings.TrimSpace(in.Image)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	post, err := s.store.CreatePost(ctx, &domain.Post{
		Title:       in.Title,
		Description: in.Description,
		Body:        in.Body,
		Category:    in.Category,
		Image:       in.Image,
		AuthorID:    actor.UserID,
		Status:      domain.StatusPending,
		CreatedAt:   s.now().UTC(),
		Comments:    []*domain.Comment{},
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "post submitted", "post_id", post.ID, "author_id", actor.UserID)
	return post, nil
}

// canSee - неопубликованную статью видят только автор и администраторы.
func canSee(post *domain.Post, actor domain.Principal) bool {
	return post.Status == domain.StatusPublished || actor.IsAdmin() || (actor.UserID != "" && actor.UserID == post.AuthorID)
}

// Get возвращает статью, если actor имеет право её видеть. Иначе - NotFound.
func (s *Posts) Get(ctx context.Context, actor domain.Principal, id string) (*domain.Post, error) {
	post, err := s.store.GetPostByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSee(post, actor) {
		return nil, fmt.Errorf("%w: post with id %s", domain.ErrNotFound, id)
	}
	return post, nil
}

// Liked сообщает, отметил ли actor статью.
func (s *Posts) Liked(ctx context.Context, actor domain.Principal, postID string) (bool, error) {
	if actor.UserID == "" {
		return false, nil
	}
	return s.store.HasLike(ctx, postID, actor.UserID)
}

func (s *Posts) list(ctx context.Context, filter storage.PostFilter, q ListQuery) (Page[*domain.Post], error) {
	q = q.normalized()
	if q.Category != "" {
		filter.Category = strings.ToLower(strings.TrimSpace(q.Category))
	}
	posts, err := s.store.ListPosts(ctx, filter)
	if err != nil {
		return Page[*domain.Post]{}, err
	}
	ranking.Sort(posts)
	return Page[*domain.Post]{Items: ranking.Page(posts, q.Limit, q.Offset), Total: len(posts)}, nil
}

// ListPublished - публичная лента: только опубликованные статьи.
func (s *Posts) ListPublished(ctx context.Context, q ListQuery) (Page[*domain.Post], error) {
	st := domain.StatusPublished
	return s.list(ctx, storage.PostFilter{Status: &st}, q)
}

// ListByAuthor - статьи автора. Сам автор и администраторы видят все статусы.
func (s *Posts) ListByAuthor(ctx context.Context, actor domain.Principal, authorID string, q ListQuery) (Page[*domain.Post], error) {
	filter := storage.PostFilter{AuthorIDs: []string{authorID}}
	if !actor.IsAdmin() && actor.UserID != authorID {
		st := domain.StatusPublished
		filter.Status = &st
	}
	return s.list(ctx, filter, q)
}

// Feed - опубликованные статьи авторов, на которых подписан actor.
func (s *Posts) Feed(ctx context.Context, actor domain.Principal, q ListQuery) (Page[*domain.Post], error) {
	user, err := s.store.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return Page[*domain.Post]{}, err
	}
	if len(user.Subscriptions) == 0 {
		return Page[*domain.Post]{Items: []*domain.Post{}}, nil
	}
	st := domain.StatusPublished
	return s.list(ctx, storage.PostFilter{Status: &st, AuthorIDs: user.Subscriptions}, q)
}

// Delete удаляет статью. Разрешено автору и администраторам.
func (s *Posts) Delete(ctx context.Context, actor domain.Principal, id string) error {
	post, err := s.store.GetPostByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && actor.UserID != post.AuthorID {
		return fmt.Errorf("%w: only the author or an administrator can delete a post", domain.ErrPermissionDenied)
	}
	if err := s.store.DeletePost(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "post deleted", "post_id", id, "by", actor.UserID)
	return nil
}

// ToggleLike ставит или снимает отметку actor на опубликованной статье.
// Вставка и удаление отметки атомарны, счётчик меняется только тем вызовом,
// который действительно изменил набор отметок.
func (s *Posts) ToggleLike(ctx context.Context, actor domain.Principal, postID string) (LikeResult, error) {
	post, err := s.store.GetPostByID(ctx, postID)
	if err != nil {
		return LikeResult{}, err
	}
	if !canSee(post, actor) {
		return LikeResult{}, fmt.Errorf("%w: post with id %s", domain.ErrNotFound, postID)
	}
	if post.Status != domain.StatusPublished {
		return LikeResult{}, fmt.Errorf("%w: only published posts can be liked", domain.ErrConflict)
	}

	removed, err := s.store.DeleteLike(ctx, postID, actor.UserID)
	if err != nil {
		return LikeResult{}, err
	}
	if removed {
		count, err := s.store.AddLikeCount(ctx, postID, -1)
		if err != nil {
			return LikeResult{}, err
		}
		s.metrics.ObserveLike(false)
		return LikeResult{Liked: false, LikeCount: count}, nil
	}

	inserted, err := s.store.InsertLike(ctx, domain.Like{PostID: postID, UserID: actor.UserID, CreatedAt: s.now().UTC()})
	if err != nil {
		return LikeResult{}, err
	}
	if !inserted {
		// Параллельный запрос того же пользователя успел поставить отметку и сам увеличил счётчик.
		current, err := s.store.GetPostByID(ctx, postID)
		if err != nil {
			return LikeResult{}, err
		}
		return LikeResult{Liked: true, LikeCount: current.LikeCount}, nil
	}
	count, err := s.store.AddLikeCount(ctx, postID, 1)
	if err != nil {
		return LikeResult{}, err
	}
	s.metrics.ObserveLike(true)
	return LikeResult{Liked: true, LikeCount: count}, nil
}
