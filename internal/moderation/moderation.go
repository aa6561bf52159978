// Package moderation управляет жизненным циклом статьи:
// pending -> published | rejected. Оба конечных состояния терминальны.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/metrics"
	"github.com/UkralStul/technews/internal/ranking"
	"github.com/UkralStul/technews/internal/storage"
)

// errAlreadyInState - статья уже находится в целевом состоянии, переход - пустая операция.
var errAlreadyInState = errors.New("post already in target state")

// Transition проверяет допустимость перехода from -> to.
func Transition(from, to domain.PostStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrValidation, to)
	}
	if to == domain.StatusPending {
		return fmt.Errorf("%w: post cannot be returned to %s", domain.ErrConflict, to)
	}
	if from == to {
		return errAlreadyInState
	}
	if from != domain.StatusPending {
		return fmt.Errorf("%w: post is already %s", domain.ErrConflict, from)
	}
	return nil
}

// RejectionMessage собирает текст уведомления автору об отклонении.
func RejectionMessage(title, reason string) string {
	return fmt.Sprintf("Ваша статья «%s» отклонена модератором. Причина: %s", title, reason)
}

// StatusFilter - фильтр админского списка: одно из состояний или "all".
type StatusFilter string

const FilterAll StatusFilter = "all"

// ParseStatusFilter разбирает значение фильтра. Пустая строка означает "all".
func ParseStatusFilter(v string) (StatusFilter, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" || v == string(FilterAll) {
		return FilterAll, nil
	}
	if !domain.PostStatus(v).Valid() {
		return "", fmt.Errorf("%w: unknown status filter %q", domain.ErrValidation, v)
	}
	return StatusFilter(v), nil
}

// Store - то, что модерации нужно от хранилища.
type Store interface {
	GetPostByID(ctx context.Context, id string) (*domain.Post, error)
	ListPosts(ctx context.Context, filter storage.PostFilter) ([]*domain.Post, error)
	UpdatePostStatus(ctx context.Context, id string, from, to domain.PostStatus, reason string) (*domain.Post, error)
	PushNotification(ctx context.Context, userID string, n domain.Notification) error
}

// Service выполняет действия модератора.
type Service struct {
	store   Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(store Store, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, metrics: m, logger: logger, now: time.Now}
}

// Publish публикует статью. Повторная публикация возвращает статью без изменений.
func (s *Service) Publish(ctx context.Context, postID string, actor domain.Principal) (*domain.Post, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only administrators can publish posts", domain.ErrPermissionDenied)
	}
	updated, changed, err := s.apply(ctx, postID, domain.StatusPublished, "")
	if err != nil || !changed {
		return updated, err
	}
	s.metrics.ObserveTransition(domain.StatusPublished)
	s.logger.InfoContext(ctx, "post published", "post_id", postID, "moderator", actor.UserID)
	return updated, nil
}

// Reject отклоняет статью с причиной и уведомляет автора.
// Повторное отклонение уже отклонённой статьи ничего не меняет и уведомление не создаёт.
func (s *Service) Reject(ctx context.Context, postID string, actor domain.Principal, reason string) (*domain.Post, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only administrators can reject posts", domain.ErrPermissionDenied)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", domain.ErrValidation)
	}
	updated, changed, err := s.apply(ctx, postID, domain.StatusRejected, reason)
	if err != nil || !changed {
		return updated, err
	}
	s.metrics.ObserveTransition(domain.StatusRejected)

	n := domain.Notification{
		PostID:    postID,
		Message:   RejectionMessage(updated.Title, reason),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.PushNotification(ctx, updated.AuthorID, n); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("notify author: %w", err)
		}
		// Автор мог быть удалён - статус уже выставлен, уведомлять некого.
		s.logger.WarnContext(ctx, "rejected post author not found", "post_id", postID, "author_id", updated.AuthorID)
	}

	s.logger.InfoContext(ctx, "post rejected", "post_id", postID, "moderator", actor.UserID)
	return updated, nil
}

// apply выполняет переход статьи в состояние to. changed == false значит, что
// статья уже была в to и ничего не изменилось.
//
// Хранилище меняет статус только при совпадении исходного состояния, поэтому
// из параллельных переходов побеждает один. Проигравший перечитывает статью
// и получает либо пустую операцию (тот же переход), либо конфликт.
func (s *Service) apply(ctx context.Context, postID string, to domain.PostStatus, reason string) (*domain.Post, bool, error) {
	post, err := s.store.GetPostByID(ctx, postID)
	if err != nil {
		return nil, false, err
	}
	if err := Transition(post.Status, to); err != nil {
		if errors.Is(err, errAlreadyInState) {
			return post, false, nil
		}
		return nil, false, err
	}

	updated, err := s.store.UpdatePostStatus(ctx, postID, post.Status, to, reason)
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return nil, false, err
	}

	current, rerr := s.store.GetPostByID(ctx, postID)
	if rerr != nil {
		return nil, false, rerr
	}
	if terr := Transition(current.Status, to); errors.Is(terr, errAlreadyInState) {
		return current, false, nil
	} else if terr != nil {
		return nil, false, terr
	}
	return nil, false, err
}

// List возвращает статьи для админки в общем порядке ранжирования.
func (s *Service) List(ctx context.Context, actor domain.Principal, filter StatusFilter) ([]*domain.Post, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: administrators only", domain.ErrPermissionDenied)
	}
	var f storage.PostFilter
	if filter != FilterAll && filter != "" {
		st := domain.PostStatus(filter)
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status filter %q", domain.ErrValidation, filter)
		}
		f.Status = &st
	}
	posts, err := s.store.ListPosts(ctx, f)
	if err != nil {
		return nil, err
	}
	ranking.Sort(posts)
	return posts, nil
}
