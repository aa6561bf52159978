package storage

import (
	"context"

	"github.com/UkralStul/technews/internal/domain"
)

// PostFilter - параметры выборки статей. Пустые поля не ограничивают выборку.
type PostFilter struct {
	Status    *domain.PostStatus
	Category  string
	AuthorIDs []string
}

// PostStore - операции над статьями.
type PostStore interface {
	CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error)
	GetPostByID(ctx context.Context, id string) (*domain.Post, error)
	// ListPosts возвращает статьи вместе с комментариями. Порядок не гарантирован,
	// ранжирование выполняется вызывающей стороной.
	ListPosts(ctx context.Context, filter PostFilter) ([]*domain.Post, error)
	// UpdatePostStatus атомарно переводит статью из состояния from в to и
	// выставляет причину отклонения. Если статья уже не в from, возвращает
	// domain.ErrConflict и ничего не меняет.
	UpdatePostStatus(ctx context.Context, id string, from, to domain.PostStatus, reason string) (*domain.Post, error)
	// DeletePost удаляет статью вместе с её комментариями и отметками.
	DeletePost(ctx context.Context, id string) error
}

// CommentStore - операции над вложенным массивом комментариев статьи.
type CommentStore interface {
	// AppendComment добавляет комментарий. Для ответа родитель проверяется
	// в той же операции: если его нет в статье, возвращается domain.ErrNotFound.
	AppendComment(ctx context.Context, postID string, comment *domain.Comment) (*domain.Comment, error)
	GetComments(ctx context.Context, postID string) ([]*domain.Comment, error)
	// RemoveCommentTree удаляет комментарий вместе со всеми потомками и
	// возвращает id удалённых. Поддерево вычисляется внутри операции, так что
	// ответ, добавленный параллельно, не останется без родителя.
	RemoveCommentTree(ctx context.Context, postID, commentID string) ([]string, error)
}

// UserStore - операции над пользователями.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	// GetUsersByIDs нужен для батч-загрузки авторов. Отсутствующие id просто пропускаются.
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error)
	UpdateUser(ctx context.Context, id string, upd domain.UserUpdate) (*domain.User, error)
	PushNotification(ctx context.Context, userID string, n domain.Notification) error
	MarkNotificationsRead(ctx context.Context, userID string) error
	// AddSubscription и RemoveSubscription возвращают false, если ничего не изменилось.
	AddSubscription(ctx context.Context, userID, targetID string) (bool, error)
	RemoveSubscription(ctx context.Context, userID, targetID string) (bool, error)
	// ListSubscribers возвращает пользователей, подписанных на targetID.
	ListSubscribers(ctx context.Context, targetID string) ([]*domain.User, error)
}

// LikeStore - отметки "нравится". Вставка и удаление атомарны сами по себе,
// счётчик меняется отдельным атомарным вызовом.
type LikeStore interface {
	// InsertLike вставляет отметку, если её ещё нет. false - отметка уже была.
	InsertLike(ctx context.Context, like domain.Like) (bool, error)
	// DeleteLike удаляет отметку, если она есть. false - удалять было нечего.
	DeleteLike(ctx context.Context, postID, userID string) (bool, error)
	HasLike(ctx context.Context, postID, userID string) (bool, error)
	// AddLikeCount прибавляет delta к счётчику, не опуская его ниже нуля, и
	// возвращает новое значение.
	AddLikeCount(ctx context.Context, postID string, delta int) (int, error)
}

// Storage определяет контракт для хранилищ.
type Storage interface {
	PostStore
	CommentStore
	UserStore
	LikeStore
	Close(ctx context.Context) error
}
