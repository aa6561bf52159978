package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/UkralStul/technews/internal/commenttree"
	"github.com/UkralStul/technews/internal/dataloader"
	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/metrics"
	"github.com/UkralStul/technews/internal/observer"
	"github.com/UkralStul/technews/internal/storage"
)

// CommentInput - новый комментарий или ответ.
type CommentInput struct {
	Text     string  `json:"text" validate:"required,max=2000"`
	ParentID *string `json:"parentId"`
}

// CommentNode - узел дерева комментариев вместе с доступными зрителю действиями.
type CommentNode struct {
	*domain.Comment
	CanReply  bool           `json:"canReply"`
	CanDelete bool           `json:"canDelete"`
	Replies   []*CommentNode `json:"replies"`
}

// CommentTree - дерево комментариев статьи. Total считает комментарии на любой
// глубине, Roots - только верхнего уровня.
type CommentTree struct {
	Comments []*CommentNode `json:"comments"`
	Total    int            `json:"total"`
	Roots    int            `json:"roots"`
	MaxLevel int            `json:"maxLevel"`
}

type Comments struct {
	store    storage.Storage
	observer *observer.CommentObserver
	metrics  *metrics.Metrics
	logger   *slog.Logger
	maxLevel int
	now      func() time.Time
}

func NewComments(store storage.Storage, obs *observer.CommentObserver, m *metrics.Metrics, logger *slog.Logger, maxLevel int) *Comments {
	if logger == nil {
		logger = slog.Default()
	}
	if maxLevel <= 0 {
		maxLevel = commenttree.DefaultMaxLevel
	}
	return &Comments{store: store, observer: obs, metrics: m, logger: logger, maxLevel: maxLevel, now: time.Now}
}

// Add добавляет комментарий к опубликованной статье.
// Ответ возможен только на существующий комментарий той же статьи, глубина
// которого меньше maxLevel.
func (s *Comments) Add(ctx context.Context, actor domain.Principal, postID string, in CommentInput) (*domain.Comment, error) {
	in.Text = strings.TrimSpace(in.Text)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	post, err := s.store.GetPostByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.Status != domain.StatusPublished {
		return nil, fmt.Errorf("%w: comments are only allowed on published posts", domain.ErrConflict)
	}

	var parent *domain.Comment
	if in.ParentID != nil {
		parent = commenttree.Find(commenttree.Organize(post.Comments), *in.ParentID)
		if parent == nil {
			return nil, fmt.Errorf("%w: parent comment %s", domain.ErrNotFound, *in.ParentID)
		}
		if !commenttree.CanReply(parent, s.maxLevel) {
			return nil, fmt.Errorf("%w: replies are limited to %d levels", domain.ErrValidation, s.maxLevel)
		}
	}

	author, err := s.store.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	comment, err := s.store.AppendComment(ctx, postID, &domain.Comment{
		PostID:       postID,
		ParentID:     in.ParentID,
		AuthorID:     actor.UserID,
		AuthorAvatar: author.Avatar,
		Text:         in.Text,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if parent != nil {
		comment.Level = parent.Level + 1
	}

	s.metrics.ObserveCommentCreated()
	if s.observer != nil {
		s.observer.Publish(comment)
	}
	return comment, nil
}

// Tree строит дерево комментариев статьи для зрителя actor (может быть анонимным).
func (s *Comments) Tree(ctx context.Context, actor domain.Principal, postID string) (*CommentTree, error) {
	post, err := s.store.GetPostByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !canSee(post, actor) {
		return nil, fmt.Errorf("%w: post with id %s", domain.ErrNotFound, postID)
	}

	if err := s.refreshAvatars(ctx, post.Comments); err != nil {
		return nil, err
	}

	tree := commenttree.Organize(post.Comments)
	return &CommentTree{
		Comments: s.nodes(tree, actor),
		Total:    commenttree.CountAll(tree),
		Roots:    len(tree),
		MaxLevel: s.maxLevel,
	}, nil
}

// refreshAvatars подставляет актуальные аватары авторов одним батч-запросом.
func (s *Comments) refreshAvatars(ctx context.Context, flat []*domain.Comment) error {
	if len(flat) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(flat))
	ids := make([]string, 0, len(flat))
	for _, c := range flat {
		if _, ok := seen[c.AuthorID]; !ok {
			seen[c.AuthorID] = struct{}{}
			ids = append(ids, c.AuthorID)
		}
	}
	users, err := dataloader.LoadUsers(ctx, s.store, ids)
	if err != nil {
		return err
	}
	for _, c := range flat {
		if u, ok := users[c.AuthorID]; ok {
			c.AuthorAvatar = u.Avatar
		}
	}
	return nil
}

// Node оборачивает одиночный комментарий (например, пришедший из подписки)
// в узел с действиями, доступными actor.
func (s *Comments) Node(c *domain.Comment, actor domain.Principal) *CommentNode {
	return &CommentNode{
		Comment:   c,
		CanReply:  actor.UserID != "" && commenttree.CanReply(c, s.maxLevel),
		CanDelete: commenttree.CanDelete(c, actor),
		Replies:   []*CommentNode{},
	}
}

func (s *Comments) nodes(level []*domain.Comment, actor domain.Principal) []*CommentNode {
	out := make([]*CommentNode, 0, len(level))
	for _, c := range level {
		out = append(out, &CommentNode{
			Comment:   c,
			CanReply:  actor.UserID != "" && commenttree.CanReply(c, s.maxLevel),
			CanDelete: commenttree.CanDelete(c, actor),
			Replies:   s.nodes(c.Replies, actor),
		})
	}
	return out
}

// Delete удаляет комментарий вместе со всеми ответами на него.
// Разрешено автору комментария и администраторам. Возвращает id удалённых.
func (s *Comments) Delete(ctx context.Context, actor domain.Principal, postID, commentID string) ([]string, error) {
	flat, err := s.store.GetComments(ctx, postID)
	if err != nil {
		return nil, err
	}

	var target *domain.Comment
	for _, c := range flat {
		if c.ID == commentID {
			target = c
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: comment %s", domain.ErrNotFound, commentID)
	}
	if !commenttree.CanDelete(target, actor) {
		return nil, fmt.Errorf("%w: only the author or an administrator can delete a comment", domain.ErrPermissionDenied)
	}

	// Ветку вычисляет само хранилище: ответ, добавленный после чтения выше,
	// удалится вместе с ней.
	ids, err := s.store.RemoveCommentTree(ctx, postID, commentID)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCommentsRemoved(len(ids))
	s.logger.InfoContext(ctx, "comment removed", "post_id", postID, "comment_id", commentID, "cascade", len(ids), "by", actor.UserID)
	return ids, nil
}
