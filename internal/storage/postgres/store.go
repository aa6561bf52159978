package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/UkralStul/technews/internal/commenttree"
	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/storage"
)

// Store реализует интерфейс Storage с использованием PostgreSQL.
type Store struct {
	db *gorm.DB
}

// New подключается к базе и выполняет миграцию схемы.
func New(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.User{}, &domain.Notification{}, &domain.Post{}, &domain.Comment{}, &domain.Like{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// validID - id в базе имеют тип uuid, строка другого вида заведомо ничего не найдёт.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s with id %s", domain.ErrNotFound, kind, id)
}

func byCreatedAt(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC")
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	p := *post
	p.ID = uuid.NewString()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	p.Comments = nil
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&p).Error; err != nil {
		return nil, err
	}
	p.Comments = []*domain.Comment{}
	return &p, nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	if !validID(id) {
		return nil, notFound("post", id)
	}
	var post domain.Post
	err := s.db.WithContext(ctx).Preload("Comments", byCreatedAt).First(&post, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("post", id)
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *Store) ListPosts(ctx context.Context, filter storage.PostFilter) ([]*domain.Post, error) {
	query := s.db.WithContext(ctx).Preload("Comments", byCreatedAt)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.AuthorIDs != nil {
		if len(filter.AuthorIDs) == 0 {
			return []*domain.Post{}, nil
		}
		query = query.Where("author_id IN ?", filter.AuthorIDs)
	}

	var posts []*domain.Post
	if err := query.Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *Store) UpdatePostStatus(ctx context.Context, id string, from, to domain.PostStatus, reason string) (*domain.Post, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, to)
	}
	if !validID(id) {
		return nil, notFound("post", id)
	}

	var post domain.Post
	// Условие на текущий статус входит в сам UPDATE: из двух параллельных
	// переходов строку изменит только один.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Post{}).Where("id = ? AND status = ?", id, from).Updates(map[string]any{
			"status":           to,
			"rejection_reason": reason,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			ok, err := s.postExists(tx, id)
			if err != nil {
				return err
			}
			if !ok {
				return notFound("post", id)
			}
			return fmt.Errorf("%w: post %s is no longer %s", domain.ErrConflict, id, from)
		}
		return tx.Preload("Comments", byCreatedAt).First(&post, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	if !validID(id) {
		return notFound("post", id)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&domain.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&domain.Comment{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Post{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound("post", id)
		}
		return nil
	})
}

func (s *Store) postExists(tx *gorm.DB, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	var n int64
	if err := tx.Model(&domain.Post{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// lockPost берёт блокировку строки статьи до конца транзакции. Все изменения
// комментариев одной статьи через неё проходят по очереди.
func lockPost(tx *gorm.DB, id string) error {
	if !validID(id) {
		return notFound("post", id)
	}
	var post domain.Post
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&post, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("post", id)
	}
	return err
}

// === Comment Methods ===

func (s *Store) AppendComment(ctx context.Context, postID string, comment *domain.Comment) (*domain.Comment, error) {
	if strings.TrimSpace(comment.Text) == "" {
		return nil, fmt.Errorf("%w: comment text cannot be empty", domain.ErrValidation)
	}

	c := *comment
	c.ID = uuid.NewString()
	c.PostID = postID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Replies = nil
	c.Level = 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockPost(tx, postID); err != nil {
			return err
		}
		if c.ParentID != nil {
			var n int64
			if validID(*c.ParentID) {
				err := tx.Model(&domain.Comment{}).Where("id = ? AND post_id = ?", *c.ParentID, postID).Count(&n).Error
				if err != nil {
					return err
				}
			}
			if n == 0 {
				return notFound("comment", *c.ParentID)
			}
		}
		return tx.Create(&c).Error
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetComments(ctx context.Context, postID string) ([]*domain.Comment, error) {
	db := s.db.WithContext(ctx)
	ok, err := s.postExists(db, postID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("post", postID)
	}

	var comments []*domain.Comment
	if err := byCreatedAt(db.Where("post_id = ?", postID)).Find(&comments).Error; err != nil {
		return nil, err
	}
	return comments, nil
}

// RemoveCommentTree читает ветку под блокировкой статьи и удаляет её одним DELETE.
func (s *Store) RemoveCommentTree(ctx context.Context, postID, commentID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockPost(tx, postID); err != nil {
			return err
		}
		var flat []*domain.Comment
		if err := tx.Select("id", "parent_id").Where("post_id = ?", postID).Find(&flat).Error; err != nil {
			return err
		}
		ids = commenttree.DescendantIDs(flat, commentID)
		if len(ids) == 0 {
			return notFound("comment", commentID)
		}
		return tx.Where("post_id = ? AND id IN ?", postID, ids).Delete(&domain.Comment{}).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// === User Methods ===

func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	u := *user
	u.ID = uuid.NewString()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	if u.Subscriptions == nil {
		u.Subscriptions = []string{}
	}
	u.Notifications = nil

	err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("%w: email or username already registered", domain.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	u.Notifications = []domain.Notification{}
	return &u, nil
}

func (s *Store) findUser(ctx context.Context, query string, arg string) (*domain.User, error) {
	var u domain.User
	err := s.db.WithContext(ctx).Preload("Notifications", byCreatedAt).First(&u, query, arg).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if !validID(id) {
		return nil, notFound("user", id)
	}
	u, err := s.findUser(ctx, "id = ?", id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("user", id)
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.findUser(ctx, "email = ?", email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user with email %s", domain.ErrNotFound, email)
	}
	return u, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := s.findUser(ctx, "username = ?", username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
	}
	return u, err
}

// GetUsersByIDs загружает всех пользователей одним запросом, без уведомлений.
func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	result := make(map[string]*domain.User, len(valid))
	if len(valid) == 0 {
		return result, nil
	}

	var users []*domain.User
	if err := s.db.WithContext(ctx).Where("id IN ?", valid).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd domain.UserUpdate) (*domain.User, error) {
	if !validID(id) {
		return nil, notFound("user", id)
	}
	changes := map[string]any{}
	if upd.Avatar != nil {
		changes["avatar"] = *upd.Avatar
	}
	if upd.Bio != nil {
		changes["bio"] = *upd.Bio
	}
	if len(changes) > 0 {
		res := s.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(changes)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, notFound("user", id)
		}
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) userExists(db *gorm.DB, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	var n int64
	if err := db.Model(&domain.User{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) PushNotification(ctx context.Context, userID string, n domain.Notification) error {
	db := s.db.WithContext(ctx)
	ok, err := s.userExists(db, userID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("user", userID)
	}
	n.ID = uuid.NewString()
	n.UserID = userID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return db.Create(&n).Error
}

func (s *Store) MarkNotificationsRead(ctx context.Context, userID string) error {
	db := s.db.WithContext(ctx)
	ok, err := s.userExists(db, userID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("user", userID)
	}
	return db.Model(&domain.Notification{}).Where("user_id = ? AND read = ?", userID, false).Update("read", true).Error
}

// AddSubscription дописывает targetID в массив подписок, если его там ещё нет.
// Проверка и запись выполняются одним UPDATE.
func (s *Store) AddSubscription(ctx context.Context, userID, targetID string) (bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&domain.User{}).
		Where("id = ? AND NOT (? = ANY(COALESCE(subscriptions, '{}')))", userID, targetID).
		Update("subscriptions", gorm.Expr("array_append(COALESCE(subscriptions, '{}'), ?)", targetID))
	return s.subscriptionResult(db, userID, res)
}

func (s *Store) RemoveSubscription(ctx context.Context, userID, targetID string) (bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&domain.User{}).
		Where("id = ? AND ? = ANY(subscriptions)", userID, targetID).
		Update("subscriptions", gorm.Expr("array_remove(subscriptions, ?)", targetID))
	return s.subscriptionResult(db, userID, res)
}

func (s *Store) subscriptionResult(db *gorm.DB, userID string, res *gorm.DB) (bool, error) {
	if !validID(userID) {
		return false, notFound("user", userID)
	}
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// Ничего не изменилось: либо подписка уже в нужном состоянии, либо пользователя нет
	ok, err := s.userExists(db, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, notFound("user", userID)
	}
	return false, nil
}

func (s *Store) ListSubscribers(ctx context.Context, targetID string) ([]*domain.User, error) {
	var users []*domain.User
	if err := s.db.WithContext(ctx).Where("? = ANY(subscriptions)", targetID).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// === Like Methods ===

func (s *Store) InsertLike(ctx context.Context, like domain.Like) (bool, error) {
	db := s.db.WithContext(ctx)
	ok, err := s.postExists(db, like.PostID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, notFound("post", like.PostID)
	}

	if like.CreatedAt.IsZero() {
		like.CreatedAt = time.Now().UTC()
	}
	// Первичный ключ (post_id, user_id) гарантирует не более одной отметки на пару
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&like)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) DeleteLike(ctx context.Context, postID, userID string) (bool, error) {
	if !validID(postID) {
		return false, nil
	}
	res := s.db.WithContext(ctx).Where("post_id = ? AND user_id = ?", postID, userID).Delete(&domain.Like{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) HasLike(ctx context.Context, postID, userID string) (bool, error) {
	if !validID(postID) {
		return false, nil
	}
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Like{}).Where("post_id = ? AND user_id = ?", postID, userID).Count(&n).Error
	return n > 0, err
}

// AddLikeCount меняет счётчик одним UPDATE ... RETURNING, не опуская его ниже нуля.
func (s *Store) AddLikeCount(ctx context.Context, postID string, delta int) (int, error) {
	if !validID(postID) {
		return 0, notFound("post", postID)
	}
	var post domain.Post
	res := s.db.WithContext(ctx).Model(&post).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "like_count"}}}).
		Where("id = ?", postID).
		Update("like_count", gorm.Expr("GREATEST(like_count + ?, 0)", delta))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, notFound("post", postID)
	}
	return post.LikeCount, nil
}
