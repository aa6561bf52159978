// Package mongo хранит статьи в MongoDB: комментарии вложены массивом в
// документ статьи, уведомления и подписки - в документ пользователя.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/UkralStul/technews/internal/commenttree"
	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/storage"
)

const (
	postsCollection = "posts"
	usersCollection = "users"
	likesCollection = "likes"
)

// Store реализует интерфейс Storage поверх MongoDB.
type Store struct {
	client *mongo.Client
	posts  *mongo.Collection
	users  *mongo.Collection
	likes  *mongo.Collection
}

// New подключается к MongoDB, проверяет соединение и создаёт индексы.
func New(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client: client,
		posts:  db.Collection(postsCollection),
		users:  db.Collection(usersCollection),
		likes:  db.Collection(likesCollection),
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes создаёт уникальные индексы, на которых держатся инварианты
// хранилища: один email и одно имя на пользователя, одна отметка на пару
// (статья, пользователь).
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "subscriptions", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create users indexes: %w", err)
	}
	if _, err := s.likes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "post_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: unique,
	}); err != nil {
		return fmt.Errorf("create likes index: %w", err)
	}
	if _, err := s.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "category", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create posts index: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func newID() string {
	return bson.NewObjectID().Hex()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s with id %s", domain.ErrNotFound, kind, id)
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	p := *post
	p.ID = newID()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	p.Comments = []*domain.Comment{}
	if _, err := s.posts.InsertOne(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	var post domain.Post
	err := s.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("post", id)
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *Store) ListPosts(ctx context.Context, filter storage.PostFilter) ([]*domain.Post, error) {
	q := bson.M{}
	if filter.Status != nil {
		q["status"] = *filter.Status
	}
	if filter.Category != "" {
		q["category"] = filter.Category
	}
	if filter.AuthorIDs != nil {
		q["author_id"] = bson.M{"$in": filter.AuthorIDs}
	}

	cur, err := s.posts.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	posts := []*domain.Post{}
	if err := cur.All(ctx, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// UpdatePostStatus меняет статус только у документа, который всё ещё в from.
func (s *Store) UpdatePostStatus(ctx context.Context, id string, from, to domain.PostStatus, reason string) (*domain.Post, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, to)
	}

	var post domain.Post
	err := s.posts.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to, "rejection_reason": reason}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if err := s.ensurePost(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: post %s is no longer %s", domain.ErrConflict, id, from)
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	res, err := s.posts.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return notFound("post", id)
	}
	// Комментарии удалились вместе с документом, отметки лежат отдельно
	_, err = s.likes.DeleteMany(ctx, bson.M{"post_id": id})
	return err
}

func (s *Store) ensurePost(ctx context.Context, id string) error {
	n, err := s.posts.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("post", id)
	}
	return nil
}

// === Comment Methods ===

// Каждое изменение массива комментариев увеличивает comment_rev. По нему
// RemoveCommentTree понимает, что ветка не менялась между чтением и $pull.
const (
	commentRevField    = "comment_rev"
	removeTreeAttempts = 5
)

type commentsWithRev struct {
	Comments []*domain.Comment `bson:"comments"`
	Rev      int64             `bson:"comment_rev"`
}

func (s *Store) AppendComment(ctx context.Context, postID string, comment *domain.Comment) (*domain.Comment, error) {
	if strings.TrimSpace(comment.Text) == "" {
		return nil, fmt.Errorf("%w: comment text cannot be empty", domain.ErrValidation)
	}

	c := *comment
	c.ID = newID()
	c.PostID = postID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Replies = nil
	c.Level = 0

	// Родитель проверяется фильтром того же обновления
	filter := bson.M{"_id": postID}
	if c.ParentID != nil {
		filter["comments._id"] = *c.ParentID
	}
	res, err := s.posts.UpdateOne(ctx, filter, bson.M{
		"$push": bson.M{"comments": &c},
		"$inc":  bson.M{commentRevField: 1},
	})
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		if err := s.ensurePost(ctx, postID); err != nil {
			return nil, err
		}
		return nil, notFound("comment", *c.ParentID)
	}
	return &c, nil
}

func (s *Store) GetComments(ctx context.Context, postID string) ([]*domain.Comment, error) {
	var post domain.Post
	err := s.posts.FindOne(ctx, bson.M{"_id": postID},
		options.FindOne().SetProjection(bson.M{"comments": 1}),
	).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("post", postID)
	}
	if err != nil {
		return nil, err
	}
	if post.Comments == nil {
		return []*domain.Comment{}, nil
	}
	return post.Comments, nil
}

// RemoveCommentTree вычисляет ветку по прочитанному массиву и вырезает её
// одним $pull при условии, что comment_rev с момента чтения не изменился.
// Если массив успели поменять, попытка повторяется.
func (s *Store) RemoveCommentTree(ctx context.Context, postID, commentID string) ([]string, error) {
	for i := 0; i < removeTreeAttempts; i++ {
		var doc commentsWithRev
		err := s.posts.FindOne(ctx, bson.M{"_id": postID},
			options.FindOne().SetProjection(bson.M{"comments._id": 1, "comments.parent_id": 1, commentRevField: 1}),
		).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound("post", postID)
		}
		if err != nil {
			return nil, err
		}

		ids := commenttree.DescendantIDs(doc.Comments, commentID)
		if len(ids) == 0 {
			return nil, notFound("comment", commentID)
		}

		var rev any = doc.Rev
		if doc.Rev == 0 {
			// Поле появляется при первом изменении комментариев
			rev = bson.M{"$in": bson.A{0, nil}}
		}
		res, err := s.posts.UpdateOne(ctx,
			bson.M{"_id": postID, commentRevField: rev},
			bson.M{
				"$pull": bson.M{"comments": bson.M{"_id": bson.M{"$in": ids}}},
				"$inc":  bson.M{commentRevField: 1},
			},
		)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			return ids, nil
		}
	}
	return nil, fmt.Errorf("%w: comments of post %s keep changing, try again", domain.ErrConflict, postID)
}

// === User Methods ===

func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	u := *user
	u.ID = newID()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	// Пустые массивы, а не null: иначе $addToSet и $push не сработают
	if u.Subscriptions == nil {
		u.Subscriptions = []string{}
	}
	if u.Notifications == nil {
		u.Notifications = []domain.Notification{}
	}

	if _, err := s.users.InsertOne(ctx, &u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: email or username already registered", domain.ErrConflict)
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*domain.User, error) {
	var u domain.User
	if err := s.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.findUser(ctx, bson.M{"_id": id})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("user", id)
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := s.findUser(ctx, bson.M{"email": email})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: user with email %s", domain.ErrNotFound, email)
	}
	return u, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	u, err := s.findUser(ctx, bson.M{"username": username})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
	}
	return u, err
}

func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	result := make(map[string]*domain.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"notifications": 0}),
	)
	if err != nil {
		return nil, err
	}
	var users []*domain.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd domain.UserUpdate) (*domain.User, error) {
	set := bson.M{}
	if upd.Avatar != nil {
		set["avatar"] = *upd.Avatar
	}
	if upd.Bio != nil {
		set["bio"] = *upd.Bio
	}
	if len(set) == 0 {
		return s.GetUserByID(ctx, id)
	}

	var u domain.User
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// updateUser применяет обновление к одному пользователю. changed - изменился ли документ.
func (s *Store) updateUser(ctx context.Context, userID string, update bson.M) (changed bool, err error) {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, notFound("user", userID)
	}
	return res.ModifiedCount > 0, nil
}

func (s *Store) PushNotification(ctx context.Context, userID string, n domain.Notification) error {
	n.ID = newID()
	n.UserID = userID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.updateUser(ctx, userID, bson.M{"$push": bson.M{"notifications": n}})
	return err
}

func (s *Store) MarkNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.updateUser(ctx, userID, bson.M{"$set": bson.M{"notifications.$[].read": true}})
	return err
}

func (s *Store) AddSubscription(ctx context.Context, userID, targetID string) (bool, error) {
	return s.updateUser(ctx, userID, bson.M{"$addToSet": bson.M{"subscriptions": targetID}})
}

func (s *Store) RemoveSubscription(ctx context.Context, userID, targetID string) (bool, error) {
	return s.updateUser(ctx, userID, bson.M{"$pull": bson.M{"subscriptions": targetID}})
}

func (s *Store) ListSubscribers(ctx context.Context, targetID string) ([]*domain.User, error) {
	cur, err := s.users.Find(ctx, bson.M{"subscriptions": targetID},
		options.Find().SetProjection(bson.M{"notifications": 0}),
	)
	if err != nil {
		return nil, err
	}
	var users []*domain.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// === Like Methods ===

func (s *Store) InsertLike(ctx context.Context, like domain.Like) (bool, error) {
	n, err := s.posts.CountDocuments(ctx, bson.M{"_id": like.PostID}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, notFound("post", like.PostID)
	}
	if like.CreatedAt.IsZero() {
		like.CreatedAt = time.Now().UTC()
	}

	// Уникальный индекс (post_id, user_id) отсекает повторную отметку
	if _, err := s.likes.InsertOne(ctx, like); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) DeleteLike(ctx context.Context, postID, userID string) (bool, error) {
	res, err := s.likes.DeleteOne(ctx, bson.M{"post_id": postID, "user_id": userID})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (s *Store) HasLike(ctx context.Context, postID, userID string) (bool, error) {
	n, err := s.likes.CountDocuments(ctx, bson.M{"post_id": postID, "user_id": userID}, options.Count().SetLimit(1))
	return n > 0, err
}

// AddLikeCount меняет счётчик одним конвейерным обновлением: like_count = max(0, like_count + delta).
func (s *Store) AddLikeCount(ctx context.Context, postID string, delta int) (int, error) {
	update := bson.A{
		bson.M{"$set": bson.M{
			"like_count": bson.M{"$max": bson.A{0, bson.M{"$add": bson.A{"$like_count", delta}}}},
		}},
	}
	var post domain.Post
	err := s.posts.FindOneAndUpdate(ctx,
		bson.M{"_id": postID},
		update,
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{"like_count": 1}),
	).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, notFound("post", postID)
	}
	if err != nil {
		return 0, err
	}
	return post.LikeCount, nil
}
