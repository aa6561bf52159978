package domain

import "time"

// PostStatus - состояние статьи в процессе модерации.
type PostStatus string

const (
	StatusPending   PostStatus = "pending"
	StatusPublished PostStatus = "published"
	StatusRejected  PostStatus = "rejected"
)

// Valid сообщает, является ли значение одним из трёх допустимых состояний.
func (s PostStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPublished, StatusRejected:
		return true
	}
	return false
}

// Role - роль пользователя.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Post представляет статью в системе.
type Post struct {
	ID              string     `json:"id" bson:"_id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Title           string     `json:"title" bson:"title" gorm:"type:varchar(255);not null"`
	Description     string     `json:"description" bson:"description" gorm:"type:text;not null"`
	Body            string     `json:"body" bson:"body" gorm:"type:text;not null"`
	Category        string     `json:"category" bson:"category" gorm:"type:varchar(64);not null;index"`
	Image           string     `json:"image,omitempty" bson:"image,omitempty" gorm:"type:varchar(1024)"`
	AuthorID        string     `json:"authorId" bson:"author_id" gorm:"type:varchar(64);not null;index"`
	Status          PostStatus `json:"status" bson:"status" gorm:"type:varchar(16);not null;index;default:'pending'"`
	LikeCount       int        `json:"likeCount" bson:"like_count" gorm:"not null;default:0"`
	RejectionReason string     `json:"rejectionReason,omitempty" bson:"rejection_reason,omitempty" gorm:"type:text"`
	CreatedAt       time.Time  `json:"createdAt" bson:"created_at" gorm:"not null;default:now()"`
	Comments        []*Comment `json:"comments" bson:"comments" gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE"`
}

// Comment представляет комментарий к статье. Хранится плоско, со ссылкой на родителя.
type Comment struct {
	ID           string    `json:"id" bson:"_id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	PostID       string    `json:"postId" bson:"post_id" gorm:"type:uuid;not null;index"`
	ParentID     *string   `json:"parentId,omitempty" bson:"parent_id,omitempty" gorm:"type:uuid;index"`
	AuthorID     string    `json:"authorId" bson:"author_id" gorm:"type:varchar(64);not null"`
	AuthorAvatar string    `json:"authorAvatar" bson:"author_avatar" gorm:"type:varchar(1024)"`
	Text         string    `json:"text" bson:"text" gorm:"type:varchar(2000);not null"`
	CreatedAt    time.Time `json:"createdAt" bson:"created_at" gorm:"not null;default:now()"`

	// Вычисляемые поля, не сохраняются.
	Replies []*Comment `json:"replies,omitempty" bson:"-" gorm:"-"`
	Level   int        `json:"level" bson:"-" gorm:"-"`
}

// Like - отметка "нравится" пользователя на статье. Не более одной на пару (PostID, UserID).
type Like struct {
	PostID    string    `json:"postId" bson:"post_id" gorm:"type:uuid;primaryKey"`
	UserID    string    `json:"userId" bson:"user_id" gorm:"type:varchar(64);primaryKey"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at" gorm:"not null;default:now()"`
}

// User представляет зарегистрированного пользователя.
type User struct {
	ID            string         `json:"id" bson:"_id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Username      string         `json:"username" bson:"username" gorm:"type:varchar(32);uniqueIndex;not null"`
	Email         string         `json:"email" bson:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash  string         `json:"-" bson:"password_hash" gorm:"type:varchar(255);not null"`
	Avatar        string         `json:"avatar" bson:"avatar" gorm:"type:varchar(1024)"`
	Bio           string         `json:"bio" bson:"bio" gorm:"type:text"`
	Role          Role           `json:"role" bson:"role" gorm:"type:varchar(16);not null;default:'user'"`
	Subscriptions []string       `json:"subscriptions" bson:"subscriptions" gorm:"type:text[];serializer:textarray"`
	Notifications []Notification `json:"notifications,omitempty" bson:"notifications" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time      `json:"createdAt" bson:"created_at" gorm:"not null;default:now()"`
}

// IsAdmin сообщает, есть ли у пользователя административная роль.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Notification - уведомление, прикреплённое к записи пользователя.
type Notification struct {
	ID        string    `json:"id" bson:"_id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID    string    `json:"-" bson:"-" gorm:"type:uuid;not null;index"`
	PostID    string    `json:"postId,omitempty" bson:"post_id,omitempty" gorm:"type:varchar(64)"`
	Message   string    `json:"message" bson:"message" gorm:"type:text;not null"`
	Read      bool      `json:"read" bson:"read" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at" gorm:"not null;default:now()"`
}

// Principal - установленная личность автора запроса.
type Principal struct {
	UserID string
	Role   Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// UserUpdate - изменяемые поля профиля. nil означает "не менять".
type UserUpdate struct {
	Avatar *string
	Bio    *string
}
