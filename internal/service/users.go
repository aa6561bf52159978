package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/UkralStul/technews/internal/auth"
	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/storage"
)

type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Avatar   string `json:"avatar" validate:"omitempty,max=1024"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ProfileInput - изменения профиля. nil означает "не менять".
type ProfileInput struct {
	Avatar *string `json:"avatar" validate:"omitempty,max=1024"`
	Bio    *string `json:"bio" validate:"omitempty,max=2000"`
}

// AuthResult возвращается регистрацией и входом.
type AuthResult struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// Profile - публичная карточка пользователя.
type Profile struct {
	ID        string      `json:"id"`
	Username  string      `json:"username"`
	Avatar    string      `json:"avatar"`
	Bio       string      `json:"bio"`
	Role      domain.Role `json:"role"`
	Followers int         `json:"followers"`
	Following int         `json:"following"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Users struct {
	store        storage.Storage
	issuer       *auth.Issuer
	isAdminEmail func(string) bool
	logger       *slog.Logger
	now          func() time.Time
}

// NewUsers создаёт сервис пользователей. isAdminEmail решает, кто получает
// роль администратора при регистрации, и может быть nil.
func NewUsers(store storage.Storage, issuer *auth.Issuer, isAdminEmail func(string) bool, logger *slog.Logger) *Users {
	if logger == nil {
		logger = slog.Default()
	}
	if isAdminEmail == nil {
		isAdminEmail = func(string) bool { return false }
	}
	return &Users{store: store, issuer: issuer, isAdminEmail: isAdminEmail, logger: logger, now: time.Now}
}

func (s *Users) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Avatar = strings.TrimSpace(in.Avatar)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	if _, err := s.store.GetUserByEmail(ctx, in.Email); err == nil {
		return nil, fmt.Errorf("%w: email is already registered", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if _, err := s.store.GetUserByUsername(ctx, in.Username); err == nil {
		return nil, fmt.Errorf("%w: username is already taken", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	role := domain.RoleUser
	if s.isAdminEmail(in.Email) {
		role = domain.RoleAdmin
	}

	// Уникальность всё равно проверяется хранилищем: параллельная регистрация вернёт ErrConflict.
	user, err := s.store.CreateUser(ctx, &domain.User{
		Username:      in.Username,
		Email:         in.Email,
		PasswordHash:  hash,
		Avatar:        in.Avatar,
		Role:          role,
		Subscriptions: []string{},
		Notifications: []domain.Notification{},
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return s.authResult(user)
}

func (s *Users) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByEmail(ctx, in.Email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid email or password", domain.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, in.Password) {
		return nil, fmt.Errorf("%w: invalid email or password", domain.ErrUnauthenticated)
	}
	return s.authResult(user)
}

func (s *Users) authResult(user *domain.User) (*AuthResult, error) {
	token, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: user}, nil
}

// Me возвращает полную запись пользователя, включая уведомления.
func (s *Users) Me(ctx context.Context, actor domain.Principal) (*domain.User, error) {
	user, err := s.store.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	sortNotifications(user.Notifications)
	return user, nil
}

func (s *Users) Profile(ctx context.Context, id string) (*Profile, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	followers, err := s.store.ListSubscribers(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Profile{
		ID:        user.ID,
		Username:  user.Username,
		Avatar:    user.Avatar,
		Bio:       user.Bio,
		Role:      user.Role,
		Followers: len(followers),
		Following: len(user.Subscriptions),
		CreatedAt: user.CreatedAt,
	}, nil
}

// UpdateProfile меняет аватар и описание. Свой профиль может менять владелец,
// любой - администратор.
func (s *Users) UpdateProfile(ctx context.Context, actor domain.Principal, id string, in ProfileInput) (*domain.User, error) {
	if !actor.IsAdmin() && actor.UserID != id {
		return nil, fmt.Errorf("%w: cannot edit another user's profile", domain.ErrPermissionDenied)
	}
	if in.Avatar != nil {
		v := strings.TrimSpace(*in.Avatar)
		in.Avatar = &v
	}
	if in.Bio != nil {
		v := strings.TrimSpace(*in.Bio)
		in.Bio = &v
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	return s.store.UpdateUser(ctx, id, domain.UserUpdate{Avatar: in.Avatar, Bio: in.Bio})
}

// Subscribe подписывает actor на автора targetID. Повторная подписка ничего не меняет.
func (s *Users) Subscribe(ctx context.Context, actor domain.Principal, targetID string) (bool, error) {
	if targetID == actor.UserID {
		return false, fmt.Errorf("%w: cannot subscribe to yourself", domain.ErrValidation)
	}
	if _, err := s.store.GetUserByID(ctx, targetID); err != nil {
		return false, err
	}
	return s.store.AddSubscription(ctx, actor.UserID, targetID)
}

func (s *Users) Unsubscribe(ctx context.Context, actor domain.Principal, targetID string) (bool, error) {
	return s.store.RemoveSubscription(ctx, actor.UserID, targetID)
}

// Followers возвращает публичные карточки подписчиков пользователя.
func (s *Users) Followers(ctx context.Context, id string) ([]*Profile, error) {
	if _, err := s.store.GetUserByID(ctx, id); err != nil {
		return nil, err
	}
	users, err := s.store.ListSubscribers(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]*Profile, 0, len(users))
	for _, u := range users {
		out = append(out, &Profile{
			ID:        u.ID,
			Username:  u.Username,
			Avatar:    u.Avatar,
			Bio:       u.Bio,
			Role:      u.Role,
			Following: len(u.Subscriptions),
			CreatedAt: u.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// Notifications возвращает уведомления actor, новые первыми.
func (s *Users) Notifications(ctx context.Context, actor domain.Principal) ([]domain.Notification, error) {
	user, err := s.store.GetUserByID(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	sortNotifications(user.Notifications)
	if user.Notifications == nil {
		return []domain.Notification{}, nil
	}
	return user.Notifications, nil
}

func (s *Users) MarkNotificationsRead(ctx context.Context, actor domain.Principal) error {
	return s.store.MarkNotificationsRead(ctx, actor.UserID)
}

func sortNotifications(ns []domain.Notification) {
	sort.SliceStable(ns, func(i, j int) bool { return ns[i].CreatedAt.After(ns[j].CreatedAt) })
}
