// Package auth выпускает и проверяет токены доступа и хеширует пароли.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/UkralStul/technews/internal/domain"
)

// Claims - содержимое токена доступа.
type Claims struct {
	UID  string      `json:"uid"`
	Role domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Issuer подписывает и проверяет HS256-токены.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue выпускает токен для пользователя.
func (i *Issuer) Issue(u *domain.User) (string, error) {
	now := i.now()
	claims := Claims{
		UID:  u.ID,
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify проверяет токен и возвращает личность его владельца.
func (i *Issuer) Verify(tokenStr string) (domain.Principal, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return domain.Principal{}, fmt.Errorf("%w: invalid token", domain.ErrUnauthenticated)
	}

	uid := claims.UID
	if uid == "" {
		uid = claims.Subject
	}
	if uid == "" {
		return domain.Principal{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthenticated)
	}
	role := claims.Role
	if role != domain.RoleAdmin {
		role = domain.RoleUser
	}
	return domain.Principal{UserID: uid, Role: role}, nil
}

// HashPassword возвращает bcrypt-хеш пароля.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword сравнивает пароль с хешем.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
