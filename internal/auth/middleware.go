package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/UkralStul/technews/internal/domain"
)

type contextKey string

const principalKey = contextKey("principal")

// WithPrincipal кладёт личность в контекст.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom извлекает личность из контекста.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok && p.UserID != ""
}

// Authenticate разбирает заголовок Authorization, если он есть.
// Запрос без токена проходит дальше анонимно, с неверным токеном - получает 401.
func (i *Issuer) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
			writeUnauthorized(w, "invalid authorization header")
			return
		}
		p, err := i.Verify(strings.TrimSpace(header[7:]))
		if err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAuth пропускает только запросы с установленной личностью.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			writeUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
