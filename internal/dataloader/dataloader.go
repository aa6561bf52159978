package dataloader

import (
	"context"
	"net/http"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/UkralStul/technews/internal/domain"
)

type contextKey string

const key = contextKey("dataloaders")

// UserSource - хранилище, из которого пачками загружаются пользователи.
type UserSource interface {
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error)
}

// Loaders содержит все дата-лоадеры приложения.
type Loaders struct {
	UsersByID *dataloader.Loader
}

// NewLoaders создаёт лоадеры на один запрос. opts дополняют настройки по умолчанию.
func NewLoaders(store UserSource, opts ...dataloader.Option) *Loaders {
	// Батч-функция: один запрос к хранилищу на все ключи
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := keys.Keys()

		users, err := store.GetUsersByIDs(ctx, ids)
		if err != nil {
			// В случае ошибки, возвращаем ее для всех ключей
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Формируем результат в том же порядке, что и ключи
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if u, ok := users[id]; ok {
				results[i] = &dataloader.Result{Data: u}
			} else {
				results[i] = &dataloader.Result{Data: (*domain.User)(nil)}
			}
		}
		return results
	}

	opts = append([]dataloader.Option{dataloader.WithWait(time.Millisecond * 1)}, opts...)
	return &Loaders{
		UsersByID: dataloader.NewBatchedLoader(batchFn, opts...),
	}
}

// Middleware для внедрения лоадеров в контекст запроса.
func Middleware(store UserSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), key, NewLoaders(store))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// For извлекает лоадеры из контекста. nil, если middleware не подключён.
func For(ctx context.Context) *Loaders {
	l, _ := ctx.Value(key).(*Loaders)
	return l
}

// WithLoaders кладёт лоадеры в контекст вне HTTP (фоновые задачи, тесты).
func WithLoaders(ctx context.Context, l *Loaders) context.Context {
	return context.WithValue(ctx, key, l)
}

// LoadUsers загружает пользователей по id через лоадер из контекста, а если
// его нет - напрямую из хранилища. Ненайденные id в результат не попадают.
func LoadUsers(ctx context.Context, store UserSource, ids []string) (map[string]*domain.User, error) {
	l := For(ctx)
	if l == nil {
		return store.GetUsersByIDs(ctx, ids)
	}

	thunk := l.UsersByID.LoadMany(ctx, dataloader.NewKeysFromStrings(ids))
	data, errs := thunk()
	result := make(map[string]*domain.User, len(ids))
	for i, d := range data {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		if u, ok := d.(*domain.User); ok && u != nil {
			result[ids[i]] = u
		}
	}
	return result, nil
}
