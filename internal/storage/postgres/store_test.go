package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/UkralStul/technews/internal/domain"
	"github.com/UkralStul/technews/internal/storage"
	"github.com/UkralStul/technews/internal/storage/storagetest"
)

// startPostgres поднимает одноразовый контейнер PostgreSQL и возвращает DSN.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test, skipped with -short")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("technews"),
		tcpostgres.WithUsername("technews"),
		tcpostgres.WithPassword("technews"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestStore_Contract(t *testing.T) {
	dsn := startPostgres(t)

	storagetest.Run(t, func(t *testing.T) storage.Storage {
		s, err := New(dsn)
		require.NoError(t, err)
		// Каждый подтест начинает с пустых таблиц
		require.NoError(t, s.db.Exec("TRUNCATE likes, comments, posts, notifications, users CASCADE").Error)
		t.Cleanup(func() { _ = s.Close(context.Background()) })
		return s
	})
}

func TestStore_NonUUIDIdsAreNotFound(t *testing.T) {
	dsn := startPostgres(t)
	s, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	ctx := context.Background()
	_, err = s.GetPostByID(ctx, "not-a-uuid")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetUserByID(ctx, "42")
	require.ErrorIs(t, err, domain.ErrNotFound)

	users, err := s.GetUsersByIDs(ctx, []string{"42"})
	require.NoError(t, err)
	require.Empty(t, users)
}
