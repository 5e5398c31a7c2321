//go:build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/frsoeteb/OpenTrickler-v2/internal/store/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDB returns a connected *postgres.DB. It checks TEST_DB_URL first;
// if unset, an ephemeral PostgreSQL container is started via
// testcontainers-go. Both paths are cleaned up when the test ends.
func testDB(t *testing.T) *postgres.DB {
	t.Helper()

	if url := os.Getenv("TEST_DB_URL"); url != "" {
		db, err := postgres.New(postgres.Config{
			URL:             url,
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Minute,
		})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("test_trickler"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := postgres.New(postgres.Config{
		URL:             connStr,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBlobRepo_RoundTrip(t *testing.T) {
	db := testDB(t)
	repo := postgres.NewBlobRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.EnsureSchema(ctx))
	// Idempotent.
	require.NoError(t, repo.EnsureSchema(ctx))

	missing, err := repo.Read(ctx, 0x3000)
	require.NoError(t, err)
	assert.Nil(t, missing)

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	require.NoError(t, repo.Write(ctx, 0x3000, payload))

	got, err := repo.Read(ctx, 0x3000)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Whole-blob replacement on conflict.
	require.NoError(t, repo.Write(ctx, 0x3000, []byte{0x01}))
	got, err = repo.Read(ctx, 0x3000)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)
}
