package session

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"dessert-admin/config"
	"dessert-admin/db"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsOperator(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(" 1234 ", "  ", now)
	assert.Equal(t, "1234", s.PIN)
	assert.Equal(t, DefaultOperator, s.Operator)
	assert.Equal(t, now, s.LoggedInAt)

	assert.Equal(t, "Laura", New("1", "Laura", now).Operator)
}

// exerciseStore runs the same save/load/clear cycle against any backend.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Clear(ctx))

	_, err := st.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	want := New("4321", "Caja", time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, st.Save(ctx, want))
	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.PIN, got.PIN)
	assert.Equal(t, want.Operator, got.Operator)
	assert.True(t, want.LoggedInAt.Equal(got.LoggedInAt))

	require.NoError(t, st.Clear(ctx))
	_, err = st.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, st.Clear(ctx), "clearing twice is fine")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, &Memory{})
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	exerciseStore(t, NewFileStore(path))
}

func TestFileStorePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	st := NewFileStore(path)
	require.NoError(t, st.Save(context.Background(), New("1", "", time.Now())))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	exerciseStore(t, NewRedisStore(client, "test-"+strconv.FormatInt(time.Now().UnixNano(), 10), time.Minute))
}

// Integration test for the postgres backend. Needs TEST_DB_HOST and the
// admin_sessions migration applied.
func TestPostgresStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("skipping postgres integration test: TEST_DB_HOST not set")
	}
	cfg := config.DBConfig{
		Host:     host,
		Port:     5432,
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		Database: os.Getenv("DB_NAME"),
	}
	if err := db.Init(context.Background(), cfg); err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	defer db.Close()

	exerciseStore(t, NewPostgresStore("test-session"))
}

func TestPostgresStoreWithoutPool(t *testing.T) {
	_, err := NewPostgresStore("").Load(context.Background())
	assert.ErrorIs(t, err, db.ErrNotInitialized)
}
