package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()
		require.NoError(t, s.Create(ctx, id, Fields{"status": "PENDING", "filePath": "/x.wav"}))

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "PENDING", got["status"])
		assert.Equal(t, "/x.wav", got["filePath"])

		assert.ErrorIs(t, s.Create(ctx, id, Fields{"status": "PENDING"}), ErrJobExists)
	})

	t.Run("missing job", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Set(ctx, "does-not-exist", Fields{"a": "b"}), ErrNotFound)
	})

	t.Run("invalid id", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Create(ctx, "../escape", Fields{}), ErrInvalidJobID)
	})

	t.Run("set merges and empty deletes", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()
		require.NoError(t, s.Create(ctx, id, Fields{"status": "FAILED", "error": "boom"}))
		require.NoError(t, s.Set(ctx, id, Fields{"status": "QUEUED_FOR_ADJUSTMENT", "error": "", "targets": "[]"}))

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "QUEUED_FOR_ADJUSTMENT", got["status"])
		assert.Equal(t, "[]", got["targets"])
		_, hasErr := got["error"]
		assert.False(t, hasErr)
	})

	t.Run("update error leaves record", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()
		require.NoError(t, s.Create(ctx, id, Fields{"status": "PENDING"}))
		err := s.Update(ctx, id, func(cur Fields) (Fields, error) {
			return nil, ErrInvalidTransition
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, Fields{"status": "PENDING"}, got)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()
		require.NoError(t, s.Create(ctx, id, Fields{"status": "PENDING"}))
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		got["status"] = "COMPLETE"

		again, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "PENDING", again["status"])
	})

	t.Run("concurrent updates to one job serialize", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()
		require.NoError(t, s.Create(ctx, id, Fields{"n": "0"}))

		const workers = 20
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Update(ctx, id, func(cur Fields) (Fields, error) {
					n, _ := strconv.Atoi(cur["n"])
					return Fields{"n": strconv.Itoa(n + 1)}, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(workers), got["n"])
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, "job-b", Fields{"status": "PENDING"}))
		require.NoError(t, s.Create(ctx, "job-a", Fields{"status": "PENDING"}))
		ids, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"job-a", "job-b"}, ids)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestFileStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Create(ctx, "job-1", Fields{"status": "PENDING"}))
	require.NoError(t, s1.Set(ctx, "job-1", Fields{"status": "PROCESSING_UPLOAD_CLOUD"}))

	// simulate a crash mid-write leaving a temp file behind
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job-1.json.tmp123"), []byte("{partial"), 0o644))

	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := s2.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "PROCESSING_UPLOAD_CLOUD", got["status"])

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp*"))
	assert.Empty(t, leftovers)

	ids, err := s2.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, ids)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DSN not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		s, err := OpenPostgresStore(context.Background(), dsn)
		require.NoError(t, err)
		_, err = s.db.Exec(`TRUNCATE wpmnorm_jobs`)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
