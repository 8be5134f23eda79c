package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "users.json", strings.NewReader("records"), 7))

		rc, err := s.Get(ctx, "users.json")
		require.NoError(t, err)
		defer rc.Close()

		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "records", string(b))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "users.json", strings.NewReader("v2"), 2))

		rc, err := s.Get(ctx, "users.json")
		require.NoError(t, err)
		defer rc.Close()

		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(b))
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, "users.index", strings.NewReader("idx"), 3))
		require.NoError(t, s.Put(ctx, "orders.json", strings.NewReader("o"), 1))

		keys, err := s.List(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, []string{"users.index", "users.json"}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "orders.json"))
		_, err := s.Get(ctx, "orders.json")
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting a missing blob is not an error
		require.NoError(t, s.Delete(ctx, "orders.json"))
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	testStore(t, s)
}
