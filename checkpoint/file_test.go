package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	t.Run("should default to epoch when no checkpoint exists", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir(), "transactions")
		require.NoError(t, err)

		w, err := store.Load()

		require.NoError(t, err)
		assert.Equal(t, Epoch(), w)
	})

	t.Run("should round trip a saved watermark", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir(), "transactions")
		require.NoError(t, err)

		saved := Watermark{LastProcessed: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)}
		require.NoError(t, store.Save(saved))

		loaded, err := store.Load()

		require.NoError(t, err)
		assert.True(t, saved.LastProcessed.Equal(loaded.LastProcessed))
	})

	t.Run("should replace an existing value atomically", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir, "transactions")
		require.NoError(t, err)

		require.NoError(t, store.Save(Watermark{LastProcessed: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}))
		require.NoError(t, store.Save(Watermark{LastProcessed: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}))

		loaded, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, 2024, loaded.LastProcessed.Year())
		assert.Equal(t, time.February, loaded.LastProcessed.Month())

		// no temp leftovers after the rename
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "transactions_checkpoint.json", entries[0].Name())
	})

	t.Run("should report corrupt state instead of defaulting", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir, "transactions")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "transactions_checkpoint.json"), []byte("{not json"), 0o600))

		_, err = store.Load()

		require.Error(t, err)
	})

	t.Run("should surface a typed persist error", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir, "transactions")
		require.NoError(t, err)
		// removing the directory makes the temp file creation fail
		require.NoError(t, os.RemoveAll(dir))

		err = store.Save(Watermark{LastProcessed: time.Now()})

		var perr *PersistError
		require.ErrorAs(t, err, &perr)
		assert.Contains(t, perr.Error(), "persist checkpoint")
	})
}

func TestWatermarkAdvance(t *testing.T) {
	base := Watermark{LastProcessed: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}

	t.Run("should move forward for a newer timestamp", func(t *testing.T) {
		next := base.Advance(base.LastProcessed.Add(time.Hour))
		assert.True(t, next.LastProcessed.After(base.LastProcessed))
	})

	t.Run("should never move backward", func(t *testing.T) {
		next := base.Advance(base.LastProcessed.Add(-time.Hour))
		assert.Equal(t, base, next)
	})
}
