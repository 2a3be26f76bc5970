package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	failures int
	keys     []string
	bodies   []string
}

func (f *fakeStore) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.keys = append(f.keys, *params.Key)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	t.Run("should partition by date and version the stem", func(t *testing.T) {
		now := time.Date(2024, 2, 7, 14, 30, 5, 0, time.UTC)

		key := ObjectKey("transactions", "/data/raw/transactions.csv", now)

		assert.Equal(t, "raw/year=2024/month=02/day=07/transactions/transactions_20240207T143005Z.csv", key)
	})
}

func TestUpload(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 2, 7, 14, 30, 5, 0, time.UTC))

	writeFile := func(t *testing.T, dir, name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("should upload the file body under the partitioned key", func(t *testing.T) {
		store := &fakeStore{}
		uploader := NewUploaderWithStore(store, "shopflow-raw", clock)
		path := writeFile(t, t.TempDir(), "customers.csv", "id,name\n1,Kim\n")

		key, err := uploader.Upload(context.Background(), "customers", path)

		require.NoError(t, err)
		assert.Contains(t, key, "raw/year=2024/month=02/day=07/customers/")
		require.Len(t, store.bodies, 1)
		assert.Equal(t, "id,name\n1,Kim\n", store.bodies[0])
	})

	t.Run("should retry transient failures with backoff", func(t *testing.T) {
		store := &fakeStore{failures: 2}
		uploader := NewUploaderWithStore(store, "shopflow-raw", clock)
		path := writeFile(t, t.TempDir(), "products.csv", "id\n1\n")

		_, err := uploader.Upload(context.Background(), "products", path)

		require.NoError(t, err)
		assert.Len(t, store.keys, 1)
	})

	t.Run("should give up after exhausting attempts", func(t *testing.T) {
		store := &fakeStore{failures: 10}
		uploader := NewUploaderWithStore(store, "shopflow-raw", clock)
		path := writeFile(t, t.TempDir(), "products.csv", "id\n1\n")

		_, err := uploader.Upload(context.Background(), "products", path)

		assert.Error(t, err)
		assert.Empty(t, store.keys)
	})

	t.Run("should upload every csv in a directory", func(t *testing.T) {
		store := &fakeStore{}
		uploader := NewUploaderWithStore(store, "shopflow-raw", clock)
		dir := t.TempDir()
		writeFile(t, dir, "customers.csv", "id\n1\n")
		writeFile(t, dir, "transactions.csv", "id\n1\n")
		writeFile(t, dir, "notes.txt", "skip me")

		keys, err := uploader.UploadDir(context.Background(), dir)

		require.NoError(t, err)
		require.Len(t, keys, 2)
		assert.Contains(t, keys[0], "/customers/")
		assert.Contains(t, keys[1], "/transactions/")
	})
}
