package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePutGet(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	key := "prices_1d/interval=1d/symbol=AAPL/year=2024/month=1/data.parquet"
	require.NoError(t, s.Put(ctx, key, []byte("v1")))
	require.NoError(t, s.Put(ctx, key, []byte("v2")))

	b, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))

	// no temp files are left behind
	entries, err := os.ReadDir(filepath.Dir(s.URI(key)))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStoreGetMissing(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "models/NOPE_daily_logreg.pkl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreListPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	keys := []string{
		"prices_1d/interval=1d/symbol=AAPL/year=2024/month=2/data.parquet",
		"prices_1d/interval=1d/symbol=AAPL/year=2024/month=1/data.parquet",
		"prices_1d/interval=1d/symbol=AAPLX/year=2024/month=1/data.parquet",
		"models/AAPL_daily_logreg.pkl",
	}
	for _, k := range keys {
		require.NoError(t, s.Put(ctx, k, []byte(k)))
	}

	got, err := s.List(ctx, "prices_1d/interval=1d/symbol=AAPL/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, keys[1], got[0].Key)
	assert.Equal(t, keys[0], got[1].Key)
	assert.Equal(t, int64(len(keys[1])), got[0].Size)

	got, err = s.List(ctx, "models/AAPL")
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.List(ctx, "prices_1h/")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalStoreDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "a/b.txt", []byte("x")))
	require.NoError(t, s.Delete(ctx, "a/b.txt"))
	require.NoError(t, s.Delete(ctx, "a/b.txt"))
	_, err = s.Get(ctx, "a/b.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(filepath.Join(root, "store"))
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), "../../escape.txt", []byte("x")))
	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}
