package repository

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
	"github.com/victorescoto/fiap-ml-finance/pkg/storage"
)

func newModelStores(t *testing.T) (*ObjectModelStore, *storage.LocalStore) {
	t.Helper()
	remote, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	disk, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return NewObjectModelStore(remote), disk
}

func TestModelStoreMissingModel(t *testing.T) {
	ms, _ := newModelStores(t)
	_, err := ms.LoadModel(context.Background(), "AAPL")
	assert.ErrorIs(t, err, models.ErrModelMissing)
}

func TestModelStoreReportWrittenWhenEmpty(t *testing.T) {
	ms, _ := newModelStores(t)
	ctx := context.Background()
	path, err := ms.SaveReport(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, path, "training_report.json")

	r, err := ms.LoadReport(ctx)
	require.NoError(t, err)
	assert.Empty(t, r)
}

func TestModelStoreLogsWrites(t *testing.T) {
	ms, _ := newModelStores(t)
	var buf bytes.Buffer
	ms.SetLogger(applogger.NewWithWriter(&buf))
	ctx := context.Background()

	_, err := ms.SaveModel(ctx, "AAPL", []byte("{}"))
	require.NoError(t, err)
	_, err = ms.SaveReport(ctx, models.TrainingReport{"AAPL": {}})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"message":"model artifact saved"`)
	assert.Contains(t, out, `"symbol":"AAPL"`)
	assert.Contains(t, out, `"message":"training report saved"`)
}

type failingModelStore struct{ *ObjectModelStore }

func (failingModelStore) LoadModel(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection reset")
}

func TestDiskCachedModelStoreFallsBackToLocalCopy(t *testing.T) {
	ms, disk := newModelStores(t)
	ctx := context.Background()

	cached := NewDiskCachedModelStore(ms, disk)
	_, err := cached.SaveModel(ctx, "AAPL", []byte(`{"coef":[1]}`))
	require.NoError(t, err)

	local, err := disk.Get(ctx, ModelKey("AAPL"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"coef":[1]}`, string(local))

	down := NewDiskCachedModelStore(failingModelStore{ms}, disk)
	b, err := down.LoadModel(ctx, "AAPL")
	require.NoError(t, err)
	assert.JSONEq(t, `{"coef":[1]}`, string(b))

	_, err = down.LoadModel(ctx, "MSFT")
	assert.EqualError(t, err, "connection reset")
}

func TestDiskCachedModelStoreKeepsMissing(t *testing.T) {
	ms, disk := newModelStores(t)
	cached := NewDiskCachedModelStore(ms, disk)
	_, err := cached.LoadModel(context.Background(), "TSLA")
	assert.ErrorIs(t, err, models.ErrModelMissing)
}
