package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	domrepo "github.com/victorescoto/fiap-ml-finance/internal/domain/repository"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
	"github.com/victorescoto/fiap-ml-finance/pkg/storage"
)

const (
	modelsPrefix = "models/"
	ReportKey    = modelsPrefix + "training_report.json"
)

// ModelKey is the object key of a symbol's daily classifier.
func ModelKey(symbol string) string {
	return modelsPrefix + strings.ToUpper(symbol) + "_daily_logreg.pkl"
}

// ObjectModelStore implements ModelStore on an object store.
type ObjectModelStore struct {
	store storage.ObjectStore
	l     *applogger.Logger
}

var _ domrepo.ModelStore = (*ObjectModelStore)(nil)

func NewObjectModelStore(store storage.ObjectStore) *ObjectModelStore {
	return &ObjectModelStore{store: store, l: applogger.NewNop()}
}

// SetLogger injects a structured logger.
func (s *ObjectModelStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *ObjectModelStore) ModelPath(symbol string) string {
	return s.store.URI(ModelKey(symbol))
}

func (s *ObjectModelStore) SaveModel(ctx context.Context, symbol string, b []byte) (string, error) {
	key := ModelKey(symbol)
	if err := s.store.Put(ctx, key, b); err != nil {
		return "", fmt.Errorf("save model %s: %w", symbol, err)
	}
	s.l.Info("model artifact saved",
		applogger.String("symbol", symbol),
		applogger.String("key", key),
		applogger.Int("bytes", len(b)),
	)
	return s.store.URI(key), nil
}

func (s *ObjectModelStore) LoadModel(ctx context.Context, symbol string) ([]byte, error) {
	b, err := s.store.Get(ctx, ModelKey(symbol))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrModelMissing, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", symbol, err)
	}
	return b, nil
}

func (s *ObjectModelStore) SaveReport(ctx context.Context, r models.TrainingReport) (string, error) {
	if r == nil {
		r = models.TrainingReport{}
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	if err := s.store.Put(ctx, ReportKey, b); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	s.l.Info("training report saved",
		applogger.String("key", ReportKey),
		applogger.Int("symbols", len(r)),
	)
	return s.store.URI(ReportKey), nil
}

func (s *ObjectModelStore) LoadReport(ctx context.Context) (models.TrainingReport, error) {
	b, err := s.store.Get(ctx, ReportKey)
	if errors.Is(err, storage.ErrNotFound) {
		return models.TrainingReport{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	var r models.TrainingReport
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return r, nil
}

// DiskCachedModelStore keeps a local copy of every artifact it loads or saves and
// serves that copy when the backing store is unreachable.
type DiskCachedModelStore struct {
	domrepo.ModelStore
	disk storage.ObjectStore
	l    *applogger.Logger
}

func NewDiskCachedModelStore(remote domrepo.ModelStore, disk storage.ObjectStore) *DiskCachedModelStore {
	return &DiskCachedModelStore{ModelStore: remote, disk: disk, l: applogger.NewNop()}
}

// SetLogger injects a structured logger.
func (s *DiskCachedModelStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *DiskCachedModelStore) SaveModel(ctx context.Context, symbol string, b []byte) (string, error) {
	path, err := s.ModelStore.SaveModel(ctx, symbol, b)
	if err != nil {
		return "", err
	}
	s.keep(ctx, symbol, b)
	return path, nil
}

func (s *DiskCachedModelStore) LoadModel(ctx context.Context, symbol string) ([]byte, error) {
	b, err := s.ModelStore.LoadModel(ctx, symbol)
	if err == nil {
		s.keep(ctx, symbol, b)
		return b, nil
	}
	if errors.Is(err, models.ErrModelMissing) {
		return nil, err
	}
	local, lerr := s.disk.Get(ctx, ModelKey(symbol))
	if lerr != nil {
		return nil, err
	}
	s.l.Warn("model store unreachable, serving local copy",
		applogger.String("symbol", symbol), applogger.Error(err))
	return local, nil
}

func (s *DiskCachedModelStore) keep(ctx context.Context, symbol string, b []byte) {
	if err := s.disk.Put(ctx, ModelKey(symbol), b); err != nil {
		s.l.Warn("model disk cache write failed",
			applogger.String("symbol", symbol), applogger.Error(err))
	}
}
