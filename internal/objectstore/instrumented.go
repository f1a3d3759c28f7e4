package objectstore

import (
	"context"
	"os"
	"time"
)

// MetricsRecorder receives per-operation timings. It keeps this package
// independent of the metrics package.
type MetricsRecorder interface {
	RecordUpload(durationSeconds float64, success bool, bytes int64)
	RecordDownload(durationSeconds float64, success bool, bytes int64)
	RecordBatchDelete(durationSeconds float64, success bool, deleted, failed int)
}

// InstrumentedStore wraps a Store and records metrics for each operation.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a Store.
// If metrics is nil, operations pass through directly.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

func (s *InstrumentedStore) Upload(ctx context.Context, key string, src string) error {
	start := time.Now()
	err := s.store.Upload(ctx, key, src)
	if s.metrics != nil {
		s.metrics.RecordUpload(time.Since(start).Seconds(), err == nil, fileSize(src))
	}
	return err
}

func (s *InstrumentedStore) Download(ctx context.Context, key string, dst string) error {
	start := time.Now()
	err := s.store.Download(ctx, key, dst)
	if s.metrics != nil {
		var n int64
		if err == nil {
			n = fileSize(dst)
		}
		s.metrics.RecordDownload(time.Since(start).Seconds(), err == nil, n)
	}
	return err
}

func (s *InstrumentedStore) BatchDelete(ctx context.Context, keys []string) (DeleteResult, error) {
	start := time.Now()
	res, err := s.store.BatchDelete(ctx, keys)
	if s.metrics != nil {
		s.metrics.RecordBatchDelete(time.Since(start).Seconds(), err == nil, len(res.Deleted), len(res.Failed))
	}
	return res, err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

func fileSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}

var _ Store = (*InstrumentedStore)(nil)
