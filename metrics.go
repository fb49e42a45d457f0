package lance

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operation timings. Implement it to integrate
// with monitoring systems such as Prometheus.
type MetricsCollector interface {
	// RecordTrain is called after each training run.
	RecordTrain(duration time.Duration, err error)

	// RecordInsert is called after each insert.
	RecordInsert(duration time.Duration, err error)

	// RecordBulkLoad is called after each bulk load with the number of
	// vectors attempted and failed.
	RecordBulkLoad(count, failed int, duration time.Duration)

	// RecordSearch is called after each search with the requested k.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(duration time.Duration)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrain(time.Duration, error)       {}
func (NoopMetricsCollector) RecordInsert(time.Duration, error)      {}
func (NoopMetricsCollector) RecordBulkLoad(int, int, time.Duration) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(time.Duration)             {}

// BasicMetricsCollector keeps simple in-memory counters. Useful for tests
// and debugging without external dependencies.
type BasicMetricsCollector struct {
	TrainCount       atomic.Int64
	TrainErrors      atomic.Int64
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	BulkLoadCount    atomic.Int64
	BulkLoadItems    atomic.Int64
	BulkLoadFailed   atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	DeleteCount      atomic.Int64
}

// RecordTrain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrain(duration time.Duration, err error) {
	b.TrainCount.Add(1)
	if err != nil {
		b.TrainErrors.Add(1)
	}
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordBulkLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBulkLoad(count, failed int, duration time.Duration) {
	b.BulkLoadCount.Add(1)
	b.BulkLoadItems.Add(int64(count))
	b.BulkLoadFailed.Add(int64(failed))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(duration time.Duration) {
	b.DeleteCount.Add(1)
}

// Stats is a snapshot of BasicMetricsCollector counters.
type Stats struct {
	TrainCount     int64
	TrainErrors    int64
	InsertCount    int64
	InsertErrors   int64
	InsertAvgNanos int64
	BulkLoadCount  int64
	BulkLoadItems  int64
	BulkLoadFailed int64
	SearchCount    int64
	SearchErrors   int64
	SearchAvgNanos int64
	DeleteCount    int64
}

// GetStats returns a snapshot of the counters.
func (b *BasicMetricsCollector) GetStats() Stats {
	s := Stats{
		TrainCount:     b.TrainCount.Load(),
		TrainErrors:    b.TrainErrors.Load(),
		InsertCount:    b.InsertCount.Load(),
		InsertErrors:   b.InsertErrors.Load(),
		BulkLoadCount:  b.BulkLoadCount.Load(),
		BulkLoadItems:  b.BulkLoadItems.Load(),
		BulkLoadFailed: b.BulkLoadFailed.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		DeleteCount:    b.DeleteCount.Load(),
	}
	if s.InsertCount > 0 {
		s.InsertAvgNanos = b.InsertTotalNanos.Load() / s.InsertCount
	}
	if s.SearchCount > 0 {
		s.SearchAvgNanos = b.SearchTotalNanos.Load() / s.SearchCount
	}
	return s
}
