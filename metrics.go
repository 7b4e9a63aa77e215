package rowstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus; see package prommetrics.
type MetricsCollector interface {
	// RecordResize is called after a table grew from oldCap to newCap rows.
	RecordResize(table string, oldCap, newCap int)

	// RecordRehash is called after a mapped table rebuilt its index.
	RecordRehash(table string, oldBuckets, newBuckets int, skipRatio float64)

	// RecordExchange is called after each bulk exchange.
	RecordExchange(sentRows, recvRows int, bytes int64, duration time.Duration, err error)

	// RecordTransfer is called after each point-to-point transfer.
	RecordTransfer(peer, rows int, bytes int64, sent bool, duration time.Duration, err error)

	// RecordCheckpoint is called after each checkpoint save or restore.
	RecordCheckpoint(op string, rows int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordResize(string, int, int)                              {}
func (NoopMetricsCollector) RecordRehash(string, int, int, float64)                     {}
func (NoopMetricsCollector) RecordExchange(int, int, int64, time.Duration, error)       {}
func (NoopMetricsCollector) RecordTransfer(int, int, int64, bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordCheckpoint(string, int, time.Duration, error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	Resizes            atomic.Int64
	Rehashes           atomic.Int64
	ExchangeCount      atomic.Int64
	ExchangeErrors     atomic.Int64
	ExchangeRowsSent   atomic.Int64
	ExchangeRowsRecv   atomic.Int64
	ExchangeBytes      atomic.Int64
	ExchangeTotalNanos atomic.Int64
	TransferRowsSent   atomic.Int64
	TransferRowsRecv   atomic.Int64
	TransferErrors     atomic.Int64
	CheckpointCount    atomic.Int64
	CheckpointErrors   atomic.Int64
	CheckpointRows     atomic.Int64
}

// RecordResize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordResize(string, int, int) {
	b.Resizes.Add(1)
}

// RecordRehash implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRehash(string, int, int, float64) {
	b.Rehashes.Add(1)
}

// RecordExchange implements MetricsCollector.
func (b *BasicMetricsCollector) RecordExchange(sentRows, recvRows int, bytes int64, duration time.Duration, err error) {
	b.ExchangeCount.Add(1)
	b.ExchangeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ExchangeErrors.Add(1)
		return
	}
	b.ExchangeRowsSent.Add(int64(sentRows))
	b.ExchangeRowsRecv.Add(int64(recvRows))
	b.ExchangeBytes.Add(bytes)
}

// RecordTransfer implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTransfer(_, rows int, _ int64, sent bool, _ time.Duration, err error) {
	switch {
	case err != nil:
		b.TransferErrors.Add(1)
	case sent:
		b.TransferRowsSent.Add(int64(rows))
	default:
		b.TransferRowsRecv.Add(int64(rows))
	}
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(_ string, rows int, _ time.Duration, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
		return
	}
	b.CheckpointRows.Add(int64(rows))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		Resizes:          b.Resizes.Load(),
		Rehashes:         b.Rehashes.Load(),
		ExchangeCount:    b.ExchangeCount.Load(),
		ExchangeErrors:   b.ExchangeErrors.Load(),
		ExchangeRowsSent: b.ExchangeRowsSent.Load(),
		ExchangeRowsRecv: b.ExchangeRowsRecv.Load(),
		ExchangeBytes:    b.ExchangeBytes.Load(),
		TransferRowsSent: b.TransferRowsSent.Load(),
		TransferRowsRecv: b.TransferRowsRecv.Load(),
		TransferErrors:   b.TransferErrors.Load(),
		CheckpointCount:  b.CheckpointCount.Load(),
		CheckpointErrors: b.CheckpointErrors.Load(),
		CheckpointRows:   b.CheckpointRows.Load(),
	}
	if s.ExchangeCount > 0 {
		s.ExchangeAvgNanos = b.ExchangeTotalNanos.Load() / s.ExchangeCount
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	Resizes          int64
	Rehashes         int64
	ExchangeCount    int64
	ExchangeErrors   int64
	ExchangeRowsSent int64
	ExchangeRowsRecv int64
	ExchangeBytes    int64
	ExchangeAvgNanos int64
	TransferRowsSent int64
	TransferRowsRecv int64
	TransferErrors   int64
	CheckpointCount  int64
	CheckpointErrors int64
	CheckpointRows   int64
}
