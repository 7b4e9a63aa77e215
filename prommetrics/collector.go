// Package prommetrics exports rowstore metrics to Prometheus.
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/rowstore"
)

// Collector implements rowstore.MetricsCollector with Prometheus metrics.
type Collector struct {
	resizes       *prometheus.CounterVec
	capacity      *prometheus.GaugeVec
	rehashes      *prometheus.CounterVec
	buckets       *prometheus.GaugeVec
	exchanges     *prometheus.CounterVec
	exchangeRows  *prometheus.CounterVec
	exchangeBytes prometheus.Counter
	transferRows  *prometheus.CounterVec
	transferBytes *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	checkpoints   *prometheus.CounterVec
}

var _ rowstore.MetricsCollector = (*Collector)(nil)

// New creates a Collector and registers its metrics with reg. Metric names
// are prefixed with namespace; an empty namespace means "rowstore".
func New(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = "rowstore"
	}
	c := &Collector{
		resizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_resizes_total",
			Help:      "Number of times a table grew its window",
		}, []string{"table"}),
		capacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_capacity_rows",
			Help:      "Current row capacity of a table",
		}, []string{"table"}),
		rehashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_rehashes_total",
			Help:      "Number of times a mapped table rebuilt its index",
		}, []string{"table"}),
		buckets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "table_buckets",
			Help:      "Current bucket count of a mapped table",
		}, []string{"table"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Bulk all-to-all exchanges",
		}, []string{"status"}),
		exchangeRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_rows_total",
			Help:      "Rows moved by bulk exchanges",
		}, []string{"direction"}),
		exchangeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_bytes_total",
			Help:      "Row bytes sent to other ranks by bulk exchanges",
		}),
		transferRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_rows_total",
			Help:      "Rows moved by point-to-point transfers",
		}, []string{"direction", "status"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Payload bytes of point-to-point transfers",
		}, []string{"direction"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of exchanges, transfers and checkpoints",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_rows_total",
			Help:      "Rows written or read by checkpoints",
		}, []string{"op"}),
	}

	for _, m := range []prometheus.Collector{
		c.resizes, c.capacity, c.rehashes, c.buckets,
		c.exchanges, c.exchangeRows, c.exchangeBytes,
		c.transferRows, c.transferBytes, c.latency, c.checkpoints,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func direction(sent bool) string {
	if sent {
		return "sent"
	}
	return "received"
}

// RecordResize implements rowstore.MetricsCollector.
func (c *Collector) RecordResize(table string, _, newCap int) {
	c.resizes.WithLabelValues(table).Inc()
	c.capacity.WithLabelValues(table).Set(float64(newCap))
}

// RecordRehash implements rowstore.MetricsCollector.
func (c *Collector) RecordRehash(table string, _, newBuckets int, _ float64) {
	c.rehashes.WithLabelValues(table).Inc()
	c.buckets.WithLabelValues(table).Set(float64(newBuckets))
}

// RecordExchange implements rowstore.MetricsCollector.
func (c *Collector) RecordExchange(sentRows, recvRows int, bytes int64, d time.Duration, err error) {
	s := status(err)
	c.exchanges.WithLabelValues(s).Inc()
	c.latency.WithLabelValues("exchange", s).Observe(d.Seconds())
	if err != nil {
		return
	}
	c.exchangeRows.WithLabelValues("sent").Add(float64(sentRows))
	c.exchangeRows.WithLabelValues("received").Add(float64(recvRows))
	c.exchangeBytes.Add(float64(bytes))
}

// RecordTransfer implements rowstore.MetricsCollector.
func (c *Collector) RecordTransfer(_, rows int, bytes int64, sent bool, d time.Duration, err error) {
	s, dir := status(err), direction(sent)
	c.latency.WithLabelValues("transfer", s).Observe(d.Seconds())
	c.transferRows.WithLabelValues(dir, s).Add(float64(rows))
	if err == nil {
		c.transferBytes.WithLabelValues(dir).Add(float64(bytes))
	}
}

// RecordCheckpoint implements rowstore.MetricsCollector.
func (c *Collector) RecordCheckpoint(op string, rows int, d time.Duration, err error) {
	c.latency.WithLabelValues("checkpoint_"+op, status(err)).Observe(d.Seconds())
	if err == nil {
		c.checkpoints.WithLabelValues(op).Add(float64(rows))
	}
}
