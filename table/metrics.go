package table

// MetricsObserver receives table events.
type MetricsObserver interface {
	// OnResize is called after a table grew from oldCap to newCap rows.
	OnResize(table string, oldCap, newCap int)

	// OnRehash is called after a mapped table rebuilt its bucket index.
	OnRehash(table string, oldBuckets, newBuckets int, skipRatio float64)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnResize(table string, oldCap, newCap int) {}
func (o *NoopMetricsObserver) OnRehash(table string, oldBuckets, newBuckets int, skipRatio float64) {
}
