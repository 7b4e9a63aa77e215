package comm

import "time"

// MetricsObserver receives communication events.
type MetricsObserver interface {
	// OnExchange is called after a bulk exchange.
	OnExchange(sentRows, recvRows int, bytes int64, duration time.Duration, err error)

	// OnTransfer is called after a point-to-point row transfer. sent is true
	// on the sending side.
	OnTransfer(peer, rows int, bytes int64, sent bool, duration time.Duration, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnExchange(sentRows, recvRows int, bytes int64, duration time.Duration, err error) {
}
func (o *NoopMetricsObserver) OnTransfer(peer, rows int, bytes int64, sent bool, duration time.Duration, err error) {
}
