// Package resource governs the process-wide resources rowstore consumes.
//
// A Controller tracks three budgets:
//
//   - Memory: row buffers charge every growth against a hard limit.
//     AcquireMemory never blocks; a buffer that cannot grow reports
//     ErrMemoryLimitExceeded to its caller.
//   - Workers: archive encoding fans out over at most MaxWorkers goroutines.
//   - IO: a token bucket throttles checkpoint writes and network payloads.
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:   8 << 30,
//	    IOLimitBytesPerSec: 200 << 20,
//	})
//
// All methods are safe for concurrent use, and a nil *Controller is a valid
// no-op controller.
package resource
