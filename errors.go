package rowstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/rowstore/archive"
	"github.com/hupe1980/rowstore/blobstore"
	"github.com/hupe1980/rowstore/comm"
	"github.com/hupe1980/rowstore/internal/invariant"
	"github.com/hupe1980/rowstore/resource"
)

// InvariantError is the panic value of a violated structural invariant, such
// as a stale view, an out-of-range index or clearing a protected row. These
// are programming errors and are never returned as errors.
type InvariantError = invariant.Violation

var (
	// ErrMemoryLimitExceeded is returned when growing a table would exceed
	// the configured memory limit.
	ErrMemoryLimitExceeded = resource.ErrMemoryLimitExceeded

	// ErrClosed is returned by transports that were closed.
	ErrClosed = comm.ErrClosed

	// ErrUnusable is returned by a communicator after a failed exchange.
	ErrUnusable = comm.ErrUnusable

	// ErrNotFound is returned when a checkpoint or blob does not exist.
	ErrNotFound = blobstore.ErrNotFound

	// ErrCorrupt is returned for checkpoints that fail validation.
	ErrCorrupt = archive.ErrCorrupt

	// ErrSchemaMismatch is returned when a checkpoint does not fit a table.
	ErrSchemaMismatch = archive.ErrSchemaMismatch

	// ErrConcurrentModification is returned when another writer committed
	// the same checkpoint version.
	ErrConcurrentModification = archive.ErrConcurrentModification

	// ErrInvalidConfig is wrapped by every ConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Msg)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// RecoverInvariant turns a recovered invariant violation into an error.
// Other panic values are re-panicked.
//
//	defer rowstore.RecoverInvariant(&err)
func RecoverInvariant(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if v, ok := r.(*InvariantError); ok {
		*err = v
		return
	}
	panic(r)
}
