package archive

import "errors"

var (
	// ErrCorrupt is returned for rows files or manifests that fail to parse
	// or whose checksum does not match.
	ErrCorrupt = errors.New("archive: corrupt checkpoint")

	// ErrSchemaMismatch is returned when a checkpoint was written with a
	// layout that cannot be loaded into the target table.
	ErrSchemaMismatch = errors.New("archive: schema mismatch")

	// ErrConcurrentModification is returned when another writer committed
	// the same checkpoint version first.
	ErrConcurrentModification = errors.New("archive: concurrent modification detected")
)
