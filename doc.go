// Package rowstore provides typed, schema-described row tables for SPMD
// programs, together with the communication needed to move rows between
// ranks and checkpoints to persist them.
//
// # Tables
//
// A schema.Layout describes the fields of a row. Tables store rows of one
// layout in a window of a shared buffer and recycle cleared slots through a
// free-list. A MappedTable adds a hash index on a key field.
//
//	b := schema.NewBuilder("cell")
//	id := schema.AddNumber[uint64](b, "id")
//	temp := schema.AddNumber[float32](b, "temp", 4)
//	layout := b.Build()
//
//	node, _ := rowstore.Open(ctx, rowstore.DefaultConfig(), nil)
//	defer node.Close()
//
//	cells, _ := node.NewMappedTable("cells", layout, id)
//	i, _ := cells.InsertKey(key)
//	temp.SetValues(cells.View(i), 1, 2, 3, 4)
//
// Growing any table of a buffer reallocates the buffer. Views taken before
// the growth are stale and panic with an *InvariantError when used.
//
// # Communication
//
// Each rank runs the same program. Rows are exchanged in bulk through a
// Communicator's outboxes, or point to point with SendRows and RecvRows:
//
//	c, _ := node.NewCommunicator(layout)
//	_ = c.Post(dst, cells, i)
//	n, err := c.Communicate(ctx) // inbox now holds the rows sent to this rank
//
// Across processes, DialTransport starts a gRPC transport for the addresses
// in Config.Transport.
//
// # Checkpoints
//
// Checkpoint writes the live rows of a set of tables as a new version to
// the configured store (memory, local disk, S3 or MinIO). Restore appends
// the rows of a version to empty tables.
//
//	m, _ := node.Checkpoint(ctx, archive.Entry{Table: cells})
//	_, _ = node.Restore(ctx, m.ID, archive.Entry{Table: restored})
//
// # Errors
//
// Recoverable failures are returned as errors wrapping the sentinels of this
// package (ErrMemoryLimitExceeded, ErrNotFound, ErrSchemaMismatch, ...).
// Misuse of the API, such as using a stale view or clearing a protected row,
// panics with an *InvariantError.
package rowstore
