// Package blobstore abstracts where table checkpoints live.
//
// A Store holds immutable named blobs. Archives are written with a single
// Put and read back through a Blob, which may be memory mapped.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests and ephemeral runs
//   - LocalStore: local directory, atomic rename on Put, mmap on Open
//   - s3.Store: Amazon S3 with multipart uploads and range reads
//   - minio.Store: MinIO and other S3-compatible services
//
// Implementations must be safe for concurrent use.
package blobstore
