// Package hash provides the hash functions rowstore depends on.
//
// # FNV-1a
//
// Field hashing uses 64-bit FNV-1a over a field's raw bytes. The same value
// selects MappedTable buckets and shards keys across ranks, so it is part of
// the wire contract and must not change:
//
//	offset basis 14695981039346656037
//	prime        1099511628211
//
// For one-shot hashes use FNV1a64. Composite keys hash their parts in order
// with FNV1a64Continue, which yields the same value as hashing the
// concatenated bytes.
//
// # CRC32-Castagnoli
//
// Archive columns carry a CRC32C checksum of their encoded block.
//
//	checksum := hash.CRC32C(data)
package hash
