// Package s3 stores checkpoints in Amazon S3 and tracks checkpoint versions
// in DynamoDB.
//
// Store implements blobstore.Store with CRC32C-checked single puts for small
// blobs and multipart uploads for large ones. Catalog provides the atomic
// compare-and-swap that S3 lacks: each committed checkpoint gets a
// monotonically increasing version through a conditional DynamoDB write.
package s3
