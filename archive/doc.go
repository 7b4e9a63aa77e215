// Package archive checkpoints tables into a blobstore.Store.
//
// A checkpoint is one rows file per table plus a JSON manifest. A rows file
// stores the live rows column by column, one column per field, each column
// compressed and checksummed:
//
//	magic u32 | version u32 | nrow u64 | ncol u32 | columns...
//	column: nameLen u16 | name | elem u8 | ndim u8 | dims u32... | itemSize u32 | block | crc32c u32
//
// where block is an internal/compress block. The rows file is written and
// read through the schema.ColumnWriter and schema.ColumnReader contract, so
// the fields decide what is persisted.
//
// Checkpoint versions are committed through a Catalog. The default catalog
// keeps a CURRENT pointer in the same store; s3.Catalog uses DynamoDB
// conditional writes for concurrent writers.
package archive
