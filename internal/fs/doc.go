// Package fs abstracts the file operations used to write checkpoint blobs,
// so tests can inject write, sync and rename failures.
//
// Production code uses fs.Default. Tests wrap it:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".rows", fs.Fault{FailOnSync: true})
package fs
