// Package invariant reports violated structural invariants.
//
// A violation is a programming error in the caller (out-of-range slot, stale
// row view, schema mismatch, erasing a protected row, ...). The store cannot
// reason about a corrupted byte layout, so violations panic with a *Violation
// instead of returning an error. The panic value identifies the operation,
// the broken invariant and the source location that detected it.
package invariant

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Violation is the panic value raised by Failf and Check.
type Violation struct {
	Op   string
	Msg  string
	File string
	Line int
}

func (v *Violation) Error() string {
	if v.File == "" {
		return fmt.Sprintf("invariant violated in %s: %s", v.Op, v.Msg)
	}
	return fmt.Sprintf("invariant violated in %s: %s (%s:%d)", v.Op, v.Msg, v.File, v.Line)
}

// Failf panics with a *Violation for op.
func Failf(op, format string, args ...any) {
	panic(newViolation(op, fmt.Sprintf(format, args...), 2))
}

// Check panics with a *Violation when cond is false.
func Check(cond bool, op, format string, args ...any) {
	if cond {
		return
	}
	panic(newViolation(op, fmt.Sprintf(format, args...), 2))
}

// Index panics unless 0 <= i < n.
func Index(op string, i, n int) {
	if i >= 0 && i < n {
		return
	}
	panic(newViolation(op, fmt.Sprintf("index %d out of range [0,%d)", i, n), 2))
}

func newViolation(op, msg string, skip int) *Violation {
	v := &Violation{Op: op, Msg: msg}
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		v.File = filepath.Base(file)
		v.Line = line
	}
	return v
}
