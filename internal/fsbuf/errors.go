// Package fsbuf implements the FS buffer: a compact, preorder-serialized
// in-memory tree of filesystem names for a single directory subtree.
package fsbuf

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an fsbuf error the way spec.md §7 enumerates them.
type Kind int

const (
	// KindInvalidArgs marks a malformed path or pattern.
	KindInvalidArgs Kind = iota
	// KindNotFound marks a missing path inside the buffer.
	KindNotFound
	// KindOutOfMemory marks a failed capacity grow.
	KindOutOfMemory
	// KindIo marks a save/load I/O failure.
	KindIo
	// KindBadFormat marks a corrupt or incompatible cache file.
	KindBadFormat
	// KindParentMissing marks an insert/rename whose parent directory
	// record does not exist in the buffer.
	KindParentMissing
	// KindAlreadyExists marks an insert whose target name is already
	// present among its siblings.
	KindAlreadyExists
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgs:
		return "InvalidArgs"
	case KindNotFound:
		return "NotFound"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindIo:
		return "Io"
	case KindBadFormat:
		return "BadFormat"
	case KindParentMissing:
		return "ParentMissing"
	case KindAlreadyExists:
		return "AlreadyExists"
	default:
		return "Unknown"
	}
}

// Error is the error type returned by every fsbuf operation that can fail.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("fsbuf: %s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("fsbuf: %s: %s", e.Kind, e.msg)
}

// Unwrap lets errors.Is/errors.As reach the wrapped cause.
func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

func wrapErr(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, msg: msg, err: errors.WithStack(err)}
}

// Is reports whether err (or any error it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}
