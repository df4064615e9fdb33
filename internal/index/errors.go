package index

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/UbuntuDDE/deepin-anything/internal/fsbuf"
)

// Kind classifies a manager-level error, covering every kind spec.md §7
// names. Kinds that also exist in fsbuf (InvalidArgs, NotFound,
// OutOfMemory, Io, BadFormat) are declared again here with their own
// values; fromFsbufErr maps each fsbuf kind onto its index counterpart.
type Kind int

const (
	KindInvalidArgs Kind = iota
	KindNotFound
	KindNotReady     // a build is in flight; no result yet
	KindBusy         // a build for this key is already running
	KindNotSupported // e.g. removing an auto-created index
	KindOutOfMemory
	KindIo
	KindBadFormat
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgs:
		return "InvalidArgs"
	case KindNotFound:
		return "NotFound"
	case KindNotReady:
		return "NotReady"
	case KindBusy:
		return "Busy"
	case KindNotSupported:
		return "NotSupported"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindIo:
		return "Io"
	case KindBadFormat:
		return "BadFormat"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the error type every manager operation that can fail returns.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("index: %s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("index: %s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

func wrapErr(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, msg: msg, err: errors.WithStack(err)}
}

// Is reports whether err (or any error it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind == k
	}
	return false
}

// fromFsbufErr translates an fsbuf.Error into an *Error of the
// corresponding manager Kind, preserving it as the wrapped cause.
func fromFsbufErr(err error) error {
	if err == nil {
		return nil
	}
	var fe *fsbuf.Error
	if !errors.As(err, &fe) {
		return wrapErr(KindIo, "buffer operation failed", err)
	}
	var k Kind
	switch fe.Kind {
	case fsbuf.KindInvalidArgs:
		k = KindInvalidArgs
	case fsbuf.KindNotFound, fsbuf.KindParentMissing:
		k = KindNotFound
	case fsbuf.KindOutOfMemory:
		k = KindOutOfMemory
	case fsbuf.KindIo:
		k = KindIo
	case fsbuf.KindBadFormat:
		k = KindBadFormat
	case fsbuf.KindAlreadyExists:
		k = KindInvalidArgs
	default:
		k = KindIo
	}
	return wrapErr(k, "buffer operation failed", err)
}
