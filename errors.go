package psync

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an operation failed. Handlers switch on Kind rather
// than on the wrapped cause so that recovery and exit-code selection stay
// independent of the underlying error's concrete type.
type Kind uint8

const (
	KindConfig Kind = iota
	KindIO
	KindProtocol
	KindVersionMismatch
	KindHashMismatch
	KindTimeout
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindIO:
		return "IoError"
	case KindProtocol:
		return "ProtocolError"
	case KindVersionMismatch:
		return "VersionMismatch"
	case KindHashMismatch:
		return "HashMismatch"
	case KindTimeout:
		return "Timeout"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ExitCode maps a Kind onto the process's exit code.
func (k Kind) ExitCode() int {
	switch k {
	case KindConfig:
		return 1
	case KindProtocol, KindVersionMismatch:
		return 2
	case KindIO:
		return 3
	case KindHashMismatch:
		return 4
	case KindCancelled, KindTimeout:
		return 5
	default:
		return 1
	}
}

// Error is the typed error value propagated by the sync engine. It carries
// enough context (Kind, the file it happened to, and the wrapped cause) for
// a caller to both log a full chain and make a recovery decision.
type Error struct {
	Kind Kind
	Path string // optional, empty when not file-scoped
	err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Cause supports github.com/pkg/errors-style cause extraction.
func (e *Error) Cause() error { return e.err }

// NewError wraps cause with a Kind and optional file path.
func NewError(kind Kind, path string, cause error) *Error {
	return &Error{Kind: kind, Path: path, err: cause}
}

// Wrapf wraps cause with a Kind, a file path, and a formatted message using
// github.com/pkg/errors so the resulting chain prints with a stack-friendly
// Cause().
func Wrapf(kind Kind, path string, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Path: path, err: errors.Wrapf(cause, format, args...)}
}

var (
	errUnknownInstrOp = errors.New("unknown instruction op")
	errBadBlockIndex  = errors.New("copy instruction references unknown block")
	errHashMismatch   = errors.New("whole-file strong hash does not match FILE_END")
	errNotMetaKind    = errors.New("ApplyMeta called on a non-directory, non-symlink entry")
)

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, defaulting to KindIO for opaque failures.
func KindOf(err error) Kind {
	var pe *Error
	for err != nil {
		if p, ok := err.(*Error); ok {
			pe = p
			break
		}
		err = errors.Unwrap(err)
	}
	if pe == nil {
		return KindIO
	}
	return pe.Kind
}
