// Package psync implements the delta-sync engine: block signatures, the
// rolling-checksum delta matcher, and the file reconstructor that together
// let a sender and receiver exchange the minimum bytes needed to make a
// destination file equal to a source file.
//
// The package is transport- and protocol-agnostic: it works purely in terms
// of readers, writers and in-memory signature tables. The wire format lives
// in package wire; tree enumeration lives in package walk; the two are
// wired together by package session.
package psync

const (
	// StrongHashSize is the width, in bytes, of the strong content hash
	// used throughout the protocol (whole-block and whole-file checks).
	StrongHashSize = 16

	// WeakModulus is the modulus for the rolling checksum's s1/s2
	// accumulators (M = 2^16).
	WeakModulus = 1 << 16

	// DefaultMaxLiteral bounds a single LITERAL instruction's
	// pre-compression payload.
	DefaultMaxLiteral = 1 << 20 // 1 MiB

	// TempFilePrefix names the staging file the reconstructor writes
	// while a file is being patched.
	TempFilePrefix = ".psync-tmp-"
)

// EntryKind classifies a FileEntry.
type EntryKind uint8

const (
	EntryRegular EntryKind = iota
	EntryDirectory
	EntrySymlink
)

func (k EntryKind) String() string {
	switch k {
	case EntryRegular:
		return "regular"
	case EntryDirectory:
		return "directory"
	case EntrySymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileEntry is a logical filesystem object in a sync set. Created by the
// tree walker, immutable for the lifetime of a session.
type FileEntry struct {
	Path          string // relative, forward-slash separated
	Kind          EntryKind
	Size          uint64
	ModTimeNs     int64 // nanoseconds since epoch
	Mode          uint32
	SymlinkTarget string // only meaningful when Kind == EntrySymlink
}

// BlockSignature is the receiver's description of one local block: where it
// is, how long it is, and its weak and strong hashes.
type BlockSignature struct {
	Index  uint32
	Offset uint64
	Length uint32
	Weak   uint32
	Strong [StrongHashSize]byte
}
