package walk

import (
	"os"

	"github.com/mag-/psync"
	"github.com/mag-/psync/wire"
)

// Classify implements the receiver-side change filter: given a manifest
// entry and the receiver's own view of the same path (a stat error
// satisfying os.IsNotExist means "does not exist"), decide whether the
// sender should skip the file, send it whole, or run the delta path.
//
// update, when set, skips a regular file outright once the destination's
// mtime is strictly newer than the source's, before the size or checksum
// comparisons run.
//
// checksumMode disables the mtime-equality Skip shortcut: when it is set,
// a size match with an equal mtime falls through to Delta instead of
// Skip, and the delta matcher itself proves equality by emitting an
// all-COPY, zero-literal instruction stream for identical content.
func Classify(src psync.FileEntry, dstPath string, checksumMode, update bool) (wire.Verdict, error) {
	dst, err := os.Lstat(dstPath)
	if err != nil {
		if os.IsNotExist(err) {
			return wire.VerdictFull, nil
		}
		return wire.VerdictFull, psync.NewError(psync.KindIO, dstPath, err)
	}

	switch src.Kind {
	case psync.EntryDirectory:
		if dst.IsDir() {
			return wire.VerdictSkip, nil
		}
		return wire.VerdictFull, nil
	case psync.EntrySymlink:
		if dst.Mode()&os.ModeSymlink == 0 {
			return wire.VerdictFull, nil
		}
		target, err := os.Readlink(dstPath)
		if err != nil {
			return wire.VerdictFull, nil
		}
		if target == src.SymlinkTarget {
			return wire.VerdictSkip, nil
		}
		return wire.VerdictFull, nil
	}

	// Regular file from here on.
	if dst.IsDir() || dst.Mode()&os.ModeSymlink != 0 {
		return wire.VerdictFull, nil
	}

	if update && dst.ModTime().UnixNano() > src.ModTimeNs {
		return wire.VerdictSkip, nil
	}

	if uint64(dst.Size()) != src.Size {
		return wire.VerdictFull, nil
	}
	if uint64(dst.Size()) < uint64(psync.BlockSize(src.Size)) {
		return wire.VerdictFull, nil
	}

	if !checksumMode && dst.ModTime().UnixNano() == src.ModTimeNs {
		return wire.VerdictSkip, nil
	}
	return wire.VerdictDelta, nil
}
