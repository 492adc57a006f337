package psync

import (
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Reconstructor applies an instruction stream to rebuild the sender's file
// on top of the receiver's basis file. It stages the result in a temp file
// beside the target and only replaces the target with an atomic rename
// once the whole-file strong hash checks out; the rename is the session's
// single visible commit point for that file.
type Reconstructor struct {
	target  string
	tmp     *os.File
	tmpPath string
	basis   *os.File // nil when there is no prior version to copy ranges from
	sigs    []BlockSignature
	hasher  hash.Hash
	w       io.Writer // tmp file fanned out through hasher
}

// NewReconstructor opens a staging file next to target and is ready to
// receive Instructions. basis and sigs may be nil/empty for a fresh file
// (a Send-full transfer never emits InstrCopy).
func NewReconstructor(target string, basis *os.File, sigs []BlockSignature) (*Reconstructor, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewError(KindIO, target, err)
	}
	tmp, err := os.CreateTemp(dir, TempFilePrefix+"*")
	if err != nil {
		return nil, NewError(KindIO, target, err)
	}
	h, err := NewStrongHasher()
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, NewError(KindIO, target, err)
	}
	r := &Reconstructor{
		target:  target,
		tmp:     tmp,
		tmpPath: tmp.Name(),
		basis:   basis,
		sigs:    sigs,
		hasher:  h,
	}
	r.w = io.MultiWriter(tmp, h)
	return r, nil
}

// Apply applies a single Instruction to the staging file.
func (r *Reconstructor) Apply(instr Instruction) error {
	switch instr.Op {
	case InstrLiteral:
		_, err := r.w.Write(instr.Literal)
		if err != nil {
			return NewError(KindIO, r.target, err)
		}
		return nil
	case InstrCopy:
		return r.applyCopy(instr.BlockIndex, instr.Length)
	default:
		return NewError(KindProtocol, r.target, errUnknownInstrOp)
	}
}

func (r *Reconstructor) applyCopy(blockIndex, length uint32) error {
	if r.basis == nil || int(blockIndex) >= len(r.sigs) {
		return NewError(KindProtocol, r.target, errBadBlockIndex)
	}
	sig := r.sigs[blockIndex]
	if _, err := r.basis.Seek(int64(sig.Offset), io.SeekStart); err != nil {
		return NewError(KindIO, r.target, err)
	}
	if _, err := io.CopyN(r.w, r.basis, int64(length)); err != nil {
		return NewError(KindIO, r.target, err)
	}
	return nil
}

// Finish verifies the whole-file strong hash carried by FILE_END, and on
// success renames the staging file onto target, applying mtime and mode
// from the manifest. On mismatch it deletes the staging file and returns a
// HashMismatch error; the caller is expected to retry with a full resend.
func (r *Reconstructor) Finish(expectedHash [StrongHashSize]byte, modTimeNs int64, mode uint32) error {
	sum := r.hasher.Sum(nil)
	got := truncate256(sum)

	if err := r.tmp.Close(); err != nil {
		os.Remove(r.tmpPath)
		return NewError(KindIO, r.target, err)
	}

	if got != expectedHash {
		os.Remove(r.tmpPath)
		return NewError(KindHashMismatch, r.target, errHashMismatch)
	}

	mt := time.Unix(0, modTimeNs)
	if err := os.Chtimes(r.tmpPath, mt, mt); err != nil {
		os.Remove(r.tmpPath)
		return NewError(KindIO, r.target, err)
	}
	if err := os.Chmod(r.tmpPath, os.FileMode(mode&0o7777)); err != nil {
		os.Remove(r.tmpPath)
		return NewError(KindIO, r.target, err)
	}
	if err := os.Rename(r.tmpPath, r.target); err != nil {
		os.Remove(r.tmpPath)
		return NewError(KindIO, r.target, err)
	}
	return nil
}

// Abort discards the staging file without touching target. Callers invoke
// it on cancellation or on any error that prevents Finish from running.
func (r *Reconstructor) Abort() error {
	r.tmp.Close()
	return os.Remove(r.tmpPath)
}

// ApplyMeta recreates a directory or symlink entry directly, bypassing the
// delta/instruction path entirely, since directories and symlinks never
// have content to diff.
func ApplyMeta(root string, entry FileEntry) error {
	path := filepath.Join(root, filepath.FromSlash(entry.Path))
	switch entry.Kind {
	case EntryDirectory:
		if err := os.MkdirAll(path, os.FileMode(entry.Mode&0o7777|0o700)); err != nil {
			return NewError(KindIO, entry.Path, err)
		}
		return nil
	case EntrySymlink:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return NewError(KindIO, entry.Path, err)
		}
		if fi, err := os.Lstat(path); err == nil {
			_ = fi
			os.Remove(path)
		}
		if err := os.Symlink(entry.SymlinkTarget, path); err != nil {
			return NewError(KindIO, entry.Path, err)
		}
		return nil
	default:
		return NewError(KindProtocol, entry.Path, errNotMetaKind)
	}
}
