package psync

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// reconstruct drives a Reconstructor through a full delta+apply+finish
// cycle and returns the resulting file's content, exercising spec §8
// property 1 (reconstruction correctness) end-to-end through the real
// Reconstructor rather than the in-memory applyInstructions helper used by
// delta_test.go.
func reconstruct(t *testing.T, dir string, basisPath string, src []byte, blockLen uint32) []byte {
	t.Helper()

	basis, err := os.Open(basisPath)
	if err != nil {
		t.Fatal(err)
	}
	defer basis.Close()

	sigs, err := BuildSignatures(basis, blockLen)
	if err != nil {
		t.Fatal(err)
	}
	idx := BuildSignatureIndex(sigs)

	target := filepath.Join(dir, "target.out")
	rec, err := NewReconstructor(target, basis, sigs)
	if err != nil {
		t.Fatal(err)
	}

	err = GenerateDelta(bytes.NewReader(src), idx, blockLen, DefaultMaxLiteral, func(instr Instruction) error {
		return rec.Apply(instr)
	})
	if err != nil {
		rec.Abort()
		t.Fatalf("GenerateDelta: %v", err)
	}

	if err := rec.Finish(StrongHash(src), 1234, 0o644); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestReconstructRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(99))

	basis := make([]byte, 256*1024)
	rng.Read(basis)
	basisPath := writeTempFile(t, dir, "basis", basis)

	src := append([]byte{}, basis...)
	rng.Read(src[100000:100500])
	src = append(src, []byte("freshly appended tail bytes")...)

	blockLen := BlockSize(uint64(len(basis)))
	got := reconstruct(t, dir, basisPath, src, blockLen)
	if !bytes.Equal(got, src) {
		t.Fatalf("reconstructed file does not match source (got %d bytes, want %d)", len(got), len(src))
	}
}

// TestReconstructIdempotent is spec §8 property 2: reconstructing against a
// basis that is already identical to the source must be a no-op in effect
// (the output still matches byte-for-byte) even though it flows entirely
// through the COPY path.
func TestReconstructIdempotent(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("idempotent round trip content "), 5000)
	basisPath := writeTempFile(t, dir, "basis", content)

	blockLen := BlockSize(uint64(len(content)))
	got := reconstruct(t, dir, basisPath, content, blockLen)
	if !bytes.Equal(got, content) {
		t.Fatalf("idempotent reconstruction changed the content")
	}
}

func TestReconstructFreshFileNoBasis(t *testing.T) {
	dir := t.TempDir()
	src := []byte("there is no basis file for this one at all")

	target := filepath.Join(dir, "fresh.out")
	rec, err := NewReconstructor(target, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = GenerateDelta(bytes.NewReader(src), BuildSignatureIndex(nil), BlockSize(uint64(len(src))), DefaultMaxLiteral, func(instr Instruction) error {
		return rec.Apply(instr)
	})
	if err != nil {
		rec.Abort()
		t.Fatalf("GenerateDelta: %v", err)
	}
	if err := rec.Finish(StrongHash(src), 0, 0o644); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("fresh-file reconstruction mismatch")
	}
}

func TestReconstructFinishRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "mismatched.out")
	rec, err := NewReconstructor(target, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Apply(Instruction{Op: InstrLiteral, Literal: []byte("actual content")}); err != nil {
		t.Fatal(err)
	}

	wrongHash := StrongHash([]byte("not the content that was written"))
	err = rec.Finish(wrongHash, 0, 0o644)
	if err == nil {
		t.Fatal("expected Finish to reject a mismatched hash")
	}
	if KindOf(err) != KindHashMismatch {
		t.Fatalf("expected KindHashMismatch, got %v", KindOf(err))
	}

	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatalf("target should not exist after a failed Finish, stat err = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), TempFilePrefix) {
			t.Fatalf("staging file %s was not cleaned up after hash mismatch", e.Name())
		}
	}
}

func TestApplyMetaDirectoryAndSymlink(t *testing.T) {
	dir := t.TempDir()

	dirEntry := FileEntry{Path: "nested/dir", Kind: EntryDirectory, Mode: 0o755}
	if err := ApplyMeta(dir, dirEntry); err != nil {
		t.Fatalf("ApplyMeta directory: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "nested/dir"))
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory to exist, err=%v", err)
	}

	linkEntry := FileEntry{Path: "nested/link", Kind: EntrySymlink, SymlinkTarget: "dir"}
	if err := ApplyMeta(dir, linkEntry); err != nil {
		t.Fatalf("ApplyMeta symlink: %v", err)
	}
	target, err := os.Readlink(filepath.Join(dir, "nested/link"))
	if err != nil || target != "dir" {
		t.Fatalf("expected symlink to point to \"dir\", got %q err=%v", target, err)
	}
}

func TestApplyMetaRejectsRegularKind(t *testing.T) {
	dir := t.TempDir()
	err := ApplyMeta(dir, FileEntry{Path: "x", Kind: EntryRegular})
	if err == nil {
		t.Fatal("expected ApplyMeta to reject a regular-file entry")
	}
}
