package session

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mag-/psync/config"
)

func mustWrite(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func cfgPair(src, dst string, mutate func(sender, receiver *config.Config)) (*config.Config, *config.Config) {
	sender := &config.Config{Src: src, Dst: dst, Recursive: true}
	receiver := &config.Config{Src: src, Dst: dst, Recursive: true}
	if mutate != nil {
		mutate(sender, receiver)
	}
	return sender, receiver
}

func TestLocalFreshCopy(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	mustWrite(t, filepath.Join(src, "a.txt"), []byte("hello world"))
	mustWrite(t, filepath.Join(src, "sub/b.bin"), bytes.Repeat([]byte{0x42}, 1<<15))

	senderCfg, receiverCfg := cfgPair(src, dst, nil)
	sSum, rSum, err := Local(context.Background(), senderCfg, receiverCfg)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	if len(sSum.Transferred) != 3 { // a.txt, sub (dir), sub/b.bin
		t.Fatalf("sender transferred = %v", sSum.Transferred)
	}
	if len(rSum.Transferred) != 3 {
		t.Fatalf("receiver transferred = %v", rSum.Transferred)
	}

	got, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	if err != nil {
		t.Fatalf("read dst a.txt: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("a.txt content = %q", got)
	}
	got2, err := os.ReadFile(filepath.Join(dst, "sub/b.bin"))
	if err != nil {
		t.Fatalf("read dst sub/b.bin: %v", err)
	}
	if !bytes.Equal(got2, bytes.Repeat([]byte{0x42}, 1<<15)) {
		t.Fatal("sub/b.bin content mismatch")
	}
}

func TestLocalSkipsUnchangedFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	mustWrite(t, filepath.Join(src, "a.txt"), []byte("same content"))

	senderCfg, receiverCfg := cfgPair(src, dst, nil)
	if _, _, err := Local(context.Background(), senderCfg, receiverCfg); err != nil {
		t.Fatalf("first Local: %v", err)
	}

	// Align mtimes so the second pass's cheap Skip check fires.
	srcInfo, err := os.Stat(filepath.Join(src, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(filepath.Join(dst, "a.txt"), srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		t.Fatal(err)
	}

	senderCfg2, receiverCfg2 := cfgPair(src, dst, nil)
	sSum, _, err := Local(context.Background(), senderCfg2, receiverCfg2)
	if err != nil {
		t.Fatalf("second Local: %v", err)
	}
	found := false
	for _, p := range sSum.Skipped {
		if p == "a.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a.txt to be skipped on second pass, got skipped=%v transferred=%v", sSum.Skipped, sSum.Transferred)
	}
}

func TestLocalDeltaUpdatesModifiedFile(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	base := bytes.Repeat([]byte("0123456789abcdef"), 8192*3) // 384 KiB, three 128 KiB blocks
	mustWrite(t, filepath.Join(src, "big.bin"), base)

	senderCfg, receiverCfg := cfgPair(src, dst, nil)
	if _, _, err := Local(context.Background(), senderCfg, receiverCfg); err != nil {
		t.Fatalf("first Local: %v", err)
	}

	// Overwrite a middle chunk (keeping the size identical, so Classify
	// takes the delta path rather than Full) and touch mtime forward.
	modified := append([]byte{}, base...)
	copy(modified[40000:40000+len("TAIL-CHANGED-DATA!")], []byte("TAIL-CHANGED-DATA!"))
	mustWrite(t, filepath.Join(src, "big.bin"), modified)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(src, "big.bin"), future, future); err != nil {
		t.Fatal(err)
	}

	senderCfg2, receiverCfg2 := cfgPair(src, dst, nil)
	sSum, _, err := Local(context.Background(), senderCfg2, receiverCfg2)
	if err != nil {
		t.Fatalf("second Local: %v", err)
	}
	found := false
	for _, p := range sSum.Transferred {
		if p == "big.bin" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected big.bin to be re-transferred, got %v", sSum.Transferred)
	}
	if sSum.Stats.CopyBytesElided == 0 {
		t.Fatalf("expected delta transfer to elide some bytes via COPY, stats=%+v", sSum.Stats)
	}

	got, err := os.ReadFile(filepath.Join(dst, "big.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, modified) {
		t.Fatal("dst content does not match modified source after delta sync")
	}
}

func TestLocalDeleteExtraneous(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	mustWrite(t, filepath.Join(src, "keep.txt"), []byte("keep"))
	mustWrite(t, filepath.Join(dst, "keep.txt"), []byte("keep"))
	mustWrite(t, filepath.Join(dst, "stale.txt"), []byte("stale"))

	senderCfg, receiverCfg := cfgPair(src, dst, func(sender, receiver *config.Config) {
		sender.Delete = true
		receiver.Delete = true
	})
	if _, _, err := Local(context.Background(), senderCfg, receiverCfg); err != nil {
		t.Fatalf("Local: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dst, "stale.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected stale.txt to be deleted, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "keep.txt")); err != nil {
		t.Fatalf("keep.txt should still exist: %v", err)
	}
}

func TestLocalDryRunMakesNoChanges(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	mustWrite(t, filepath.Join(src, "a.txt"), []byte("hello"))

	senderCfg, receiverCfg := cfgPair(src, dst, func(sender, receiver *config.Config) {
		sender.DryRun = true
		receiver.DryRun = true
	})
	sSum, _, err := Local(context.Background(), senderCfg, receiverCfg)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	if len(sSum.Transferred) == 0 {
		t.Fatal("expected dry-run to still report entries as would-be-transferred")
	}
	if _, err := os.Stat(filepath.Join(dst, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("dry-run must not write to dst, stat err = %v", err)
	}
}

func TestLocalCompressionEndToEnd(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	mustWrite(t, filepath.Join(src, "text.log"), bytes.Repeat([]byte("compress me please\n"), 4096))

	senderCfg, receiverCfg := cfgPair(src, dst, func(sender, receiver *config.Config) {
		sender.Compress = true
		receiver.Compress = true
	})
	sSum, _, err := Local(context.Background(), senderCfg, receiverCfg)
	if err != nil {
		t.Fatalf("Local: %v", err)
	}
	if sSum.Stats.CompressedBytes == 0 {
		t.Fatalf("expected compressed bytes to be tracked, stats=%+v", sSum.Stats)
	}

	got, err := os.ReadFile(filepath.Join(dst, "text.log"))
	if err != nil {
		t.Fatal(err)
	}
	want, _ := os.ReadFile(filepath.Join(src, "text.log"))
	if !bytes.Equal(got, want) {
		t.Fatal("compressed transfer produced mismatched content")
	}
}
