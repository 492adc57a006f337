package wire

import (
	"testing"

	"github.com/mag-/psync"
)

func TestHelloRoundTrip(t *testing.T) {
	h := Hello{Version: ProtocolVersion, Features: FeatureCompression | FeatureDelete}
	got, err := DecodeHello(EncodeHello(h))
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestDecodeHelloRejectsBadMagic(t *testing.T) {
	buf := EncodeHello(Hello{Version: 1})
	buf[0] = 'X'
	if _, err := DecodeHello(buf); err == nil {
		t.Fatal("expected an error for a bad magic")
	}
}

func TestManifestEntryRoundTrip(t *testing.T) {
	e := psync.FileEntry{
		Path:          "a/b/c.txt",
		Kind:          psync.EntryRegular,
		Size:          12345,
		ModTimeNs:     1700000000000000000,
		Mode:          0o644,
		SymlinkTarget: "",
	}
	got, err := DecodeManifestEntry(EncodeManifestEntry(e))
	if err != nil {
		t.Fatal(err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestManifestEntrySymlinkRoundTrip(t *testing.T) {
	e := psync.FileEntry{Path: "link", Kind: psync.EntrySymlink, SymlinkTarget: "target/path"}
	got, err := DecodeManifestEntry(EncodeManifestEntry(e))
	if err != nil {
		t.Fatal(err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestVerdictRoundTrip(t *testing.T) {
	v := VerdictMsg{EntryIndex: 7, Verdict: VerdictDelta}
	got, err := DecodeVerdict(EncodeVerdict(v))
	if err != nil {
		t.Fatal(err)
	}
	if got != v {
		t.Fatalf("got %+v, want %+v", got, v)
	}
}

func TestSigBlockRoundTrip(t *testing.T) {
	s := psync.BlockSignature{Index: 2, Offset: 65536, Length: 128, Weak: 0xABCD1234}
	s.Strong = psync.StrongHash([]byte("some block content"))
	got, err := DecodeSigBlock(EncodeSigBlock(s))
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Fatalf("got %+v, want %+v", got, s)
	}
}

func TestInstrCopyRoundTrip(t *testing.T) {
	var wantIndex, wantLength uint32 = 9, 4096
	gotIndex, gotLength, err := DecodeInstrCopy(EncodeInstrCopy(wantIndex, wantLength))
	if err != nil {
		t.Fatal(err)
	}
	if gotIndex != wantIndex || gotLength != wantLength {
		t.Fatalf("got (%d, %d), want (%d, %d)", gotIndex, gotLength, wantIndex, wantLength)
	}
}

func TestFileEndRoundTrip(t *testing.T) {
	hash := psync.StrongHash([]byte("whole file content"))
	got, err := DecodeFileEnd(EncodeFileEnd(hash))
	if err != nil {
		t.Fatal(err)
	}
	if got != hash {
		t.Fatalf("got %x, want %x", got, hash)
	}
}

func TestStatsRoundTrip(t *testing.T) {
	s := Stats{BytesRead: 1, LiteralBytesSent: 2, CopyBytesElided: 3, CompressedBytes: 4, FramesSent: 5, FramesReceived: 6}
	got, err := DecodeStats(EncodeStats(s))
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Fatalf("got %+v, want %+v", got, s)
	}
}

func TestErrorMsgRoundTrip(t *testing.T) {
	e := ErrorMsg{Kind: psync.KindHashMismatch, Message: "whole-file hash did not match"}
	got, err := DecodeError(EncodeError(e))
	if err != nil {
		t.Fatal(err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestCompressionHintRoundTrip(t *testing.T) {
	got, err := DecodeCompressionHint(EncodeCompressionHint(17))
	if err != nil {
		t.Fatal(err)
	}
	if got != 17 {
		t.Fatalf("got %d, want 17", got)
	}
}

func TestDecodeRejectsTruncatedPayloads(t *testing.T) {
	if _, err := DecodeHello([]byte{0x01}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := DecodeVerdict([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := DecodeSigBlock([]byte{0x01}); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := DecodeInstrCopy([]byte{0x01}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := DecodeFileEnd([]byte{0x01}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := DecodeStats([]byte{0x01}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := DecodeError(nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := DecodeCompressionHint(nil); err == nil {
		t.Fatal("expected error")
	}
}
