package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/mag-/psync"
)

var errTruncated = errors.New("truncated frame payload")

// Feature bits carried in HELLO.
const (
	FeatureCompression uint32 = 1 << 0
	FeatureChecksum    uint32 = 1 << 1
	FeatureDelete      uint32 = 1 << 2
)

// ProtocolVersion is the only version this implementation speaks.
const ProtocolVersion uint16 = 1

const helloMagic = "PSYN"

// Hello is the payload of a HELLO frame.
type Hello struct {
	Version  uint16
	Features uint32
}

func EncodeHello(h Hello) []byte {
	buf := make([]byte, 4+2+4)
	copy(buf[0:4], helloMagic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint32(buf[6:10], h.Features)
	return buf
}

func DecodeHello(p []byte) (Hello, error) {
	if len(p) != 10 {
		return Hello{}, psync.NewError(psync.KindProtocol, "", errTruncated)
	}
	if string(p[0:4]) != helloMagic {
		return Hello{}, psync.NewError(psync.KindProtocol, "", errors.New("bad HELLO magic"))
	}
	return Hello{
		Version:  binary.BigEndian.Uint16(p[4:6]),
		Features: binary.BigEndian.Uint32(p[6:10]),
	}, nil
}

func putString(buf []byte, s string) []byte {
	lp := make([]byte, 2)
	binary.BigEndian.PutUint16(lp, uint16(len(s)))
	buf = append(buf, lp...)
	buf = append(buf, s...)
	return buf
}

func takeString(p []byte) (string, []byte, error) {
	if len(p) < 2 {
		return "", nil, errTruncated
	}
	n := int(binary.BigEndian.Uint16(p))
	p = p[2:]
	if len(p) < n {
		return "", nil, errTruncated
	}
	return string(p[:n]), p[n:], nil
}

// EncodeManifestEntry encodes a psync.FileEntry: path, kind, size, mtime_ns,
// mode, symlink_target.
func EncodeManifestEntry(e psync.FileEntry) []byte {
	var buf []byte
	buf = putString(buf, e.Path)
	buf = append(buf, byte(e.Kind))
	sizeBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(sizeBuf, e.Size)
	buf = append(buf, sizeBuf...)
	mtimeBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(mtimeBuf, uint64(e.ModTimeNs))
	buf = append(buf, mtimeBuf...)
	modeBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(modeBuf, e.Mode)
	buf = append(buf, modeBuf...)
	buf = putString(buf, e.SymlinkTarget)
	return buf
}

func DecodeManifestEntry(p []byte) (psync.FileEntry, error) {
	path, p, err := takeString(p)
	if err != nil {
		return psync.FileEntry{}, psync.NewError(psync.KindProtocol, "", err)
	}
	if len(p) < 1+8+8+4 {
		return psync.FileEntry{}, psync.NewError(psync.KindProtocol, "", errTruncated)
	}
	kind := psync.EntryKind(p[0])
	p = p[1:]
	size := binary.BigEndian.Uint64(p[:8])
	p = p[8:]
	mtime := int64(binary.BigEndian.Uint64(p[:8]))
	p = p[8:]
	mode := binary.BigEndian.Uint32(p[:4])
	p = p[4:]
	target, _, err := takeString(p)
	if err != nil {
		return psync.FileEntry{}, psync.NewError(psync.KindProtocol, "", err)
	}
	return psync.FileEntry{
		Path:          path,
		Kind:          kind,
		Size:          size,
		ModTimeNs:     mtime,
		Mode:          mode,
		SymlinkTarget: target,
	}, nil
}

// Verdict classifications.
type Verdict uint8

const (
	VerdictSkip Verdict = iota
	VerdictFull
	VerdictDelta
)

// VerdictMsg names the manifest entry (by index, assigned on manifest
// order) a VERDICT frame applies to.
type VerdictMsg struct {
	EntryIndex uint32
	Verdict    Verdict
}

func EncodeVerdict(v VerdictMsg) []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint32(buf[0:4], v.EntryIndex)
	buf[4] = byte(v.Verdict)
	return buf
}

func DecodeVerdict(p []byte) (VerdictMsg, error) {
	if len(p) != 5 {
		return VerdictMsg{}, psync.NewError(psync.KindProtocol, "", errTruncated)
	}
	return VerdictMsg{
		EntryIndex: binary.BigEndian.Uint32(p[0:4]),
		Verdict:    Verdict(p[4]),
	}, nil
}

// EncodeSigBlock encodes one psync.BlockSignature.
func EncodeSigBlock(s psync.BlockSignature) []byte {
	buf := make([]byte, 4+8+4+4+psync.StrongHashSize)
	binary.BigEndian.PutUint32(buf[0:4], s.Index)
	binary.BigEndian.PutUint64(buf[4:12], s.Offset)
	binary.BigEndian.PutUint32(buf[12:16], s.Length)
	binary.BigEndian.PutUint32(buf[16:20], s.Weak)
	copy(buf[20:], s.Strong[:])
	return buf
}

func DecodeSigBlock(p []byte) (psync.BlockSignature, error) {
	want := 4 + 8 + 4 + 4 + psync.StrongHashSize
	if len(p) != want {
		return psync.BlockSignature{}, psync.NewError(psync.KindProtocol, "", errTruncated)
	}
	var sig psync.BlockSignature
	sig.Index = binary.BigEndian.Uint32(p[0:4])
	sig.Offset = binary.BigEndian.Uint64(p[4:12])
	sig.Length = binary.BigEndian.Uint32(p[12:16])
	sig.Weak = binary.BigEndian.Uint32(p[16:20])
	copy(sig.Strong[:], p[20:])
	return sig, nil
}

// EncodeInstrCopy encodes an InstrCopy instruction's (block_index, length).
func EncodeInstrCopy(blockIndex, length uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], blockIndex)
	binary.BigEndian.PutUint32(buf[4:8], length)
	return buf
}

func DecodeInstrCopy(p []byte) (blockIndex, length uint32, err error) {
	if len(p) != 8 {
		return 0, 0, psync.NewError(psync.KindProtocol, "", errTruncated)
	}
	return binary.BigEndian.Uint32(p[0:4]), binary.BigEndian.Uint32(p[4:8]), nil
}

// EncodeFileEnd encodes the whole-file strong hash carried by FILE_END.
func EncodeFileEnd(hash [psync.StrongHashSize]byte) []byte {
	buf := make([]byte, psync.StrongHashSize)
	copy(buf, hash[:])
	return buf
}

func DecodeFileEnd(p []byte) ([psync.StrongHashSize]byte, error) {
	var out [psync.StrongHashSize]byte
	if len(p) != psync.StrongHashSize {
		return out, psync.NewError(psync.KindProtocol, "", errTruncated)
	}
	copy(out[:], p)
	return out, nil
}

// Stats mirrors psync's TransferStats for wire transmission.
type Stats struct {
	BytesRead        uint64
	LiteralBytesSent uint64
	CopyBytesElided  uint64
	CompressedBytes  uint64
	FramesSent       uint64
	FramesReceived   uint64
}

func EncodeStats(s Stats) []byte {
	buf := make([]byte, 8*6)
	binary.BigEndian.PutUint64(buf[0:8], s.BytesRead)
	binary.BigEndian.PutUint64(buf[8:16], s.LiteralBytesSent)
	binary.BigEndian.PutUint64(buf[16:24], s.CopyBytesElided)
	binary.BigEndian.PutUint64(buf[24:32], s.CompressedBytes)
	binary.BigEndian.PutUint64(buf[32:40], s.FramesSent)
	binary.BigEndian.PutUint64(buf[40:48], s.FramesReceived)
	return buf
}

func DecodeStats(p []byte) (Stats, error) {
	if len(p) != 8*6 {
		return Stats{}, psync.NewError(psync.KindProtocol, "", errTruncated)
	}
	return Stats{
		BytesRead:        binary.BigEndian.Uint64(p[0:8]),
		LiteralBytesSent: binary.BigEndian.Uint64(p[8:16]),
		CopyBytesElided:  binary.BigEndian.Uint64(p[16:24]),
		CompressedBytes:  binary.BigEndian.Uint64(p[24:32]),
		FramesSent:       binary.BigEndian.Uint64(p[32:40]),
		FramesReceived:   binary.BigEndian.Uint64(p[40:48]),
	}, nil
}

// ErrorMsg is the payload of an ERROR frame: the Kind and a human-readable
// message. ERROR terminates the session on either side.
type ErrorMsg struct {
	Kind    psync.Kind
	Message string
}

func EncodeError(e ErrorMsg) []byte {
	var buf []byte
	buf = append(buf, byte(e.Kind))
	buf = putString(buf, e.Message)
	return buf
}

func DecodeError(p []byte) (ErrorMsg, error) {
	if len(p) < 1 {
		return ErrorMsg{}, psync.NewError(psync.KindProtocol, "", errTruncated)
	}
	kind := psync.Kind(p[0])
	msg, _, err := takeString(p[1:])
	if err != nil {
		return ErrorMsg{}, psync.NewError(psync.KindProtocol, "", err)
	}
	return ErrorMsg{Kind: kind, Message: msg}, nil
}

// EncodeCompressionHint encodes the new compression level announced inline
// by the adaptive controller.
func EncodeCompressionHint(level int) []byte {
	return []byte{byte(level)}
}

func DecodeCompressionHint(p []byte) (int, error) {
	if len(p) != 1 {
		return 0, psync.NewError(psync.KindProtocol, "", errTruncated)
	}
	return int(p[0]), nil
}
