// Package wire implements the framed protocol the sender and receiver speak
// over their byte stream: a closed tag set, big-endian integers, and
// length-prefixed UTF-8 strings. It knows nothing about delta matching or
// file reconstruction; only how to shuttle typed frames across a pair of
// readers and writers.
package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/mag-/psync"
)

// Tag identifies a frame's payload shape.
type Tag uint8

const (
	TagHello            Tag = 0x01
	TagManifestEntry    Tag = 0x02
	TagManifestEnd      Tag = 0x03
	TagVerdict          Tag = 0x04
	TagSigBlock         Tag = 0x05
	TagSigEnd           Tag = 0x06
	TagInstrCopy        Tag = 0x07
	TagInstrLiteral     Tag = 0x08
	TagFileEnd          Tag = 0x09
	TagFileAck          Tag = 0x0A
	TagStats            Tag = 0x0B
	TagError            Tag = 0x0C
	TagCompressionHint  Tag = 0x0D
)

func (t Tag) String() string {
	switch t {
	case TagHello:
		return "HELLO"
	case TagManifestEntry:
		return "MANIFEST_ENTRY"
	case TagManifestEnd:
		return "MANIFEST_END"
	case TagVerdict:
		return "VERDICT"
	case TagSigBlock:
		return "SIG_BLOCK"
	case TagSigEnd:
		return "SIG_END"
	case TagInstrCopy:
		return "INSTR_COPY"
	case TagInstrLiteral:
		return "INSTR_LITERAL"
	case TagFileEnd:
		return "FILE_END"
	case TagFileAck:
		return "FILE_ACK"
	case TagStats:
		return "STATS"
	case TagError:
		return "ERROR"
	case TagCompressionHint:
		return "COMPRESSION_HINT"
	default:
		return "UNKNOWN"
	}
}

// MaxPayload is the length-prefix ceiling (the length field is 4 bytes but
// capped at 2^24). A frame claiming more is a ProtocolError.
const MaxPayload = 1 << 24

var (
	errLengthOverflow = errors.New("frame length exceeds the 2^24 cap")
	errUnknownTag     = errors.New("unknown frame tag")
)

// Frame is a decoded (tag, payload) pair, as read off the wire before the
// caller interprets payload against the shape implied by tag.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// Writer writes frames to an underlying io.Writer. It is not safe for
// concurrent use; the session's single writer task owns the transport
// exclusively.
type Writer struct {
	w io.Writer
	// hdr is reused across WriteFrame calls to avoid a per-frame alloc.
	hdr [5]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes one frame: tag, then big-endian length, then payload.
func (fw *Writer) WriteFrame(tag Tag, payload []byte) error {
	if len(payload) > MaxPayload {
		return psync.NewError(psync.KindProtocol, "", errLengthOverflow)
	}
	fw.hdr[0] = byte(tag)
	binary.BigEndian.PutUint32(fw.hdr[1:], uint32(len(payload)))
	if _, err := fw.w.Write(fw.hdr[:]); err != nil {
		return psync.NewError(psync.KindIO, "", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := fw.w.Write(payload); err != nil {
		return psync.NewError(psync.KindIO, "", err)
	}
	return nil
}

// Reader reads frames from an underlying io.Reader. Like Writer, it is
// single-owner: the session's reader task exclusively reads the transport.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// ReadFrame reads one frame. A truncated header or payload, or a length
// exceeding MaxPayload, is reported as a ProtocolError (except when the
// stream is cleanly closed before any byte of a new frame arrives, which
// is reported as io.EOF so the caller can distinguish a graceful hangup
// from a mid-frame protocol violation).
func (fr *Reader) ReadFrame() (Frame, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(fr.br, hdr[:1]); err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, psync.NewError(psync.KindProtocol, "", err)
	}
	if _, err := io.ReadFull(fr.br, hdr[1:]); err != nil {
		return Frame{}, psync.NewError(psync.KindProtocol, "", errors.Wrap(err, "truncated frame header"))
	}

	tag := Tag(hdr[0])
	length := binary.BigEndian.Uint32(hdr[1:])
	if length > MaxPayload {
		return Frame{}, psync.NewError(psync.KindProtocol, "", errLengthOverflow)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.br, payload); err != nil {
			return Frame{}, psync.NewError(psync.KindProtocol, "", errors.Wrap(err, "truncated frame payload"))
		}
	}
	return Frame{Tag: tag, Payload: payload}, nil
}

// ValidTag reports whether t is one of the known frame tags.
func ValidTag(t Tag) bool {
	switch t {
	case TagHello, TagManifestEntry, TagManifestEnd, TagVerdict, TagSigBlock,
		TagSigEnd, TagInstrCopy, TagInstrLiteral, TagFileEnd, TagFileAck,
		TagStats, TagError, TagCompressionHint:
		return true
	default:
		return false
	}
}
