package session

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/mag-/psync"
	"github.com/mag-/psync/config"
	"github.com/mag-/psync/walk"
	"github.com/mag-/psync/wire"
)

// RunSender drives the sending half of the protocol: HELLO, manifest, then
// per-file verdict handling in manifest order. It returns once every entry
// has been resolved (skipped, transferred, or reported as a per-file
// error) and the STATS frame has been exchanged.
func RunSender(ctx context.Context, cfg *config.Config, t *Transport) (Summary, error) {
	c, err := newCore(cfg, sideSender)
	if err != nil {
		return Summary{}, err
	}
	gctx, eg := c.run(ctx, t)

	var summary Summary
	mainErr := runSenderMain(gctx, c, t, &summary)
	c.finish(t)
	waitErr := eg.Wait()

	summary.Stats = c.stats.Snapshot()
	return summary, preferTypedError(mainErr, waitErr)
}

func runSenderMain(ctx context.Context, c *core, t *Transport, summary *Summary) error {
	if err := c.negotiate(ctx, true); err != nil {
		return err
	}

	entries, err := walk.Walk(c.cfg.Src, c.cfg.Recursive, c.cfg.Exclude)
	if err != nil {
		c.sendError(ctx, psync.KindOf(err), err.Error())
		return err
	}

	for _, e := range entries {
		if err := c.pump.send(ctx, wire.TagManifestEntry, wire.EncodeManifestEntry(e)); err != nil {
			return err
		}
	}
	if err := c.pump.send(ctx, wire.TagManifestEnd, nil); err != nil {
		return err
	}

	for i, e := range entries {
		v, err := recvVerdict(ctx, c, uint32(i))
		if err != nil {
			return err
		}
		if err := c.handleEntry(ctx, e, v, summary); err != nil {
			summary.Errored = append(summary.Errored, FileError{Path: e.Path, Err: err})
		}
	}

	if err := c.pump.send(ctx, wire.TagStats, wire.EncodeStats(wire.Stats(c.stats.Snapshot()))); err != nil {
		return err
	}
	return drainStats(ctx, c)
}

// drainStats reads the peer's closing STATS frame so both sides observe a
// clean two-way finish before the transport is torn down.
func drainStats(ctx context.Context, c *core) error {
	frame, ok, err := c.pump.recv(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if frame.Tag != wire.TagStats && frame.Tag != wire.TagError {
		return psync.NewError(psync.KindProtocol, "", errUnexpectedTag)
	}
	return nil
}

// recvVerdict reads the next VERDICT frame and checks that its EntryIndex
// matches wantIndex, the position in manifest order the sender expects a
// verdict for. A mismatch means the two sides have desynchronized and is
// reported as a ProtocolError rather than silently misapplying the verdict
// to the wrong file.
func recvVerdict(ctx context.Context, c *core, wantIndex uint32) (wire.Verdict, error) {
	frame, ok, err := c.pump.recv(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, psync.NewError(psync.KindProtocol, "", errPeerClosed)
	}
	if frame.Tag == wire.TagError {
		return 0, decodeRemoteError(frame.Payload)
	}
	if frame.Tag != wire.TagVerdict {
		return 0, psync.NewError(psync.KindProtocol, "", errUnexpectedTag)
	}
	msg, err := wire.DecodeVerdict(frame.Payload)
	if err != nil {
		return 0, err
	}
	if msg.EntryIndex != wantIndex {
		return 0, psync.NewError(psync.KindProtocol, "", errVerdictIndexMismatch)
	}
	return msg.Verdict, nil
}

func decodeRemoteError(payload []byte) error {
	msg, err := wire.DecodeError(payload)
	if err != nil {
		return psync.NewError(psync.KindProtocol, "", errRemoteError)
	}
	return psync.NewError(msg.Kind, "", errRemoteError)
}

// handleEntry runs one manifest entry through the sender's side of the
// per-file phase. A returned error is a per-file failure: the caller
// records it in the summary and keeps going.
func (c *core) handleEntry(ctx context.Context, e psync.FileEntry, v wire.Verdict, summary *Summary) error {
	if v == wire.VerdictSkip {
		summary.Skipped = append(summary.Skipped, e.Path)
		return nil
	}
	if e.Kind != psync.EntryRegular {
		// The receiver creates directories/symlinks directly from the
		// manifest entry it already holds; no bytes to send.
		summary.Transferred = append(summary.Transferred, e.Path)
		return nil
	}
	if c.cfg.DryRun {
		summary.Transferred = append(summary.Transferred, e.Path)
		return nil
	}

	var xferErr error
	switch v {
	case wire.VerdictFull:
		xferErr = c.sendFull(ctx, e)
	case wire.VerdictDelta:
		xferErr = c.sendDelta(ctx, e)
	default:
		return psync.NewError(psync.KindProtocol, e.Path, errUnexpectedTag)
	}

	ack, ackErr := recvFileAck(ctx, c)
	if ackErr != nil {
		return ackErr
	}
	if xferErr == nil && ack {
		summary.Transferred = append(summary.Transferred, e.Path)
		return nil
	}

	// One automatic retry as a full resend.
	c.log.Debug("retrying file as full resend", zap.String("path", e.Path))
	retryErr := c.sendFull(ctx, e)
	ack2, ackErr := recvFileAck(ctx, c)
	if ackErr != nil {
		return ackErr
	}
	if retryErr == nil && ack2 {
		summary.Transferred = append(summary.Transferred, e.Path)
		return nil
	}
	if retryErr != nil {
		return retryErr
	}
	return psync.NewError(psync.KindHashMismatch, e.Path, errRemoteError)
}

// sendFull streams e's entire content as a single (possibly chunked)
// LITERAL instruction sequence, with no signature exchange.
func (c *core) sendFull(ctx context.Context, e psync.FileEntry) error {
	f, err := os.Open(c.srcPath(e.Path))
	if err != nil {
		return c.sendZeroFileEnd(ctx, err)
	}
	defer f.Close()

	hasher, err := psync.NewStrongHasher()
	if err != nil {
		return err
	}
	r := io.TeeReader(f, hasher)

	buf := make([]byte, psync.DefaultMaxLiteral)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			c.stats.AddLiteralBytesSent(uint64(n))
			c.stats.AddBytesRead(uint64(n))
			if sendErr := c.pump.send(ctx, wire.TagInstrLiteral, append([]byte(nil), buf[:n]...)); sendErr != nil {
				return sendErr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return c.sendZeroFileEnd(ctx, err)
		}
	}

	var sum [psync.StrongHashSize]byte
	copy(sum[:], hasher.Sum(nil))
	return c.pump.send(ctx, wire.TagFileEnd, wire.EncodeFileEnd(sum))
}

// sendZeroFileEnd is used when the source file could not be opened or read
// mid-stream: it still completes the per-file handshake (FILE_END is
// required before the next file may start) with a hash that cannot match
// anything real, so the receiver reports HashMismatch and the
// retry/failure bookkeeping in handleEntry runs its course.
func (c *core) sendZeroFileEnd(ctx context.Context, cause error) error {
	c.log.Warn("source file unreadable", zap.Error(cause))
	var zero [psync.StrongHashSize]byte
	if err := c.pump.send(ctx, wire.TagFileEnd, wire.EncodeFileEnd(zero)); err != nil {
		return err
	}
	return psync.NewError(psync.KindIO, "", cause)
}

// sendDelta reads the receiver's signatures, runs the delta matcher
// against the source file, and streams the resulting instruction sequence.
func (c *core) sendDelta(ctx context.Context, e psync.FileEntry) error {
	sigs, err := recvSignatures(ctx, c)
	if err != nil {
		return err
	}

	f, err := os.Open(c.srcPath(e.Path))
	if err != nil {
		return c.sendZeroFileEnd(ctx, err)
	}
	defer f.Close()

	hasher, err := psync.NewStrongHasher()
	if err != nil {
		return err
	}
	r := io.TeeReader(f, hasher)

	idx := psync.BuildSignatureIndex(sigs)
	blockLen := psync.BlockSize(e.Size)

	err = psync.GenerateDelta(r, idx, blockLen, psync.DefaultMaxLiteral, func(instr psync.Instruction) error {
		switch instr.Op {
		case psync.InstrLiteral:
			c.stats.AddLiteralBytesSent(uint64(len(instr.Literal)))
			return c.pump.send(ctx, wire.TagInstrLiteral, instr.Literal)
		case psync.InstrCopy:
			c.stats.AddCopyBytesElided(uint64(instr.Length))
			return c.pump.send(ctx, wire.TagInstrCopy, wire.EncodeInstrCopy(instr.BlockIndex, instr.Length))
		default:
			return psync.NewError(psync.KindProtocol, e.Path, errUnexpectedTag)
		}
	})
	c.stats.AddBytesRead(e.Size)
	if err != nil {
		return c.sendZeroFileEnd(ctx, err)
	}

	var sum [psync.StrongHashSize]byte
	copy(sum[:], hasher.Sum(nil))
	return c.pump.send(ctx, wire.TagFileEnd, wire.EncodeFileEnd(sum))
}

func recvSignatures(ctx context.Context, c *core) ([]psync.BlockSignature, error) {
	var sigs []psync.BlockSignature
	for {
		frame, ok, err := c.pump.recv(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, psync.NewError(psync.KindProtocol, "", errPeerClosed)
		}
		switch frame.Tag {
		case wire.TagSigBlock:
			sig, err := wire.DecodeSigBlock(frame.Payload)
			if err != nil {
				return nil, err
			}
			sigs = append(sigs, sig)
		case wire.TagSigEnd:
			return sigs, nil
		case wire.TagError:
			return nil, decodeRemoteError(frame.Payload)
		default:
			return nil, psync.NewError(psync.KindProtocol, "", errUnexpectedTag)
		}
	}
}

func recvFileAck(ctx context.Context, c *core) (bool, error) {
	frame, ok, err := c.pump.recv(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, psync.NewError(psync.KindProtocol, "", errPeerClosed)
	}
	if frame.Tag == wire.TagError {
		return false, decodeRemoteError(frame.Payload)
	}
	if frame.Tag != wire.TagFileAck {
		return false, psync.NewError(psync.KindProtocol, "", errUnexpectedTag)
	}
	return len(frame.Payload) == 1 && frame.Payload[0] == 0, nil
}

func (c *core) srcPath(relPath string) string {
	return joinRel(c.cfg.Src, relPath)
}
