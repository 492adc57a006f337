// Package session implements the per-peer state machine: it drives the
// manifest exchange, per-file verdicts, signature exchange, and instruction
// streaming over the frame codec, running the reader, writer, and main
// state machine as separate concurrent goroutines.
package session

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mag-/psync"
	"github.com/mag-/psync/wire"
	"github.com/mag-/psync/xfer"
)

// QueueDepth bounds the reader->main and main->writer channels. Queue
// depths are fixed for the life of a session.
const QueueDepth = 32

// IdleTimeout is the wall-clock bound on frame inactivity in either
// direction before the session gives up.
const IdleTimeout = 120 * time.Second

// pump owns the transport exclusively (the reader and writer goroutines
// are its only readers/writers) and bridges it to the bounded channels the
// main state machine reads from and writes to.
type pump struct {
	in  chan wire.Frame
	out chan wire.Frame

	stats *psync.TransferStats
	codec *xfer.Codec
	ctrl  *xfer.Controller

	compress int32 // atomic bool, flipped once after HELLO negotiation
	level    int32 // atomic current compression level
	closing  int32 // atomic bool, set by shutdown() before closing the transport

	done chan struct{} // closed by shutdown() so the idle watchdog exits
}

func newPump(stats *psync.TransferStats, codec *xfer.Codec, ctrl *xfer.Controller) *pump {
	return &pump{
		in:    make(chan wire.Frame, QueueDepth),
		out:   make(chan wire.Frame, QueueDepth),
		stats: stats,
		codec: codec,
		ctrl:  ctrl,
		level: xfer.InitialLevel,
		done:  make(chan struct{}),
	}
}

// enableCompression switches the pump into compressing every frame after
// this point; called once HELLO negotiation confirms both sides opted in.
// HELLO itself is always sent and read raw so negotiation never needs to
// guess the far end's setting.
func (p *pump) enableCompression() { atomic.StoreInt32(&p.compress, 1) }

func (p *pump) setLevel(level int) { atomic.StoreInt32(&p.level, int32(level)) }

// run launches the reader and writer goroutines under eg, wired to ctx's
// cancellation, plus an idle-timeout watchdog. It returns immediately;
// callers wait on the errgroup they passed in.
func (p *pump) run(ctx context.Context, eg *errgroup.Group, r io.Reader, w io.Writer) {
	activity := make(chan struct{}, 1)
	poke := func() {
		select {
		case activity <- struct{}{}:
		default:
		}
	}

	fr := wire.NewReader(r)
	fw := wire.NewWriter(w)

	eg.Go(func() error {
		defer close(p.in)
		for {
			frame, err := fr.ReadFrame()
			if err != nil {
				if err == io.EOF || atomic.LoadInt32(&p.closing) == 1 {
					return nil
				}
				return err
			}
			p.stats.AddFramesReceived(1)
			poke()
			if frame.Tag == wire.TagCompressionHint {
				if newLevel, derr := wire.DecodeCompressionHint(frame.Payload); derr == nil {
					p.setLevel(newLevel)
				}
				continue
			}
			if atomic.LoadInt32(&p.compress) == 1 && frame.Tag != wire.TagHello {
				payload, derr := p.codec.Decompress(frame.Payload)
				if derr != nil {
					return derr
				}
				frame.Payload = payload
			}
			select {
			case p.in <- frame:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	eg.Go(func() error {
		lastFrame := time.Now()
		for {
			select {
			case frame, ok := <-p.out:
				if !ok {
					return nil
				}
				now := time.Now()
				elapsed := now.Sub(lastFrame)
				lastFrame = now

				payload := frame.Payload
				compressing := atomic.LoadInt32(&p.compress) == 1 && frame.Tag != wire.TagHello && frame.Tag != wire.TagCompressionHint
				var compressDur time.Duration
				if compressing {
					compressStart := time.Now()
					compressed, cerr := p.codec.Compress(int(atomic.LoadInt32(&p.level)), payload)
					compressDur = time.Since(compressStart)
					if cerr != nil {
						return cerr
					}
					p.stats.AddCompressedBytes(uint64(len(compressed)))
					payload = compressed
				}

				writeStart := time.Now()
				err := fw.WriteFrame(frame.Tag, payload)
				writeDur := time.Since(writeStart)
				if err != nil {
					if atomic.LoadInt32(&p.closing) == 1 {
						return nil
					}
					return err
				}
				p.stats.AddFramesSent(1)
				poke()

				if compressing && p.ctrl != nil {
					newLevel, changed := p.ctrl.RecordFrame(len(frame.Payload), len(payload), writeDur, elapsed, compressDur > writeDur)
					if changed {
						p.setLevel(newLevel)
						if herr := fw.WriteFrame(wire.TagCompressionHint, wire.EncodeCompressionHint(newLevel)); herr != nil {
							if atomic.LoadInt32(&p.closing) == 1 {
								return nil
							}
							return herr
						}
						p.stats.AddFramesSent(1)
					}
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	eg.Go(func() error {
		timer := time.NewTimer(IdleTimeout)
		defer timer.Stop()
		for {
			select {
			case <-activity:
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(IdleTimeout)
			case <-timer.C:
				return psync.NewError(psync.KindTimeout, "", errIdleTimeout)
			case <-p.done:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
	})
}

// send enqueues a frame for the writer, respecting cancellation.
func (p *pump) send(ctx context.Context, tag wire.Tag, payload []byte) error {
	select {
	case p.out <- wire.Frame{Tag: tag, Payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recv waits for the next inbound frame, or reports that the peer closed
// its side (ok=false) or the context was cancelled.
func (p *pump) recv(ctx context.Context) (wire.Frame, bool, error) {
	select {
	case frame, ok := <-p.in:
		return frame, ok, nil
	case <-ctx.Done():
		return wire.Frame{}, false, ctx.Err()
	}
}

// close signals the writer goroutine to stop once its queue drains.
func (p *pump) close() { close(p.out) }

// shutdown marks the pump as intentionally closing (so a subsequent
// transport-close error on either goroutine is treated as graceful), stops
// the idle watchdog, and closes the outbound queue.
func (p *pump) shutdown() {
	atomic.StoreInt32(&p.closing, 1)
	close(p.done)
	p.close()
}
