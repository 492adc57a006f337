package session

import (
	"context"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mag-/psync"
	"github.com/mag-/psync/config"
	"github.com/mag-/psync/plog"
	"github.com/mag-/psync/wire"
	"github.com/mag-/psync/xfer"
)

// Summary is the end-of-session report: files skipped, transferred, bytes
// on wire, and any per-file errors, none of which (besides "no files
// succeeded") change the process exit code.
type Summary struct {
	Skipped     []string
	Transferred []string
	Errored     []FileError
	Stats       psync.TransferStats
}

// FileError names a per-file failure that did not abort the session.
type FileError struct {
	Path string
	Err  error
}

// AllFailed reports whether every attempted file errored, the one
// condition under which per-file errors do change the exit code.
func (s Summary) AllFailed() bool {
	return len(s.Errored) > 0 && len(s.Transferred) == 0
}

// Transport is the bidirectional, closable byte-stream pair a session runs
// over: local mode wires it to a pair of io.Pipes, remote mode to whatever
// file-descriptor-like handles the transport collaborator hands over.
type Transport struct {
	R io.ReadCloser
	W io.WriteCloser
}

// Close closes both halves; safe to call more than once.
func (t *Transport) Close() {
	if t.R != nil {
		_ = t.R.Close()
	}
	if t.W != nil {
		_ = t.W.Close()
	}
}

// side identifies which half of the protocol a session instance is
// running, purely to give log lines a consistent field.
type side string

const (
	sideSender   side = "sender"
	sideReceiver side = "receiver"
)

// core bundles the state every packet of the state machine touches:
// the pump, codec, controller, stats, logger and manifest side.
type core struct {
	cfg   *config.Config
	pump  *pump
	codec *xfer.Codec
	ctrl  *xfer.Controller
	stats *psync.TransferStats
	log   *zap.Logger
	side  side
}

func newCore(cfg *config.Config, s side) (*core, error) {
	codec, err := xfer.NewCodec()
	if err != nil {
		return nil, err
	}
	stats := &psync.TransferStats{}
	ctrl := xfer.NewController()
	return &core{
		cfg:   cfg,
		pump:  newPump(stats, codec, ctrl),
		codec: codec,
		ctrl:  ctrl,
		stats: stats,
		log:   plog.L().With(zap.String("side", string(s))),
		side:  s,
	}, nil
}

// negotiate exchanges HELLO frames. isSender controls send-then-recv vs
// recv-then-send ordering so the two sides don't both block writing first.
func (c *core) negotiate(ctx context.Context, isSender bool) error {
	mine := wire.Hello{Version: wire.ProtocolVersion, Features: c.cfg.FeatureBits()}

	send := func() error { return c.pump.send(ctx, wire.TagHello, wire.EncodeHello(mine)) }
	recv := func() (wire.Hello, error) {
		frame, ok, err := c.pump.recv(ctx)
		if err != nil {
			return wire.Hello{}, err
		}
		if !ok || frame.Tag != wire.TagHello {
			return wire.Hello{}, psync.NewError(psync.KindProtocol, "", errUnexpectedTag)
		}
		return wire.DecodeHello(frame.Payload)
	}

	var peer wire.Hello
	var err error
	if isSender {
		if err = send(); err != nil {
			return err
		}
		peer, err = recv()
	} else {
		peer, err = recv()
		if err == nil {
			err = send()
		}
	}
	if err != nil {
		return err
	}
	if peer.Version != wire.ProtocolVersion {
		return psync.NewError(psync.KindVersionMismatch, "", errVersionMismatch)
	}
	if c.cfg.Compress && peer.Features&wire.FeatureCompression != 0 {
		c.pump.enableCompression()
	}
	return nil
}

// sendError transmits an ERROR frame best-effort; failures to send it are
// swallowed since the session is already terminating.
func (c *core) sendError(ctx context.Context, kind psync.Kind, msg string) {
	_ = c.pump.send(ctx, wire.TagError, wire.EncodeError(wire.ErrorMsg{Kind: kind, Message: msg}))
}

// run wires the pump's goroutines to the transport under a fresh errgroup
// and returns the errgroup's context, which the caller drives its own
// main-task loop against, alongside the errgroup itself to Wait() on.
func (c *core) run(ctx context.Context, t *Transport) (context.Context, *errgroup.Group) {
	eg, gctx := errgroup.WithContext(ctx)
	c.pump.run(gctx, eg, t.R, t.W)
	return gctx, eg
}

// preferTypedError prefers a typed *psync.Error (e.g. a Timeout raised by
// the idle watchdog) over the generic context.Canceled the main task sees
// once the errgroup's shared context is cancelled out from under it.
func preferTypedError(mainErr, waitErr error) error {
	if _, ok := waitErr.(*psync.Error); ok {
		return waitErr
	}
	if mainErr != nil {
		return mainErr
	}
	return waitErr
}

// finish marks the session as intentionally winding down: the outbound
// queue is closed so the writer drains and exits, and the transport is
// closed so a reader still blocked on a peer that never speaks again is
// released rather than hanging until the idle timeout.
func (c *core) finish(t *Transport) {
	c.pump.shutdown()
	t.Close()
}
