package session

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/mag-/psync/config"
)

// Local runs a sender and a receiver in-process, connected by a pair of
// io.Pipe streams. It returns both sides' summaries; a session-fatal error
// from either side fails the call.
func Local(ctx context.Context, senderCfg, receiverCfg *config.Config) (senderSummary, receiverSummary Summary, err error) {
	s2rR, s2rW := io.Pipe()
	r2sR, r2sW := io.Pipe()

	senderT := &Transport{R: r2sR, W: s2rW}
	receiverT := &Transport{R: s2rR, W: r2sW}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var e error
		senderSummary, e = RunSender(gctx, senderCfg, senderT)
		return e
	})
	eg.Go(func() error {
		var e error
		receiverSummary, e = RunReceiver(gctx, receiverCfg, receiverT)
		return e
	})

	err = eg.Wait()
	return senderSummary, receiverSummary, err
}
