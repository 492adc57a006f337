// Command psync is the CLI surface for the sync engine: `psync [OPTIONS]
// SRC DST` runs a sender/receiver pair either in-process (both paths
// local) or over an ssh-spawned remote `psync --server` (DST of the form
// host:path).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/codegangsta/cli"
	"go.uber.org/zap"

	"github.com/mag-/psync"
	"github.com/mag-/psync/config"
	"github.com/mag-/psync/plog"
	"github.com/mag-/psync/session"
)

const version = "1.0.0"

func main() {
	app := setupApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "psync:", err)
		os.Exit(psync.KindOf(err).ExitCode())
	}
}

func setupApp() *cli.App {
	app := cli.NewApp()
	app.Name = "psync"
	app.Version = version
	// cli's default version flag also claims -v, which is verbose here.
	cli.VersionFlag = cli.BoolFlag{Name: "version", Usage: "print the version"}
	app.Usage = "psync [OPTIONS] SRC DST"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "archive, a", Usage: "recursive, preserve times and permissions"},
		cli.BoolFlag{Name: "verbose, v", Usage: "increase observability output"},
		cli.BoolFlag{Name: "compress, z", Usage: "enable adaptive streaming compression"},
		cli.BoolFlag{Name: "recursive, r", Usage: "descend into subdirectories"},
		cli.BoolFlag{Name: "dry-run, n", Usage: "report what would change without writing"},
		cli.BoolFlag{Name: "checksum, c", Usage: "compare by content instead of size+mtime"},
		cli.BoolFlag{Name: "update, u", Usage: "skip files newer on the destination"},
		cli.BoolFlag{Name: "delete", Usage: "remove destination files absent from source"},
		cli.StringSliceFlag{Name: "exclude", Usage: "glob pattern to exclude, may repeat"},
		cli.BoolFlag{Name: "progress", Usage: "print per-file progress"},
		cli.BoolFlag{Name: "server", Usage: "run as the remote end of an ssh-piped session (internal)"},
	}
	app.Action = run
	return app
}

func run(c *cli.Context) error {
	cfg, err := config.FromCLIContext(c)
	if err != nil {
		return err
	}
	if err := plog.Init(plog.Config{Verbose: cfg.Verbose, Console: !cfg.Server}); err != nil {
		return err
	}
	defer plog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if cfg.Server {
		return runServer(ctx, cfg)
	}

	host, remotePath, remote := config.RemoteHost(cfg.Dst)
	if !remote {
		return runLocal(ctx, cfg)
	}
	return runOverSSH(ctx, cfg, host, remotePath)
}

// runServer is what a remote `psync --server` invocation does: it speaks
// the receiver's half of the protocol over its own stdin/stdout, which the
// ssh process on the initiating side has wired to the local sender.
func runServer(ctx context.Context, cfg *config.Config) error {
	t := &session.Transport{R: os.Stdin, W: os.Stdout}
	summary, err := session.RunReceiver(ctx, cfg, t)
	if err != nil {
		return err
	}
	return finish(summary)
}

// runLocal drives both halves of the protocol in-process over a pair of
// io.Pipe streams.
func runLocal(ctx context.Context, cfg *config.Config) error {
	senderCfg := *cfg
	receiverCfg := *cfg
	sSummary, _, err := session.Local(ctx, &senderCfg, &receiverCfg)
	if err != nil {
		return err
	}
	return finish(sSummary)
}

// runOverSSH spawns `ssh host psync --server [flags] DST-PATH` and pipes the
// session over its stdin/stdout, then drives the local sender half against
// that pipe.
func runOverSSH(ctx context.Context, cfg *config.Config, host, remotePath string) error {
	remote, err := newSSHTransport(ctx, host, remotePath, cfg)
	if err != nil {
		return err
	}
	defer remote.wait()

	senderCfg := *cfg
	senderCfg.Dst = remotePath
	summary, err := session.RunSender(ctx, &senderCfg, remote.transport())
	if err != nil {
		return err
	}
	return finish(summary)
}

func finish(summary session.Summary) error {
	plog.L().Info("sync complete",
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int("transferred", len(summary.Transferred)),
		zap.Int("errored", len(summary.Errored)),
		zap.Uint64("literal_bytes_sent", summary.Stats.LiteralBytesSent),
		zap.Uint64("copy_bytes_elided", summary.Stats.CopyBytesElided),
		zap.Uint64("compressed_bytes", summary.Stats.CompressedBytes),
	)
	for _, fe := range summary.Errored {
		plog.L().Warn("file failed", zap.String("path", fe.Path), zap.Error(fe.Err))
	}
	if summary.AllFailed() {
		return summary.Errored[0].Err
	}
	return nil
}
