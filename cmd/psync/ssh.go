package main

import (
	"context"
	"io"
	"os/exec"

	"github.com/mag-/psync/config"
	"github.com/mag-/psync/session"
)

// sshTransport wraps an `ssh host psync --server ...` child process, wiring
// its stdin/stdout into a session.Transport.
type sshTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func newSSHTransport(ctx context.Context, host, remotePath string, cfg *config.Config) (*sshTransport, error) {
	args := []string{host, "psync", "--server"}
	args = append(args, remoteFlags(cfg)...)
	args = append(args, remotePath)

	cmd := exec.CommandContext(ctx, "ssh", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &sshTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (s *sshTransport) transport() *session.Transport {
	return &session.Transport{R: s.stdout, W: s.stdin}
}

func (s *sshTransport) wait() error {
	return s.cmd.Wait()
}

// remoteFlags forwards the flags that affect the receiver's own behavior;
// the remote side never walks a source tree, so source-only flags like
// --exclude are not forwarded.
func remoteFlags(cfg *config.Config) []string {
	var flags []string
	if cfg.Verbose > 0 {
		flags = append(flags, "--verbose")
	}
	if cfg.Compress {
		flags = append(flags, "--compress")
	}
	if cfg.Checksum {
		flags = append(flags, "--checksum")
	}
	if cfg.Delete {
		flags = append(flags, "--delete")
	}
	if cfg.DryRun {
		flags = append(flags, "--dry-run")
	}
	if cfg.Update {
		flags = append(flags, "--update")
	}
	return flags
}
