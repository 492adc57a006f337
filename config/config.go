// Package config is the in-process configuration record the CLI surface
// parses into, and every other psync package consumes: the external
// collaborator (cmd/psync's flag parsing) produces a Config, the core
// session and its helpers only ever see this struct.
package config

import (
	"strings"

	"github.com/codegangsta/cli"
	"github.com/pkg/errors"

	"github.com/mag-/psync"
	"github.com/mag-/psync/wire"
)

// Config mirrors the CLI's options one-for-one.
type Config struct {
	Src string
	Dst string

	Archive    bool
	Verbose    int
	Compress   bool
	Recursive  bool
	DryRun     bool
	Checksum   bool
	Update     bool
	Delete     bool
	Exclude    []string
	Progress   bool
	Server     bool
}

// Normalize expands archive into the flags it implies: archive turns on
// recursive, preserve-perms and preserve-times. Permission/time
// preservation live in the reconstructor and the manifest frame itself, so
// the only bit Normalize needs to flip locally is Recursive.
func (c *Config) Normalize() {
	if c.Archive {
		c.Recursive = true
	}
}

// Validate returns a ConfigError (exit code 1) for contradictory or
// incomplete flag combinations. --update with --checksum is allowed
// together; only a missing source or destination (outside --server mode,
// which reads its target from the manifest it receives) is rejected here.
func (c *Config) Validate() error {
	if c.Server {
		return nil
	}
	if strings.TrimSpace(c.Src) == "" {
		return psync.NewError(psync.KindConfig, "", errMissingSrc)
	}
	if strings.TrimSpace(c.Dst) == "" {
		return psync.NewError(psync.KindConfig, "", errMissingDst)
	}
	return nil
}

// FeatureBits assembles the HELLO feature-bit mask from the flags that
// have a wire-visible counterpart.
func (c *Config) FeatureBits() uint32 {
	var bits uint32
	if c.Compress {
		bits |= wire.FeatureCompression
	}
	if c.Checksum {
		bits |= wire.FeatureChecksum
	}
	if c.Delete {
		bits |= wire.FeatureDelete
	}
	return bits
}

// RemoteHost splits a "host:path" destination into its host and path
// parts. The empty host, ok=false result means dst is a local path.
func RemoteHost(dst string) (host, path string, ok bool) {
	// A leading "./" or a drive-letter-shaped prefix like "C:" must not
	// be mistaken for a remote host; only a colon following a bare,
	// slash-free segment counts.
	idx := strings.Index(dst, ":")
	if idx <= 0 {
		return "", "", false
	}
	head := dst[:idx]
	if strings.ContainsAny(head, "/\\") {
		return "", "", false
	}
	if len(head) == 1 && (head[0] >= 'A' && head[0] <= 'Z' || head[0] >= 'a' && head[0] <= 'z') {
		return "", "", false
	}
	return head, dst[idx+1:], true
}

// FromCLIContext builds a Config from a parsed *cli.Context. --server mode
// reads only Dst (the remote-side destination path); Src is left empty
// since the far end never walks a source tree of its own.
func FromCLIContext(c *cli.Context) (*Config, error) {
	verbose := 0
	if c.Bool("verbose") {
		verbose = 1
	}
	cfg := &Config{
		Archive:   c.Bool("archive"),
		Verbose:   verbose,
		Compress:  c.Bool("compress"),
		Recursive: c.Bool("recursive"),
		DryRun:    c.Bool("dry-run"),
		Checksum:  c.Bool("checksum"),
		Update:    c.Bool("update"),
		Delete:    c.Bool("delete"),
		Exclude:   c.StringSlice("exclude"),
		Progress:  c.Bool("progress"),
		Server:    c.Bool("server"),
	}

	args := c.Args()
	switch {
	case cfg.Server:
		if len(args) >= 1 {
			cfg.Dst = args.First()
		}
	case len(args) == 2:
		cfg.Src, cfg.Dst = args.Get(0), args.Get(1)
	default:
		return nil, psync.NewError(psync.KindConfig, "", errWrongArgCount)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var (
	errMissingSrc    = errors.New("missing source path")
	errMissingDst    = errors.New("missing destination path")
	errWrongArgCount = errors.New("expected exactly SRC and DST arguments")
)
