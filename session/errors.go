package session

import "github.com/pkg/errors"

var (
	errIdleTimeout          = errors.New("no frame activity within the idle timeout")
	errUnexpectedTag        = errors.New("unexpected frame tag for the current state")
	errVersionMismatch      = errors.New("peer speaks an incompatible protocol version")
	errPeerClosed           = errors.New("peer closed the stream before MANIFEST_END")
	errRemoteError          = errors.New("peer sent an ERROR frame")
	errVerdictIndexMismatch = errors.New("verdict's entry index does not match manifest order")
)
