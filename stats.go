package psync

import "sync/atomic"

// TransferStats holds the session's observational counters. All fields are
// updated via atomics from whichever goroutine is doing the counting
// (reader, writer, or the per-file worker) so the session never needs a
// lock just to bump a counter.
type TransferStats struct {
	BytesRead        uint64
	LiteralBytesSent uint64
	CopyBytesElided  uint64
	CompressedBytes  uint64
	FramesSent       uint64
	FramesReceived   uint64
}

func (s *TransferStats) AddBytesRead(n uint64)        { atomic.AddUint64(&s.BytesRead, n) }
func (s *TransferStats) AddLiteralBytesSent(n uint64) { atomic.AddUint64(&s.LiteralBytesSent, n) }
func (s *TransferStats) AddCopyBytesElided(n uint64)  { atomic.AddUint64(&s.CopyBytesElided, n) }
func (s *TransferStats) AddCompressedBytes(n uint64)  { atomic.AddUint64(&s.CompressedBytes, n) }
func (s *TransferStats) AddFramesSent(n uint64)       { atomic.AddUint64(&s.FramesSent, n) }
func (s *TransferStats) AddFramesReceived(n uint64)   { atomic.AddUint64(&s.FramesReceived, n) }

// Snapshot returns a copy safe to read without racing further updates.
func (s *TransferStats) Snapshot() TransferStats {
	return TransferStats{
		BytesRead:        atomic.LoadUint64(&s.BytesRead),
		LiteralBytesSent: atomic.LoadUint64(&s.LiteralBytesSent),
		CopyBytesElided:  atomic.LoadUint64(&s.CopyBytesElided),
		CompressedBytes:  atomic.LoadUint64(&s.CompressedBytes),
		FramesSent:       atomic.LoadUint64(&s.FramesSent),
		FramesReceived:   atomic.LoadUint64(&s.FramesReceived),
	}
}
