package psync

// BlockSize returns the block length both peers must agree on for a file of
// the given size. It is a pure function of size so the two sides never have
// to negotiate it.
func BlockSize(size uint64) uint32 {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
	)
	switch {
	case size < 128*kib:
		return uint32(size)
	case size < 16*mib:
		return 128 * kib
	case size < 256*mib:
		return 1 * mib
	case size < 4*gib:
		return 16 * mib
	case size < 64*gib:
		return 128 * mib
	default:
		return 1 * gib
	}
}
