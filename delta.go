package psync

import "io"

// Emit receives one Instruction at a time, in order. GenerateDelta never
// buffers a whole file's instructions; Emit is called as each one is
// produced so a caller (the session's sender) can pipe them straight onto
// the wire.
type Emit func(Instruction) error

// GenerateDelta is the delta matcher. It reads src once, forward-only,
// searching idx for block-aligned matches at every byte offset via the
// rolling weak checksum, confirming candidates with the strong hash, and
// emitting LITERAL spans for everything in between.
//
// Matching is greedy: the first confirmed match at a position is taken,
// with no lookahead for a better one further on. The final (possibly
// short) block is handled naturally by window's EOF-shrinking behavior,
// because idx's entries carry their own Length and a match only confirms
// when the candidate's Length equals the current window's.
func GenerateDelta(src io.Reader, idx *SignatureIndex, blockLen uint32, maxLiteral int, emit Emit) error {
	if maxLiteral <= 0 {
		maxLiteral = DefaultMaxLiteral
	}
	if blockLen == 0 {
		blockLen = 1
	}

	w := newWindow(src, int(blockLen))

	var literal []byte
	flush := func() error {
		for len(literal) > 0 {
			n := len(literal)
			if n > maxLiteral {
				n = maxLiteral
			}
			if err := emit(Instruction{Op: InstrLiteral, Literal: literal[:n]}); err != nil {
				return err
			}
			literal = literal[n:]
		}
		return nil
	}

	cur, _ := w.peek()
	if len(cur) == 0 {
		return nil // empty source file: nothing to emit
	}
	var roll Rolling
	roll.Write(cur)

	for len(cur) > 0 {
		if entry, ok := idx.find(roll.Digest(), cur); ok {
			if err := flush(); err != nil {
				return err
			}
			if err := emit(Instruction{Op: InstrCopy, BlockIndex: entry.Index, Length: entry.Length}); err != nil {
				return err
			}
			if err := w.advance(len(cur)); err != nil {
				return err
			}

			next, _ := w.peek()
			cur = next
			if len(cur) == 0 {
				break
			}
			roll.Reset()
			roll.Write(cur)
			continue
		}

		// Miss: the window's first byte becomes literal, roll forward one.
		old := cur[0]
		literal = append(literal, old)
		if len(literal) >= maxLiteral {
			if err := flush(); err != nil {
				return err
			}
		}

		if err := w.advance(1); err != nil {
			return err
		}
		next, _ := w.peek()

		switch {
		case len(next) == 0:
			cur = next
		case len(next) == len(cur):
			// Still blockLen bytes ahead: roll in O(1).
			roll.RollByte(old, next[len(next)-1])
			cur = next
		default:
			// Approaching EOF: the window shrank by one with nothing new
			// entering the back. RollOut keeps this O(1) instead of
			// recomputing the checksum over the whole shrinking tail.
			roll.RollOut(old)
			cur = next
		}
	}

	return flush()
}
