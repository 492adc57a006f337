package psync

import (
	"io"
	"sort"
)

// BuildSignatures reads r in blockLen-sized chunks (the final chunk may be
// shorter) and returns one BlockSignature per chunk, offsets increasing
// from 0. This runs once per file the receiver already has, held only for
// the duration of that file's delta phase.
func BuildSignatures(r io.Reader, blockLen uint32) ([]BlockSignature, error) {
	if blockLen == 0 {
		return nil, nil
	}

	var sigs []BlockSignature
	buf := make([]byte, blockLen)
	var offset uint64
	var index uint32

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := buf[:n]
			sigs = append(sigs, BlockSignature{
				Index:  index,
				Offset: offset,
				Length: uint32(n),
				Weak:   WeakSum(chunk),
				Strong: StrongHash(chunk),
			})
			offset += uint64(n)
			index++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return sigs, err
		}
	}
	return sigs, nil
}

// sigEntry is a SignatureIndex bucket member.
type sigEntry struct {
	Index  uint32
	Weak   uint32
	Length uint32
	Offset uint64
	Strong [StrongHashSize]byte
}

// SignatureIndex maps the low 16 bits of a weak checksum to the chain of
// blocks that could plausibly match it. It is sender-side and transient:
// built once the receiver's signatures for the current file have arrived,
// discarded once that file's delta completes.
type SignatureIndex struct {
	buckets map[uint16][]sigEntry
}

// BuildSignatureIndex indexes sigs by the low 16 bits of their weak
// checksum. Within a bucket, entries are kept in ascending block-index
// order so a match search is deterministic, ties broken by ascending
// block index.
func BuildSignatureIndex(sigs []BlockSignature) *SignatureIndex {
	idx := &SignatureIndex{buckets: make(map[uint16][]sigEntry)}
	for _, s := range sigs {
		key := uint16(s.Weak)
		idx.buckets[key] = append(idx.buckets[key], sigEntry{
			Index:  s.Index,
			Weak:   s.Weak,
			Length: s.Length,
			Offset: s.Offset,
			Strong: s.Strong,
		})
	}
	for key, bucket := range idx.buckets {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Index < bucket[j].Index })
		idx.buckets[key] = bucket
	}
	return idx
}

// find looks for a block whose weak checksum and length match window's, and
// whose strong hash confirms it. The strong hash is computed at most once
// per call, and only if at least one weak-checksum candidate exists.
func (idx *SignatureIndex) find(weak uint32, window []byte) (sigEntry, bool) {
	bucket := idx.buckets[uint16(weak)]
	if len(bucket) == 0 {
		return sigEntry{}, false
	}

	var strong [StrongHashSize]byte
	computed := false
	for _, e := range bucket {
		if e.Weak != weak || int(e.Length) != len(window) {
			continue
		}
		if !computed {
			strong = StrongHash(window)
			computed = true
		}
		if strong == e.Strong {
			return e, true
		}
	}
	return sigEntry{}, false
}
