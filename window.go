package psync

import (
	"bufio"
	"io"
)

// window is the delta matcher's rolling view over the sender's file: a
// buffer that advances over the source a byte or a whole block at a time,
// built on bufio.Reader's Peek/Discard instead of hand-rolled copy-shifting,
// so advancing by one byte is O(1) and advancing by a block is a single
// Discard.
type window struct {
	br       *bufio.Reader
	blockLen int
}

func newWindow(r io.Reader, blockLen int) *window {
	size := blockLen*2 + 1
	if size < 4096 {
		size = 4096
	}
	return &window{br: bufio.NewReaderSize(r, size), blockLen: blockLen}
}

// peek returns up to blockLen bytes starting at the window's current
// position without consuming them. A short slice with err == io.EOF means
// fewer than blockLen bytes remain; a short slice is never an error
// otherwise. The internal buffer is sized 2*blockLen+1 at construction so
// this Peek never hits bufio.ErrBufferFull.
func (w *window) peek() ([]byte, error) {
	b, err := w.br.Peek(w.blockLen)
	if err == io.EOF {
		return b, io.EOF
	}
	return b, err
}

// advance drops n bytes from the front of the window.
func (w *window) advance(n int) error {
	if n == 0 {
		return nil
	}
	_, err := w.br.Discard(n)
	if err == io.EOF {
		return nil
	}
	return err
}
