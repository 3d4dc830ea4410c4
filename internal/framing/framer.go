// Package framing reassembles length-prefixed payloads from a byte stream.
//
// Every frame is a big-endian uint32 length followed by that many payload
// bytes. A Framer has no I/O of its own: callers hand it whatever a read
// returned and receive the payloads that became complete.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the length prefix in bytes.
const HeaderSize = 4

// DefaultCapacity bounds a single frame (header included) at 1 MiB.
const DefaultCapacity = 1 << 20

// ErrFrameTooLarge is permanent: once returned, the stream cannot be
// resynchronised and every later Feed returns it again.
var ErrFrameTooLarge = errors.New("frame exceeds buffer capacity")

type Framer struct {
	buf  []byte
	head int // start of unconsumed bytes
	tail int // end of filled bytes
	err  error
}

func New(capacity int) *Framer {
	if capacity < HeaderSize {
		capacity = HeaderSize
	}
	return &Framer{buf: make([]byte, capacity)}
}

func (f *Framer) Capacity() int { return len(f.buf) }

// Buffered reports how many bytes are waiting for the rest of their frame.
func (f *Framer) Buffered() int { return f.tail - f.head }

// Feed appends p and returns every payload completed by it, in stream order.
// Payloads are copies and stay valid after later calls. Input larger than
// the free space is consumed in pieces within the same call.
func (f *Framer) Feed(p []byte) ([][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}

	var out [][]byte
	for {
		f.compact()
		n := copy(f.buf[f.tail:], p)
		f.fill(n)
		p = p[n:]

		var err error
		out, err = f.extract(out)
		if err != nil {
			f.err = err
			return out, err
		}
		if len(p) == 0 {
			break
		}
	}
	f.compact()
	return out, nil
}

func (f *Framer) extract(out [][]byte) ([][]byte, error) {
	for f.Buffered() >= HeaderSize {
		length := binary.BigEndian.Uint32(f.buf[f.head:])
		total := uint64(HeaderSize) + uint64(length)
		if total > uint64(len(f.buf)) {
			return out, fmt.Errorf("%w: %d bytes declared, capacity %d", ErrFrameTooLarge, length, len(f.buf))
		}
		if uint64(f.Buffered()) < total {
			break
		}

		start := f.head + HeaderSize
		payload := make([]byte, length)
		copy(payload, f.buf[start:start+int(length)])
		out = append(out, payload)
		f.consume(int(total))
	}
	return out, nil
}

func (f *Framer) compact() {
	if f.head == 0 {
		return
	}
	n := copy(f.buf, f.buf[f.head:f.tail])
	f.head = 0
	f.tail = n
}

func (f *Framer) fill(n int) {
	if n < 0 || f.tail+n > len(f.buf) {
		panic(fmt.Sprintf("framing: fill %d past capacity (tail %d, cap %d)", n, f.tail, len(f.buf)))
	}
	f.tail += n
}

func (f *Framer) consume(n int) {
	if n < 0 || f.head+n > f.tail {
		panic(fmt.Sprintf("framing: consume %d past filled region (head %d, tail %d)", n, f.head, f.tail))
	}
	f.head += n
}
