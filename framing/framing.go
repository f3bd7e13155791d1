package framing

import (
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/trace-engine/errors"
)

// Preamble is the tag of field 1 (length-delimited) of the RpcStream message.
// Every message in the stream starts with it.
const Preamble byte = 0x0A

// DefaultMaxMessageSize bounds a single message; larger lengths mean the
// stream is corrupt rather than that a huge message is coming.
const DefaultMaxMessageSize = 128 << 20

// MaxHeaderSize is the largest header Encode writes: the preamble and a
// ten byte varint.
const MaxHeaderSize = 11

const minBufferSize = 4096

// Buffer reassembles length-prefixed messages from arbitrarily split chunks.
//
// Not safe for concurrent use.
type Buffer struct {
	err     error
	buf     []byte
	view    []byte
	rd      int
	wr      int
	maxSize int
}

// NewBuffer creates a Buffer. maxSize <= 0 selects DefaultMaxMessageSize.
func NewBuffer(maxSize int) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Buffer{maxSize: maxSize}
}

// Append adds a chunk received from the transport.
//
// The chunk must not be modified after the call: while no partial message is
// buffered, messages are returned as views into it.
func (b *Buffer) Append(chunk []byte) {
	if b.err != nil || len(chunk) == 0 {
		return
	}
	if len(b.view) > 0 {
		b.appendOwned(b.view)
		b.view = nil
	}
	if b.rd == b.wr {
		b.rd, b.wr = 0, 0
		b.view = chunk
		return
	}
	b.appendOwned(chunk)
}

// ReadMessage returns the next complete message, or nil if more bytes are
// needed. Messages that came from the owned buffer are valid until the next
// Append; messages returned straight from a chunk stay valid.
//
// Once the stream is found corrupt every call returns the same error.
func (b *Buffer) ReadMessage() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}

	fromView := len(b.view) > 0
	src := b.buf[b.rd:b.wr]
	if fromView {
		src = b.view
	}

	msg, n, err := parse(src, b.maxSize)
	if err != nil {
		b.err = errors.CorruptStream(err)
		return nil, b.err
	}
	if msg == nil {
		if fromView {
			// Keep the partial tail; it must survive the next chunk.
			b.appendOwned(b.view)
			b.view = nil
		}
		return nil, nil
	}

	if fromView {
		b.view = b.view[n:]
	} else {
		b.rd += n
		if b.rd == b.wr {
			b.rd, b.wr = 0, 0
		}
	}
	return msg, nil
}

// Buffered returns the number of bytes received but not yet consumed.
func (b *Buffer) Buffered() int {
	return len(b.view) + b.wr - b.rd
}

// Err returns the corruption error, if any.
func (b *Buffer) Err() error {
	return b.err
}

func (b *Buffer) appendOwned(data []byte) {
	need := b.wr - b.rd + len(data)
	if cap(b.buf)-b.wr < len(data) {
		if b.rd > 0 {
			n := copy(b.buf, b.buf[b.rd:b.wr])
			b.rd, b.wr = 0, n
		}
		if cap(b.buf) < need {
			size := max(2*cap(b.buf), need, minBufferSize)
			grown := make([]byte, size)
			copy(grown, b.buf[b.rd:b.wr])
			b.wr -= b.rd
			b.rd = 0
			b.buf = grown
		}
	}
	b.buf = b.buf[:cap(b.buf)]
	b.wr += copy(b.buf[b.wr:], data)
}

// parse returns the first message in src and the number of bytes it
// occupies including the header. A nil message with a nil error means the
// message is incomplete.
func parse(src []byte, maxSize int) ([]byte, int, error) {
	if len(src) == 0 {
		return nil, 0, nil
	}
	if src[0] != Preamble {
		return nil, 0, fmt.Errorf("unexpected preamble byte 0x%02x", src[0])
	}
	size, n := protowire.ConsumeVarint(src[1:])
	if n < 0 {
		err := protowire.ParseError(n)
		if err == io.ErrUnexpectedEOF {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	if size > uint64(maxSize) {
		return nil, 0, fmt.Errorf("message size %d exceeds limit %d", size, maxSize)
	}
	header := 1 + n
	total := header + int(size)
	if len(src) < total {
		return nil, 0, nil
	}
	return src[header:total:total], total, nil
}

// Encode appends the framed form of msg to dst.
func Encode(dst, msg []byte) []byte {
	dst = append(dst, Preamble)
	dst = protowire.AppendVarint(dst, uint64(len(msg)))
	return append(dst, msg...)
}
