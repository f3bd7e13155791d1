package transport

import "context"

// Sink receives everything a transport gets back from the backend.
type Sink interface {
	// Deliver hands over one inbound chunk. The transport never touches
	// chunk again, so the receiver may keep it without copying.
	Deliver(chunk []byte)

	// Abort reports that the channel failed permanently. No chunk is
	// delivered after Abort.
	Abort(err error)
}

// Transport moves opaque protocol bytes to a backend and back. Chunk
// boundaries carry no meaning; reassembly is left to the receiver.
type Transport interface {
	// Initialize connects the transport to sink. It must be called exactly
	// once, before Send.
	Initialize(ctx context.Context, sink Sink) error

	// Send writes msg to the backend. It returns once every chunk of msg has
	// been submitted.
	Send(ctx context.Context, msg []byte) error

	// Close releases the transport. Pending sends fail.
	Close(ctx context.Context) error
}

// Chunks splits msg into consecutive slices of at most size bytes. The
// slices alias msg. An empty msg yields no chunks.
func Chunks(msg []byte, size int) [][]byte {
	if size <= 0 {
		size = len(msg)
	}
	if len(msg) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(msg)+size-1)/size)
	for len(msg) > size {
		out = append(out, msg[:size:size])
		msg = msg[size:]
	}
	return append(out, msg)
}
