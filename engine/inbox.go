package engine

import "sync"

// inbox decouples transports from dispatch. Transports may deliver from any
// goroutine, including from inside Send; chunks are queued without blocking
// and consumed in order by the engine's receive goroutine.
type inbox struct {
	abort  error
	ready  chan struct{}
	chunks [][]byte
	mu     sync.Mutex
	closed bool
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (in *inbox) Deliver(chunk []byte) {
	in.mu.Lock()
	if in.closed || in.abort != nil {
		in.mu.Unlock()
		return
	}
	in.chunks = append(in.chunks, chunk)
	in.mu.Unlock()
	in.signal()
}

func (in *inbox) Abort(err error) {
	in.mu.Lock()
	if in.closed || in.abort != nil {
		in.mu.Unlock()
		return
	}
	in.abort = err
	in.mu.Unlock()
	in.signal()
}

func (in *inbox) signal() {
	select {
	case in.ready <- struct{}{}:
	default:
	}
}

// take returns the queued chunks and the abort error, if one was reported.
// Chunks queued before the abort are returned alongside it.
func (in *inbox) take() ([][]byte, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	chunks := in.chunks
	in.chunks = nil
	return chunks, in.abort
}

func (in *inbox) close() {
	in.mu.Lock()
	in.closed = true
	in.chunks = nil
	in.mu.Unlock()
}
