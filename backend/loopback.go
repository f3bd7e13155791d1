package backend

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/transport"
)

// Loopback is an in-process transport.Transport serving requests with a
// Server over proc. Responses are delivered before Send returns.
type Loopback struct {
	proc   Processor
	srv    *Server
	log    *zap.Logger
	opts   Options
	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*Loopback)(nil)

// NewLoopback creates a loopback transport.
func NewLoopback(proc Processor, opts Options) *Loopback {
	opts = opts.withDefaults()
	return &Loopback{proc: proc, log: opts.Logger, opts: opts}
}

func (l *Loopback) Initialize(_ context.Context, sink transport.Sink) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.srv != nil {
		return errors.AlreadyInitialized("loopback transport")
	}
	l.srv = NewServer(l.proc, func(msg []byte) error {
		sink.Deliver(msg)
		return nil
	}, l.opts)
	return nil
}

func (l *Loopback) Send(ctx context.Context, msg []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.srv == nil {
		return errors.NotInitialized(errors.PhaseTransport, "loopback transport")
	}
	if l.closed {
		return errors.Transport("loopback transport closed", nil)
	}
	for _, chunk := range transport.Chunks(msg, l.opts.ChunkSize) {
		// The server has told the client by the time it reports a failure.
		if err := l.srv.OnData(ctx, chunk); err != nil {
			l.log.Debug("loopback server stopped", zap.Error(err))
			return nil
		}
	}
	return nil
}

func (l *Loopback) Close(context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
