package engine

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/framing"
	"github.com/wippyai/trace-engine/query"
	"github.com/wippyai/trace-engine/transport"
	"github.com/wippyai/trace-engine/wire"
)

// errClosed fails work still pending when the engine is closed.
var errClosed = errors.New(errors.PhaseEngine, errors.KindDisposed).Detail("engine closed").Build()

type reply struct {
	resp wire.Response
	err  error
}

// Engine sends requests to a backend over a Transport and matches the
// responses to their callers. Responses of one kind arrive in the order the
// requests were sent, so each kind keeps a FIFO of waiters.
//
// All methods are safe for concurrent use.
type Engine struct {
	transport transport.Transport
	failed    error
	log       *zap.Logger
	frames    *framing.Buffer
	inbox     *inbox
	pending   map[wire.Method][]chan reply
	stop      chan struct{}
	loopDone  chan struct{}
	opts      Options
	queries   []*query.Result
	txSeq     int64
	rxSeq     int64
	gen       int64
	inflight  int
	sendMu    sync.Mutex
	mu        sync.Mutex
	rxSeen    bool
	closed    bool
}

// New connects an engine to t and starts its receive loop. t must not have
// been initialized yet.
func New(ctx context.Context, t transport.Transport, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	e := &Engine{
		transport: t,
		opts:      opts,
		log:       opts.Logger.With(zap.String("engine", opts.ID), zap.String("mode", string(opts.Mode))),
		frames:    framing.NewBuffer(opts.MaxMessageSize),
		inbox:     newInbox(),
		pending:   make(map[wire.Method][]chan reply),
		stop:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	if err := t.Initialize(ctx, e.inbox); err != nil {
		return nil, err
	}
	go e.loop()
	e.log.Debug("engine started")
	return e, nil
}

// Identity returns the instance description.
func (e *Engine) Identity() Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Identity{Mode: e.opts.Mode, ID: e.opts.ID, Failed: e.failed}
}

// Failed returns the error that permanently failed the engine, or nil.
func (e *Engine) Failed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// Generation is incremented by every ResetInstance. State derived from
// query results must be dropped when it changes.
func (e *Engine) Generation() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// InFlight returns the number of requests awaiting a response.
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight
}

// Close fails pending work, stops the receive loop and closes the
// transport.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.abortPending(errClosed)
	e.inbox.close()
	close(e.stop)
	<-e.loopDone
	return e.transport.Close(ctx)
}

// send assigns the next sequence number, queues the waiter and writes the
// request. Exactly one of res and the returned channel is non-nil. When
// exclusive is set, the call is rejected while a request of the same kind is
// pending.
func (e *Engine) send(ctx context.Context, args wire.Args, res *query.Result, exclusive bool) (chan reply, error) {
	method := args.Method()

	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if exclusive && len(e.pending[method]) > 0 {
		e.mu.Unlock()
		return nil, errors.InProgress(method.String())
	}
	seq := e.txSeq
	e.txSeq++
	if method == wire.MethodResetTraceProcessor {
		e.gen++
	}
	var ch chan reply
	if res != nil {
		e.queries = append(e.queries, res)
	} else {
		ch = make(chan reply, 1)
		e.pending[method] = append(e.pending[method], ch)
	}
	e.inflight++
	e.mu.Unlock()

	if ce := e.log.Check(zap.DebugLevel, "send"); ce != nil {
		ce.Write(zap.Int64("seq", seq), zap.Stringer("method", method))
	}

	msg := framing.Encode(nil, wire.EncodeRequest(seq, args))
	// A partially written message would desync the stream, so sends are
	// never cut short by the caller's context.
	if err := e.transport.Send(context.WithoutCancel(ctx), msg); err != nil {
		terr := asTransportError(err, "send "+method.String())
		e.fail(terr)
		return nil, terr
	}
	return ch, nil
}

func asTransportError(err error, detail string) error {
	var te *errors.Error
	if stderrors.As(err, &te) && te.Phase == errors.PhaseTransport {
		return err
	}
	return errors.Transport(detail, err)
}

// usableLocked returns the error that prevents new requests, if any.
func (e *Engine) usableLocked() error {
	if e.closed {
		return errClosed
	}
	if e.failed != nil {
		return errors.EngineFailed(e.failed)
	}
	return nil
}

// call sends a single-shot request and waits for its response. A cancelled
// ctx abandons the wait; the waiter stays queued so later responses of the
// same kind still line up.
func (e *Engine) call(ctx context.Context, args wire.Args, exclusive bool) (wire.Response, error) {
	ch, err := e.send(ctx, args, nil, exclusive)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fail moves the engine to the permanently failed state. Only the first
// failure is kept.
func (e *Engine) fail(err error) {
	e.mu.Lock()
	if e.failed != nil || e.closed {
		e.mu.Unlock()
		return
	}
	e.failed = err
	e.mu.Unlock()

	e.log.Error("engine failed", zap.Error(err))
	e.abortPending(err)
	if e.opts.OnFailure != nil {
		e.opts.OnFailure(err)
	}
	e.changed()
}

// abortPending rejects every waiter and fails every open query with err.
func (e *Engine) abortPending(err error) {
	e.mu.Lock()
	pending := e.pending
	queries := e.queries
	e.pending = make(map[wire.Method][]chan reply)
	e.queries = nil
	e.inflight = 0
	e.mu.Unlock()

	for _, waiters := range pending {
		for _, ch := range waiters {
			ch <- reply{err: err}
		}
	}
	for _, res := range queries {
		res.Fail(err)
	}
}

func (e *Engine) changed() {
	if e.opts.OnChange != nil {
		e.opts.OnChange()
	}
}

// loop is the receive goroutine. It is the only caller of receive, so the
// frame buffer and dispatch never run concurrently.
func (e *Engine) loop() {
	defer close(e.loopDone)
	for {
		select {
		case <-e.stop:
			return
		case <-e.inbox.ready:
		}
		chunks, abortErr := e.inbox.take()
		for _, chunk := range chunks {
			e.receive(chunk)
		}
		if abortErr != nil {
			e.fail(asTransportError(abortErr, "receive"))
		}
	}
}

func (e *Engine) receive(chunk []byte) {
	if e.Failed() != nil {
		return
	}
	e.frames.Append(chunk)
	for {
		msg, err := e.frames.ReadMessage()
		if err != nil {
			e.fail(err)
			return
		}
		if msg == nil {
			return
		}
		if !e.dispatch(msg) {
			return
		}
	}
}
