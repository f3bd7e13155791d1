package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/transport"
)

// Names of the functions shared with the guest.
const (
	HostModule     = "env"
	ExportInit     = "trace_processor_rpc_init"
	ExportRequest  = "trace_processor_on_rpc_request"
	ImportOnReply  = "trace_processor_on_reply"
	ExportedMemory = "memory"
)

// memoryReader is the part of api.Memory the reply callback needs.
type memoryReader interface {
	Read(offset, byteCount uint32) ([]byte, bool)
}

// Bridge is a transport.Transport to an analytical engine compiled to
// WebAssembly. Requests are written into a buffer inside guest memory and
// submitted chunk by chunk; the guest pushes responses back through an
// imported callback.
type Bridge struct {
	runtime  wazero.Runtime
	module   api.Module
	submit   api.Function
	init     api.Function
	sink     transport.Sink
	abortErr error
	log      *zap.Logger
	tail     *logTail
	cfg      Config
	bufAddr  uint32
	sendMu   sync.Mutex
	mu       sync.Mutex
	ready    bool
}

var _ transport.Transport = (*Bridge)(nil)

// New compiles and instantiates the guest module. The guest is not asked to
// allocate its buffer until Initialize.
func New(ctx context.Context, wasm []byte, cfg Config) (*Bridge, error) {
	cfg = cfg.withDefaults()
	b := &Bridge{cfg: cfg, log: cfg.Logger}
	b.tail = newLogTail(cfg.LogLines, cfg.Logger)

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return nil, errors.Load("create wasm runtime", err)
	}
	b.runtime = rt

	if err := b.instantiate(ctx, wasm); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return b, nil
}

func (b *Bridge) instantiate(ctx context.Context, wasm []byte) error {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, b.runtime); err != nil {
		return errors.Load("instantiate WASI", err)
	}

	_, err := b.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(b.onReplyFunc),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export(ImportOnReply).
		Instantiate(ctx)
	if err != nil {
		return errors.Load("instantiate host module", err)
	}

	compiled, err := b.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return errors.Load("compile engine module", err)
	}

	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStdout(b.tail.writer("stdout")).
		WithStderr(b.tail.writer("stderr")).
		WithStartFunctions("_initialize")

	mod, err := b.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return errors.Load("instantiate engine module", err)
	}
	b.module = mod

	if mod.Memory() == nil {
		return errors.NotFound(errors.PhaseTransport, "export", ExportedMemory)
	}
	if b.init = mod.ExportedFunction(ExportInit); b.init == nil {
		return errors.NotFound(errors.PhaseTransport, "export", ExportInit)
	}
	if b.submit = mod.ExportedFunction(ExportRequest); b.submit == nil {
		return errors.NotFound(errors.PhaseTransport, "export", ExportRequest)
	}
	return nil
}

// Initialize asks the guest for its shared buffer and starts delivering
// replies to sink. It fails if called more than once.
func (b *Bridge) Initialize(ctx context.Context, sink transport.Sink) error {
	b.mu.Lock()
	if b.ready || b.sink != nil {
		b.mu.Unlock()
		return errors.AlreadyInitialized("wasm bridge")
	}
	b.sink = sink
	b.mu.Unlock()

	res, err := b.init.Call(ctx, api.EncodeU32(b.cfg.BufferSize))
	if err != nil {
		return b.abort(fmt.Errorf("%s: %w", ExportInit, err))
	}
	addr := api.DecodeU32(res[0])
	if uint64(addr)+uint64(b.cfg.BufferSize) > uint64(b.module.Memory().Size()) {
		return b.abort(fmt.Errorf("shared buffer at %#x does not fit in guest memory", addr))
	}

	b.mu.Lock()
	b.bufAddr = addr
	b.ready = true
	b.mu.Unlock()

	b.log.Debug("wasm bridge initialized",
		zap.Uint32("buffer_addr", addr),
		zap.Uint32("buffer_size", b.cfg.BufferSize))
	return nil
}

// Send writes msg through the shared buffer, submitting one chunk at a time.
// Replies produced while a chunk is processed are delivered before Send
// returns. Any failure aborts the bridge for good.
func (b *Bridge) Send(ctx context.Context, msg []byte) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	ready, aborted, addr := b.ready, b.abortErr, b.bufAddr
	b.mu.Unlock()
	if aborted != nil {
		return aborted
	}
	if !ready {
		return errors.NotInitialized(errors.PhaseTransport, "wasm bridge")
	}

	mem := b.module.Memory()
	for _, chunk := range transport.Chunks(msg, int(b.cfg.BufferSize)) {
		if !mem.Write(addr, chunk) {
			return b.abort(fmt.Errorf("write %d bytes at %#x: out of range", len(chunk), addr))
		}
		if _, err := b.submit.Call(ctx, api.EncodeU32(uint32(len(chunk)))); err != nil {
			return b.abort(fmt.Errorf("%s: %w", ExportRequest, err))
		}
	}
	return nil
}

func (b *Bridge) onReplyFunc(_ context.Context, mod api.Module, stack []uint64) {
	if err := b.onReply(mod.Memory(), stack[0], stack[1]); err != nil {
		// Panicking traps the guest; wazero turns this into an error returned
		// from the submit call.
		panic(err)
	}
}

// onReply copies a reply out of guest memory and hands it to the sink. The
// raw values are coerced to uint32: addresses at or above 2^31 may arrive
// sign-extended.
func (b *Bridge) onReply(mem memoryReader, rawPtr, rawLen uint64) error {
	b.mu.Lock()
	sink, aborted := b.sink, b.abortErr
	b.mu.Unlock()

	if aborted != nil {
		return errors.Transport("reply after abort", aborted)
	}
	if sink == nil {
		return errors.NotInitialized(errors.PhaseTransport, "wasm bridge")
	}

	ptr := api.DecodeU32(rawPtr)
	n := api.DecodeU32(rawLen)
	view, ok := mem.Read(ptr, n)
	if !ok {
		return errors.Transport(fmt.Sprintf("reply at %#x+%d is outside guest memory", ptr, n), nil)
	}
	// The guest may reuse the memory as soon as the callback returns.
	chunk := make([]byte, len(view))
	copy(chunk, view)
	sink.Deliver(chunk)
	return nil
}

// abort marks the bridge as failed, annotating cause with the guest's recent
// output, and reports it to the sink. Only the first abort is kept.
func (b *Bridge) abort(cause error) error {
	b.mu.Lock()
	if b.abortErr != nil {
		err := b.abortErr
		b.mu.Unlock()
		return err
	}
	var detail strings.Builder
	detail.WriteString("wasm engine aborted")
	if lines := b.tail.Lines(); len(lines) > 0 {
		fmt.Fprintf(&detail, "; last %d lines of engine output:\n", len(lines))
		detail.WriteString(strings.Join(lines, "\n"))
	}
	err := errors.Transport(detail.String(), cause)
	b.abortErr = err
	sink := b.sink
	b.mu.Unlock()

	b.log.Error("wasm bridge aborted", zap.Error(cause))
	if sink != nil {
		sink.Abort(err)
	}
	return err
}

// Aborted returns the error that aborted the bridge, or nil.
func (b *Bridge) Aborted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.abortErr
}

// LogTail returns the most recent lines of guest output.
func (b *Bridge) LogTail() []string {
	return b.tail.Lines()
}

// Close releases the guest and the runtime.
func (b *Bridge) Close(ctx context.Context) error {
	var err error
	if b.module != nil {
		err = multierr.Append(err, b.module.Close(ctx))
	}
	return multierr.Append(err, b.runtime.Close(ctx))
}
