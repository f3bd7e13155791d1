package bridge

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tperrors "github.com/wippyai/trace-engine/errors"
)

// recordingSink collects everything the bridge delivers.
type recordingSink struct {
	abort  error
	chunks [][]byte
	mu     sync.Mutex
}

func (s *recordingSink) Deliver(chunk []byte) {
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
}

func (s *recordingSink) Abort(err error) {
	s.mu.Lock()
	s.abort = err
	s.mu.Unlock()
}

func (s *recordingSink) joined() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

func newTestBridge(t *testing.T, opts guestOptions, cfg Config) *Bridge {
	t.Helper()
	ctx := context.Background()
	b, err := New(ctx, buildGuest(opts), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(ctx) })
	return b
}

func TestBridge_ChunkedEcho(t *testing.T) {
	const capacity = 64

	tests := []struct {
		name string
		size int
		want int
	}{
		{name: "smaller than buffer", size: 10, want: 1},
		{name: "exactly one buffer", size: capacity, want: 1},
		{name: "one byte over", size: capacity + 1, want: 2},
		{name: "many chunks", size: 10*capacity + 3, want: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b := newTestBridge(t, guestOptions{}, Config{BufferSize: capacity})
			sink := &recordingSink{}
			if err := b.Initialize(ctx, sink); err != nil {
				t.Fatalf("Initialize: %v", err)
			}

			msg := make([]byte, tt.size)
			for i := range msg {
				msg[i] = byte(i * 7)
			}
			if err := b.Send(ctx, msg); err != nil {
				t.Fatalf("Send: %v", err)
			}

			// The echo guest replies once per submitted chunk.
			if len(sink.chunks) != tt.want {
				t.Errorf("submissions = %d, want %d", len(sink.chunks), tt.want)
			}
			if !bytes.Equal(sink.joined(), msg) {
				t.Error("echoed bytes differ from the message")
			}
		})
	}
}

func TestBridge_RepliesAreCopied(t *testing.T) {
	ctx := context.Background()
	b := newTestBridge(t, guestOptions{}, Config{BufferSize: 16})
	sink := &recordingSink{}
	if err := b.Initialize(ctx, sink); err != nil {
		t.Fatal(err)
	}

	if err := b.Send(ctx, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := b.Send(ctx, []byte("SECOND")); err != nil {
		t.Fatal(err)
	}
	if string(sink.chunks[0]) != "first" {
		t.Errorf("first reply was overwritten: %q", sink.chunks[0])
	}
}

func TestBridge_InitializeTwice(t *testing.T) {
	ctx := context.Background()
	b := newTestBridge(t, guestOptions{}, Config{BufferSize: 16})
	if err := b.Initialize(ctx, &recordingSink{}); err != nil {
		t.Fatal(err)
	}

	err := b.Initialize(ctx, &recordingSink{})
	var te *tperrors.Error
	if !errors.As(err, &te) || te.Kind != tperrors.KindAlreadyInitialized {
		t.Fatalf("second Initialize: got %v", err)
	}
}

func TestBridge_SendBeforeInitialize(t *testing.T) {
	b := newTestBridge(t, guestOptions{}, Config{BufferSize: 16})
	err := b.Send(context.Background(), []byte("x"))
	var te *tperrors.Error
	if !errors.As(err, &te) || te.Kind != tperrors.KindNotInitialized {
		t.Fatalf("got %v", err)
	}
}

func TestBridge_BufferMustFit(t *testing.T) {
	ctx := context.Background()
	// One page of guest memory cannot hold a buffer this large at 1024.
	b := newTestBridge(t, guestOptions{}, Config{BufferSize: 1 << 16})
	if err := b.Initialize(ctx, &recordingSink{}); err == nil {
		t.Fatal("Initialize should reject a buffer outside guest memory")
	}
}

func TestBridge_MissingExport(t *testing.T) {
	_, err := New(context.Background(), buildGuest(guestOptions{missingSubmit: true}), Config{BufferSize: 16})
	var te *tperrors.Error
	if !errors.As(err, &te) || te.Kind != tperrors.KindNotFound {
		t.Fatalf("got %v, want missing export", err)
	}
}

func TestBridge_AbortCarriesGuestOutput(t *testing.T) {
	ctx := context.Background()
	b := newTestBridge(t, guestOptions{trap: true, stdout: "FATAL: out of memory\n"}, Config{BufferSize: 16})
	sink := &recordingSink{}
	if err := b.Initialize(ctx, sink); err != nil {
		t.Fatal(err)
	}

	err := b.Send(ctx, []byte("request"))
	if !errors.Is(err, tperrors.ErrTransport) {
		t.Fatalf("Send: got %v, want transport error", err)
	}
	if !strings.Contains(err.Error(), "FATAL: out of memory") {
		t.Errorf("error does not carry guest output: %v", err)
	}
	if sink.abort == nil {
		t.Error("sink was not told about the abort")
	}
	if b.Aborted() == nil {
		t.Error("bridge not marked aborted")
	}

	if err := b.Send(ctx, []byte("again")); !errors.Is(err, tperrors.ErrTransport) {
		t.Errorf("Send after abort: got %v", err)
	}

	// Replies after abort raise instead of being dropped.
	if err := b.onReply(&fakeMemory{size: 64}, 0, 4); err == nil {
		t.Error("reply after abort should fail")
	}
}

// fakeMemory serves reads at any offset below size, including offsets past
// 2^31 that a real test guest could not allocate.
type fakeMemory struct {
	lastOffset uint32
	size       uint64
}

func (m *fakeMemory) Read(offset, n uint32) ([]byte, bool) {
	m.lastOffset = offset
	if uint64(offset)+uint64(n) > m.size {
		return nil, false
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(offset + uint32(i))
	}
	return out, true
}

func TestBridge_HighPointerIsUnsigned(t *testing.T) {
	b := &Bridge{tail: newLogTail(4, Logger())}
	sink := &recordingSink{}
	b.sink = sink

	ptr := uint32(0x8000_0010)
	mem := &fakeMemory{size: 1 << 32}

	// As the guest passes it, and sign-extended to 64 bits.
	raws := []uint64{uint64(ptr), uint64(int64(int32(ptr)))}
	for _, raw := range raws {
		if err := b.onReply(mem, raw, 4); err != nil {
			t.Fatalf("onReply(%#x): %v", raw, err)
		}
		if mem.lastOffset != ptr {
			t.Errorf("read at %#x, want %#x", mem.lastOffset, ptr)
		}
	}
	if len(sink.chunks) != 2 || sink.chunks[0][0] != byte(ptr) {
		t.Errorf("chunks = %v", sink.chunks)
	}
}

func TestLogTail(t *testing.T) {
	tail := newLogTail(3, Logger())
	out := tail.writer("stdout")
	errw := tail.writer("stderr")

	_, _ = out.Write([]byte("one\ntw"))
	_, _ = errw.Write([]byte("warn\n"))
	_, _ = out.Write([]byte("o\nthree\nfour\n"))

	got := tail.Lines()
	want := []string{"two", "three", "four"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Lines = %v, want %v", got, want)
	}
}
