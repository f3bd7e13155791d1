package framing

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	tperrors "github.com/wippyai/trace-engine/errors"
)

func makeMessages(sizes ...int) [][]byte {
	msgs := make([][]byte, len(sizes))
	for i, size := range sizes {
		msg := make([]byte, size)
		for j := range msg {
			msg[j] = byte(i*31 + j)
		}
		msgs[i] = msg
	}
	return msgs
}

func encodeAll(msgs [][]byte) []byte {
	var stream []byte
	for _, m := range msgs {
		stream = Encode(stream, m)
	}
	return stream
}

func drain(t *testing.T, b *Buffer) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		msg, err := b.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if msg == nil {
			return out
		}
		out = append(out, append([]byte(nil), msg...))
	}
}

func TestBuffer_ChunkSizeIndependence(t *testing.T) {
	msgs := makeMessages(0, 1, 5, 127, 128, 300, 5000, 17)
	stream := encodeAll(msgs)

	for _, chunkSize := range []int{1, 2, 3, 7, 64, 129, 1000, len(stream)} {
		t.Run(fmt.Sprintf("chunk_%d", chunkSize), func(t *testing.T) {
			b := NewBuffer(0)
			var got [][]byte
			for off := 0; off < len(stream); off += chunkSize {
				end := min(off+chunkSize, len(stream))
				chunk := append([]byte(nil), stream[off:end]...)
				b.Append(chunk)
				got = append(got, drain(t, b)...)
			}

			if len(got) != len(msgs) {
				t.Fatalf("got %d messages, want %d", len(got), len(msgs))
			}
			for i := range msgs {
				if !bytes.Equal(got[i], msgs[i]) {
					t.Errorf("message %d mismatch: len %d, want %d", i, len(got[i]), len(msgs[i]))
				}
			}
			if b.Buffered() != 0 {
				t.Errorf("Buffered() = %d after draining", b.Buffered())
			}
		})
	}
}

func TestBuffer_MessageLargerThanChunks(t *testing.T) {
	msg := makeMessages(100_000)[0]
	stream := Encode(nil, msg)

	b := NewBuffer(0)
	for off := 0; off < len(stream); off += 4096 {
		end := min(off+4096, len(stream))
		b.Append(append([]byte(nil), stream[off:end]...))
		if off+4096 < len(stream) {
			got, err := b.ReadMessage()
			if err != nil || got != nil {
				t.Fatalf("partial message returned early: %v, %v", got, err)
			}
		}
	}

	got := drain(t, b)
	if len(got) != 1 || !bytes.Equal(got[0], msg) {
		t.Fatal("large message not reassembled")
	}
}

func TestBuffer_AliasesWholeChunks(t *testing.T) {
	chunk := encodeAll(makeMessages(10, 20))

	b := NewBuffer(0)
	b.Append(chunk)

	first, err := b.ReadMessage()
	if err != nil || first == nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	// Header is preamble + one varint byte.
	if &first[0] != &chunk[2] {
		t.Error("expected message to alias the chunk")
	}
	if cap(first) != len(first) {
		t.Error("aliased message must not expose the following bytes")
	}
}

func TestBuffer_PendingAppendsAcrossReads(t *testing.T) {
	msgs := makeMessages(50, 60)
	stream := encodeAll(msgs)

	b := NewBuffer(0)
	// Two chunks appended before any read.
	b.Append(append([]byte(nil), stream[:30]...))
	b.Append(append([]byte(nil), stream[30:]...))

	got := drain(t, b)
	if len(got) != 2 || !bytes.Equal(got[0], msgs[0]) || !bytes.Equal(got[1], msgs[1]) {
		t.Fatal("messages split across unread chunks were not reassembled")
	}
}

func TestBuffer_Corruption(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		max   int
	}{
		{name: "bad preamble", input: []byte{0x12, 0x01, 0x00}},
		{name: "varint overflow", input: []byte{0x0A, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}},
		{name: "too large", input: Encode(nil, make([]byte, 100)), max: 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(tt.max)
			b.Append(tt.input)

			_, err := b.ReadMessage()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tperrors.ErrDesync) {
				t.Errorf("error %v is not a desync", err)
			}

			// Sticky.
			b.Append(Encode(nil, []byte("ok")))
			if _, err2 := b.ReadMessage(); err2 != err {
				t.Errorf("second read returned %v, want sticky %v", err2, err)
			}
		})
	}
}

func TestBuffer_TruncatedVarintWaits(t *testing.T) {
	stream := Encode(nil, make([]byte, 300)) // two-byte varint

	b := NewBuffer(0)
	b.Append(append([]byte(nil), stream[:2]...))
	msg, err := b.ReadMessage()
	if err != nil || msg != nil {
		t.Fatalf("expected need-more, got %v, %v", msg, err)
	}

	b.Append(append([]byte(nil), stream[2:]...))
	got := drain(t, b)
	if len(got) != 1 || len(got[0]) != 300 {
		t.Fatal("message not completed after varint was finished")
	}
}

func TestEncode(t *testing.T) {
	got := Encode([]byte{0xAA}, []byte("hi"))
	want := []byte{0xAA, Preamble, 0x02, 'h', 'i'}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}
}
