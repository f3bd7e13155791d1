// Package framing splits the RPC byte stream into messages.
//
// The stream is itself a valid protobuf message, a repeated field 1 of RPC
// envelopes, so every message on the wire looks like:
//
//	0x0A | varint(len) | envelope bytes
//
// Transports deliver chunks with no alignment to message boundaries. A
// Buffer accepts them via Append and hands out complete messages via
// ReadMessage, which is called until it returns nil:
//
//	buf.Append(chunk)
//	for {
//	    msg, err := buf.ReadMessage()
//	    if err != nil {
//	        return err // stream is corrupt, permanently
//	    }
//	    if msg == nil {
//	        break
//	    }
//	    handle(msg)
//	}
//
// While nothing is buffered, messages are returned as sub-slices of the
// chunk passed to Append. Producers hand over freshly allocated chunks, so
// this is safe and saves a copy on the common path where a chunk holds whole
// messages.
package framing
