// Package transport defines the boundary between the engine and whatever
// carries its bytes: an embedded WebAssembly module (package bridge), an
// in-process backend (backend.NewLoopback) or a remote service (package
// remote).
//
// Outbound, the engine hands a complete framed message to Send, which may
// split it into chunks of any size. Inbound, the transport pushes whatever
// arrives into the Sink; the engine reassembles messages itself. A chunk
// passed to Deliver is owned by the receiver from then on.
package transport
