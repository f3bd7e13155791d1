// Package bridge runs an analytical engine compiled to WebAssembly inside
// wazero and exposes it as a transport.Transport.
//
// The guest cannot take large values as call arguments, so the two sides
// share a buffer in guest memory:
//
//	guest exports  memory
//	               trace_processor_rpc_init(buf_size i32) -> i32   buffer address
//	               trace_processor_on_rpc_request(len i32)         consume len bytes
//	guest imports  env.trace_processor_on_reply(ptr i32, len i32)  deliver a reply
//
// Send splits a message into chunks no larger than the buffer and submits
// them one by one; submissions are synchronous. Chunk boundaries need not
// match message boundaries, the engine reassembles the stream. Replies are
// copied out of guest memory during the callback.
//
// Guest stdout and stderr are kept in a ring of recent lines. When a
// submission fails the bridge aborts for good and the error carries those
// lines; replies arriving after that trap the guest.
package bridge
