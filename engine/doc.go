// Package engine drives an analytical trace backend over a byte transport.
//
// An Engine multiplexes every request kind over one channel. Each request
// gets the next sequence number and is written to the transport as a framed
// envelope; responses come back through the transport's Sink, are
// reassembled by a framing.Buffer and routed by kind:
//
//	single-shot kinds  oldest waiter of that kind is resolved
//	QUERY_STREAMING    batch appended to the oldest open query.Result,
//	                   which is removed on its terminal batch
//
// Responses of one kind arrive in request order, so a FIFO per kind is
// enough to match them. Response sequence numbers must be consecutive; a
// gap, a fatal error from the backend, a transport error or a response with
// no waiter fails the engine permanently. Pending work is rejected and every
// later call fails fast with errors.KindEngineFailed.
//
// # Concurrency
//
// Methods may be called from any goroutine. Sends are serialized so bytes
// leave in sequence order. Inbound chunks are queued and processed by a
// single receive goroutine, which also runs the OnChange hook. Transports
// that answer synchronously from inside Send are supported.
//
// A cancelled context abandons a wait without removing the waiter; the
// response, when it arrives, is dropped into the abandoned slot so later
// responses of the same kind still line up.
//
// # Proxies
//
// Components that share one Engine get their own Proxy:
//
//	p := eng.Proxy("plugin.flows")
//	res, err := p.Query(ctx, "select * from flow", "arrows")  // tag "plugin.flows/arrows"
//	...
//	p.Dispose()  // later calls fail with errors.KindDisposed
package engine
