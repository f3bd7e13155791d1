// Package backend serves the RPC protocol on top of a Processor.
//
// A Server turns a stream of framed requests into calls on the processor
// and frames the responses, numbering them from 0. Incoming sequence
// numbers follow the same rule the engine applies to responses; a gap is
// answered with a fatal error and ends the stream. Query rows are sent in
// batches of whole rows and the last batch is flagged.
//
// Two transports are provided: Loopback runs a server in process and
// Handler accepts websocket connections, one server per connection.
package backend
