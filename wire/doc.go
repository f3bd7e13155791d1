// Package wire encodes and decodes the RPC envelope exchanged with the
// analytical engine.
//
// The envelope uses the protobuf wire format, written and read directly with
// protowire so the hot path never builds reflection-based messages:
//
//	Rpc {
//	  int64  seq             = 1;
//	  Method request         = 2;
//	  Method response        = 3;
//	  Method invalid_request = 4;
//	  string fatal_error     = 5;
//	  oneof args {           // requests: 101..108, responses: 201..208
//	    ...
//	  }
//	}
//
// Requests are described by the Args variants and responses by the Response
// variants. Both sets are closed, so a type switch over them is exhaustive
// and adding an RPC kind is a compile-time visible change.
//
// Streaming query results are not decoded here on the response path:
// QueryResult keeps the raw payload, which the query package decodes when it
// appends the batch to its result. QueryResultData and CellsBatch provide the
// encoder used by backends and the decoder used by results.
package wire
