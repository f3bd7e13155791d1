// Package traceengine drives an analytical trace engine over a
// request/response protocol.
//
// The engine runs behind a byte transport: compiled to WebAssembly and
// hosted by wazero, as a SQLite processor in the same process, or as a
// backend reached over a websocket. Requests are protobuf messages framed
// on a single stream; responses come back in request order per kind and
// are matched to their callers by the engine core.
//
// # Architecture Overview
//
//	traceengine/        Querier, the request surface of engines and proxies
//	├── framing/        Stream framing and message reassembly
//	├── wire/           Protobuf encoding of requests and responses
//	├── engine/         Sequencing, dispatch and tagged proxies
//	├── query/          Streaming query results and typed row iteration
//	├── transport/      The byte channel between engine and backend
//	├── bridge/         Transport into a WebAssembly guest (wazero)
//	├── backend/        Protocol server over a Processor, loopback and websocket
//	│   └── sqlite/     Processor storing Chrome JSON traces in SQLite
//	├── remote/         Websocket client transport
//	├── limiter/        Latest-wins serialization of background work
//	├── config/         YAML configuration
//	├── errors/         Structured errors
//	└── cmd/tpq/        Command line client, shell and server
//
// # Quick Start
//
// Query a trace with the in-process SQLite backend:
//
//	proc, _ := sqlite.Open(ctx, sqlite.Options{})
//	defer proc.Close()
//	eng, _ := engine.New(ctx, backend.NewLoopback(proc, backend.Options{}), engine.Options{})
//	defer eng.Close(ctx)
//
//	f, _ := os.Open("trace.json")
//	if _, err := eng.LoadTrace(ctx, f, 0); err != nil {
//		return err
//	}
//	res, err := eng.Query(ctx, "SELECT name, dur FROM slice", "")
//	it, err := res.Iter(query.Spec{"name": query.Str, "dur": query.Long})
//	for ; it.Valid(); it.Next() {
//		fmt.Println(it.Str("name"), it.Long("dur"))
//	}
//
// # Errors
//
// Errors carry a phase and a kind and match the sentinels in the errors
// package with errors.Is. A desync, a fatal backend error or a transport
// failure fails the engine permanently; every later call returns
// ErrEngineFailed.
package traceengine
