// Package errors provides structured error types for the trace engine.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the RPC method, owner tag, offending SQL and cause chain.
//
// Four categories decide how far a failure spreads:
//
//	ProtocolDesyncError  PhaseProtocol  / KindDesync         whole engine, permanent
//	FatalBackendError    PhaseBackend   / KindFatal          whole engine, permanent
//	PerRequestError      PhaseRequest   / KindRequestFailed  single request
//	TransportError       PhaseTransport / KindTransport      whole engine, permanent
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRequest, errors.KindRequestFailed).
//		Method("QUERY_STREAMING").
//		Tag("plugin/search").
//		SQL("select * from slice").
//		Detail("no such table: slice").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Desync(41, 43)
//	err := errors.InProgress("COMPUTE_METRIC")
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on Phase and Kind, so the exported sentinels work as targets:
//
//	if errors.Is(err, errors.ErrDesync) { ... }
package errors
