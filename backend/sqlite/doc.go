// Package sqlite is a reference backend.Processor on SQLite.
//
// Traces in the Chrome JSON format are buffered until FinalizeTraceData and
// then loaded into the process, thread, slice, counter and instant tables.
// Timestamps are stored in nanoseconds. Queries may hold several
// statements; all of them run and the rows of the last one are returned.
// INCLUDE PERFETTO MODULE runs a module registered with RegisterSQLPackage,
// and CREATE PERFETTO TABLE and VIEW are accepted as their plain forms.
//
// The trace_bounds and trace_stats metrics are available in JSON and text
// form.
package sqlite
