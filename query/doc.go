// Package query holds the client side of a streaming query.
//
// A Result is created when the query is sent and fed one QueryResult
// payload at a time by the engine. It moves from StateOpen to StateComplete
// on the batch flagged as last, or to StateErrored when the backend reports
// an error or the engine fails. Rows are readable while the result is still
// open:
//
//	res := eng.StreamingQuery("select ts, dur from slice", "ui/flamegraph")
//	if err := res.Wait(ctx); err != nil {
//	    return err
//	}
//	it, err := res.Iter(query.Spec{"ts": query.Long, "dur": query.LongNull})
//	for ; err == nil && it.Valid(); it.Next() {
//	    use(it.Long("ts"), it.Long("dur"))
//	}
//
// Each call to Iter starts a new cursor over the rows materialized at that
// moment; rows appended later are seen only by later iterators.
package query
