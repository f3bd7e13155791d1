// Package limiter bounds background work to one running unit per owner.
//
// Consumers such as selection aggregation or search schedule a unit every
// time their input changes. Only the most recent request matters, so units
// that are still queued when a newer one arrives are dropped:
//
//	T1 running, T2 and T3 scheduled  ->  T1 completes, T2 skipped, T3 runs
//
// Skipped units complete with a nil error. Cancellation is cooperative and
// happens only between units.
package limiter
