// Package cluster coordinates multiple gatekit instances sharing one
// store: worker registration, heartbeats, and leader election.
//
// Each running instance registers itself as a [Worker] and heartbeats
// periodically; workers that stop heartbeating are reaped. One worker
// at a time holds leadership and is responsible for running the
// recovery sweep, so stuck workflows are recovered exactly once per
// tick rather than once per instance.
//
// Leadership is a store-backed lease with a TTL, acquired and renewed
// through [Store.AcquireLeadership] and [Store.RenewLeadership]. Both
// report success as a boolean: a renewal that misses its TTL returns
// false and the caller must re-acquire before sweeping again.
package cluster
