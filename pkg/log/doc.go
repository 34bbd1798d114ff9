/*
Package log provides structured logging for the Captain and Sailor using
zerolog.

Init sets the global Logger once at process startup from a Config (level,
JSON vs console output, destination writer). Call sites get a scoped child
logger via WithComponent/WithSailor/WithChore/WithRequestID rather than
attaching fields ad hoc, so that every log line from the scheduler, the
reconciler, or a chore's watcher carries consistent, filterable keys.

Background loops (the reconciliation loop, the heartbeat loop, a chore's
watcher) never propagate errors to a caller — they log via this package
and continue, per §7's propagation policy.
*/
package log
