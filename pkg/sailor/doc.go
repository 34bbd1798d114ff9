// Package sailor implements the worker agent described in §4.6/§4.7: a
// small HTTP-facing process that registers its resources with a Captain,
// heartbeats every 500ms, and executes chores (shell scripts) as
// supervised subprocesses.
//
// # Lifecycle
//
// Start: load the local YAML config (name, captain address, own
// resources), call Register once, then begin the heartbeat loop and
// start serving /captain_request and /captain_cancel.
//
// Launch: resolve the owning uid, build a constrained environment (CPU
// thread-count env vars, GPU visibility env vars), fork the script under
// its own process group with a CPU affinity mask and, when running as
// root, a dropped-privilege credential. A watcher goroutine blocks on
// the child's exit and reports the terminal status.
//
// Cancel: a three-stage SIGTERM (process group) -> SIGTERM (leader) ->
// wait 5s -> SIGKILL (both) ladder.
//
// Crash recovery: in-flight chores are mirrored to running_chores.json as
// a recovery hint. Nothing in this package reads that file back on
// restart; orphaned chores are left to the Captain's reconciliation loop,
// and the double-launch check consults only the in-memory process table.
package sailor
