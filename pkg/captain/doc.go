// Package captain implements the central orchestrator described in §4.2
// and §4.4: three whole-file JSON stores (crew, chores, users), the
// submit/cancel/report request logic, a static PAM-stand-in
// authenticator, and the bearer-token manager behind POST /login.
//
// Captain itself holds no background loop — the assignment pass lives in
// pkg/scheduler and the reconciliation loop lives in pkg/reconciler, both
// driven against a *Captain passed in at construction. This mirrors the
// shape of a manager wrapping independently-started scheduler/reconciler
// loops, just without the Raft layer a multi-node deployment would add:
// a single Captain process is the system of record here, per the
// Non-goals around high availability.
//
// Concurrency: each store (Crew, Chores, Users) is its own
// storage.FileStore guarding a single mutex; callers never nest one
// store's Update callback inside another's, and a resource-changing
// action touches Crew and Chores as two sequential Update calls rather
// than sharing a lock, matching the note in sailors.go's Report.
package captain
