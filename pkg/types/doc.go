// Package types defines the core record shapes shared by the Captain and
// Sailor: Chore, Sailor, User and RunningChore for persisted state, plus
// the request/response bodies of §6's HTTP endpoints. FlexInt and the
// duration helpers tolerate the loosely-typed JSON (numbers sent as
// strings, "HH:MM:SS" durations) that real submitters send.
package types
