/*
Package storage implements whole-file JSON persistence for the Captain's
and Sailor's state: crew.json, chores.json, users.json (Captain) and
running_chores.json (Sailor). The Sailor persists no resources.json.

Each store is one FileStore[V], a map[string]V serialized to a single JSON
file. There is no in-memory cache between requests: every Read loads the
current file from disk, and every Update locks, reads, lets the caller
compute the next snapshot, and atomically replaces the file (write to a
sibling temp file, then rename).

This trades throughput for simplicity and crash-safety: a reader never
observes a partially-written file, and a crash between write and rename
leaves the previous snapshot intact. It assumes a single writer process
per store (one Captain, one Sailor per node) — concurrent writers across
processes are not supported.

Callers that touch more than one store in the same operation (assignment,
rollback, terminal report) must acquire locks in a fixed order — crew
before chores — and persist each store as its lock is released, never
holding one store's lock while updating another.
*/
package storage
