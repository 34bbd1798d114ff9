/*
Package reconciler implements the Captain's background reconciliation loop
(§4.5 of the design): a 5-second ticker that enforces the budgets the
assignment pass doesn't, and finalizes state the sailor couldn't.

# Passes

Each cycle runs four independent passes, tolerating the failure of any
one without skipping the rest:

 1. Per-user time budget: for each user with a time_limit, sum active
    chores' elapsed time oldest-first; once the running total would
    exceed the limit, every chore from that point on is marked
    cancel_requested with cancel_source="user_time_limit".

 2. Per-sailor max_time: any assigned or running chore whose elapsed
    time exceeds its sailor's max_time is marked cancel_requested with
    cancel_source="sailor_max_time".

 3. Stuck cancel_requested finalization: a chore stuck in
    cancel_requested for longer than CANCEL_REQUESTED_TTL is finalized
    locally — its sailor reservation is released and it is marked
    canceled — after one last best-effort cancel POST. This bounds
    cancellation latency even if the sailor never acknowledges.

 4. TTL purge: terminal chores older than CLEANUP_TTL (measured from
    their end timestamp) are deleted from the chores store, the only
    form of garbage collection the chores store gets.

Passes 1-2 persist the cancel_requested transition before making any
network call. Pass 3 sends its last cancel POST first and then releases
the reservation and records the canceled transition. Every pass releases
store locks before calling out to a sailor — never holding a lock across
the network.

After all four passes, the reconciler triggers one assignment pass so
capacity freed by finalization is visible to pending chores without
waiting for the scheduler's own next tick.
*/
package reconciler
