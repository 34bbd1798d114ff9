/*
Package scheduler implements the Captain's assignment pass (§4.3 of the
design): scanning pending chores and placing each on a sailor with enough
free CPU/GPU headroom.

# Trigger points

An assignment pass runs on four triggers: chore submission, sailor
registration, sailor awake (heartbeat), and a fixed 5-second ticker. The
first three call Assign synchronously so a fresh chore gets at least one
placement attempt before its submit call returns; the ticker exists to
retry chores that stayed pending because no sailor had room at the time.

# Candidate selection

	for each pending chore:
	  candidates = sailors alive (last_seen within ALIVE_THRESHOLD)
	               AND advertising the requested service (if any)
	               AND with free_cpu >= need_cpu, free_gpu >= need_gpu
	  choice = candidate maximizing (free_cpu-need_cpu)+(free_gpu-need_gpu)
	  ties broken by sailor name

# Reserve, dispatch, rollback

Selection is optimistic: the chosen sailor's used counters are bumped and
the chore moved to assigned before the launch call is made. If the launch
call fails, both are reverted and the chore returns to pending with
reason "sailor unreachable" — the next pass (or the next trigger) will
retry it. That retry runs the same selection again and does not exclude
the sailor that failed.
*/
package scheduler
