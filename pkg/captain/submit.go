package captain

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/captain/pkg/log"
	"github.com/cuemby/captain/pkg/types"
)

// ErrChoresLimit is returned by Submit when the owner's chores_limit has
// been reached.
var ErrChoresLimit = fmt.Errorf("forbidden: chores_limit exceeded")

// SubmitRequest is the validated internal form of §6's /user_chore body.
type SubmitRequest struct {
	Script    string
	Service   string
	Resources types.Resources
	Owner     int
}

// Submit implements §4.2 "Submit chore" steps 1-3: enforce chores_limit,
// allocate a chore_id, and persist the chore pending. The caller (the
// HTTP handler) is responsible for invoking the assignment pass
// immediately afterward, per the ordering guarantee in §5 that at least
// one assignment attempt happens before the submit call returns.
func (c *Captain) Submit(req SubmitRequest) (string, error) {
	users, err := c.Users.Read()
	if err != nil {
		return "", err
	}
	if u, ok := users[strconv.Itoa(req.Owner)]; ok && u.ChoresLimit != nil {
		active, err := c.countActiveChores(req.Owner)
		if err != nil {
			return "", err
		}
		if active >= *u.ChoresLimit {
			return "", ErrChoresLimit
		}
	}

	choreID := c.NextChoreID()
	now := time.Now().Unix()

	err = c.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m[choreID] = types.Chore{
			ChoreID:   choreID,
			Script:    req.Script,
			Service:   req.Service,
			Resources: req.Resources,
			Owner:     req.Owner,
			Status:    types.ChorePending,
			Reason:    "no available sailor",
			Start:     now,
		}
		return m, nil
	})
	if err != nil {
		return "", err
	}

	log.WithChore(choreID).Info().Int("owner", req.Owner).Msg("chore submitted")
	return choreID, nil
}

// countActiveChores counts owner's chores whose status is active, per
// §4.2 step 1 — excluding cancel_requested chores older than
// CANCEL_REQUESTED_TTL (those are effectively finalized already; the
// reconciliation loop just hasn't caught up).
func (c *Captain) countActiveChores(owner int) (int, error) {
	chores, err := c.Chores.Read()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	count := 0
	for _, ch := range chores {
		if ch.Owner != owner || !ch.Status.IsActive() {
			continue
		}
		if ch.Status == types.ChoreCancelRequested && ch.CancelRequestedAt > 0 {
			age := now.Sub(time.Unix(ch.CancelRequestedAt, 0))
			if age >= c.cfg.CancelRequestedTTL {
				continue
			}
		}
		count++
	}
	return count, nil
}

// Cancel implements §4.2 "Cancel chore". If no sailor is assigned, the
// chore is canceled immediately; otherwise it is moved to
// cancel_requested (persisted before any network call, per the ordering
// rule) and the caller should best-effort notify the sailor afterward.
// Cancel returns the chore's assigned sailor (zero value if none) so the
// caller knows whether to make that network call.
func (c *Captain) Cancel(choreID, reason string) (sailorName string, alreadyTerminal bool, err error) {
	now := time.Now().Unix()

	err = c.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		ch, ok := m[choreID]
		if !ok {
			return m, fmt.Errorf("chore %s not found", choreID)
		}
		if ch.Status.IsTerminal() {
			alreadyTerminal = true
			return m, nil
		}

		if ch.Sailor == "" {
			ch.Status = types.ChoreCanceled
			ch.End = now
			if reason != "" {
				ch.Reason = reason
			} else {
				ch.Reason = "canceled by user"
			}
			m[choreID] = ch
			return m, nil
		}

		sailorName = ch.Sailor
		ch.Status = types.ChoreCancelRequested
		ch.CancelRequestedAt = now
		ch.CancelSource = types.CancelSourceUser
		if reason != "" {
			ch.Reason = reason
		}
		m[choreID] = ch
		return m, nil
	})
	return sailorName, alreadyTerminal, err
}

// ActiveChoresByOwner groups non-terminal chores by owner, oldest T0
// first within each group — used by the reconciler's per-user
// time-budget pass (§4.5a).
func (c *Captain) ActiveChoresByOwner() (map[int][]types.Chore, error) {
	chores, err := c.Chores.Read()
	if err != nil {
		return nil, err
	}
	byOwner := map[int][]types.Chore{}
	for _, ch := range chores {
		if !ch.Status.IsActive() {
			continue
		}
		byOwner[ch.Owner] = append(byOwner[ch.Owner], ch)
	}
	for owner, list := range byOwner {
		sort.Slice(list, func(i, j int) bool {
			return choreT0(list[i]) < choreT0(list[j])
		})
		byOwner[owner] = list
	}
	return byOwner, nil
}

// choreT0 is "run_start, else assigned_at, else start" per §4.5.
func choreT0(ch types.Chore) int64 {
	if ch.RunStart > 0 {
		return ch.RunStart
	}
	if ch.AssignedAt > 0 {
		return ch.AssignedAt
	}
	return ch.Start
}

// ChoreT0 exports choreT0 for the reconciler package.
func ChoreT0(ch types.Chore) int64 { return choreT0(ch) }
