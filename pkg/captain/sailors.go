package captain

import (
	"fmt"
	"time"

	"github.com/cuemby/captain/pkg/types"
)

// Prereg implements §4.4 "Prereg": upsert the sailor record in status
// down with zeroed resources. Required before Register will succeed.
func (c *Captain) Prereg(name, ip string, services []string, maxTime string) error {
	return c.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
		s, existed := m[name]
		if !existed {
			s = types.Sailor{Name: name}
		}
		s.IP = ip
		s.Services = services
		s.MaxTime = maxTime
		if !existed {
			s.LastSeen = 0
			s.UsedCPUs = 0
			s.UsedGPUs = 0
		}
		m[name] = s
		return m, nil
	})
}

// ErrNotPreregistered is returned by Register when the sailor has never
// been preregistered.
var ErrNotPreregistered = fmt.Errorf("forbidden: sailor not preregistered")

// Register implements §4.4 "Register". It resolves the open question in
// §9 by re-deriving used_cpus/used_gpus from the chores store rather than
// blindly zeroing them: a sailor that restarts and re-registers while the
// Captain still has non-terminal chores assigned to it must not appear to
// have full free capacity, or the scheduler could double-book it.
func (c *Captain) Register(name, ip string, port, cpus int, gpus []types.GPU, ram int64) error {
	usedCPUs, usedGPUs, err := c.derivedUsage(name)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	return c.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
		s, ok := m[name]
		if !ok {
			return m, ErrNotPreregistered
		}
		s.IP = ip
		s.Port = port
		s.CPUs = cpus
		s.GPUs = gpus
		s.RAM = ram
		s.LastSeen = now
		s.UsedCPUs = usedCPUs
		s.UsedGPUs = usedGPUs
		m[name] = s
		return m, nil
	})
}

// derivedUsage sums the resource reservations of this sailor's
// non-terminal chores, per the re-registration policy documented above.
func (c *Captain) derivedUsage(sailorName string) (cpus, gpus int, err error) {
	chores, err := c.Chores.Read()
	if err != nil {
		return 0, 0, err
	}
	for _, ch := range chores {
		if ch.Sailor != sailorName || ch.Status.IsTerminal() || ch.Status == types.ChorePending {
			continue
		}
		cpus += ch.Resources.CPUs
		gpus += ch.Resources.GPUs
	}
	return cpus, gpus, nil
}

// Awake implements §4.4 "Awake (heartbeat)": bump last_seen; status is
// derived on read, so no status field is stored here.
func (c *Captain) Awake(name string) error {
	now := time.Now().Unix()
	return c.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
		s, ok := m[name]
		if !ok {
			return m, fmt.Errorf("unknown sailor %q", name)
		}
		s.LastSeen = now
		m[name] = s
		return m, nil
	})
}

// Report implements §4.4 "Report". Terminal reports release the sailor's
// reservation and close out the chore; Running reports only stamp the
// chore. Locks are taken crew-then-chores and each store is persisted as
// its own Update call returns, never nesting one store's critical section
// inside another's.
func (c *Captain) Report(sailorName, choreID string, status types.ChoreStatus, exitCode *int) error {
	chores, err := c.Chores.Read()
	if err != nil {
		return err
	}
	ch, ok := chores[choreID]
	if !ok {
		// Unknown chore: idempotent no-op per §4.4/§7.
		return nil
	}

	if status == types.ChoreRunning {
		return c.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
			cur, ok := m[choreID]
			if !ok {
				return m, nil
			}
			cur.Status = types.ChoreRunning
			if cur.RunStart == 0 {
				cur.RunStart = time.Now().Unix()
			}
			m[choreID] = cur
			return m, nil
		})
	}

	if ch.Status.IsTerminal() {
		// Idempotent: repeated terminal reports change nothing.
		return nil
	}

	if err := c.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
		s, ok := m[sailorName]
		if !ok {
			return m, nil
		}
		s.UsedCPUs = clamp0(s.UsedCPUs - ch.Resources.CPUs)
		s.UsedGPUs = clamp0(s.UsedGPUs - ch.Resources.GPUs)
		m[sailorName] = s
		return m, nil
	}); err != nil {
		return err
	}

	now := time.Now().Unix()
	return c.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		cur, ok := m[choreID]
		if !ok || cur.Status.IsTerminal() {
			return m, nil
		}
		cur.Status = status
		cur.End = now
		cur.ExitCode = exitCode
		if cur.Reason == "" {
			cur.Reason = terminalReason(cur.CancelSource, status)
		}
		m[choreID] = cur
		return m, nil
	})
}

// terminalReason maps a cancel_source to the canonical reason string per
// §7's precedence table; falls back to the lower-cased status name.
func terminalReason(source types.CancelSource, status types.ChoreStatus) string {
	switch source {
	case types.CancelSourceSailorMaxTime:
		return "exceeded time limit"
	case types.CancelSourceUserTimeLimit:
		return "exceeded user time limit"
	case types.CancelSourceUser:
		return "canceled by user"
	case types.CancelSourceTimeout:
		return "canceled by timeout"
	default:
		return string(status)
	}
}

func clamp0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// ListCrew returns sailor records enriched with derived status and
// seen_ago, for GET /crew.
func (c *Captain) ListCrew() ([]types.SailorView, error) {
	crew, err := c.Crew.Read()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]types.SailorView, 0, len(crew))
	for _, s := range crew {
		seenAgo := int64(-1)
		if s.LastSeen > 0 {
			seenAgo = now.Unix() - s.LastSeen
		}
		out = append(out, types.SailorView{
			Sailor:  s,
			Status:  s.Status(now, c.cfg.AliveThreshold),
			SeenAgo: seenAgo,
		})
	}
	return out, nil
}

// UpsertUser implements §6 /user_upsert: merge fields into the existing
// record (or create one).
func (c *Captain) UpsertUser(uid int, name, timeLimit string, choresLimit *int, notes string) error {
	return c.Users.Update(func(m map[string]types.User) (map[string]types.User, error) {
		key := fmt.Sprintf("%d", uid)
		u, ok := m[key]
		if !ok {
			u = types.User{UID: uid}
		}
		if name != "" {
			u.Name = name
		}
		if timeLimit != "" {
			u.TimeLimit = timeLimit
		}
		if choresLimit != nil {
			u.ChoresLimit = choresLimit
		}
		if notes != "" {
			u.Notes = notes
		}
		m[key] = u
		return m, nil
	})
}

// ListChores returns chores, optionally filtered to one owner.
func (c *Captain) ListChores(owner int, all bool) ([]types.Chore, error) {
	chores, err := c.Chores.Read()
	if err != nil {
		return nil, err
	}
	out := make([]types.Chore, 0, len(chores))
	for _, ch := range chores {
		if !all && ch.Owner != owner {
			continue
		}
		out = append(out, ch)
	}
	return out, nil
}

// ListUsers returns all user records.
func (c *Captain) ListUsers() ([]types.User, error) {
	users, err := c.Users.Read()
	if err != nil {
		return nil, err
	}
	out := make([]types.User, 0, len(users))
	for _, u := range users {
		out = append(out, u)
	}
	return out, nil
}
