// Package scheduler implements the Captain's assignment pass (§4.3): a
// single scan over pending chores that tries to place each one on a
// sailor with sufficient free capacity, using optimistic reservation with
// rollback on dispatch failure.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/captain/pkg/captain"
	"github.com/cuemby/captain/pkg/log"
	"github.com/cuemby/captain/pkg/metrics"
	"github.com/cuemby/captain/pkg/types"
	"github.com/rs/zerolog"
)

// Scheduler runs the 5s background assignment pass. The pass itself
// (Assign) is also called synchronously by the HTTP handlers on
// submission, sailor registration, and sailor awake, per §4.3's trigger
// list — Scheduler's ticker is only the "every 5s" trigger.
type Scheduler struct {
	cap    *captain.Captain
	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// NewScheduler creates a scheduler bound to cap.
func NewScheduler(cap *captain.Captain) *Scheduler {
	return &Scheduler{
		cap:    cap,
		logger: log.WithComponent("scheduler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the 5s assignment-pass loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Assign(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("assignment pass failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Assign performs one assignment pass (§4.3). Safe to call concurrently
// with the ticker-driven loop and with handler-triggered calls; mu
// serializes passes so two concurrent triggers don't double-reserve the
// same sailor headroom.
func (s *Scheduler) Assign(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Assign(ctx, s.cap)
}

// Assign is the free-function form of one assignment pass, without a
// *Scheduler instance's mutex. HTTP handlers and the reconciler call
// Scheduler.Assign, which wraps this function so passes are serialized;
// this form is called directly by the package's tests.
func Assign(ctx context.Context, cap *captain.Captain) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AssignmentDuration)

	logger := log.WithComponent("scheduler")

	chores, err := cap.Chores.Read()
	if err != nil {
		return err
	}
	crew, err := cap.Crew.Read()
	if err != nil {
		return err
	}

	cfg := cap.Config()
	now := time.Now()

	for id, ch := range chores {
		if ch.Status != types.ChorePending {
			continue
		}

		choice, ok := selectSailor(crew, ch, now, cfg.AliveThreshold)
		if !ok {
			if ch.Reason != "no available sailor" {
				_ = cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
					cur := m[id]
					if cur.Status == types.ChorePending {
						cur.Reason = "no available sailor"
						m[id] = cur
					}
					return m, nil
				})
			}
			continue
		}

		if err := reserveAndDispatch(ctx, cap, id, ch, choice); err != nil {
			logger.Error().Err(err).Str("chore_id", id).Str("sailor", choice.Name).Msg("dispatch failed")
		}

		// Re-read crew so the next candidate selection in this pass sees
		// the reservation just made.
		crew, err = cap.Crew.Read()
		if err != nil {
			return err
		}
	}

	return nil
}

// selectSailor implements the candidate filter and headroom-maximizing
// tiebreak of §4.3. Ties are broken by lexicographically smallest sailor
// name, a deterministic but otherwise arbitrary choice, as the spec
// permits.
func selectSailor(crew map[string]types.Sailor, ch types.Chore, now time.Time, aliveThreshold time.Duration) (types.Sailor, bool) {
	var best types.Sailor
	bestHeadroom := -1
	found := false

	for _, s := range crew {
		if s.LastSeen == 0 || now.Sub(time.Unix(s.LastSeen, 0)) > aliveThreshold {
			continue
		}
		if ch.Service != "" && !hasService(s.Services, ch.Service) {
			continue
		}
		freeCPU, freeGPU := s.FreeCPU(), s.FreeGPU()
		if freeCPU < ch.Resources.CPUs || freeGPU < ch.Resources.GPUs {
			continue
		}
		headroom := (freeCPU - ch.Resources.CPUs) + (freeGPU - ch.Resources.GPUs)
		if !found || headroom > bestHeadroom || (headroom == bestHeadroom && s.Name < best.Name) {
			best, bestHeadroom, found = s, headroom, true
		}
	}
	return best, found
}

func hasService(services []string, want string) bool {
	for _, s := range services {
		if s == want {
			return true
		}
	}
	return false
}

// reserveAndDispatch performs the optimistic reserve, dispatch, and
// rollback-on-failure sequence of §4.3.
func reserveAndDispatch(ctx context.Context, cap *captain.Captain, choreID string, ch types.Chore, sailor types.Sailor) error {
	now := time.Now().Unix()

	if err := cap.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
		s, ok := m[sailor.Name]
		if !ok {
			return m, nil
		}
		s.UsedCPUs += ch.Resources.CPUs
		s.UsedGPUs += ch.Resources.GPUs
		m[sailor.Name] = s
		return m, nil
	}); err != nil {
		return err
	}

	if err := cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		cur, ok := m[choreID]
		if !ok || cur.Status != types.ChorePending {
			return m, nil
		}
		cur.Sailor = sailor.Name
		cur.Status = types.ChoreAssigned
		cur.AssignedAt = now
		cur.Reason = ""
		m[choreID] = cur
		return m, nil
	}); err != nil {
		return err
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, cap.Config().DispatchTimeout)
	defer cancel()

	err := cap.Sailor.Launch(dispatchCtx, sailor, types.LaunchRequest{
		ChoreID:   choreID,
		Script:    ch.Script,
		Resources: ch.Resources,
		Owner:     ch.Owner,
	})
	if err == nil {
		metrics.ChoresAssignedTotal.Inc()
		return nil
	}

	metrics.ChoresRollbackTotal.Inc()
	rollbackErr := rollback(cap, choreID, sailor.Name, ch.Resources)
	if rollbackErr != nil {
		return rollbackErr
	}
	return err
}

// rollback reverts the reservation and returns the chore to pending with
// reason="sailor unreachable", per §4.3's rollback clause.
func rollback(cap *captain.Captain, choreID, sailorName string, res types.Resources) error {
	if err := cap.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
		s, ok := m[sailorName]
		if !ok {
			return m, nil
		}
		s.UsedCPUs -= res.CPUs
		if s.UsedCPUs < 0 {
			s.UsedCPUs = 0
		}
		s.UsedGPUs -= res.GPUs
		if s.UsedGPUs < 0 {
			s.UsedGPUs = 0
		}
		m[sailorName] = s
		return m, nil
	}); err != nil {
		return err
	}

	return cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		cur, ok := m[choreID]
		if !ok {
			return m, nil
		}
		cur.Sailor = ""
		cur.Status = types.ChorePending
		cur.AssignedAt = 0
		cur.Reason = "sailor unreachable"
		m[choreID] = cur
		return m, nil
	})
}
