// Package reconciler implements the Captain's reconciliation loop (§4.5):
// a single 5s-ticker background pass enforcing per-user time budgets,
// per-sailor max_time, finalizing stuck cancel_requested chores, and
// purging terminal chores past their TTL.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/captain/pkg/captain"
	"github.com/cuemby/captain/pkg/log"
	"github.com/cuemby/captain/pkg/metrics"
	"github.com/cuemby/captain/pkg/scheduler"
	"github.com/cuemby/captain/pkg/types"
	"github.com/rs/zerolog"
)

// Reconciler drives the loop described in §4.5.
type Reconciler struct {
	cap    *captain.Captain
	sched  *scheduler.Scheduler
	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// NewReconciler creates a reconciler bound to cap. sched is used to
// trigger an assignment pass after resources are freed by finalization.
func NewReconciler(cap *captain.Captain, sched *scheduler.Scheduler) *Reconciler {
	return &Reconciler{
		cap:    cap,
		sched:  sched,
		logger: log.WithComponent("reconciler"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the 5s reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			if err := r.Reconcile(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// Reconcile performs one pass: (a) per-user time budget, (b) per-sailor
// max_time, (c) stuck cancel_requested finalization, (d) TTL purge. Each
// sub-pass tolerates individual failures — log and continue — and none
// of them holds a store lock across a network call.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.userTimeBudgets(ctx); err != nil {
		r.logger.Error().Err(err).Msg("user time budget pass failed")
	}
	if err := r.sailorMaxTime(ctx); err != nil {
		r.logger.Error().Err(err).Msg("sailor max_time pass failed")
	}
	if err := r.finalizeStuckCancels(ctx); err != nil {
		r.logger.Error().Err(err).Msg("stuck cancel_requested pass failed")
	}
	if err := r.purgeTerminal(); err != nil {
		r.logger.Error().Err(err).Msg("TTL purge pass failed")
	}
	r.cap.Tokens.CleanupExpired()

	// Any of the above passes may have freed sailor capacity (finalizing a
	// cancel_requested chore releases its reservation); give pending chores
	// a chance at that capacity before the next 5s tick.
	if r.sched != nil {
		if err := r.sched.Assign(ctx); err != nil {
			r.logger.Error().Err(err).Msg("post-reconcile assignment pass failed")
		}
	}

	return nil
}

// userTimeBudgets implements §4.5(a): for each owner with a positive
// time_limit, protect the oldest non-pending chores and mark the rest
// (in T0 order) for cancellation once their cumulative duration would
// exceed the limit.
func (r *Reconciler) userTimeBudgets(ctx context.Context) error {
	users, err := r.cap.Users.Read()
	if err != nil {
		return err
	}
	byOwner, err := r.cap.ActiveChoresByOwner()
	if err != nil {
		return err
	}

	now := time.Now()
	var toCancel []string

	for key, u := range users {
		if u.TimeLimit == "" {
			continue
		}
		limit := types.ParseDuration(u.TimeLimit)
		if limit <= 0 {
			continue
		}
		chores := byOwner[u.UID]
		if len(chores) == 0 {
			continue
		}
		_ = key

		var total time.Duration
		exceeded := false
		for _, ch := range chores {
			if ch.Status == types.ChorePending {
				continue
			}
			if exceeded {
				toCancel = append(toCancel, ch.ChoreID)
				continue
			}
			d := now.Sub(time.Unix(captain.ChoreT0(ch), 0))
			total += d
			if total > limit {
				exceeded = true
				toCancel = append(toCancel, ch.ChoreID)
			}
		}
	}

	return r.markCancelRequested(ctx, toCancel, types.CancelSourceUserTimeLimit, "exceeded user time limit")
}

// sailorMaxTime implements §4.5(b).
func (r *Reconciler) sailorMaxTime(ctx context.Context) error {
	crew, err := r.cap.Crew.Read()
	if err != nil {
		return err
	}
	chores, err := r.cap.Chores.Read()
	if err != nil {
		return err
	}

	now := time.Now()
	var toCancel []string

	for _, ch := range chores {
		if ch.Status != types.ChoreAssigned && ch.Status != types.ChoreRunning {
			continue
		}
		sailor, ok := crew[ch.Sailor]
		if !ok {
			continue
		}
		maxTime := types.ParseDuration(sailor.MaxTime)
		if maxTime <= 0 {
			continue
		}
		if now.Sub(time.Unix(captain.ChoreT0(ch), 0)) > maxTime {
			toCancel = append(toCancel, ch.ChoreID)
		}
	}

	return r.markCancelRequested(ctx, toCancel, types.CancelSourceSailorMaxTime, "exceeded time limit")
}

// markCancelRequested persists cancel_requested for each chore id first,
// then best-effort POSTs a cancel to its sailor — in that order, per the
// ordering rule in §4.2/§4.5.
func (r *Reconciler) markCancelRequested(ctx context.Context, choreIDs []string, source types.CancelSource, reason string) error {
	for _, id := range choreIDs {
		var sailorName string
		marked := false
		now := time.Now().Unix()

		err := r.cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
			ch, ok := m[id]
			if !ok || ch.Status.IsTerminal() || ch.Status == types.ChoreCancelRequested {
				return m, nil
			}
			marked = true
			sailorName = ch.Sailor
			ch.Status = types.ChoreCancelRequested
			ch.CancelRequestedAt = now
			ch.CancelSource = source
			if ch.Reason == "" {
				ch.Reason = reason
			}
			m[id] = ch
			return m, nil
		})
		if err != nil {
			r.logger.Error().Err(err).Str("chore_id", id).Msg("failed to mark cancel_requested")
			continue
		}
		if marked {
			metrics.ChoresCanceledByBudgetTotal.WithLabelValues(string(source)).Inc()
		}
		if sailorName == "" {
			continue
		}
		r.bestEffortCancel(ctx, sailorName, id)
	}
	return nil
}

// finalizeStuckCancels implements §4.5(c).
func (r *Reconciler) finalizeStuckCancels(ctx context.Context) error {
	chores, err := r.cap.Chores.Read()
	if err != nil {
		return err
	}
	crew, err := r.cap.Crew.Read()
	if err != nil {
		return err
	}

	now := time.Now()
	ttl := r.cap.Config().CancelRequestedTTL

	for id, ch := range chores {
		if ch.Status != types.ChoreCancelRequested {
			continue
		}

		if ch.CancelRequestedAt == 0 {
			backfill := captain.ChoreT0(ch)
			if backfill == 0 {
				backfill = now.Unix()
			}
			_ = r.cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
				cur := m[id]
				if cur.Status == types.ChoreCancelRequested && cur.CancelRequestedAt == 0 {
					cur.CancelRequestedAt = backfill
					m[id] = cur
				}
				return m, nil
			})
			continue
		}

		if now.Sub(time.Unix(ch.CancelRequestedAt, 0)) < ttl {
			continue
		}

		if ch.Sailor != "" {
			r.bestEffortCancel(ctx, ch.Sailor, id)
		}

		if sailor, ok := crew[ch.Sailor]; ok {
			_ = r.cap.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
				s, ok := m[sailor.Name]
				if !ok {
					return m, nil
				}
				s.UsedCPUs = clampNonNegative(s.UsedCPUs - ch.Resources.CPUs)
				s.UsedGPUs = clampNonNegative(s.UsedGPUs - ch.Resources.GPUs)
				m[sailor.Name] = s
				return m, nil
			})
		}

		endAt := time.Now().Unix()
		_ = r.cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
			cur, ok := m[id]
			if !ok || cur.Status.IsTerminal() {
				return m, nil
			}
			cur.Status = types.ChoreCanceled
			cur.End = endAt
			if cur.Reason == "" {
				cur.Reason = reasonFromSource(cur.CancelSource)
			}
			m[id] = cur
			return m, nil
		})
	}

	return nil
}

func reasonFromSource(source types.CancelSource) string {
	switch source {
	case types.CancelSourceSailorMaxTime:
		return "exceeded time limit"
	case types.CancelSourceUserTimeLimit:
		return "exceeded user time limit"
	case types.CancelSourceUser:
		return "canceled by user"
	default:
		return "canceled by timeout"
	}
}

// purgeTerminal implements §4.5(d).
func (r *Reconciler) purgeTerminal() error {
	ttl := r.cap.Config().CleanupTTL
	now := time.Now()

	return r.cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		for id, ch := range m {
			if !ch.Status.IsTerminal() || ch.End == 0 {
				continue
			}
			if now.Sub(time.Unix(ch.End, 0)) >= ttl {
				delete(m, id)
				metrics.ChoresPurgedTotal.Inc()
			}
		}
		return m, nil
	})
}

// bestEffortCancel posts a cancel to the sailor and swallows failures —
// the finalization TTL guarantees liveness even if this never succeeds.
func (r *Reconciler) bestEffortCancel(ctx context.Context, sailorName, choreID string) {
	crew, err := r.cap.Crew.Read()
	if err != nil {
		return
	}
	sailor, ok := crew[sailorName]
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, r.cap.Config().DispatchTimeout)
	defer cancel()
	if err := r.cap.Sailor.Cancel(cctx, sailor, types.CancelRequest{ChoreID: choreID}); err != nil {
		r.logger.Debug().Err(err).Str("chore_id", choreID).Str("sailor", sailorName).Msg("best-effort cancel failed")
	}
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
