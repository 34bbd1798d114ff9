/*
Package metrics defines and registers the Prometheus metrics exported by
both the Captain and the Sailor, and a small Timer helper for observing
operation duration into a histogram.

All metrics are registered at package init via MustRegister and exposed
through Handler(), which callers mount at /metrics.

# Catalog

Crew: captain_sailors_total{status}, captain_sailor_used_cpus{sailor},
captain_sailor_used_gpus{sailor}, captain_sailor_active_chores{sailor}.

Chores: captain_chores_total{status}, captain_chores_submitted_total,
captain_chores_rejected_total{reason}, captain_chores_assigned_total,
captain_chores_rollback_total, captain_chores_canceled_by_budget_total{cancel_source},
captain_chores_purged_total.

API: captain_api_requests_total{route,status}, captain_api_request_duration_seconds{route}.

Background loops: captain_assignment_duration_seconds,
captain_reconciliation_duration_seconds, captain_reconciliation_cycles_total.

Sailor-local: sailor_active_chores, sailor_launches_total{outcome}.

# Usage

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.AssignmentDuration)
*/
package metrics
