package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/captain/pkg/captain"
	"github.com/cuemby/captain/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSailorClient struct{}

func (fakeSailorClient) Launch(ctx context.Context, sailor types.Sailor, req types.LaunchRequest) error {
	return nil
}

func (fakeSailorClient) Cancel(ctx context.Context, sailor types.Sailor, req types.CancelRequest) error {
	return nil
}

func newTestCaptain(t *testing.T) *captain.Captain {
	t.Helper()
	cap, err := captain.New(captain.DefaultConfig(t.TempDir()), &captain.StaticAuthenticator{}, fakeSailorClient{})
	require.NoError(t, err)
	return cap
}

func newTestReconciler(t *testing.T, cap *captain.Captain) *Reconciler {
	t.Helper()
	return NewReconciler(cap, nil)
}

func TestUserTimeBudgetsCancelsOverage(t *testing.T) {
	cap := newTestCaptain(t)
	r := newTestReconciler(t, cap)

	require.NoError(t, cap.UpsertUser(1, "", "00:00:01", nil, ""))
	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["old"] = types.Chore{
			ChoreID: "old", Owner: 1, Status: types.ChoreRunning,
			RunStart: time.Now().Add(-time.Hour).Unix(),
		}
		return m, nil
	}))

	require.NoError(t, r.userTimeBudgets(context.Background()))

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChoreCancelRequested, chores["old"].Status)
	assert.Equal(t, types.CancelSourceUserTimeLimit, chores["old"].CancelSource)
}

func TestUserTimeBudgetsLeavesChoresUnderLimitAlone(t *testing.T) {
	cap := newTestCaptain(t)
	r := newTestReconciler(t, cap)

	require.NoError(t, cap.UpsertUser(1, "", "01:00:00", nil, ""))
	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["fresh"] = types.Chore{
			ChoreID: "fresh", Owner: 1, Status: types.ChoreRunning,
			RunStart: time.Now().Add(-time.Minute).Unix(),
		}
		return m, nil
	}))

	require.NoError(t, r.userTimeBudgets(context.Background()))

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChoreRunning, chores["fresh"].Status)
}

func TestSailorMaxTimeCancelsOverrunningChore(t *testing.T) {
	cap := newTestCaptain(t)
	r := newTestReconciler(t, cap)

	require.NoError(t, cap.Prereg("sailor-1", "10.0.0.1", nil, "00:00:01"))
	require.NoError(t, cap.Register("sailor-1", "10.0.0.1", 9000, 4, nil, 1<<30))
	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{
			ChoreID: "c1", Sailor: "sailor-1", Status: types.ChoreRunning,
			RunStart: time.Now().Add(-time.Hour).Unix(),
		}
		return m, nil
	}))

	require.NoError(t, r.sailorMaxTime(context.Background()))

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChoreCancelRequested, chores["c1"].Status)
	assert.Equal(t, types.CancelSourceSailorMaxTime, chores["c1"].CancelSource)
}

func TestFinalizeStuckCancelsPastTTLReleasesReservation(t *testing.T) {
	cap := newTestCaptain(t)
	r := newTestReconciler(t, cap)

	require.NoError(t, cap.Prereg("sailor-1", "10.0.0.1", nil, ""))
	require.NoError(t, cap.Register("sailor-1", "10.0.0.1", 9000, 4, nil, 1<<30))
	require.NoError(t, cap.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
		s := m["sailor-1"]
		s.UsedCPUs = 2
		m["sailor-1"] = s
		return m, nil
	}))
	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{
			ChoreID: "c1", Sailor: "sailor-1", Status: types.ChoreCancelRequested,
			Resources:         types.Resources{CPUs: 2},
			CancelRequestedAt: time.Now().Add(-time.Hour).Unix(),
		}
		return m, nil
	}))

	require.NoError(t, r.finalizeStuckCancels(context.Background()))

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChoreCanceled, chores["c1"].Status)

	crew, err := cap.Crew.Read()
	require.NoError(t, err)
	assert.Equal(t, 0, crew["sailor-1"].UsedCPUs)
}

func TestFinalizeStuckCancelsBackfillsMissingTimestamp(t *testing.T) {
	cap := newTestCaptain(t)
	r := newTestReconciler(t, cap)

	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{ChoreID: "c1", Status: types.ChoreCancelRequested, Start: time.Now().Unix()}
		return m, nil
	}))

	require.NoError(t, r.finalizeStuckCancels(context.Background()))

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Greater(t, chores["c1"].CancelRequestedAt, int64(0))
	assert.Equal(t, types.ChoreCancelRequested, chores["c1"].Status)
}

func TestPurgeTerminalRemovesOldChoresOnly(t *testing.T) {
	cap := newTestCaptain(t)
	r := newTestReconciler(t, cap)

	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["old"] = types.Chore{ChoreID: "old", Status: types.ChoreDone, End: time.Now().Add(-time.Hour).Unix()}
		m["recent"] = types.Chore{ChoreID: "recent", Status: types.ChoreDone, End: time.Now().Unix()}
		return m, nil
	}))

	require.NoError(t, r.purgeTerminal())

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.NotContains(t, chores, "old")
	assert.Contains(t, chores, "recent")
}
