package captain

import (
	"testing"

	"github.com/cuemby/captain/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRequiresPrereg(t *testing.T) {
	cap := newTestCaptain(t)
	err := cap.Register("sailor-1", "10.0.0.1", 9000, 4, nil, 1<<30)
	assert.ErrorIs(t, err, ErrNotPreregistered)
}

func TestRegisterDerivesUsageFromNonTerminalChores(t *testing.T) {
	cap := newTestCaptain(t)
	require.NoError(t, cap.Prereg("sailor-1", "10.0.0.1", nil, ""))

	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{ChoreID: "c1", Sailor: "sailor-1", Status: types.ChoreRunning, Resources: types.Resources{CPUs: 2, GPUs: 1}}
		m["c2"] = types.Chore{ChoreID: "c2", Sailor: "sailor-1", Status: types.ChoreDone, Resources: types.Resources{CPUs: 3}}
		m["c3"] = types.Chore{ChoreID: "c3", Sailor: "sailor-1", Status: types.ChorePending, Resources: types.Resources{CPUs: 5}}
		return m, nil
	}))

	require.NoError(t, cap.Register("sailor-1", "10.0.0.1", 9000, 8, nil, 1<<30))

	crew, err := cap.Crew.Read()
	require.NoError(t, err)
	assert.Equal(t, 2, crew["sailor-1"].UsedCPUs)
	assert.Equal(t, 1, crew["sailor-1"].UsedGPUs)
}

func TestAwakeUnknownSailorErrors(t *testing.T) {
	cap := newTestCaptain(t)
	assert.Error(t, cap.Awake("ghost"))
}

func TestAwakeBumpsLastSeen(t *testing.T) {
	cap := newTestCaptain(t)
	require.NoError(t, cap.Prereg("sailor-1", "10.0.0.1", nil, ""))
	require.NoError(t, cap.Register("sailor-1", "10.0.0.1", 9000, 4, nil, 1<<30))

	require.NoError(t, cap.Awake("sailor-1"))

	crew, err := cap.Crew.Read()
	require.NoError(t, err)
	assert.Greater(t, crew["sailor-1"].LastSeen, int64(0))
}

func TestReportTerminalReleasesReservationAndClosesChore(t *testing.T) {
	cap := newTestCaptain(t)
	require.NoError(t, cap.Prereg("sailor-1", "10.0.0.1", nil, ""))
	require.NoError(t, cap.Register("sailor-1", "10.0.0.1", 9000, 4, nil, 1<<30))
	require.NoError(t, cap.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
		s := m["sailor-1"]
		s.UsedCPUs = 2
		m["sailor-1"] = s
		return m, nil
	}))
	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{ChoreID: "c1", Sailor: "sailor-1", Status: types.ChoreRunning, Resources: types.Resources{CPUs: 2}}
		return m, nil
	}))

	exit := 0
	require.NoError(t, cap.Report("sailor-1", "c1", types.ChoreDone, &exit))

	crew, err := cap.Crew.Read()
	require.NoError(t, err)
	assert.Equal(t, 0, crew["sailor-1"].UsedCPUs)

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChoreDone, chores["c1"].Status)
	assert.NotNil(t, chores["c1"].ExitCode)
}

func TestReportRunningStampsRunStartOnce(t *testing.T) {
	cap := newTestCaptain(t)
	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{ChoreID: "c1", Sailor: "sailor-1", Status: types.ChoreAssigned}
		return m, nil
	}))

	require.NoError(t, cap.Report("sailor-1", "c1", types.ChoreRunning, nil))

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	first := chores["c1"].RunStart
	assert.Greater(t, first, int64(0))

	require.NoError(t, cap.Report("sailor-1", "c1", types.ChoreRunning, nil))
	chores, err = cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, first, chores["c1"].RunStart)
}

func TestReportUnknownChoreIsIdempotentNoop(t *testing.T) {
	cap := newTestCaptain(t)
	assert.NoError(t, cap.Report("sailor-1", "no-such-chore", types.ChoreDone, nil))
}

func TestReportIgnoresRepeatedTerminalReports(t *testing.T) {
	cap := newTestCaptain(t)
	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{ChoreID: "c1", Sailor: "sailor-1", Status: types.ChoreDone, End: 123}
		return m, nil
	}))

	require.NoError(t, cap.Report("sailor-1", "c1", types.ChoreFailed, nil))

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChoreDone, chores["c1"].Status)
	assert.Equal(t, int64(123), chores["c1"].End)
}

func TestUpsertUserMergesFields(t *testing.T) {
	cap := newTestCaptain(t)
	require.NoError(t, cap.UpsertUser(42, "ada", "01:00:00", nil, ""))

	limit := 3
	require.NoError(t, cap.UpsertUser(42, "", "", &limit, "vip"))

	users, err := cap.Users.Read()
	require.NoError(t, err)
	u := users["42"]
	assert.Equal(t, "ada", u.Name)
	assert.Equal(t, "01:00:00", u.TimeLimit)
	require.NotNil(t, u.ChoresLimit)
	assert.Equal(t, 3, *u.ChoresLimit)
	assert.Equal(t, "vip", u.Notes)
}

func TestListCrewDerivesStatusAndSeenAgo(t *testing.T) {
	cap := newTestCaptain(t)
	require.NoError(t, cap.Prereg("sailor-1", "10.0.0.1", nil, ""))

	views, err := cap.ListCrew()
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, types.SailorDown, views[0].Status)
	assert.Equal(t, int64(-1), views[0].SeenAgo)
}
