package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/captain/pkg/captain"
	"github.com/cuemby/captain/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sailorAt(name string, cpus, used int, lastSeen time.Time, services ...string) types.Sailor {
	return types.Sailor{
		Name:     name,
		IP:       "10.0.0.1",
		Port:     9000,
		Services: services,
		CPUs:     cpus,
		UsedCPUs: used,
		LastSeen: lastSeen.Unix(),
	}
}

func TestSelectSailor(t *testing.T) {
	now := time.Now()
	alive := 10 * time.Second

	tests := []struct {
		name     string
		crew     map[string]types.Sailor
		chore    types.Chore
		wantOK   bool
		wantName string
	}{
		{
			name:   "no sailors",
			crew:   map[string]types.Sailor{},
			chore:  types.Chore{Resources: types.Resources{CPUs: 1}},
			wantOK: false,
		},
		{
			name: "sailor down excluded",
			crew: map[string]types.Sailor{
				"a": sailorAt("a", 4, 0, now.Add(-1*time.Minute)),
			},
			chore:  types.Chore{Resources: types.Resources{CPUs: 1}},
			wantOK: false,
		},
		{
			name: "insufficient free cpu excluded",
			crew: map[string]types.Sailor{
				"a": sailorAt("a", 2, 2, now),
			},
			chore:  types.Chore{Resources: types.Resources{CPUs: 1}},
			wantOK: false,
		},
		{
			name: "service mismatch excluded",
			crew: map[string]types.Sailor{
				"a": sailorAt("a", 4, 0, now, "gpu-train"),
			},
			chore:  types.Chore{Service: "webscrape", Resources: types.Resources{CPUs: 1}},
			wantOK: false,
		},
		{
			name: "service match required and satisfied",
			crew: map[string]types.Sailor{
				"a": sailorAt("a", 4, 0, now, "webscrape"),
			},
			chore:    types.Chore{Service: "webscrape", Resources: types.Resources{CPUs: 1}},
			wantOK:   true,
			wantName: "a",
		},
		{
			name: "headroom maximizing tiebreak",
			crew: map[string]types.Sailor{
				"tight": sailorAt("tight", 2, 0, now),
				"roomy": sailorAt("roomy", 8, 0, now),
			},
			chore:    types.Chore{Resources: types.Resources{CPUs: 2}},
			wantOK:   true,
			wantName: "roomy",
		},
		{
			name: "equal headroom breaks on name",
			crew: map[string]types.Sailor{
				"zebra": sailorAt("zebra", 4, 0, now),
				"alpha": sailorAt("alpha", 4, 0, now),
			},
			chore:    types.Chore{Resources: types.Resources{CPUs: 1}},
			wantOK:   true,
			wantName: "alpha",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := selectSailor(tt.crew, tt.chore, now, alive)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantName, got.Name)
			}
		})
	}
}

// fakeSailorClient lets the Assign integration tests control whether
// dispatch succeeds without a real HTTP round trip.
type fakeSailorClient struct {
	mu       sync.Mutex
	fail     map[string]bool
	launched []string
}

func (f *fakeSailorClient) Launch(ctx context.Context, sailor types.Sailor, req types.LaunchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, sailor.Name)
	if f.fail[sailor.Name] {
		return fmt.Errorf("fake: %s unreachable", sailor.Name)
	}
	return nil
}

func (f *fakeSailorClient) Cancel(ctx context.Context, sailor types.Sailor, req types.CancelRequest) error {
	return nil
}

func newTestCaptain(t *testing.T, client captain.SailorClient) *captain.Captain {
	t.Helper()
	cfg := captain.DefaultConfig(t.TempDir())
	cfg.DispatchTimeout = time.Second
	cap, err := captain.New(cfg, &captain.StaticAuthenticator{}, client)
	require.NoError(t, err)
	return cap
}

func TestAssignDispatchesToEligibleSailor(t *testing.T) {
	client := &fakeSailorClient{fail: map[string]bool{}}
	cap := newTestCaptain(t, client)

	require.NoError(t, cap.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
		m["sailor-1"] = sailorAt("sailor-1", 4, 0, time.Now())
		return m, nil
	}))
	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{ChoreID: "c1", Status: types.ChorePending, Resources: types.Resources{CPUs: 1}, Owner: 1}
		return m, nil
	}))

	require.NoError(t, Assign(context.Background(), cap))

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChoreAssigned, chores["c1"].Status)
	assert.Equal(t, "sailor-1", chores["c1"].Sailor)

	crew, err := cap.Crew.Read()
	require.NoError(t, err)
	assert.Equal(t, 1, crew["sailor-1"].UsedCPUs)
}

func TestAssignRollsBackOnUnreachableSailor(t *testing.T) {
	client := &fakeSailorClient{fail: map[string]bool{"sailor-1": true}}
	cap := newTestCaptain(t, client)

	require.NoError(t, cap.Crew.Update(func(m map[string]types.Sailor) (map[string]types.Sailor, error) {
		m["sailor-1"] = sailorAt("sailor-1", 4, 0, time.Now())
		return m, nil
	}))
	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{ChoreID: "c1", Status: types.ChorePending, Resources: types.Resources{CPUs: 1}, Owner: 1}
		return m, nil
	}))

	require.NoError(t, Assign(context.Background(), cap))

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChorePending, chores["c1"].Status)
	assert.Equal(t, "sailor unreachable", chores["c1"].Reason)
	assert.Empty(t, chores["c1"].Sailor)

	crew, err := cap.Crew.Read()
	require.NoError(t, err)
	assert.Equal(t, 0, crew["sailor-1"].UsedCPUs)
}

func TestAssignLeavesChoreWithNoAvailableSailorReason(t *testing.T) {
	client := &fakeSailorClient{fail: map[string]bool{}}
	cap := newTestCaptain(t, client)

	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{ChoreID: "c1", Status: types.ChorePending, Resources: types.Resources{CPUs: 1}, Owner: 1}
		return m, nil
	}))

	require.NoError(t, Assign(context.Background(), cap))

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChorePending, chores["c1"].Status)
	assert.Equal(t, "no available sailor", chores["c1"].Reason)
}
