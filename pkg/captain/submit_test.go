package captain

import (
	"context"
	"testing"

	"github.com/cuemby/captain/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCaptain(t *testing.T) *Captain {
	t.Helper()
	cap, err := New(DefaultConfig(t.TempDir()), &StaticAuthenticator{}, &noopSailorClient{})
	require.NoError(t, err)
	return cap
}

func TestSubmitPersistsPendingChore(t *testing.T) {
	cap := newTestCaptain(t)

	id, err := cap.Submit(SubmitRequest{Script: "echo hi", Resources: types.Resources{CPUs: 1}, Owner: 7})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	ch, ok := chores[id]
	require.True(t, ok)
	assert.Equal(t, types.ChorePending, ch.Status)
	assert.Equal(t, 7, ch.Owner)
	assert.Equal(t, "no available sailor", ch.Reason)
}

func TestSubmitRejectsOverChoresLimit(t *testing.T) {
	cap := newTestCaptain(t)
	limit := 1
	require.NoError(t, cap.UpsertUser(7, "", "", &limit, ""))

	_, err := cap.Submit(SubmitRequest{Script: "a", Resources: types.Resources{CPUs: 1}, Owner: 7})
	require.NoError(t, err)

	_, err = cap.Submit(SubmitRequest{Script: "b", Resources: types.Resources{CPUs: 1}, Owner: 7})
	assert.ErrorIs(t, err, ErrChoresLimit)
}

func TestCancelUnassignedChoreIsImmediate(t *testing.T) {
	cap := newTestCaptain(t)
	id, err := cap.Submit(SubmitRequest{Script: "a", Resources: types.Resources{CPUs: 1}, Owner: 1})
	require.NoError(t, err)

	sailorName, alreadyTerminal, err := cap.Cancel(id, "")
	require.NoError(t, err)
	assert.False(t, alreadyTerminal)
	assert.Empty(t, sailorName)

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChoreCanceled, chores[id].Status)
	assert.Equal(t, "canceled by user", chores[id].Reason)
}

func TestCancelAssignedChoreMovesToCancelRequested(t *testing.T) {
	cap := newTestCaptain(t)
	id, err := cap.Submit(SubmitRequest{Script: "a", Resources: types.Resources{CPUs: 1}, Owner: 1})
	require.NoError(t, err)

	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		ch := m[id]
		ch.Status = types.ChoreRunning
		ch.Sailor = "sailor-1"
		m[id] = ch
		return m, nil
	}))

	sailorName, alreadyTerminal, err := cap.Cancel(id, "")
	require.NoError(t, err)
	assert.False(t, alreadyTerminal)
	assert.Equal(t, "sailor-1", sailorName)

	chores, err := cap.Chores.Read()
	require.NoError(t, err)
	assert.Equal(t, types.ChoreCancelRequested, chores[id].Status)
}

func TestCancelTerminalChoreIsNoop(t *testing.T) {
	cap := newTestCaptain(t)
	id, err := cap.Submit(SubmitRequest{Script: "a", Resources: types.Resources{CPUs: 1}, Owner: 1})
	require.NoError(t, err)

	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		ch := m[id]
		ch.Status = types.ChoreDone
		m[id] = ch
		return m, nil
	}))

	_, alreadyTerminal, err := cap.Cancel(id, "")
	require.NoError(t, err)
	assert.True(t, alreadyTerminal)
}

func TestActiveChoresByOwnerOrdersByT0(t *testing.T) {
	cap := newTestCaptain(t)

	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{ChoreID: "c1", Owner: 5, Status: types.ChoreRunning, RunStart: 200}
		m["c2"] = types.Chore{ChoreID: "c2", Owner: 5, Status: types.ChoreAssigned, AssignedAt: 100}
		m["c3"] = types.Chore{ChoreID: "c3", Owner: 9, Status: types.ChoreDone, End: 50}
		return m, nil
	}))

	byOwner, err := cap.ActiveChoresByOwner()
	require.NoError(t, err)
	require.Len(t, byOwner[5], 2)
	assert.Equal(t, "c2", byOwner[5][0].ChoreID)
	assert.Equal(t, "c1", byOwner[5][1].ChoreID)
	assert.NotContains(t, byOwner, 9)
}

type noopSailorClient struct{}

func (noopSailorClient) Launch(ctx context.Context, sailor types.Sailor, req types.LaunchRequest) error {
	return nil
}

func (noopSailorClient) Cancel(ctx context.Context, sailor types.Sailor, req types.CancelRequest) error {
	return nil
}
