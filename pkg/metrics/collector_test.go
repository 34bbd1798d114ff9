package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/captain/pkg/captain"
	"github.com/cuemby/captain/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type nopSailorClient struct{}

func (nopSailorClient) Launch(ctx context.Context, sailor types.Sailor, req types.LaunchRequest) error {
	return nil
}

func (nopSailorClient) Cancel(ctx context.Context, sailor types.Sailor, req types.CancelRequest) error {
	return nil
}

func TestCollectSnapshotsSailorAndChoreGauges(t *testing.T) {
	cap, err := captain.New(captain.DefaultConfig(t.TempDir()), &captain.StaticAuthenticator{}, nopSailorClient{})
	require.NoError(t, err)

	require.NoError(t, cap.Prereg("sailor-1", "10.0.0.1", nil, ""))
	require.NoError(t, cap.Register("sailor-1", "10.0.0.1", 9000, 4, nil, 1<<30))
	require.NoError(t, cap.Chores.Update(func(m map[string]types.Chore) (map[string]types.Chore, error) {
		m["c1"] = types.Chore{ChoreID: "c1", Sailor: "sailor-1", Status: types.ChoreRunning}
		m["c2"] = types.Chore{ChoreID: "c2", Status: types.ChoreDone, End: time.Now().Unix()}
		return m, nil
	}))

	c := NewCollector(cap)
	c.collect()

	require.Equal(t, float64(1), testutil.ToFloat64(CrewActiveChores.WithLabelValues("sailor-1")))
	require.Equal(t, float64(1), testutil.ToFloat64(ChoresTotal.WithLabelValues(string(types.ChoreRunning))))
	require.Equal(t, float64(1), testutil.ToFloat64(ChoresTotal.WithLabelValues(string(types.ChoreDone))))
	require.Equal(t, float64(0), testutil.ToFloat64(SailorUsedCPUs.WithLabelValues("sailor-1")))
}
