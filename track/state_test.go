package track

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTracker_Empty(t *testing.T) {
	st := NewStateTracker()
	_, ok := st.Latest()
	assert.False(t, ok)
	assert.False(t, st.HasTrajectory())
	assert.Equal(t, Counters{}, st.Counters())
	assert.Empty(t, st.TrajectoryGeoJSON().Features)
}

func TestStateTracker_RecordsCycles(t *testing.T) {
	st := NewStateTracker()

	require.NoError(t, st.PublishCycle(&CycleOutput{Sequence: 1, SkipReason: ErrNoPreviousFrame.Error()}))
	latest, ok := st.Latest()
	require.True(t, ok)
	assert.False(t, latest.Registered)
	assert.Equal(t, ErrNoPreviousFrame.Error(), latest.SkipReason)

	out := registeredCycle(t)
	require.NoError(t, st.PublishCycle(out))

	latest, ok = st.Latest()
	require.True(t, ok)
	assert.True(t, latest.Registered)
	assert.Equal(t, out.ID, latest.ID)
	assert.Equal(t, out.Result.Iterations, latest.Iterations)
	assert.Equal(t, 120, latest.Points)
	assert.Equal(t, out.Error, latest.Error)

	st.RecordFailure(errors.New("icp aborted"))
	st.RecordDecodeError(errors.New("bad payload"))

	assert.Equal(t, Counters{
		Processed:    3,
		Registered:   1,
		Skipped:      1,
		Failed:       1,
		DecodeErrors: 1,
	}, st.Counters())
	assert.Equal(t, "bad payload", st.LastError())
	assert.True(t, st.HasTrajectory())
	assert.InDelta(t, 0.05, st.TrajectoryLength(), 1e-6)
}

func TestStateTracker_LatestIsCopy(t *testing.T) {
	st := NewStateTracker()
	require.NoError(t, st.PublishCycle(&CycleOutput{Sequence: 1}))

	latest, _ := st.Latest()
	latest.Sequence = 99

	again, _ := st.Latest()
	assert.Equal(t, uint64(1), again.Sequence)
}

func TestStateTracker_PersistsTrajectory(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "cache", "trajectory.json")

	st := NewStateTrackerWithCache(cachePath)
	require.NoError(t, st.PublishCycle(registeredCycle(t)))
	require.True(t, st.HasTrajectory())

	reloaded := NewStateTrackerWithCache(cachePath)
	assert.True(t, reloaded.HasTrajectory())
	assert.InDelta(t, st.TrajectoryLength(), reloaded.TrajectoryLength(), 1e-12)

	// A missing cache starts empty
	fresh := NewStateTrackerWithCache(filepath.Join(t.TempDir(), "none.json"))
	assert.False(t, fresh.HasTrajectory())
}
