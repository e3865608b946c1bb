package track

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistrar(t *testing.T, opts ...RegistrarOption) *Registrar {
	t.Helper()
	return NewRegistrar(newTestEngine(t, testICPConfig()), opts...)
}

func TestRegistrar_FirstFrameSkipped(t *testing.T) {
	r := newTestRegistrar(t)
	rng := rand.New(rand.NewSource(1))

	out, err := r.ProcessFrame(context.Background(), createRandomFrame(50, 10, rng))
	require.NoError(t, err)
	assert.False(t, out.Registered)
	assert.Equal(t, uint64(1), out.Sequence)
	assert.Equal(t, ErrNoPreviousFrame.Error(), out.SkipReason)
	assert.Nil(t, out.Result)
	assert.Nil(t, out.Pose)
	assert.NotEqual(t, uuid.Nil, out.ID)
}

func TestRegistrar_RegistersConsecutiveFrames(t *testing.T) {
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := newTestRegistrar(t, WithClock(func() time.Time { return stamp }))
	rng := rand.New(rand.NewSource(11))

	first := createRandomFrame(200, 10, rng)
	second := Translation(0.1, 0, 0).ApplyFrame(first)
	second.Stamp = stamp

	_, err := r.ProcessFrame(context.Background(), first)
	require.NoError(t, err)

	out, err := r.ProcessFrame(context.Background(), second)
	require.NoError(t, err)
	require.True(t, out.Registered)
	assert.Equal(t, uint64(2), out.Sequence)
	assert.Equal(t, stamp, out.ReceivedAt)
	assert.Same(t, second, out.Current)
	assert.Equal(t, first, out.Previous)

	assertTransformNear(t, Translation(0.1, 0, 0), out.Result.Transform, 1e-6)

	// A recovered motion leaves only rounding in the centroid error
	for _, a := range []AxisError{out.Error.X, out.Error.Y, out.Error.Z} {
		require.True(t, a.Defined)
		assert.Less(t, a.Percent, 1e-6)
	}

	require.NotNil(t, out.Pose)
	assert.Equal(t, stamp, out.Pose.Stamp)
	assert.InDelta(t, 0.1, out.Pose.Position.X, 1e-6)
	assert.InDelta(t, 1.0, out.Pose.Orientation.W, 1e-9)
}

func TestRegistrar_SkipsOnSizeMismatch(t *testing.T) {
	r := newTestRegistrar(t)

	_, err := r.ProcessFrame(context.Background(), frameOfSize(100))
	require.NoError(t, err)

	out, err := r.ProcessFrame(context.Background(), frameOfSize(101))
	require.NoError(t, err)
	assert.False(t, out.Registered)
	assert.Contains(t, out.SkipReason, "frame size mismatch")

	// The 101-point frame became the new previous frame
	assert.Equal(t, 101, r.Buffer().Previous().Len())
}

func TestRegistrar_UniqueCycleIDs(t *testing.T) {
	r := newTestRegistrar(t)
	seen := map[uuid.UUID]bool{}
	for i := 0; i < 5; i++ {
		out, err := r.ProcessFrame(context.Background(), frameOfSize(4))
		require.NoError(t, err)
		assert.False(t, seen[out.ID])
		seen[out.ID] = true
	}
}

func TestRegistrar_CancelledAlignment(t *testing.T) {
	r := newTestRegistrar(t)
	_, _ = r.ProcessFrame(context.Background(), frameOfSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := r.ProcessFrame(ctx, frameOfSize(10))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, out)
	assert.False(t, out.Registered)
	assert.Equal(t, 10, r.Buffer().Previous().Len())
}

func TestRegistrar_NilFrame(t *testing.T) {
	r := newTestRegistrar(t)
	_, err := r.ProcessFrame(context.Background(), nil)
	assert.Error(t, err)
}

func TestPoseFromTransform(t *testing.T) {
	stamp := time.Unix(100, 0)
	tr := Compose(Translation(1, 2, 3), RotationAxisAngle(Vec3{0, 0, 1}, 0.5))
	pose := PoseFromTransform(tr, "/camera_link", stamp)

	assert.Equal(t, "/camera_link", pose.FrameID)
	assert.Equal(t, Vec3{1, 2, 3}, pose.Position)
	assert.InDelta(t, 0.0, pose.Orientation.X, 1e-12)
	assert.InDelta(t, 0.0, pose.Orientation.Y, 1e-12)
	assert.InDelta(t, 0.9689124217, pose.Orientation.W, 1e-9)
}
