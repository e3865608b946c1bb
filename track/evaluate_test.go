package track

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameAt(points ...Vec3) *Frame {
	f := &Frame{Points: make([]Point, len(points))}
	for i, p := range points {
		f.Points[i] = Point{X: p.X, Y: p.Y, Z: p.Z}
	}
	return f
}

func TestEvaluate_CentroidPercentError(t *testing.T) {
	// Target centroid (1, 2, 0), aligned centroid (1.1, 1.8, 0)
	target := frameAt(Vec3{0, 1, 0}, Vec3{2, 3, 0})
	aligned := frameAt(Vec3{0.1, 0.8, 0}, Vec3{2.1, 2.8, 0})

	e := Evaluate(target, aligned)

	x, err := e.X.Value()
	require.NoError(t, err)
	assert.InDelta(t, 10.0, x, 1e-9)

	y, err := e.Y.Value()
	require.NoError(t, err)
	assert.InDelta(t, 10.0, y, 1e-9)

	_, err = e.Z.Value()
	if !errors.Is(err, ErrUndefinedMetric) {
		t.Errorf("z error = %v, want ErrUndefinedMetric", err)
	}
	assert.False(t, e.Z.Defined)
}

func TestEvaluate_PerfectAlignment(t *testing.T) {
	f := frameAt(Vec3{1, 2, 3}, Vec3{3, 4, 5})
	e := Evaluate(f, f.Clone())
	for _, a := range []AxisError{e.X, e.Y, e.Z} {
		v, err := a.Value()
		require.NoError(t, err)
		assert.Equal(t, 0.0, v)
	}
}

func TestEvaluate_NegativeCentroid(t *testing.T) {
	e := Evaluate(frameAt(Vec3{-2, -4, -8}), frameAt(Vec3{-1, -5, -8}))
	assert.InDelta(t, 50.0, e.X.Percent, 1e-9)
	assert.InDelta(t, 25.0, e.Y.Percent, 1e-9)
	assert.InDelta(t, 0.0, e.Z.Percent, 1e-9)
}

func TestEvaluate_EmptyCloud(t *testing.T) {
	e := Evaluate(&Frame{}, frameAt(Vec3{1, 1, 1}))
	assert.False(t, e.X.Defined)
	assert.False(t, e.Y.Defined)
	assert.False(t, e.Z.Defined)

	e = Evaluate(frameAt(Vec3{1, 1, 1}), nil)
	assert.False(t, e.X.Defined)
}

func TestEvaluate_DoesNotModifyInputs(t *testing.T) {
	target := frameAt(Vec3{1, 2, 3})
	aligned := frameAt(Vec3{2, 2, 3})
	before := target.Clone()
	_ = Evaluate(target, aligned)
	assert.Equal(t, before, target)
}

func TestAlignmentError_String(t *testing.T) {
	e := AlignmentError{
		X: AxisError{Percent: 10, Defined: true},
		Y: AxisError{Percent: 2.5, Defined: true},
	}
	assert.Equal(t, "x_error: 10.000 percent, y_error: 2.500 percent, z_error: undefined", e.String())
}

func TestAxisError_JSON(t *testing.T) {
	e := AlignmentError{X: AxisError{Percent: 12.5, Defined: true}}

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x": 12.5, "y": "undefined", "z": "undefined"}`, string(data))

	var decoded AlignmentError
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, e, decoded)

	var bad AxisError
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &bad))
}
