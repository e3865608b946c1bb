package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrUndefinedMetric is returned when relative error has a zero denominator
var ErrUndefinedMetric = errors.New("undefined metric: target centroid is zero on this axis")

// AxisError is the relative centroid error on one axis, as a percentage.
// Defined is false when the target centroid on that axis is exactly zero
// (or a cloud is empty) and the ratio has no meaning.
type AxisError struct {
	Percent float64
	Defined bool
}

// Value returns the percentage, or ErrUndefinedMetric
func (a AxisError) Value() (float64, error) {
	if !a.Defined {
		return 0, ErrUndefinedMetric
	}
	return a.Percent, nil
}

// String formats the error as "12.345 percent" or "undefined"
func (a AxisError) String() string {
	if !a.Defined {
		return "undefined"
	}
	return fmt.Sprintf("%.3f percent", a.Percent)
}

// MarshalJSON encodes a defined axis as a number and an undefined one as "undefined"
func (a AxisError) MarshalJSON() ([]byte, error) {
	if !a.Defined {
		return json.Marshal("undefined")
	}
	return json.Marshal(a.Percent)
}

// UnmarshalJSON accepts either a number or the string "undefined"
func (a *AxisError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "undefined" {
			return fmt.Errorf("invalid axis error %q", s)
		}
		*a = AxisError{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decoding axis error: %w", err)
	}
	*a = AxisError{Percent: v, Defined: true}
	return nil
}

// AlignmentError holds the per-axis centroid error between a target
// cloud and the aligned cloud
type AlignmentError struct {
	X AxisError `json:"x"`
	Y AxisError `json:"y"`
	Z AxisError `json:"z"`
}

// String matches the console line printed after every cycle
func (e AlignmentError) String() string {
	return fmt.Sprintf("x_error: %s, y_error: %s, z_error: %s", e.X, e.Y, e.Z)
}

// Evaluate compares the centroids of target and aligned.
// Per axis: |target - aligned| / |target| * 100. Neither cloud is modified.
func Evaluate(target, aligned *Frame) AlignmentError {
	tc, okT := Centroid(target.Positions())
	ac, okA := Centroid(aligned.Positions())
	if !okT || !okA {
		return AlignmentError{}
	}
	return AlignmentError{
		X: relativeError(tc.X, ac.X),
		Y: relativeError(tc.Y, ac.Y),
		Z: relativeError(tc.Z, ac.Z),
	}
}

func relativeError(target, aligned float64) AxisError {
	if target == 0 {
		return AxisError{}
	}
	return AxisError{Percent: math.Abs((target-aligned)/target) * 100, Defined: true}
}
