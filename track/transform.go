package track

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MinCorrespondences is the smallest number of point pairs that
// determines a rigid transform in 3D.
const MinCorrespondences = 3

var (
	// ErrInsufficientCorrespondences is returned when fewer than
	// MinCorrespondences valid pairs are available for estimation.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")

	// errSVDFailed is returned when the cross-covariance factorization fails
	errSVDFailed = errors.New("svd factorization failed")
)

// Transform is a rigid-body transform: p' = R*p + T.
// R is kept orthonormal with det(R) = +1.
type Transform struct {
	R [3][3]float64 `json:"rotation"`
	T Vec3          `json:"translation"`
}

// Identity returns the identity transform (no motion)
func Identity() Transform {
	return Transform{R: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// Translation creates a translation-only transform
func Translation(x, y, z float64) Transform {
	t := Identity()
	t.T = Vec3{X: x, Y: y, Z: z}
	return t
}

// RotationAxisAngle creates a rotation of angle radians around axis (through the origin).
// A zero axis yields the identity.
func RotationAxisAngle(axis Vec3, angle float64) Transform {
	n := axis.Norm()
	if n < 1e-12 {
		return Identity()
	}
	k := axis.Scale(1 / n)
	c := math.Cos(angle)
	s := math.Sin(angle)
	v := 1 - c

	// Rodrigues' rotation formula
	return Transform{R: [3][3]float64{
		{c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s},
		{k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s},
		{k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v},
	}}
}

// Apply transforms a single position
func (t Transform) Apply(p Vec3) Vec3 {
	return Vec3{
		X: t.R[0][0]*p.X + t.R[0][1]*p.Y + t.R[0][2]*p.Z + t.T.X,
		Y: t.R[1][0]*p.X + t.R[1][1]*p.Y + t.R[1][2]*p.Z + t.T.Y,
		Z: t.R[2][0]*p.X + t.R[2][1]*p.Y + t.R[2][2]*p.Z + t.T.Z,
	}
}

// ApplyAll transforms every position into a new slice
func (t Transform) ApplyAll(points []Vec3) []Vec3 {
	out := make([]Vec3, len(points))
	for i, p := range points {
		out[i] = t.Apply(p)
	}
	return out
}

// ApplyFrame returns a copy of f with every point transformed.
// Colors, order and the frame label are preserved.
func (t Transform) ApplyFrame(f *Frame) *Frame {
	if f == nil {
		return nil
	}
	out := &Frame{FrameID: f.FrameID, Stamp: f.Stamp, Points: make([]Point, len(f.Points))}
	for i, p := range f.Points {
		out.Points[i] = p.WithPosition(t.Apply(p.Position()))
	}
	return out
}

// Compose returns the transform equivalent to applying b first, then a
func Compose(a, b Transform) Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.R[i][j] = a.R[i][0]*b.R[0][j] + a.R[i][1]*b.R[1][j] + a.R[i][2]*b.R[2][j]
		}
	}
	out.T = a.Apply(b.T)
	return out
}

// Inverse returns the inverse rigid transform (R^T, -R^T*T)
func (t Transform) Inverse() Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.R[i][j] = t.R[j][i]
		}
	}
	rt := Transform{R: out.R}.Apply(t.T)
	out.T = rt.Scale(-1)
	return out
}

// Matrix returns the 4x4 homogeneous matrix in row-major order
func (t Transform) Matrix() [16]float64 {
	return [16]float64{
		t.R[0][0], t.R[0][1], t.R[0][2], t.T.X,
		t.R[1][0], t.R[1][1], t.R[1][2], t.T.Y,
		t.R[2][0], t.R[2][1], t.R[2][2], t.T.Z,
		0, 0, 0, 1,
	}
}

// RotationAngle returns the rotation angle of R in radians, in [0, pi]
func (t Transform) RotationAngle() float64 {
	c := (t.R[0][0] + t.R[1][1] + t.R[2][2] - 1) / 2
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c)
}

// Magnitude measures how far t is from the identity: |T|^2 + angle^2.
// ICP compares the magnitude of each incremental step against
// the transformation epsilon.
func (t Transform) Magnitude() float64 {
	a := t.RotationAngle()
	return t.T.Dot(t.T) + a*a
}

// Determinant returns det(R)
func (t Transform) Determinant() float64 {
	r := t.R
	return r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
}

// IsRigid reports whether R is orthonormal with det = +1 within tol
func (t Transform) IsRigid(tol float64) bool {
	if math.Abs(t.Determinant()-1) > tol {
		return false
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dot := t.R[i][0]*t.R[j][0] + t.R[i][1]*t.R[j][1] + t.R[i][2]*t.R[j][2]
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	return true
}

// Quaternion converts R into a unit quaternion with W >= 0
func (t Transform) Quaternion() Quaternion {
	r := t.R
	trace := r[0][0] + r[1][1] + r[2][2]
	var q Quaternion
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = Quaternion{
			W: 0.25 / s,
			X: (r[2][1] - r[1][2]) * s,
			Y: (r[0][2] - r[2][0]) * s,
			Z: (r[1][0] - r[0][1]) * s,
		}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := 2 * math.Sqrt(1+r[0][0]-r[1][1]-r[2][2])
		q = Quaternion{
			W: (r[2][1] - r[1][2]) / s,
			X: 0.25 * s,
			Y: (r[0][1] + r[1][0]) / s,
			Z: (r[0][2] + r[2][0]) / s,
		}
	case r[1][1] > r[2][2]:
		s := 2 * math.Sqrt(1+r[1][1]-r[0][0]-r[2][2])
		q = Quaternion{
			W: (r[0][2] - r[2][0]) / s,
			X: (r[0][1] + r[1][0]) / s,
			Y: 0.25 * s,
			Z: (r[1][2] + r[2][1]) / s,
		}
	default:
		s := 2 * math.Sqrt(1+r[2][2]-r[0][0]-r[1][1])
		q = Quaternion{
			W: (r[1][0] - r[0][1]) / s,
			X: (r[0][2] + r[2][0]) / s,
			Y: (r[1][2] + r[2][1]) / s,
			Z: 0.25 * s,
		}
	}
	if q.W < 0 {
		q = Quaternion{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
	}
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Centroid calculates the center of mass of a set of points.
// ok is false for an empty set.
func Centroid(points []Vec3) (c Vec3, ok bool) {
	if len(points) == 0 {
		return Vec3{}, false
	}
	var sum Vec3
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Scale(1 / float64(len(points))), true
}

// EstimateRigidTransform computes the rigid transform minimizing the sum of
// squared distances between R*source[i]+T and target[i] (Kabsch).
// Both sets are centered, the 3x3 cross-covariance is factorized with an SVD,
// and a reflection is corrected so that det(R) = +1.
func EstimateRigidTransform(source, target []Vec3) (Transform, error) {
	if len(source) != len(target) {
		return Identity(), fmt.Errorf("correspondence sets differ in size: %d source, %d target", len(source), len(target))
	}
	if len(source) < MinCorrespondences {
		return Identity(), fmt.Errorf("%w: have %d, need %d", ErrInsufficientCorrespondences, len(source), MinCorrespondences)
	}

	srcCentroid, _ := Centroid(source)
	tgtCentroid, _ := Centroid(target)

	// H = sum((s - cs) * (t - ct)^T)
	var h [9]float64
	for i := range source {
		s := source[i].Sub(srcCentroid)
		t := target[i].Sub(tgtCentroid)
		h[0] += s.X * t.X
		h[1] += s.X * t.Y
		h[2] += s.X * t.Z
		h[3] += s.Y * t.X
		h[4] += s.Y * t.Y
		h[5] += s.Y * t.Z
		h[6] += s.Z * t.X
		h[7] += s.Z * t.Y
		h[8] += s.Z * t.Z
	}

	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(3, 3, h[:]), mat.SVDFull) {
		return Identity(), errSVDFailed
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * U^T, flipping the weakest axis if that produced a reflection
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.R[i][j] = r.At(i, j)
		}
	}
	rotated := Transform{R: out.R}.Apply(srcCentroid)
	out.T = tgtCentroid.Sub(rotated)
	return out, nil
}
