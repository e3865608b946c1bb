package track

import (
	"errors"
	"math"
	"slices"
)

// ErrEmptyIndex is returned when querying an index built over no points
var ErrEmptyIndex = errors.New("nearest neighbor query on empty index")

// Neighbor is the result of a nearest neighbor query
type Neighbor struct {
	Index    int     // Position of the point in the input slice
	Point    Vec3    // The neighbor's coordinates
	Distance float64 // Euclidean distance to the query
}

// KDTree is a balanced k-d tree over 3D positions for nearest neighbor
// queries. It is read-only after BuildKDTree and safe for concurrent use.
//
// The tree is implicit: perm holds point indices arranged so that the node
// for the range [lo, hi) sits at its midpoint, with the left subtree in
// [lo, mid) and the right subtree in (mid, hi). axes[mid] is that node's
// splitting axis.
type KDTree struct {
	points []Vec3
	perm   []int
	axes   []uint8
}

// BuildKDTree builds a k-d tree over points. Splits are at the median,
// cycling x, y, z by depth. The slice is copied.
func BuildKDTree(points []Vec3) *KDTree {
	t := &KDTree{
		points: slices.Clone(points),
		perm:   make([]int, len(points)),
		axes:   make([]uint8, len(points)),
	}
	for i := range t.perm {
		t.perm[i] = i
	}
	t.build(0, len(t.perm), 0)
	return t
}

func (t *KDTree) build(lo, hi, depth int) {
	if hi-lo <= 0 {
		return
	}
	axis := depth % 3
	mid := lo + (hi-lo)/2

	// Sort by the split coordinate, ties by insertion index so the layout
	// depends only on the input order.
	slices.SortFunc(t.perm[lo:hi], func(a, b int) int {
		ca, cb := t.points[a].At(axis), t.points[b].At(axis)
		switch {
		case ca < cb:
			return -1
		case ca > cb:
			return 1
		}
		return a - b
	})
	t.axes[mid] = uint8(axis)

	t.build(lo, mid, depth+1)
	t.build(mid+1, hi, depth+1)
}

// Len returns the number of indexed points
func (t *KDTree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.points)
}

// Nearest returns the indexed point closest to q.
// Equidistant candidates resolve to the lowest insertion index.
func (t *KDTree) Nearest(q Vec3) (Neighbor, error) {
	idx, d2, err := t.nearestSq(q)
	if err != nil {
		return Neighbor{}, err
	}
	return Neighbor{Index: idx, Point: t.points[idx], Distance: math.Sqrt(d2)}, nil
}

// nearestSq is Nearest without the square root
func (t *KDTree) nearestSq(q Vec3) (int, float64, error) {
	if t.Len() == 0 {
		return -1, 0, ErrEmptyIndex
	}
	best := searchState{index: -1, dist2: math.Inf(1)}
	t.search(0, len(t.perm), q, &best)
	return best.index, best.dist2, nil
}

type searchState struct {
	index int
	dist2 float64
}

func (s *searchState) offer(index int, dist2 float64) {
	if dist2 < s.dist2 || (dist2 == s.dist2 && index < s.index) {
		s.index = index
		s.dist2 = dist2
	}
}

func (t *KDTree) search(lo, hi int, q Vec3, best *searchState) {
	if hi-lo <= 0 {
		return
	}
	mid := lo + (hi-lo)/2
	idx := t.perm[mid]
	p := t.points[idx]
	best.offer(idx, q.Dist2(p))

	axis := int(t.axes[mid])
	diff := q.At(axis) - p.At(axis)

	nearLo, nearHi, farLo, farHi := lo, mid, mid+1, hi
	if diff > 0 {
		nearLo, nearHi, farLo, farHi = mid+1, hi, lo, mid
	}
	t.search(nearLo, nearHi, q, best)

	// <= keeps exploring planes at exactly the best distance, so an
	// equidistant point with a lower index on the far side is still found.
	if diff*diff <= best.dist2 {
		t.search(farLo, farHi, q, best)
	}
}
