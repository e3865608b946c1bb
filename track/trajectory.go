package track

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// TrajectoryPoint is the tracked object position after one registered cycle
type TrajectoryPoint struct {
	Sequence uint64    `json:"sequence"`
	CycleID  uuid.UUID `json:"cycleId"`
	Stamp    time.Time `json:"stamp"`
	Position Vec3      `json:"position"`
	Fitness  float64   `json:"fitness"`
}

// Trajectory chains per-cycle transforms into the object's path.
// The path starts at the centroid of the first registered source frame,
// and each registered cycle moves it by that cycle's transform.
// Not safe for concurrent use; StateTracker guards it.
type Trajectory struct {
	Origin     Vec3              `json:"origin"`
	Cumulative Transform         `json:"cumulative"`
	Points     []TrajectoryPoint `json:"points"`
	started    bool
}

// NewTrajectory creates an empty trajectory
func NewTrajectory() *Trajectory {
	return &Trajectory{Cumulative: Identity(), Points: []TrajectoryPoint{}}
}

// Add extends the trajectory with a registered cycle.
// Returns false for skipped cycles, which leave the path unchanged.
func (t *Trajectory) Add(out *CycleOutput) bool {
	if out == nil || !out.Registered || out.Result == nil {
		return false
	}

	if !t.started {
		origin, ok := Centroid(out.Previous.Positions())
		if !ok {
			return false
		}
		t.Origin = origin
		t.started = true
		start := TrajectoryPoint{Sequence: out.Sequence - 1, Position: origin}
		if out.Previous != nil {
			start.Stamp = out.Previous.Stamp
		}
		t.Points = append(t.Points, start)
	}

	t.Cumulative = Compose(out.Result.Transform, t.Cumulative)
	t.Points = append(t.Points, TrajectoryPoint{
		Sequence: out.Sequence,
		CycleID:  out.ID,
		Stamp:    out.Current.Stamp,
		Position: t.Cumulative.Apply(t.Origin),
		Fitness:  out.Result.Fitness,
	})
	return true
}

// Len returns the number of points on the path
func (t *Trajectory) Len() int {
	return len(t.Points)
}

// LineString projects the path onto the XY plane
func (t *Trajectory) LineString() orb.LineString {
	ls := make(orb.LineString, len(t.Points))
	for i, p := range t.Points {
		ls[i] = orb.Point{p.Position.X, p.Position.Y}
	}
	return ls
}

// Length returns the planar length of the path
func (t *Trajectory) Length() float64 {
	if len(t.Points) < 2 {
		return 0
	}
	return planar.Length(t.LineString())
}

// FeatureCollection renders the path as GeoJSON: one LineString feature for
// the whole path followed by one Point feature per cycle. Z is carried in
// the properties since GeoJSON positions here are planar.
func (t *Trajectory) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	if len(t.Points) >= 2 {
		line := geojson.NewFeature(t.LineString())
		line.Properties["kind"] = "trajectory"
		line.Properties["length"] = t.Length()
		line.Properties["points"] = len(t.Points)
		fc.Append(line)
	}

	for _, p := range t.Points {
		f := geojson.NewFeature(orb.Point{p.Position.X, p.Position.Y})
		f.Properties["kind"] = "pose"
		f.Properties["sequence"] = p.Sequence
		f.Properties["z"] = p.Position.Z
		if p.CycleID != uuid.Nil {
			f.Properties["cycleId"] = p.CycleID.String()
			f.Properties["fitness"] = p.Fitness
		}
		if !p.Stamp.IsZero() {
			f.Properties["stamp"] = p.Stamp.Format(time.RFC3339Nano)
		}
		fc.Append(f)
	}
	return fc
}

func (t *Trajectory) clone() *Trajectory {
	c := *t
	c.Points = make([]TrajectoryPoint, len(t.Points))
	copy(c.Points, t.Points)
	return &c
}

// SaveTrajectory writes a trajectory to disk as JSON
func SaveTrajectory(t *Trajectory, path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trajectory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trajectory cache: %w", err)
	}
	return nil
}

// LoadTrajectory reads a trajectory saved by SaveTrajectory
func LoadTrajectory(path string) (*Trajectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trajectory cache: %w", err)
	}
	t := NewTrajectory()
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("unmarshal trajectory cache: %w", err)
	}
	if t.Points == nil {
		t.Points = []TrajectoryPoint{}
	}
	t.started = len(t.Points) > 0
	return t, nil
}
