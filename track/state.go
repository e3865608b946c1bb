package track

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
)

// CycleSummary is the latest cycle as reported over HTTP
type CycleSummary struct {
	ID              uuid.UUID      `json:"id"`
	Sequence        uint64         `json:"sequence"`
	Registered      bool           `json:"registered"`
	SkipReason      string         `json:"skipReason,omitempty"`
	Points          int            `json:"points"`
	Fitness         float64        `json:"fitness,omitempty"`
	Iterations      int            `json:"iterations,omitempty"`
	Converged       bool           `json:"converged"`
	Degenerate      bool           `json:"degenerate,omitempty"`
	Correspondences int            `json:"correspondences,omitempty"`
	Error           AlignmentError `json:"error"`
	Pose            *Pose          `json:"pose,omitempty"`
	ReceivedAt      time.Time      `json:"receivedAt"`
}

// Counters tracks how cycles ended
type Counters struct {
	Processed    uint64 `json:"processed"`
	Registered   uint64 `json:"registered"`
	Skipped      uint64 `json:"skipped"`
	Failed       uint64 `json:"failed"`
	DecodeErrors uint64 `json:"decodeErrors"`
}

// StateTracker records cycle outcomes for the HTTP endpoints.
// It implements CycleSink so the service can publish to it directly.
type StateTracker struct {
	mu         sync.RWMutex
	latest     *CycleSummary
	counters   Counters
	lastError  string
	trajectory *Trajectory
	cachePath  string // path to the trajectory cache file; empty disables persistence
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{trajectory: NewTrajectory()}
}

// NewStateTrackerWithCache creates a state tracker that persists the
// trajectory to cachePath. An existing cache is loaded on creation.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := &StateTracker{trajectory: NewTrajectory(), cachePath: cachePath}
	if cachePath != "" {
		if t, err := LoadTrajectory(cachePath); err == nil {
			st.trajectory = t
		}
	}
	return st
}

// PublishCycle records a finished cycle
func (st *StateTracker) PublishCycle(out *CycleOutput) error {
	if out == nil {
		return nil
	}

	summary := &CycleSummary{
		ID:         out.ID,
		Sequence:   out.Sequence,
		Registered: out.Registered,
		SkipReason: out.SkipReason,
		Points:     out.Current.Len(),
		Error:      out.Error,
		Pose:       out.Pose,
		ReceivedAt: out.ReceivedAt,
	}
	if r := out.Result; r != nil {
		summary.Fitness = r.Fitness
		summary.Iterations = r.Iterations
		summary.Converged = r.Converged
		summary.Degenerate = r.Degenerate
		summary.Correspondences = r.Correspondences
	}

	st.mu.Lock()
	st.latest = summary
	st.counters.Processed++
	var snapshot *Trajectory
	if out.Registered {
		st.counters.Registered++
		if st.trajectory.Add(out) && st.cachePath != "" {
			snapshot = st.trajectory.clone()
		}
	} else {
		st.counters.Skipped++
	}
	cachePath := st.cachePath
	st.mu.Unlock()

	if snapshot != nil {
		if err := SaveTrajectory(snapshot, cachePath); err != nil {
			log.Printf("warning: failed to save trajectory cache: %v", err)
		}
	}
	return nil
}

// RecordFailure counts a cycle whose alignment returned an error
func (st *StateTracker) RecordFailure(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.counters.Processed++
	st.counters.Failed++
	if err != nil {
		st.lastError = err.Error()
	}
}

// RecordDecodeError counts an input message that could not be decoded
func (st *StateTracker) RecordDecodeError(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.counters.DecodeErrors++
	if err != nil {
		st.lastError = err.Error()
	}
}

// Latest returns a copy of the most recent cycle summary
func (st *StateTracker) Latest() (*CycleSummary, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.latest == nil {
		return nil, false
	}
	s := *st.latest
	return &s, true
}

// Counters returns the cycle counters
func (st *StateTracker) Counters() Counters {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.counters
}

// LastError returns the most recent failure message, if any
func (st *StateTracker) LastError() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.lastError
}

// HasTrajectory returns true once at least one cycle has been registered
func (st *StateTracker) HasTrajectory() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.trajectory.Len() > 0
}

// TrajectoryLength returns the planar length of the tracked path
func (st *StateTracker) TrajectoryLength() float64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.trajectory.Length()
}

// TrajectoryGeoJSON renders the tracked path as a GeoJSON feature collection
func (st *StateTracker) TrajectoryGeoJSON() *geojson.FeatureCollection {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.trajectory.FeatureCollection()
}
