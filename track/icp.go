package track

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"
)

// ICPConfig holds configuration for the ICP algorithm.
// Distances are in the units of the input clouds. The first four fields
// are required; there are no hidden defaults.
type ICPConfig struct {
	MaxCorrespondenceDistance float64       // Reject pairs farther apart than this (a huge value disables rejection)
	TransformationEpsilon     float64       // Converged when an incremental step's Magnitude() is below this
	FitnessEpsilon            float64       // Converged when the mean squared pair distance is below this
	MaxIterations             int           // Stop (not converged) after this many iterations
	Reciprocal                bool          // Keep only mutual nearest neighbor pairs
	Timeout                   time.Duration // Wall-clock bound for one alignment, 0 for none
}

// Validate checks that every required parameter is usable
func (c ICPConfig) Validate() error {
	if math.IsNaN(c.MaxCorrespondenceDistance) || c.MaxCorrespondenceDistance <= 0 {
		return fmt.Errorf("maxCorrespondenceDistance must be positive, got %v", c.MaxCorrespondenceDistance)
	}
	if math.IsNaN(c.TransformationEpsilon) || c.TransformationEpsilon < 0 {
		return fmt.Errorf("transformationEpsilon must be non-negative, got %v", c.TransformationEpsilon)
	}
	if math.IsNaN(c.FitnessEpsilon) || c.FitnessEpsilon < 0 {
		return fmt.Errorf("fitnessEpsilon must be non-negative, got %v", c.FitnessEpsilon)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("maxIterations must be positive, got %d", c.MaxIterations)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", c.Timeout)
	}
	return nil
}

// AlignmentResult contains the result of one ICP alignment
type AlignmentResult struct {
	Transform       Transform     `json:"transform"`       // Cumulative source->target transform
	Aligned         *Frame        `json:"-"`               // Source points moved into the target frame
	Fitness         float64       `json:"fitness"`         // Mean squared pair distance after the last step
	Iterations      int           `json:"iterations"`      // Number of iterations performed
	Converged       bool          `json:"converged"`       // Whether an epsilon criterion stopped the loop
	Degenerate      bool          `json:"degenerate"`      // Estimation ran out of correspondences
	Correspondences int           `json:"correspondences"` // Valid pairs in the final state
	FitnessHistory  []float64     `json:"-"`               // Fitness after each iteration
	Elapsed         time.Duration `json:"elapsed"`
}

// Engine runs point-to-point ICP with a fixed configuration
type Engine struct {
	config ICPConfig
}

// NewEngine validates cfg and returns an engine using it
func NewEngine(cfg ICPConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid icp config: %w", err)
	}
	return &Engine{config: cfg}, nil
}

// Config returns the engine's configuration
func (e *Engine) Config() ICPConfig {
	return e.config
}

// Align estimates the rigid transform moving source onto target.
//
// Each iteration matches every transformed source point to its nearest
// target point, estimates the best rigid step for those pairs, composes it
// into the cumulative transform and re-measures fitness. Running out of
// correspondences ends the loop with Degenerate set and Converged false.
// A cancelled context (or the configured Timeout) aborts between iterations.
func (e *Engine) Align(ctx context.Context, source, target *Frame) (*AlignmentResult, error) {
	if source == nil || target == nil {
		return nil, errors.New("align: nil frame")
	}
	start := time.Now()
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	sourcePoints := source.Positions()
	targetIndex := BuildKDTree(target.Positions())

	cumulative := Identity()
	current := cumulative.ApplyAll(sourcePoints)
	pairs := e.correspond(current, targetIndex)

	result := &AlignmentResult{
		FitnessHistory: make([]float64, 0, e.config.MaxIterations),
	}

	for iter := 1; iter <= e.config.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("icp aborted after %d iterations: %w", iter-1, err)
		}
		result.Iterations = iter

		increment, err := EstimateRigidTransform(pairs.source, pairs.target)
		if errors.Is(err, ErrInsufficientCorrespondences) {
			// The step is the identity; nothing will change on later
			// iterations, so stop here without claiming convergence.
			log.Printf("[ICP] Warning: iteration %d: %v, step treated as identity", iter, err)
			result.Degenerate = true
			result.FitnessHistory = append(result.FitnessHistory, pairs.fitness())
			break
		}
		if err != nil {
			return nil, fmt.Errorf("estimating transform at iteration %d: %w", iter, err)
		}

		// new = increment * cumulative, always applied to the input source points
		cumulative = Compose(increment, cumulative)
		current = cumulative.ApplyAll(sourcePoints)
		pairs = e.correspond(current, targetIndex)

		fitness := pairs.fitness()
		result.FitnessHistory = append(result.FitnessHistory, fitness)

		if increment.Magnitude() < e.config.TransformationEpsilon || fitness < e.config.FitnessEpsilon {
			result.Converged = true
			break
		}
	}

	result.Transform = cumulative
	result.Aligned = cumulative.ApplyFrame(source)
	result.Aligned.FrameID = target.FrameID
	result.Fitness = pairs.fitness()
	result.Correspondences = len(pairs.source)
	result.Elapsed = time.Since(start)

	log.Printf("[ICP] %d iterations, fitness=%.6g, pairs=%d/%d, converged=%v (%v)",
		result.Iterations, result.Fitness, result.Correspondences, len(sourcePoints),
		result.Converged, result.Elapsed.Round(time.Microsecond))

	return result, nil
}

// correspondences holds matched pairs and their summed squared distance
type correspondences struct {
	source []Vec3
	target []Vec3
	sumSq  float64
}

// fitness is the mean squared pair distance, or MaxFloat64 with no pairs
func (c correspondences) fitness() float64 {
	if len(c.source) == 0 {
		return math.MaxFloat64
	}
	return c.sumSq / float64(len(c.source))
}

// correspond pairs each source point with its nearest target point,
// dropping pairs beyond the correspondence distance. Empty-index queries
// yield no pair.
func (e *Engine) correspond(source []Vec3, target *KDTree) correspondences {
	maxDist2 := e.config.MaxCorrespondenceDistance * e.config.MaxCorrespondenceDistance

	var sourceIndex *KDTree
	if e.config.Reciprocal {
		sourceIndex = BuildKDTree(source)
	}

	out := correspondences{
		source: make([]Vec3, 0, len(source)),
		target: make([]Vec3, 0, len(source)),
	}
	for i, sp := range source {
		ti, d2, err := target.nearestSq(sp)
		if err != nil || d2 > maxDist2 {
			continue
		}
		tp := target.points[ti]
		if sourceIndex != nil {
			back, _, err := sourceIndex.nearestSq(tp)
			if err != nil || back != i {
				continue
			}
		}
		out.source = append(out.source, sp)
		out.target = append(out.target, tp)
		out.sumSq += d2
	}
	return out
}
