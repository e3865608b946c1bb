package track

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// CycleOutput is everything one registration cycle hands to the publisher
type CycleOutput struct {
	ID         uuid.UUID        `json:"id"`
	Sequence   uint64           `json:"sequence"`   // 1 for the first frame processed
	Previous   *Frame           `json:"-"`          // Frame registered from (nil on the first cycle)
	Current    *Frame           `json:"-"`          // Frame registered to
	Result     *AlignmentResult `json:"result,omitempty"`
	Error      AlignmentError   `json:"error"`
	Pose       *Pose            `json:"pose,omitempty"`
	Registered bool             `json:"registered"`
	SkipReason string           `json:"skipReason,omitempty"`
	ReceivedAt time.Time        `json:"receivedAt"`
}

// Registrar runs one registration cycle per incoming frame.
// It owns the frame buffer and is not safe for concurrent ProcessFrame
// calls: frames must be fed one at a time, in arrival order.
type Registrar struct {
	engine   *Engine
	buffer   *FrameBuffer
	sequence uint64
	now      func() time.Time
}

// RegistrarOption configures a Registrar
type RegistrarOption func(*Registrar)

// WithFrameBuffer supplies a pre-configured frame buffer (e.g. with a custom readiness check)
func WithFrameBuffer(b *FrameBuffer) RegistrarOption {
	return func(r *Registrar) {
		if b != nil {
			r.buffer = b
		}
	}
}

// WithClock overrides the time source used for ReceivedAt
func WithClock(now func() time.Time) RegistrarOption {
	return func(r *Registrar) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistrar creates a registrar with an empty frame buffer
func NewRegistrar(engine *Engine, opts ...RegistrarOption) *Registrar {
	r := &Registrar{
		engine: engine,
		buffer: NewFrameBuffer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Buffer exposes the registrar's frame buffer
func (r *Registrar) Buffer() *FrameBuffer {
	return r.buffer
}

// ProcessFrame runs one cycle: the frame buffer advances to frame, and if the
// previous frame is comparable it is aligned onto frame and scored.
//
// Skipped cycles (first frame, size mismatch) return Registered=false with a
// SkipReason and no error. An error is returned only when the alignment itself
// fails (cancellation, timeout); the buffer has advanced regardless.
func (r *Registrar) ProcessFrame(ctx context.Context, frame *Frame) (*CycleOutput, error) {
	if frame == nil {
		return nil, errors.New("process frame: nil frame")
	}
	r.sequence++
	out := &CycleOutput{
		ID:         uuid.New(),
		Sequence:   r.sequence,
		Current:    frame,
		ReceivedAt: r.now(),
	}

	prev, err := r.buffer.Update(frame)
	out.Previous = prev
	if err != nil {
		out.SkipReason = err.Error()
		if errors.Is(err, ErrFrameSizeMismatch) {
			log.Printf("[REGISTRAR] cycle %d skipped: %v", out.Sequence, err)
		}
		return out, nil
	}

	result, err := r.engine.Align(ctx, prev, frame)
	if err != nil {
		return out, fmt.Errorf("cycle %d: %w", out.Sequence, err)
	}
	out.Result = result
	out.Registered = true
	out.Error = Evaluate(frame, result.Aligned)
	out.Pose = PoseFromTransform(result.Transform, frame.FrameID, frame.Stamp)

	return out, nil
}

// PoseFromTransform expresses a rigid transform as position + orientation
func PoseFromTransform(t Transform, frameID string, stamp time.Time) *Pose {
	return &Pose{
		FrameID:     frameID,
		Stamp:       stamp,
		Position:    t.T,
		Orientation: t.Quaternion(),
	}
}
