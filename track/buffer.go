package track

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoPreviousFrame is returned by the first Update on an empty buffer
	ErrNoPreviousFrame = errors.New("no previous frame")

	// ErrFrameSizeMismatch is returned when consecutive frames differ in point count
	ErrFrameSizeMismatch = errors.New("frame size mismatch")
)

// ReadinessCheck decides whether prev and next can be registered.
// A nil error means ready.
type ReadinessCheck func(prev, next *Frame) error

// PointCountReadiness requires both frames to hold the same number of points
func PointCountReadiness(prev, next *Frame) error {
	if prev.Len() != next.Len() {
		return fmt.Errorf("%w: previous has %d points, current has %d", ErrFrameSizeMismatch, prev.Len(), next.Len())
	}
	return nil
}

// FrameBuffer holds the single previous frame between registration cycles
type FrameBuffer struct {
	mu       sync.RWMutex
	previous *Frame
	ready    ReadinessCheck
}

// FrameBufferOption configures a FrameBuffer
type FrameBufferOption func(*FrameBuffer)

// WithReadinessCheck replaces the default point-count readiness rule
func WithReadinessCheck(check ReadinessCheck) FrameBufferOption {
	return func(b *FrameBuffer) {
		if check != nil {
			b.ready = check
		}
	}
}

// NewFrameBuffer creates an empty frame buffer
func NewFrameBuffer(opts ...FrameBufferOption) *FrameBuffer {
	b := &FrameBuffer{ready: PointCountReadiness}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Update stores next as the previous frame and returns the frame it replaced.
// The returned error is nil when prev and next are ready to register:
//   - ErrNoPreviousFrame on the first call (prev is nil)
//   - ErrFrameSizeMismatch (or the custom check's error) when not comparable
//
// The stored frame is overwritten in every case.
func (b *FrameBuffer) Update(next *Frame) (*Frame, error) {
	stored := next.Clone()

	b.mu.Lock()
	prev := b.previous
	b.previous = stored
	b.mu.Unlock()

	if prev == nil {
		return nil, ErrNoPreviousFrame
	}
	if err := b.ready(prev, next); err != nil {
		return prev, err
	}
	return prev, nil
}

// Previous returns a copy of the stored frame, or nil if the buffer is empty
func (b *FrameBuffer) Previous() *Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.previous.Clone()
}

// Reset empties the buffer
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.previous = nil
}
