package main

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/kwv/cloudtrack/track"
)

var errPipelineClosed = errors.New("pipeline closed")

// cyclePipeline feeds frames to the registrar one at a time, in arrival order.
// Submit blocks while the queue is full; frames are never dropped.
type cyclePipeline struct {
	registrar *track.Registrar
	sink      track.CycleSink
	state     *track.StateTracker
	frames    chan *track.Frame

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newCyclePipeline(registrar *track.Registrar, sink track.CycleSink, state *track.StateTracker, queueSize int) *cyclePipeline {
	if queueSize < 1 {
		queueSize = 1
	}
	return &cyclePipeline{
		registrar: registrar,
		sink:      sink,
		state:     state,
		frames:    make(chan *track.Frame, queueSize),
		done:      make(chan struct{}),
	}
}

// Submit enqueues a frame, waiting for room or for ctx to end
func (p *cyclePipeline) Submit(ctx context.Context, frame *track.Frame) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPipelineClosed
	}
	select {
	case p.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting frames. Run drains what is queued and returns.
func (p *cyclePipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.frames)
	}
}

// Done is closed once Run has processed every queued frame
func (p *cyclePipeline) Done() <-chan struct{} {
	return p.done
}

// Run processes frames until Close. Alignment honors ctx.
// The service passes a context that outlives shutdown so queued frames still register.
func (p *cyclePipeline) Run(ctx context.Context) {
	defer close(p.done)
	for frame := range p.frames {
		p.process(ctx, frame)
	}
}

func (p *cyclePipeline) process(ctx context.Context, frame *track.Frame) {
	out, err := p.registrar.ProcessFrame(ctx, frame)
	if err != nil {
		log.Printf("[PIPELINE] %v", err)
		if p.state != nil {
			p.state.RecordFailure(err)
		}
		return
	}
	if p.sink != nil {
		if err := p.sink.PublishCycle(out); err != nil {
			log.Printf("[PIPELINE] cycle %d: %v", out.Sequence, err)
		}
	}
}
