package scheduler

import (
	"sync"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// DefaultEventBuffer bounds the progress channel. A stalled consumer
// loses the oldest events rather than blocking the scheduler.
const DefaultEventBuffer = 256

// Emitter pushes progress events into a bounded channel. The transport
// layer drains the channel and owns whatever live protocol it speaks.
type Emitter struct {
	mu      sync.Mutex
	ch      chan types.ProgressEvent
	closed  bool
	dropped int
}

// NewEmitter creates an emitter with the given buffer size.
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Emitter{ch: make(chan types.ProgressEvent, buffer)}
}

// Events returns the consumer side of the channel. It is closed once
// the run finishes and the final event has been emitted.
func (e *Emitter) Events() <-chan types.ProgressEvent {
	return e.ch
}

// Emit enqueues an event, evicting the oldest buffered event when the
// consumer has fallen behind. Never blocks indefinitely.
func (e *Emitter) Emit(event string, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	ev := types.ProgressEvent{Event: event, Data: data}
	for {
		select {
		case e.ch <- ev:
			return
		default:
		}
		select {
		case <-e.ch:
			e.dropped++
		default:
		}
	}
}

// Dropped reports how many events were evicted due to backpressure.
func (e *Emitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close closes the channel. Emit becomes a no-op afterwards.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
