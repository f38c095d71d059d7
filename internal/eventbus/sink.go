package eventbus

import (
	"sync/atomic"
	"time"
)

// Sink is an alternative consumption surface to registering a Listener
// directly: useful when a consumer wants to apply backpressure policy or
// fan an Emitter's output out to several destinations uniformly.
type Sink interface {
	Emit(Event)
	Close()
}

// MultiSink fans every event out to all wrapped sinks, isolating failures
// the same way Emitter does for direct listeners.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Emit(ev Event) {
	for _, s := range m.sinks {
		s.Emit(ev)
	}
}

func (m *MultiSink) Close() {
	for _, s := range m.sinks {
		s.Close()
	}
}

// ChanSink adapts a buffered channel into a Sink; events are dropped (not
// blocked on) if the channel is full, matching the core's "never stall the
// emitting turn" requirement.
type ChanSink struct {
	ch      chan Event
	dropped int64
	closed  int32
}

func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSink{ch: make(chan Event, buffer)}
}

func (c *ChanSink) Chan() <-chan Event { return c.ch }

func (c *ChanSink) Emit(ev Event) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return
	}
	select {
	case c.ch <- ev:
	default:
		atomic.AddInt64(&c.dropped, 1)
	}
}

func (c *ChanSink) DroppedCount() int64 { return atomic.LoadInt64(&c.dropped) }

func (c *ChanSink) Close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.ch)
	}
}

// isDroppableEvent reports whether ev belongs to the low-priority lane:
// high-frequency streaming deltas may be dropped under load, but lifecycle
// and completion events never may.
func isDroppableEvent(ev Event) bool {
	switch ev.Type {
	case EventMessageUpdate, EventThinkingDelta, EventToolExecutionUpdate:
		return true
	default:
		return false
	}
}

// BackpressureConfig tunes BackpressureSink's two lanes.
type BackpressureConfig struct {
	HighPriorityBuffer int
	LowPriorityBuffer  int
}

func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{HighPriorityBuffer: 256, LowPriorityBuffer: 64}
}

// BackpressureSink merges two lanes into a single downstream channel: a
// high-priority lane that is never dropped (the caller blocks briefly on
// overflow instead) and a low-priority, droppable lane for chatty streaming
// deltas. This lets a slow consumer (a UI, a websocket) fall behind on
// cosmetic deltas without ever losing a turn/tool lifecycle boundary.
type BackpressureSink struct {
	cfg     BackpressureConfig
	high    chan Event
	low     chan Event
	out     chan Event
	dropped int64
	closed  int32
	done    chan struct{}
}

func NewBackpressureSink(cfg BackpressureConfig) *BackpressureSink {
	if cfg.HighPriorityBuffer <= 0 {
		cfg.HighPriorityBuffer = DefaultBackpressureConfig().HighPriorityBuffer
	}
	if cfg.LowPriorityBuffer <= 0 {
		cfg.LowPriorityBuffer = DefaultBackpressureConfig().LowPriorityBuffer
	}
	s := &BackpressureSink{
		cfg:  cfg,
		high: make(chan Event, cfg.HighPriorityBuffer),
		low:  make(chan Event, cfg.LowPriorityBuffer),
		out:  make(chan Event, cfg.HighPriorityBuffer+cfg.LowPriorityBuffer),
		done: make(chan struct{}),
	}
	go s.mergeLoop()
	return s
}

func (s *BackpressureSink) Out() <-chan Event { return s.out }

func (s *BackpressureSink) Emit(ev Event) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}
	if isDroppableEvent(ev) {
		select {
		case s.low <- ev:
		default:
			atomic.AddInt64(&s.dropped, 1)
		}
		return
	}
	select {
	case s.high <- ev:
	case <-time.After(50 * time.Millisecond):
		atomic.AddInt64(&s.dropped, 1)
	}
}

func (s *BackpressureSink) DroppedCount() int64 { return atomic.LoadInt64(&s.dropped) }

func (s *BackpressureSink) mergeLoop() {
	for {
		// Drain the high-priority lane first so lifecycle events never
		// wait behind a backlog of droppable deltas.
		select {
		case ev := <-s.high:
			s.forward(ev)
			continue
		case <-s.done:
			return
		default:
		}

		select {
		case ev := <-s.high:
			s.forward(ev)
		case ev := <-s.low:
			s.forward(ev)
		case <-s.done:
			return
		}
	}
}

func (s *BackpressureSink) forward(ev Event) {
	select {
	case s.out <- ev:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

func (s *BackpressureSink) Close() {
	if atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		close(s.done)
		close(s.out)
	}
}

var _ Sink = (*ChanSink)(nil)
var _ Sink = (*BackpressureSink)(nil)
var _ Sink = (*MultiSink)(nil)

// asSinkListener adapts a Sink into a Listener for direct Emitter.Add use.
func asSinkListener(s Sink) Listener {
	return func(ev Event) { s.Emit(ev) }
}

// AddSink registers a Sink as a listener and returns the listener id.
func (e *Emitter) AddSink(s Sink) int {
	return e.Add(asSinkListener(s))
}
