package eventbus

import (
	"sync"
	"time"
)

// RunStats is an aggregated summary of one run, derived purely from the
// event stream for observability purposes.
type RunStats struct {
	SessionID string
	StartedAt time.Time
	EndedAt   time.Time

	Turns int
	Iters int

	ToolCalls    int
	ToolWallTime time.Duration
	ToolTimeouts int

	InputTokens  int
	OutputTokens int

	CompactionRuns int
	DroppedItems   int

	Cancelled     bool
	TimedOut      bool
	DroppedEvents int
	Errors        int
}

// StatsCollector subscribes to an Emitter and incrementally builds a
// RunStats. It is safe for concurrent use; Stats() returns a copy.
type StatsCollector struct {
	mu    sync.Mutex
	stats RunStats

	toolStarts map[string]time.Time
}

func NewStatsCollector(sessionID string) *StatsCollector {
	return &StatsCollector{
		stats:      RunStats{SessionID: sessionID, StartedAt: time.Now()},
		toolStarts: make(map[string]time.Time),
	}
}

// Attach registers the collector's OnEvent as a listener on e.
func (c *StatsCollector) Attach(e *Emitter) int {
	return e.Add(c.OnEvent)
}

// OnEvent updates the running stats from a single event. Safe to use
// directly as an eventbus.Listener.
func (c *StatsCollector) OnEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case EventTurnStart:
		c.stats.Turns++
	case EventToolExecutionStart:
		c.stats.ToolCalls++
		c.toolStarts[ev.ToolCallID] = ev.Timestamp
	case EventToolExecutionEnd:
		if start, ok := c.toolStarts[ev.ToolCallID]; ok {
			c.stats.ToolWallTime += ev.Timestamp.Sub(start)
			delete(c.toolStarts, ev.ToolCallID)
		}
		if ev.IsError {
			c.stats.Errors++
		}
	case EventResponseComplete:
		c.stats.InputTokens += ev.InputTokens
		c.stats.OutputTokens += ev.OutputTokens
	case EventCompactionComplete:
		c.stats.CompactionRuns++
	case EventAgentInterrupted:
		c.stats.Cancelled = true
	case EventTurnFailed:
		c.stats.Errors++
	}
}

// Stats returns a snapshot of the accumulated statistics.
func (c *StatsCollector) Stats() RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.EndedAt = time.Now()
	return s
}

// RecordDroppedEvents lets a Sink report dropped-event counts into the stats
// without routing them back through the bus.
func (c *StatsCollector) RecordDroppedEvents(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.DroppedEvents += n
}
