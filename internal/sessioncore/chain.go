package sessioncore

import (
	"context"
	"sync"
	"time"
)

// DefaultChainTimeout bounds how long a caller waits to enter a session's
// chain before giving up.
const DefaultChainTimeout = 30 * time.Second

// chainLink is the cond-guarded slot a single session's serial chain
// acquires and releases around.
type chainLink struct {
	mu     sync.Mutex
	cond   *sync.Cond
	held   bool
	holder string
	since  time.Time
}

// Chain linearizes operations per session id: at most one caller is "in the
// chain" for a given session at a time, and callers queue in arrival order.
// This is the Session/Event Controller's concurrency primitive — every
// Append/DeleteMessage/model-switch against an active session runs inside
// Chain.Run so the durable log's parent-pointer chain never forks.
//
// Thread Safety: Chain is safe for concurrent use.
type Chain struct {
	mu      sync.RWMutex
	links   map[string]*chainLink
	ttl     time.Duration
	stopped chan struct{}
}

// NewChain creates a Chain and starts its background sweep of idle links.
func NewChain(defaultTimeout time.Duration) *Chain {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultChainTimeout
	}
	c := &Chain{
		links:   make(map[string]*chainLink),
		ttl:     defaultTimeout,
		stopped: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Stop halts the background sweep. Safe to call once.
func (c *Chain) Stop() { close(c.stopped) }

func (c *Chain) linkFor(sessionID string) *chainLink {
	c.mu.Lock()
	l, ok := c.links[sessionID]
	if !ok {
		l = &chainLink{}
		l.cond = sync.NewCond(&l.mu)
		c.links[sessionID] = l
	}
	c.mu.Unlock()
	return l
}

// acquire enters the chain for sessionID, blocking until it is this caller's
// turn, ctx is done, or timeout elapses.
func (c *Chain) acquire(ctx context.Context, sessionID, holder string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = c.ttl
	}
	link := c.linkFor(sessionID)

	link.mu.Lock()
	defer link.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for link.held {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrChainTimeout
		}

		woke := make(chan struct{})
		go func() {
			link.cond.Wait()
			close(woke)
		}()

		link.mu.Unlock()
		select {
		case <-woke:
			link.mu.Lock()
		case <-time.After(remaining):
			link.mu.Lock()
			return nil, ErrChainTimeout
		case <-ctx.Done():
			link.mu.Lock()
			return nil, ctx.Err()
		}
	}

	link.held = true
	link.holder = holder
	link.since = time.Now()

	release := func() {
		link.mu.Lock()
		defer link.mu.Unlock()
		link.held = false
		link.holder = ""
		link.cond.Broadcast()
	}
	return release, nil
}

// Run executes fn with sessionID's chain held, serializing it against every
// other Run/TryRun call for the same session.
func (c *Chain) Run(ctx context.Context, sessionID, holder string, fn func(ctx context.Context) error) error {
	release, err := c.acquire(ctx, sessionID, holder, 0)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// TryRun executes fn immediately if the chain is free, or reports false
// without blocking if it is already held.
func (c *Chain) TryRun(sessionID, holder string, fn func() error) (ran bool, err error) {
	link := c.linkFor(sessionID)
	link.mu.Lock()
	if link.held {
		link.mu.Unlock()
		return false, nil
	}
	link.held = true
	link.holder = holder
	link.since = time.Now()
	link.mu.Unlock()

	defer func() {
		link.mu.Lock()
		link.held = false
		link.holder = ""
		link.cond.Broadcast()
		link.mu.Unlock()
	}()

	return true, fn()
}

// IsHeld reports whether a session's chain is currently occupied.
func (c *Chain) IsHeld(sessionID string) bool {
	c.mu.RLock()
	l, ok := c.links[sessionID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (c *Chain) sweepLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopped:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Chain) sweep() {
	cutoff := time.Now().Add(-10 * time.Minute)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, l := range c.links {
		l.mu.Lock()
		idle := !l.held && l.since.Before(cutoff)
		l.mu.Unlock()
		if idle {
			delete(c.links, id)
		}
	}
}
