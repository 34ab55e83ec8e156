// Package evm is a multi-threaded, session-oriented event dispatch engine.
// Callers register listeners against event-type identifiers, start sessions
// that trigger an initial event, and listeners may in turn append follow-up
// events one dispatch depth deeper. A maintenance sweep reclaims listeners
// after they are removed.
package evm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dantte-lp/netcore/internal/workerpool"
)

// EventID identifies a registered event type.
type EventID uint32

// Formatter renders an event's data into buf for diagnostics (e.g. logging
// a lazily-computed string representation of an event). It returns the
// number of bytes written.
type Formatter func(ev *Event, buf []byte) int

// ListenerCallback is invoked once per dispatched event for every listener
// registered on that event's type. The bool return is surfaced to the
// session callback as a ListenerResult and does not by itself abort
// dispatch.
type ListenerCallback func(ev *Event) bool

// ListenerDestroyCallback runs once a listener has been physically
// unlinked by the maintenance sweep.
type ListenerDestroyCallback func(userData any)

// EventDestroyCallback runs when an event is torn down: after its dispatch,
// or without dispatch when a halt or a cancel abandons it.
type EventDestroyCallback func(ev *Event)

// maxEventStringLen bounds the lazily-computed string representation of an
// Event, mirroring the original fixed-size scratch buffer.
const maxEventStringLen = 4096

// Definition is a registered event type: an identifier, an optional
// formatter, and the head of its listener list. Definitions live from
// RegisterType until the Context is closed.
type Definition struct {
	eid       EventID
	formatter Formatter

	head atomic.Pointer[Listener]
	next atomic.Pointer[Definition]
}

// Listener is one registration against a Definition. Owned by its
// definition: RemoveListener only clears callback, logically removing the
// listener from future dispatch; the maintenance sweep performs the
// physical unlink and invokes destroyCb.
type Listener struct {
	definition *Definition
	callback   atomic.Pointer[ListenerCallback]
	destroyCb  ListenerDestroyCallback
	userData   any

	next atomic.Pointer[Listener]
}

// Context is an event manager: a registry of event-type definitions, a
// pool of worker goroutines draining a session FIFO, and a maintenance
// goroutine that periodically reclaims removed listeners.
type Context struct {
	logger *slog.Logger

	mu      sync.RWMutex // guards Definition/Listener list structure
	defHead atomic.Pointer[Definition]

	sessionMu   sync.Mutex
	sessionCond *sync.Cond
	sessionHead *Session
	sessionTail *Session
	closed      atomic.Bool

	workers     []*workerpool.Handle
	maintenance *workerpool.Handle
	mfreq       time.Duration

	stats Stats
}

// Stats is a point-in-time snapshot of Context activity, exposed for
// metrics collection.
type Stats struct {
	SessionsStarted    uint64
	SessionsCancelled  uint64
	SessionsDispatched uint64
	EventsDispatched   uint64
	ListenersRegistered uint64
	ListenersRemoved    uint64
}

// Option configures a Context at construction time.
type Option func(*Context)

// WithLogger attaches a structured logger. A nil logger normalizes to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
	}
}

// WithMaintenanceInterval overrides the maintenance sweep period (default
// 30s).
func WithMaintenanceInterval(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.mfreq = d
		}
	}
}

// New creates a Context with workerCount worker goroutines (normalized to 1
// if workerCount < 1, per the boundary behaviour of zero configured
// workers) and starts its background goroutines under ctx.
func New(ctx context.Context, workerCount int, opts ...Option) *Context {
	if workerCount < 1 {
		workerCount = 1
	}

	c := &Context{
		logger: slog.Default(),
		mfreq:  30 * time.Second,
	}
	c.sessionCond = sync.NewCond(&c.sessionMu)

	for _, opt := range opts {
		opt(c)
	}

	for i := 0; i < workerCount; i++ {
		c.workers = append(c.workers, workerpool.Spawn(ctx, 0, c.worker))
	}
	c.maintenance = workerpool.Spawn(ctx, 0, c.maintenanceLoop)

	return c
}

// Close stops all worker and maintenance goroutines and waits for them to
// exit. Queued sessions are dropped without dispatch.
func (c *Context) Close() {
	c.sessionMu.Lock()
	c.closed.Store(true)
	c.sessionMu.Unlock()
	c.sessionCond.Broadcast()

	for _, w := range c.workers {
		w.Release()
	}
	c.maintenance.Release()
}

// RegisterType inserts a new Definition for eid. It is a silent no-op if
// eid is already registered. The existence check and the insert both run
// under the write lock, so two concurrent registrations of the same eid
// cannot both insert.
func (c *Context) RegisterType(eid EventID, formatter Formatter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for d := c.defHead.Load(); d != nil; d = d.next.Load() {
		if d.eid == eid {
			return
		}
	}

	def := &Definition{eid: eid, formatter: formatter}

	for {
		head := c.defHead.Load()
		def.next.Store(head)
		if c.defHead.CompareAndSwap(head, def) {
			return
		}
	}
}

func (c *Context) findDefinition(eid EventID) *Definition {
	for d := c.defHead.Load(); d != nil; d = d.next.Load() {
		if d.eid == eid {
			return d
		}
	}
	return nil
}

// AddListener registers cb against eid. It returns nil if eid is unknown or
// cb is nil. The new listener is appended after the current tail so that
// dispatch invokes listeners in registration order.
func (c *Context) AddListener(eid EventID, cb ListenerCallback, destroyCb ListenerDestroyCallback, user any) *Listener {
	if cb == nil {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	def := c.findDefinition(eid)
	if def == nil {
		return nil
	}

	l := &Listener{definition: def, destroyCb: destroyCb, userData: user}
	l.callback.Store(&cb)

	for {
		tail := def.head.Load()
		if tail == nil {
			if def.head.CompareAndSwap(nil, l) {
				break
			}
			continue
		}

		last := tail
		for last.next.Load() != nil {
			last = last.next.Load()
		}
		if last.next.CompareAndSwap(nil, l) {
			break
		}
		// Lost the race to another registration; retry the walk.
	}

	atomic.AddUint64(&c.stats.ListenersRegistered, 1)

	return l
}

// RemoveListener atomically clears the listener's callback. Physical
// unlinking and the destroy callback are deferred to the next maintenance
// sweep.
func (c *Context) RemoveListener(l *Listener) {
	if l == nil {
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	l.callback.Store(nil)
}

// maintenanceLoop periodically unlinks removed listeners and invokes their
// destroy callbacks.
func (c *Context) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(c.mfreq)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep walks every definition's listener list under the write lock,
// physically unlinking listeners whose callback has been cleared, then
// invokes their destroy callbacks after releasing the lock.
func (c *Context) sweep() {
	var dead []*Listener

	c.mu.Lock()
	for d := c.defHead.Load(); d != nil; d = d.next.Load() {
		var prev *Listener
		curr := d.head.Load()

		for curr != nil {
			next := curr.next.Load()

			if curr.callback.Load() == nil {
				if prev == nil {
					d.head.Store(next)
				} else {
					prev.next.Store(next)
				}
				dead = append(dead, curr)
			} else {
				prev = curr
			}

			curr = next
		}
	}
	c.mu.Unlock()

	for _, l := range dead {
		if l.destroyCb != nil {
			l.destroyCb(l.userData)
		}
		atomic.AddUint64(&c.stats.ListenersRemoved, 1)
	}
}

// Snapshot returns a point-in-time copy of Context activity counters.
func (c *Context) Snapshot() Stats {
	return Stats{
		SessionsStarted:     atomic.LoadUint64(&c.stats.SessionsStarted),
		SessionsCancelled:   atomic.LoadUint64(&c.stats.SessionsCancelled),
		SessionsDispatched:  atomic.LoadUint64(&c.stats.SessionsDispatched),
		EventsDispatched:    atomic.LoadUint64(&c.stats.EventsDispatched),
		ListenersRegistered: atomic.LoadUint64(&c.stats.ListenersRegistered),
		ListenersRemoved:    atomic.LoadUint64(&c.stats.ListenersRemoved),
	}
}

// newSessionID generates a session identifier used only as a stable
// external handle for logs and metrics; sessions carry no protocol
// identity of their own.
func newSessionID() uuid.UUID {
	return uuid.New()
}
