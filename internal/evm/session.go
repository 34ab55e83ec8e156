package evm

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// SessionEventKind discriminates the variants delivered to a
// SessionCallback.
type SessionEventKind int

const (
	// ListenerResult is delivered once per listener invocation, carrying
	// that listener's return value.
	ListenerResult SessionEventKind = iota
	// EventComplete is delivered once an event has been offered to every
	// registered listener. The callback may set Halt to true to stop
	// dispatching further events in this session.
	EventComplete
	// SessionDestroy is delivered exactly once, after the session's
	// events have all been destroyed.
	SessionDestroy
)

// SessionEvent is passed by pointer to a SessionCallback so that a
// EventComplete delivery can set Halt and have it observed by the
// dispatching worker.
type SessionEvent struct {
	Kind  SessionEventKind
	Event *Event
	Val   bool
	Depth uint32
	Halt  bool
}

// SessionCallback receives per-event and per-session lifecycle
// notifications for one session. It is invoked synchronously on the
// worker goroutine dispatching the session; it must not block.
type SessionCallback func(se *SessionEvent)

// Session is one trigger's worth of event dispatch: an ordered FIFO of
// depth-ordered EventGroups. Once popped by a worker it is owned
// exclusively by that worker until destruction.
type Session struct {
	ctx *Context
	id  uuid.UUID

	groupHead *EventGroup
	groupTail *EventGroup

	sessionCb SessionCallback
	userData  any

	next   *Session
	queued atomic.Bool
}

// ID returns the session's stable external identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// EventGroup holds every Event produced at one dispatch depth within a
// Session. Depth 0 holds the triggering event; depth d+1 holds events
// appended while dispatching depth d.
type EventGroup struct {
	session *Session
	depth   uint32

	eventHead *Event
	eventTail *Event

	next *EventGroup
}

// Event is one unit of dispatch: a definition, the data payload handed to
// listeners, and the group it belongs to.
type Event struct {
	definition *Definition
	group      *EventGroup
	data       any

	dispatched atomic.Bool
	destroyCb  EventDestroyCallback
	userData   any

	next *Event

	str []byte // lazily computed by String, ≤ maxEventStringLen
}

// EventID returns the event's type identifier.
func (e *Event) EventID() EventID { return e.definition.eid }

// Data returns the payload the event was created with.
func (e *Event) Data() any { return e.data }

// Depth returns the dispatch depth of the group this event belongs to.
func (e *Event) Depth() uint32 { return e.group.depth }

// String lazily formats the event via its definition's Formatter, caching
// the result. Returns "" if no Formatter was registered.
func (e *Event) String() string {
	if e.str != nil {
		return string(e.str)
	}
	if e.definition.formatter == nil {
		return ""
	}

	buf := make([]byte, maxEventStringLen)
	n := e.definition.formatter(e, buf)
	if n > len(buf) {
		n = len(buf)
	}
	e.str = buf[:n]

	return string(e.str)
}

// StartSession enqueues a new session containing one group at depth 0
// containing one event of type eid. Returns nil if eid is unregistered.
func (c *Context) StartSession(eid EventID, data any, eventDestroyCb EventDestroyCallback, sessionCb SessionCallback, user any) *Session {
	c.mu.RLock()
	def := c.findDefinition(eid)
	c.mu.RUnlock()

	if def == nil {
		return nil
	}

	s := &Session{ctx: c, id: newSessionID(), sessionCb: sessionCb, userData: user}
	grp := &EventGroup{session: s, depth: 0}
	ev := &Event{definition: def, group: grp, data: data, destroyCb: eventDestroyCb}

	grp.eventHead, grp.eventTail = ev, ev
	s.groupHead, s.groupTail = grp, grp
	s.queued.Store(true)

	c.enqueueSession(s)
	atomic.AddUint64(&c.stats.SessionsStarted, 1)

	return s
}

// CancelSession succeeds only while s is still queued, i.e. before a
// worker has popped it for dispatch. A session that has already begun
// dispatching, or was already cancelled, cannot be cancelled again. A
// cancelled session is destroyed without dispatch: its events' destroy
// callbacks run, then SessionDestroy is delivered.
func (c *Context) CancelSession(s *Session) bool {
	c.sessionMu.Lock()

	if !s.queued.Load() {
		c.sessionMu.Unlock()
		return false
	}

	// Unlink s from the session FIFO.
	if c.sessionHead == s {
		c.sessionHead = s.next
		if c.sessionTail == s {
			c.sessionTail = nil
		}
	} else {
		for p := c.sessionHead; p != nil; p = p.next {
			if p.next == s {
				p.next = s.next
				if c.sessionTail == s {
					c.sessionTail = p
				}
				break
			}
		}
	}

	s.queued.Store(false)
	atomic.AddUint64(&c.stats.SessionsCancelled, 1)
	c.sessionMu.Unlock()

	abandonGroups(s.groupHead)
	if s.sessionCb != nil {
		s.sessionCb(&SessionEvent{Kind: SessionDestroy})
	}

	return true
}

// SessionAppend appends a new event to the group at the tail of s's group
// FIFO, i.e. one dispatch depth deeper than whatever group is currently
// dispatching. Intended to be called from a ListenerCallback running on
// the session's owning worker. Returns false if eid is unregistered.
func (c *Context) SessionAppend(s *Session, eid EventID, data any, destroyCb EventDestroyCallback, user any) bool {
	c.mu.RLock()
	def := c.findDefinition(eid)
	c.mu.RUnlock()

	if def == nil {
		return false
	}

	grp := s.groupTail
	ev := &Event{definition: def, group: grp, data: data, destroyCb: destroyCb, userData: user}

	if grp.eventTail == nil {
		grp.eventHead, grp.eventTail = ev, ev
	} else {
		grp.eventTail.next = ev
		grp.eventTail = ev
	}

	return true
}

// enqueueSession appends s to the Context's session FIFO and wakes one
// worker.
func (c *Context) enqueueSession(s *Session) {
	c.sessionMu.Lock()
	if c.sessionTail == nil {
		c.sessionHead, c.sessionTail = s, s
	} else {
		c.sessionTail.next = s
		c.sessionTail = s
	}
	c.sessionMu.Unlock()

	c.sessionCond.Signal()
}

// popSession blocks until a session is available or the Context is
// closed.
func (c *Context) popSession() *Session {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	for c.sessionHead == nil && !c.closed.Load() {
		c.sessionCond.Wait()
	}
	if c.sessionHead == nil || c.closed.Load() {
		return nil
	}

	s := c.sessionHead
	c.sessionHead = s.next
	if c.sessionHead == nil {
		c.sessionTail = nil
	}
	s.next = nil
	s.queued.Store(false)

	return s
}

// worker is a Context worker goroutine's body: pop a session, dispatch it
// to completion, repeat until the Context closes.
func (c *Context) worker(ctx context.Context) {
	for {
		s := c.popSession()
		if s == nil {
			// popSession only returns nil once the Context is closed.
			return
		}

		c.dispatchSession(s)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// dispatchSession runs a popped session to completion: it walks groups in
// FIFO order, pushing a successor group before dispatching the current
// one's events so SessionAppend during that dispatch targets depth+1. A
// successor is only pushed when the group about to be dispatched actually
// has events, matching evm_session_process's `if(grp->head != NULL)` —
// otherwise the loop would keep manufacturing empty groups forever and
// never reach SessionDestroy.
func (c *Context) dispatchSession(s *Session) {
	for {
		grp := s.groupHead
		if grp == nil {
			break
		}

		s.groupHead = grp.next
		if s.groupHead == nil {
			s.groupTail = nil
		}
		grp.next = nil

		if grp.eventHead != nil {
			succ := &EventGroup{session: s, depth: grp.depth + 1}
			if s.groupTail == nil {
				s.groupHead, s.groupTail = succ, succ
			} else {
				s.groupTail.next = succ
				s.groupTail = succ
			}
		}

		if c.dispatchGroup(s, grp) {
			// Halting abandons all subsequent groups, including the
			// successor just pushed and anything SessionAppend queued
			// onto it before the halt was observed. Every abandoned
			// event still gets its destroy callback.
			abandonGroups(s.groupHead)
			s.groupHead, s.groupTail = nil, nil
			break
		}
	}

	if s.sessionCb != nil {
		s.sessionCb(&SessionEvent{Kind: SessionDestroy})
	}
	atomic.AddUint64(&c.stats.SessionsDispatched, 1)
}

// dispatchGroup dispatches every event in grp in FIFO order, returning
// true if the session callback set Halt on an EventComplete delivery. On halt,
// any events still queued behind the halting one in this group are
// abandoned (destroy callback invoked, never dispatched).
func (c *Context) dispatchGroup(s *Session, grp *EventGroup) bool {
	for ev := grp.eventHead; ev != nil; ev = ev.next {
		ev.dispatched.Store(true)

		c.mu.RLock()
		for l := ev.definition.head.Load(); l != nil; l = l.next.Load() {
			cbPtr := l.callback.Load()
			if cbPtr == nil {
				continue
			}
			cb := *cbPtr

			val := cb(ev)
			atomic.AddUint64(&c.stats.EventsDispatched, 1)

			if s.sessionCb != nil {
				s.sessionCb(&SessionEvent{Kind: ListenerResult, Event: ev, Val: val})
			}
		}
		c.mu.RUnlock()

		if s.sessionCb != nil {
			se := &SessionEvent{Kind: EventComplete, Event: ev, Depth: grp.depth}
			s.sessionCb(se)

			if ev.destroyCb != nil {
				ev.destroyCb(ev)
			}

			if se.Halt {
				abandonEvents(ev.next)
				return true
			}
		} else if ev.destroyCb != nil {
			ev.destroyCb(ev)
		}
	}

	return false
}

// abandonGroups invokes the destroy callback of every event in every
// group of the chain starting at head, without dispatching any of them.
func abandonGroups(head *EventGroup) {
	for g := head; g != nil; g = g.next {
		abandonEvents(g.eventHead)
	}
}

// abandonEvents invokes the destroy callback of every event in the chain
// starting at head, without dispatching any of them.
func abandonEvents(head *Event) {
	for ev := head; ev != nil; ev = ev.next {
		if ev.destroyCb != nil {
			ev.destroyCb(ev)
		}
	}
}
