package trace

import (
	"net/netip"
	"sync/atomic"
)

// Status records why a Trace stopped making progress. The zero value is
// StatusNone; Start sets StatusRunning, so a Trace returned by Start never
// reports StatusNone.
type Status int32

const (
	StatusNone Status = iota
	StatusRunning
	StatusFinished
	// StatusFailedAddr indicates address resolution failed.
	StatusFailedAddr
	// StatusFailedSocket indicates socket creation failed.
	StatusFailedSocket
	// StatusFailedConnect indicates connect() failed.
	StatusFailedConnect
	// StatusFailedSend indicates the probe payload could not be sent.
	StatusFailedSend
)

// String renders the status for logging.
func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusFailedAddr:
		return "failed_addr"
	case StatusFailedSocket:
		return "failed_socket"
	case StatusFailedConnect:
		return "failed_connect"
	case StatusFailedSend:
		return "failed_send"
	default:
		return "unknown"
	}
}

// HopEvent describes one hop discovered along the path to a Trace's
// destination. A nil *HopEvent delivered to a Callback marks the end of
// the trace (either all probes completed, or Close tore the trace down
// early); no further callbacks follow it.
type HopEvent struct {
	Distance uint16
	Addr     netip.Addr
}

// Callback receives hop information for a Trace. It is invoked zero or
// more times with a non-nil HopEvent, then exactly once with nil at
// termination — unless the trace's End was called, which suppresses
// that final call.
type Callback func(event *HopEvent, user any)

// Trace is one traceroute request: an address to resolve, a ttl budget,
// and the callback that receives hop results. Once popped from the
// incoming list onto the scheduler's work queue it is owned exclusively
// by the background goroutine until it finishes or Close tears it down.
type Trace struct {
	next *Trace // singly linked, incoming/queue membership only

	address      string // cleared once resolved
	resolvedAddr netip.Addr

	maxTTL  int
	nextTTL int // starts at 1; ttl 0 is never sent
	// responses counts processed slot completions (reply or timeout),
	// not just successful ones.
	responses int
	deepest   int

	status Status
	cb     Callback
	user   any

	ended atomic.Bool
}

// Status returns the trace's current status.
func (t *Trace) Status() Status { return t.status }

// End marks the trace for silent termination: in-flight probes still
// complete normally, but the final terminal callback is suppressed.
func (t *Trace) End() {
	t.ended.Store(true)
}

// Start enqueues a trace request against address, resolving it and
// probing with increasing ttl up to maxDistance hops (normalized to the
// context's configured default hops limit when 0). cb is invoked with
// hop results as they arrive and once more, with nil, when the trace
// finishes — unless Trace.End was called first.
func (c *Context) Start(address string, maxDistance uint16, cb Callback, user any) *Trace {
	if maxDistance == 0 {
		maxDistance = uint16(c.maxDistance)
	}

	t := &Trace{
		address: address,
		maxTTL:  int(maxDistance),
		nextTTL: 1,
		status:  StatusRunning,
		cb:      cb,
		user:    user,
	}

	c.mu.Lock()
	if c.incomingTail == nil {
		c.incoming, c.incomingTail = t, t
	} else {
		c.incomingTail.next = t
		c.incomingTail = t
	}
	c.mu.Unlock()

	c.wake()

	return t
}
