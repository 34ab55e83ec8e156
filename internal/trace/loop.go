package trace

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// pollLoop is the Context's single background goroutine: it blocks in
// poll() with a timeout computed from the oldest outstanding probe,
// services whichever slots triggered (reply or timeout), drains and
// schedules newly submitted traces, then recomputes the timeout.
func (c *Context) pollLoop(ctx context.Context) {
	defer c.cleanup()

	timeoutMillis := -1

	for {
		_, err := unix.Poll(c.pollFds, timeoutMillis)
		if err != nil && !errors.Is(err, unix.EINTR) {
			c.logger.Warn("trace poll failed", slog.String("error", err.Error()))
		}

		now := time.Now()
		var closest time.Time

		for idx := 1; idx < len(c.pollFds); idx++ {
			timedOut := c.slots[idx].fd >= 0 && now.Sub(c.slots[idx].sentAt) >= c.timeout

			if c.pollFds[idx].Revents != 0 || timedOut {
				c.processSocket(idx)
				c.pollFds[idx].Revents = 0
			}
		}

		if c.pollFds[0].Revents != 0 {
			c.drainEventFD()
			c.pollFds[0].Revents = 0
		}

		c.processIncoming()

		select {
		case <-ctx.Done():
			return
		default:
		}

		// Scanned after processIncoming so probes it just sent count too.
		for idx := 1; idx < len(c.slots); idx++ {
			if c.slots[idx].fd >= 0 {
				deadline := c.slots[idx].sentAt.Add(c.timeout)
				if closest.IsZero() || deadline.Before(closest) {
					closest = deadline
				}
			}
		}

		if closest.IsZero() {
			timeoutMillis = -1
		} else if d := time.Until(closest); d > 0 {
			timeoutMillis = int(d.Milliseconds())
		} else {
			timeoutMillis = 0
		}
	}
}

// processSocket handles a triggered or timed-out slot: it attempts to
// read a hop reply off the error queue, delivers it to the trace's
// callback if found, then releases the slot and, if every probe for the
// trace has now been accounted for, finishes the trace.
func (c *Context) processSocket(idx int) {
	t := c.slots[idx].trace
	ttlSent := c.slots[idx].ttlSent

	addr, ok := recvReply(c.slots[idx].fd)
	t.responses++

	if ok {
		if t.deepest < ttlSent {
			t.deepest = ttlSent
		}
		if t.cb != nil {
			t.cb(&HopEvent{Distance: uint16(ttlSent), Addr: addr}, t.user)
		}
	}

	c.releaseSlot(idx)

	if t.nextTTL > t.maxTTL && t.responses >= t.maxTTL {
		if t.deepest < t.maxTTL && t.cb != nil {
			t.cb(&HopEvent{Distance: uint16(t.deepest + 1), Addr: t.resolvedAddr}, t.user)
		}
		c.finishTrace(t)
	}
}

// releaseSlot closes a slot's socket and returns it to the head of the
// free list.
func (c *Context) releaseSlot(idx int) {
	_ = unix.Close(c.slots[idx].fd)
	c.slots[idx].fd = -1
	c.slots[idx].trace = nil
	c.pollFds[idx].Fd = -1
	c.pollFds[idx].Events = unix.POLLERR

	c.slots[idx].freeNext = c.free
	c.free = idx

	c.active.Add(-1)
}

// finishTrace delivers the terminal nil callback (unless End was
// called) once a trace has no more outstanding probes.
func (c *Context) finishTrace(t *Trace) {
	t.status = StatusFinished
	if t.cb != nil && !t.ended.Load() {
		t.cb(nil, t.user)
	}
}

// processIncoming splices newly submitted traces onto the work queue,
// then assigns free slots to queued traces until either runs out.
// c.retries bounds consecutive failures to send a probe for the
// head-of-queue trace; once exceeded, the trace is failed outright with
// the status its last attempt recorded, instead of occupying a slot's
// bookkeeping forever with a dead descriptor.
func (c *Context) processIncoming() {
	c.mu.Lock()
	incoming, incomingTail := c.incoming, c.incomingTail
	c.incoming, c.incomingTail = nil, nil
	c.mu.Unlock()

	if incoming != nil {
		if c.queue == nil {
			c.queue, c.queueTail = incoming, incomingTail
		} else {
			c.queueTail.next = incoming
			c.queueTail = incomingTail
		}

		if c.prioritySchedl {
			c.queue, c.queueTail = sortByNextTTL(c.queue)
		}
	}

	attempts := 0
	for c.free >= 0 && c.queue != nil {
		slotIdx := c.free
		head := c.queue

		if c.sendProbe(slotIdx, head) {
			c.free = c.slots[slotIdx].freeNext
			c.slots[slotIdx].freeNext = -1
			c.slots[slotIdx].trace = head
			c.slots[slotIdx].ttlSent = head.nextTTL
			c.slots[slotIdx].sentAt = time.Now()
			c.active.Add(1)
			attempts = 0

			head.nextTTL++
			if head.nextTTL > head.maxTTL {
				c.queue = head.next
				if c.queue == nil {
					c.queueTail = nil
				}
				head.next = nil
			}

			continue
		}

		attempts++
		if attempts <= c.retries {
			continue
		}

		// Exhausted retries for the head-of-queue trace: fail it
		// outright rather than spin on it forever or strand a slot.
		c.queue = head.next
		if c.queue == nil {
			c.queueTail = nil
		}
		head.next = nil
		attempts = 0

		// Not finishTrace: that would overwrite the failure status
		// sendProbe recorded with StatusFinished.
		if head.cb != nil && !head.ended.Load() {
			head.cb(nil, head.user)
		}
	}
}

// sortByNextTTL returns a new head/tail for the queue sorted by
// ascending nextTTL, used by WithPriorityScheduling to service traces
// with the lowest next ttl (the fewest probes sent) first.
func sortByNextTTL(head *Trace) (*Trace, *Trace) {
	var items []*Trace
	for t := head; t != nil; t = t.next {
		items = append(items, t)
	}

	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].nextTTL < items[j-1].nextTTL; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}

	for i, t := range items {
		if i+1 < len(items) {
			t.next = items[i+1]
		} else {
			t.next = nil
		}
	}

	return items[0], items[len(items)-1]
}

// cleanup runs once when the background goroutine is stopping: every
// in-flight socket is closed, and every trace still referenced — by a
// slot, the work queue, or the incoming list — receives its terminal
// callback, once per trace.
func (c *Context) cleanup() {
	// A trace with several probes in flight occupies several slots and
	// may still be queued; finished records who already got the callback.
	finished := make(map[*Trace]bool)
	finish := func(t *Trace) {
		if !finished[t] {
			finished[t] = true
			c.finishTrace(t)
		}
	}

	for idx := 1; idx < len(c.slots); idx++ {
		if c.slots[idx].fd < 0 {
			continue
		}

		_ = unix.Close(c.slots[idx].fd)
		c.slots[idx].fd = -1

		if t := c.slots[idx].trace; t != nil {
			finish(t)
			c.slots[idx].trace = nil
		}
	}

	for t := c.queue; t != nil; {
		next := t.next
		t.next = nil
		finish(t)
		t = next
	}
	c.queue, c.queueTail = nil, nil

	c.mu.Lock()
	incoming := c.incoming
	c.incoming, c.incomingTail = nil, nil
	c.mu.Unlock()

	for t := incoming; t != nil; {
		next := t.next
		t.next = nil
		c.finishTrace(t)
		t = next
	}

	_ = unix.Close(c.eventFD)
}
