// Package trace is a single-threaded, event-loop traceroute probe
// scheduler. A background goroutine owns a bounded pool of non-blocking
// UDP sockets; callers submit trace requests that are queued under a
// mutex and woken via an eventfd, then serviced by the poll loop, which
// emits UDP probes with increasing IPv4 TTL and reads ICMP
// TIME_EXCEEDED notifications off each socket's IP error queue to
// discover intermediate hops.
//
// Linux only: it depends on IP_RECVERR/MSG_ERRQUEUE and eventfd.
package trace

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/netcore/internal/config"
	"github.com/dantte-lp/netcore/internal/workerpool"
)

// ErrEventFD indicates the context's wakeup eventfd could not be created;
// Init (New) does not start a background goroutine without one.
var ErrEventFD = errors.New("trace: create eventfd")

// slot is one entry of the polling pool: a UDP socket paired with the
// trace that sent the outstanding probe. Slot 0 is reserved for the
// wakeup eventfd and never holds a trace.
type slot struct {
	fd       int
	trace    *Trace
	freeNext int // index of the next free slot, or -1
	ttlSent  int
	sentAt   time.Time
}

// Context is a traceroute scheduler: configuration, a slot pool, an
// eventfd used to wake the poll loop, and the submission lists
// (incoming, queue) protected by mu.
type Context struct {
	logger *slog.Logger

	udpSize     int
	basePort    int
	timeout     time.Duration
	maxDistance int
	retries     int

	payload []byte

	slots   []slot
	pollFds []unix.PollFd
	free    int // index of the first free slot, or -1

	mu             sync.Mutex
	incoming       *Trace
	incomingTail   *Trace
	queue          *Trace
	queueTail      *Trace
	prioritySchedl bool

	eventFD int

	handle *workerpool.Handle
	active atomic.Int64
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

// WithPriorityScheduling enables servicing traces with the lowest next-hop
// ttl (the fewest probes sent) first: each time the incoming list is
// spliced onto the work queue, the combined queue is sorted by ascending
// next-hop ttl. Off by default, matching the unordered FIFO queue
// of the original scheduler.
func WithPriorityScheduling(enabled bool) Option {
	return func(c *Context) {
		c.prioritySchedl = enabled
	}
}

// New allocates the slot pool, generates the shared probe payload,
// creates the wakeup eventfd, and spawns the background poll-loop
// goroutine under ctx. cfg supplies every default (§6 "trace" section);
// a zero cfg.RequestLimit or cfg.HopsLimit is rejected by
// config.Validate before it ever reaches here.
func New(ctx context.Context, cfg config.TraceConfig, opts ...Option) (*Context, error) {
	poolSize := cfg.RequestLimit + 1 // slot 0 is reserved for the eventfd

	c := &Context{
		logger:      slog.Default(),
		udpSize:     cfg.UDPSize,
		basePort:    cfg.BasePort,
		timeout:     cfg.RequestTimeout,
		maxDistance: cfg.HopsLimit,
		retries:     cfg.Retries,
		slots:       make([]slot, poolSize),
		pollFds:     make([]unix.PollFd, poolSize),
		payload:     make([]byte, cfg.UDPSize),
	}

	for _, opt := range opts {
		opt(c)
	}

	//nolint:gosec // the probe payload is filler content, not security sensitive.
	for i := range c.payload {
		c.payload[i] = byte(rand.IntN(256))
	}

	for idx := range c.slots {
		c.slots[idx].fd = -1
		c.slots[idx].freeNext = idx + 1
		c.pollFds[idx].Fd = -1
		c.pollFds[idx].Events = unix.POLLERR
	}
	c.slots[len(c.slots)-1].freeNext = -1
	c.free = 1

	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		return nil, errors.Join(ErrEventFD, err)
	}
	c.eventFD = fd
	c.slots[0].fd = fd
	c.pollFds[0].Fd = int32(fd)
	c.pollFds[0].Events = unix.POLLIN | unix.POLLPRI

	c.handle = workerpool.Spawn(ctx, 0, c.pollLoop)

	return c, nil
}

// Close stops the background goroutine, delivering a terminal null
// HopEvent to every trace still in flight or queued, and waits for it to
// exit.
func (c *Context) Close() {
	c.handle.Stop()
	c.wake()
	c.handle.Wait()
}

// ActiveCount returns the number of slots currently occupied by an
// in-flight probe.
func (c *Context) ActiveCount() int64 {
	return c.active.Load()
}

// wake writes to the eventfd to unblock a poll() the background
// goroutine may be parked in.
func (c *Context) wake() {
	var val [8]byte
	val[0] = 1
	_, _ = unix.Write(c.eventFD, val[:])
}

// drainEventFD reads and discards the eventfd counter after the poll
// loop observes it readable.
func (c *Context) drainEventFD() {
	var buf [8]byte
	_, _ = unix.Read(c.eventFD, buf[:])
}
