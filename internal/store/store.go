// Package store is a bit-sliced, concurrent keyed trie optimized for
// random keys: reads proceed without blocking each other or insertion,
// insertion is lock-free except for a brief per-node spinlock at the
// exact insertion point, deletion is lazy (mark-then-sweep), and a
// background maintenance loop prunes expired and deleted nodes.
//
// A key is split into fixed-width levels of bitsPerLevel bits; level L
// discriminates on bits [L*bitsPerLevel, (L+1)*bitsPerLevel) of the key.
// Only leaves carry data. A key's bytes stay owned by the leaf that Add
// created for it, even after a push-down turns that leaf into an internal
// node; the inject nodes created below it borrow the key via keyRef.
package store

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/netcore/internal/bitops"
	"github.com/dantte-lp/netcore/internal/workerpool"
)

// FindCallback receives the value stored under a found key. The value
// pointer is only guaranteed valid for the duration of the call.
type FindCallback func(key []byte, data any, user any)

// Stats is a point-in-time snapshot of Store activity, exposed for
// metrics collection.
type Stats struct {
	Inserted  uint64
	Duplicate uint64
	Deleted   uint64
	Released  uint64
	PruneRuns uint64
}

// Store is a concurrent trie keyed on fixed-length byte keys.
type Store struct {
	logger *slog.Logger

	mu   sync.RWMutex
	root *node

	oList atomic.Pointer[node]
	dList atomic.Pointer[node]

	keySize      int
	bitsPerLevel uint8
	lifespan     time.Duration

	maint *workerpool.Handle

	stats Stats
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger attaches a structured logger. A nil logger normalizes to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
	}
}

// New creates a Store keyed on keySize-byte keys, bit-sliced bitsPerLevel
// bits at a time (must be in [1,8]), and starts its maintenance loop under
// ctx. On each maintenance tick, every node inserted since the previous
// tick is swept into a pending deletion, so an entry lives at most about
// one lifespan interval.
func New(ctx context.Context, keySize int, bitsPerLevel uint8, lifespan time.Duration, opts ...Option) *Store {
	s := &Store{
		logger:       slog.Default(),
		root:         &node{level: -1},
		keySize:      keySize,
		bitsPerLevel: bitsPerLevel,
		lifespan:     lifespan,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.maint = workerpool.Spawn(ctx, 0, s.maintenanceLoop)

	return s
}

// Add inserts data under key, rejecting duplicate keys. del, if non-nil,
// runs once the leaf's data is finally released (by Prune, the maintenance
// loop, or Terminate).
// Returns false if the exact key already exists or len(key) != keySize.
func (s *Store) Add(key []byte, data any, del DeleteCallback) bool {
	if len(key) != s.keySize {
		return false
	}

	leafKey := make([]byte, s.keySize)
	copy(leafKey, key)

	leaf := &node{data: data, key: leafKey, deleteCb: del, ts: time.Now()}
	leaf.keyRef = leaf
	leaf.mask.Store(uint32(flagOList))

	s.mu.RLock()
	defer s.mu.RUnlock()

	for {
		n := s.findNode(key)

		if n.children == nil && n != s.root {
			if n.keyRef != nil && n.keyRef.key != nil && bytes.Equal(n.keyRef.key, key) {
				atomic.AddUint64(&s.stats.Duplicate, 1)
				return false
			}

			s.pushDown(n)
			continue
		}

		n.spin.Lock()

		leaf.parent = n
		leaf.level = n.level + 1
		leaf.id = uint32(bitops.GetBits(leaf.keyRef.key, uint32(leaf.level)*uint32(s.bitsPerLevel), s.bitsPerLevel))

		dup := false
		for c := n.children; c != nil; c = c.next {
			if c.id == leaf.id && !c.inDList() {
				dup = true
				break
			}
		}

		if dup {
			n.spin.Unlock()
			continue
		}

		leaf.next = n.children
		n.children = leaf
		n.spin.Unlock()

		s.pushOList(leaf)
		atomic.AddUint64(&s.stats.Inserted, 1)

		return true
	}
}

// pushDown converts the existing leaf n into an internal node by
// allocating an inject node that adopts n's data/callback/key reference
// one level deeper, then making inject n's sole child. n keeps owning the
// key bytes that inject routes on through keyRef. The caller always
// retries the insertion walk afterward, whether the push succeeded or a
// concurrent insertion already added a child in the meantime.
func (s *Store) pushDown(n *node) {
	inject := &node{
		data:     n.data,
		deleteCb: n.deleteCb,
		keyRef:   n.keyRef,
		ts:       n.ts,
		parent:   n,
		level:    n.level + 1,
	}
	inject.id = uint32(bitops.GetBits(inject.keyRef.key, uint32(inject.level)*uint32(s.bitsPerLevel), s.bitsPerLevel))

	n.spin.Lock()
	defer n.spin.Unlock()

	if n.children != nil {
		return // lost the race; someone else already added a child
	}

	n.children = inject
	// n is now internal: it carries no data, but it still owns the key
	// bytes that inject (and any deeper inject) borrows via keyRef.
	n.data, n.deleteCb = nil, nil
}

// Find invokes cb with the data stored under key if key is present, and
// reports whether it was found. No pointer to the value escapes cb.
func (s *Store) Find(key []byte, cb FindCallback, user any) bool {
	if len(key) != s.keySize {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.findNode(key)
	if n.children != nil || n.keyRef == nil || n.keyRef.key == nil {
		return false
	}
	if !bytes.Equal(n.keyRef.key, key) {
		return false
	}

	if cb != nil {
		cb(key, n.data, user)
	}

	return true
}

// Delete marks the leaf matching key for pruning. Find for the same key
// returns false immediately afterward; physical reclamation happens on
// the next Prune.
func (s *Store) Delete(key []byte) bool {
	if len(key) != s.keySize {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.markDeleted(key)
}

// markDeleted is Delete's marking step, factored out so the maintenance
// loop can call it while already holding the read lock instead of
// recursively re-acquiring it.
func (s *Store) markDeleted(key []byte) bool {
	n := s.findNode(key)
	if n.parent == nil || n.children != nil {
		return false
	}
	if n.keyRef == nil || n.keyRef.key == nil || !bytes.Equal(key, n.keyRef.key) {
		return false
	}

	n.spin.Lock()
	defer n.spin.Unlock()

	if !n.inDList() {
		n.setFlag(flagDList)
		s.pushDList(n)
	}

	atomic.AddUint64(&s.stats.Deleted, 1)

	return true
}

// Prune acquires the write lock, drains the deletion-pending chain, and
// reclaims each node: unhooking it from its parent, collapsing any parent
// left childless, and either releasing the node immediately or marking it
// Dead for the maintenance loop to release once its insertion epoch has
// been claimed. Idempotent if no Add/Delete occurs between calls.
func (s *Store) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	atomic.AddUint64(&s.stats.PruneRuns, 1)

	deleted := s.dList.Swap(nil)

	for deleted != nil {
		n := deleted
		deleted = n.dlistNext.Load()
		n.dlistNext.Store(nil)

		s.unhook(n)

		if n.parent.children == nil && n.parent.parent != nil {
			n.parent.setFlag(flagDList)
			n.parent.deleteCb = nil
			n.parent.dlistNext.Store(deleted)
			deleted = n.parent
		}

		if !n.inOList() {
			s.releaseNode(n)
		} else {
			n.clearFlag(flagDList)
			n.setFlag(flagDead)
		}
	}
}

// unhook removes n from its parent's child list. Caller must hold the
// write lock.
func (s *Store) unhook(n *node) {
	p := n.parent

	if p.children == n {
		p.children = n.next
	} else {
		sib := p.children
		for sib != nil && sib.next != n {
			sib = sib.next
		}
		if sib != nil {
			sib.next = n.next
		}
	}

	n.next = nil
}

// releaseNode invokes the delete callback (leaves only) and drops the
// node's key reference. Safe under either lock side because by the time
// it's called the node has already been unhooked from the tree (via
// Prune) or was never linked in (Terminate's final sweep) — no reader can
// still be traversing it.
func (s *Store) releaseNode(n *node) {
	if n.children == nil {
		if n.keyRef != nil && n.keyRef.key != nil && n.deleteCb != nil {
			n.deleteCb(n.keyRef.key, n.data)
		}
		if n.keyRef != nil {
			n.keyRef.key = nil
		}
		atomic.AddUint64(&s.stats.Released, 1)
	}
}

// findNode walks the trie from the root along the bit-slices of key,
// returning the closest matching node: an exact leaf if key is present,
// or the deepest node an insertion at key would attach to otherwise.
func (s *Store) findNode(key []byte) *node {
	var index uint32

	n := s.root.children
	ret := s.root

	for n != nil && index < uint32(s.keySize)*8 {
		id := uint32(bitops.GetBits(key, index, s.bitsPerLevel))

		for n != nil && (n.id != id || n.inDList()) {
			n = n.next
		}

		if n == nil {
			return ret
		}
		if n.id == id && n.children == nil {
			return n
		}

		ret = n
		n = n.children
		index += uint32(s.bitsPerLevel)
	}

	return s.root
}

func (s *Store) pushOList(n *node) {
	for {
		head := s.oList.Load()
		n.olistNext.Store(head)
		if s.oList.CompareAndSwap(head, n) {
			return
		}
	}
}

func (s *Store) pushDList(n *node) {
	for {
		head := s.dList.Load()
		n.dlistNext.Store(head)
		if s.dList.CompareAndSwap(head, n) {
			return
		}
	}
}

// Snapshot returns a point-in-time copy of Store activity counters.
func (s *Store) Snapshot() Stats {
	return Stats{
		Inserted:  atomic.LoadUint64(&s.stats.Inserted),
		Duplicate: atomic.LoadUint64(&s.stats.Duplicate),
		Deleted:   atomic.LoadUint64(&s.stats.Deleted),
		Released:  atomic.LoadUint64(&s.stats.Released),
		PruneRuns: atomic.LoadUint64(&s.stats.PruneRuns),
	}
}

// Terminate stops the maintenance loop, runs a final prune, and walks any
// remaining nodes depth-first invoking delete callbacks on every leaf,
// regardless of deletion status. Further operations on a terminated Store
// are undefined.
func (s *Store) Terminate() {
	s.maint.Release()
	s.Prune()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Deleted leaves that Prune left Dead on the insertion-epoch chain are
	// no longer in the tree; release them here.
	for n := s.oList.Swap(nil); n != nil; n = n.olistNext.Load() {
		if n.isDead() {
			s.releaseNode(n)
		}
	}

	s.releaseTree(s.root)
	s.root = &node{level: -1}
}

func (s *Store) releaseTree(n *node) {
	for c := n.children; c != nil; {
		next := c.next
		s.releaseTree(c)
		c = next
	}

	if n.children == nil && n.parent != nil {
		if n.keyRef != nil && n.keyRef.key != nil && n.deleteCb != nil {
			n.deleteCb(n.keyRef.key, n.data)
		}
	}
}
