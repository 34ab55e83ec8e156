package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// nodeFlags are the per-node maintenance bits tracked in node.mask.
type nodeFlags uint32

const (
	// flagOList marks a node as linked into the insertion-epoch
	// maintenance chain rooted at Store.oList.
	flagOList nodeFlags = 1 << iota
	// flagDList marks a node as linked into the deletion-pending chain
	// rooted at Store.dList; such a node is invisible to find and to
	// sibling-list walks during insertion.
	flagDList
	// flagDead marks a node that Prune has unhooked while it was still
	// on the insertion-epoch chain; the maintenance sweep releases it
	// when it claims that epoch.
	flagDead
)

// DeleteCallback runs once a leaf's data is finally released, by Prune,
// by the maintenance sweep, or by Terminate's final teardown.
type DeleteCallback func(key []byte, data any)

// node is one element of the trie: either an internal routing node (has
// children, carries no data) or a leaf (no children, carries data). A
// leaf created by Add owns its key_size byte key and keeps owning it
// after a push-down turns it into an internal node; the inject nodes
// created below it reach that key through keyRef.
type node struct {
	parent   *node
	next     *node // sibling, singly linked, head-insertion only
	children *node // head of child list

	olistNext atomic.Pointer[node]
	dlistNext atomic.Pointer[node]

	id    uint32
	level int
	mask  atomic.Uint32

	spin sync.Mutex // short critical section guarding child-list mutation

	data     any
	key      []byte // only set on nodes created by Add
	keyRef   *node  // the node that owns the key this node routes on
	ts       time.Time
	deleteCb DeleteCallback
}

func (n *node) inDList() bool { return n.mask.Load()&uint32(flagDList) != 0 }
func (n *node) inOList() bool { return n.mask.Load()&uint32(flagOList) != 0 }
func (n *node) isDead() bool  { return n.mask.Load()&uint32(flagDead) != 0 }

// setFlag and clearFlag mutate mask atomically via a compare-and-swap
// retry loop, the same pattern used for the lock-free list heads.
func (n *node) setFlag(f nodeFlags) {
	for {
		old := n.mask.Load()
		if old&uint32(f) != 0 {
			return
		}
		if n.mask.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (n *node) clearFlag(f nodeFlags) {
	for {
		old := n.mask.Load()
		if old&uint32(f) == 0 {
			return
		}
		if n.mask.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}
