package store

import (
	"context"
	"time"
)

// maintenanceLoop runs every lifespan interval: it swaps out the
// insertion-epoch chain, marks every node that epoch contains for
// pruning (or releases it immediately if already Dead), then prunes.
func (s *Store) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(s.lifespan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpired()
			s.Prune()
		}
	}
}

// sweepExpired mirrors the read-locked phase of the original maintenance
// thread: swap Store.oList for an empty chain, capturing the previous
// epoch, and mark every node in it for deletion (or release it directly
// if the node was already Dead, meaning Prune already unhooked it and was
// waiting on this epoch boundary to reclaim it).
func (s *Store) sweepExpired() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expired := s.oList.Swap(nil)

	for expired != nil {
		n := expired
		expired = n.olistNext.Load()
		n.olistNext.Store(nil)

		if n.isDead() {
			s.releaseNode(n)
			continue
		}

		n.clearFlag(flagOList)

		if n.keyRef != nil && n.keyRef.key != nil {
			s.markDeleted(n.keyRef.key)
		}
	}
}
