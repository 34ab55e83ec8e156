package store

import "sync"

// Package-level singleton state. Per the design note on lazy-init
// singletons, every public operation still takes an explicit *Store
// argument — Singleton only offers a separate, shared construction path,
// it does not make the context implicit.
var (
	singletonMu sync.Mutex
	singleton   *Store
)

// Singleton returns the package-wide Store, constructing it with New on
// first call and ignoring the arguments on subsequent calls.
func Singleton(newFn func() *Store) *Store {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton == nil {
		singleton = newFn()
	}

	return singleton
}
