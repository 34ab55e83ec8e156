package store_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/netcore/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T, keySize int, bitsPerLevel uint8) *store.Store {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	s := store.New(ctx, keySize, bitsPerLevel, time.Hour)

	t.Cleanup(func() {
		s.Terminate()
		cancel()
	})

	return s
}

func TestAddFindRoundTrip(t *testing.T) {
	s := newTestStore(t, 2, 4)

	if !s.Add([]byte{0xAB, 0x00}, "v1", nil) {
		t.Fatal("Add failed for a fresh key")
	}

	var got any
	found := s.Find([]byte{0xAB, 0x00}, func(key []byte, data any, user any) {
		got = data
	}, nil)

	if !found {
		t.Fatal("Find did not locate an inserted key")
	}
	if got != "v1" {
		t.Fatalf("Find delivered %v, want v1", got)
	}
}

func TestAddDuplicateRejected(t *testing.T) {
	s := newTestStore(t, 2, 4)

	if !s.Add([]byte{0x01, 0x02}, "first", nil) {
		t.Fatal("first Add should succeed")
	}
	if s.Add([]byte{0x01, 0x02}, "second", nil) {
		t.Fatal("duplicate Add should fail")
	}
}

// TestBitSlicePushDown exercises scenario S3: two keys sharing a 12-bit
// prefix (0xAB0 vs 0xAB0) force a push-down to level 3 where they first
// differ (ids 0 vs 1).
func TestBitSlicePushDown(t *testing.T) {
	s := newTestStore(t, 2, 4)

	if !s.Add([]byte{0xAB, 0x00}, "v1", nil) {
		t.Fatal("Add(0xAB00) failed")
	}
	if !s.Add([]byte{0xAB, 0x01}, "v2", nil) {
		t.Fatal("Add(0xAB01) failed")
	}

	var v1, v2 any
	if !s.Find([]byte{0xAB, 0x00}, func(k []byte, d, u any) { v1 = d }, nil) {
		t.Fatal("Find(0xAB00) failed after push-down")
	}
	if !s.Find([]byte{0xAB, 0x01}, func(k []byte, d, u any) { v2 = d }, nil) {
		t.Fatal("Find(0xAB01) failed after push-down")
	}
	if v1 != "v1" || v2 != "v2" {
		t.Fatalf("got v1=%v v2=%v, want v1=v1 v2=v2", v1, v2)
	}
}

// TestDeleteThenPrune exercises scenario S4: delete makes a key invisible
// immediately; after Prune the sibling key remains findable.
func TestDeleteThenPrune(t *testing.T) {
	s := newTestStore(t, 2, 4)

	s.Add([]byte{0xAB, 0x00}, "v1", nil)
	s.Add([]byte{0xAB, 0x01}, "v2", nil)

	if !s.Delete([]byte{0xAB, 0x00}) {
		t.Fatal("Delete should succeed for an existing key")
	}
	if s.Find([]byte{0xAB, 0x00}, nil, nil) {
		t.Fatal("Find should return false immediately after Delete")
	}

	s.Prune()

	if !s.Find([]byte{0xAB, 0x01}, nil, nil) {
		t.Fatal("sibling key should still be findable after Prune collapses the deleted path")
	}
}

// TestDeleteCallbackInvokedOnRelease checks that Prune defers releasing a
// leaf still in its insertion epoch, and that Terminate then releases it
// and runs its delete callback with the key.
func TestDeleteCallbackInvokedOnRelease(t *testing.T) {
	s := newTestStore(t, 2, 4)

	var released []byte
	s.Add([]byte{0x10, 0x20}, "v", func(key []byte, data any) {
		released = append([]byte(nil), key...)
	})

	s.Delete([]byte{0x10, 0x20})
	s.Prune()

	if released != nil {
		t.Fatalf("delete callback ran during Prune with key %v, want it deferred", released)
	}

	s.Terminate()

	if string(released) != string([]byte{0x10, 0x20}) {
		t.Fatalf("delete callback got key %v, want [16 32]", released)
	}
}

func TestPruneIsIdempotent(t *testing.T) {
	s := newTestStore(t, 2, 4)

	s.Add([]byte{0x01, 0x02}, "v", nil)
	s.Delete([]byte{0x01, 0x02})

	s.Prune()
	before := s.Snapshot()
	s.Prune()
	after := s.Snapshot()

	// PruneRuns counts calls, so it is the one field expected to move.
	if after.PruneRuns != before.PruneRuns+1 {
		t.Fatalf("PruneRuns = %d after second Prune, want %d", after.PruneRuns, before.PruneRuns+1)
	}
	after.PruneRuns = before.PruneRuns

	if before != after {
		t.Fatalf("second Prune changed stats: before=%+v after=%+v", before, after)
	}
}

// TestOneBitKeyCoversByte exercises the boundary behaviour of
// bits_per_level=1, key_size=1: all 256 distinct keys can be inserted and
// found, and re-adding one of them is rejected as a duplicate.
func TestOneBitKeyCoversByte(t *testing.T) {
	s := newTestStore(t, 1, 1)

	for i := 0; i < 256; i++ {
		if !s.Add([]byte{byte(i)}, i, nil) {
			t.Fatalf("Add(%d) failed, want success for all 256 distinct 1-byte keys", i)
		}
	}

	for i := 0; i < 256; i++ {
		if !s.Find([]byte{byte(i)}, nil, nil) {
			t.Fatalf("Find(%d) failed after inserting all 256 keys", i)
		}
	}

	if s.Add([]byte{0x00}, "dup", nil) {
		t.Fatal("re-adding an existing key among all 256 should fail")
	}
}

func TestFindRejectsWrongKeyLength(t *testing.T) {
	s := newTestStore(t, 2, 4)

	if s.Find([]byte{0x01}, nil, nil) {
		t.Fatal("Find with a mismatched key length should return false")
	}
}
