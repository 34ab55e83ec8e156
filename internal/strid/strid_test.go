package strid_test

import (
	"testing"

	"github.com/dantte-lp/netcore/internal/strid"
)

func TestIDDeterministic(t *testing.T) {
	if strid.ID("packet.received") != strid.ID("packet.received") {
		t.Fatal("ID is not deterministic for identical inputs")
	}
}

func TestIDByteEqualStringsCollide(t *testing.T) {
	a := "hop.discovered"
	b := string([]byte("hop.discovered"))

	if strid.ID(a) != strid.ID(b) {
		t.Fatalf("byte-equal strings produced different ids: %d != %d", strid.ID(a), strid.ID(b))
	}
}

func TestIDDiffers(t *testing.T) {
	if strid.ID("a") == strid.ID("b") {
		t.Fatal("distinct single-byte strings collided")
	}
}

func TestIDEmptyString(t *testing.T) {
	if got, want := strid.ID(""), uint32(5381); got != want {
		t.Fatalf("ID(\"\") = %d, want %d", got, want)
	}
}
