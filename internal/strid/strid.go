// Package strid produces 32-bit event-type identifiers from event names
// using the DJB2 hash, mirroring the original C implementation's strid().
package strid

// ID returns the DJB2 hash of s's bytes.
func ID(s string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}

	return h
}
