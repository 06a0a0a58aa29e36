// Package playerid converts player UUIDs to and from the fixed-width binary
// form stored in the leaderboard table.
package playerid

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Size is the length in bytes of an encoded Key.
const Size = 16

// Key is the 16-byte big-endian encoding of a 128-bit player id:
// the high 64 bits followed by the low 64 bits.
type Key [Size]byte

// FromUUID encodes a player UUID.
func FromUUID(id uuid.UUID) Key {
	var k Key
	copy(k[:], id[:])
	return k
}

// FromHalves encodes a 128-bit id given as its most and least significant 64-bit halves.
func FromHalves(hi, lo uint64) Key {
	var k Key
	binary.BigEndian.PutUint64(k[:8], hi)
	binary.BigEndian.PutUint64(k[8:], lo)
	return k
}

// Parse decodes a stored column value. b must be exactly Size bytes.
func Parse(b []byte) (Key, error) {
	var k Key
	if len(b) != Size {
		return k, fmt.Errorf("playerid: invalid length %d, want %d", len(b), Size)
	}
	copy(k[:], b)
	return k, nil
}

// UUID decodes k back into a player UUID.
func (k Key) UUID() uuid.UUID {
	return uuid.UUID(k)
}

// Halves returns the most and least significant 64 bits of the id.
func (k Key) Halves() (hi, lo uint64) {
	return binary.BigEndian.Uint64(k[:8]), binary.BigEndian.Uint64(k[8:])
}

// Bytes returns a copy of the encoding, suitable as a query argument.
func (k Key) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, k[:])
	return b
}

// String returns the canonical UUID text form.
func (k Key) String() string {
	return k.UUID().String()
}
