package playerid

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/google/uuid"
)

func TestRoundTripHalves(t *testing.T) {
	cases := []struct {
		name   string
		hi, lo uint64
	}{
		{"all zero", 0, 0},
		{"all one", math.MaxUint64, math.MaxUint64},
		{"high only", math.MaxUint64, 0},
		{"low only", 0, math.MaxUint64},
		{"sign bits", 1 << 63, 1 << 63},
		{"mixed", 0x0123456789abcdef, 0xfedcba9876543210},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			k := FromHalves(tc.hi, tc.lo)
			hi, lo := k.Halves()
			if hi != tc.hi || lo != tc.lo {
				t.Errorf("Halves() = (%#x, %#x), want (%#x, %#x)", hi, lo, tc.hi, tc.lo)
			}
			parsed, err := Parse(k.Bytes())
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if parsed != k {
				t.Errorf("Parse(Bytes()) = %v, want %v", parsed, k)
			}
		})
	}
}

func TestRoundTripRandomUUIDs(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		var id uuid.UUID
		r.Read(id[:])
		k := FromUUID(id)
		if got := k.UUID(); got != id {
			t.Fatalf("UUID() = %v, want %v", got, id)
		}
		hi, lo := k.Halves()
		if FromHalves(hi, lo) != k {
			t.Fatalf("FromHalves(Halves()) mismatch for %v", id)
		}
	}
}

func TestBigEndianLayout(t *testing.T) {
	k := FromHalves(0x0102030405060708, 0x090a0b0c0d0e0f10)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if !bytes.Equal(k.Bytes(), want) {
		t.Errorf("Bytes() = %v, want %v", k.Bytes(), want)
	}
	id := uuid.MustParse("01020304-0506-0708-090a-0b0c0d0e0f10")
	if FromUUID(id) != k {
		t.Errorf("FromUUID(%v) = %v, want %v", id, FromUUID(id), k)
	}
}

func TestParseRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 15, 17, 36} {
		if _, err := Parse(make([]byte, n)); err == nil {
			t.Errorf("Parse(%d bytes): expected error", n)
		}
	}
}

func TestBytesIsACopy(t *testing.T) {
	k := FromHalves(1, 2)
	b := k.Bytes()
	b[0] = 0xff
	if hi, _ := k.Halves(); hi != 1 {
		t.Errorf("mutating Bytes() changed the key: hi = %#x", hi)
	}
}
