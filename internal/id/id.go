// Package id generates identifiers for sessions and recorded fixtures.
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UUID returns a random (v4) UUID string.
func UUID() string {
	return uuid.New().String()
}

// Crockford base32, no I L O U.
const ulidEncoding = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	ulidMu      sync.Mutex
	ulidLastMs  int64
	ulidCounter uint16
)

// ULID returns a 26 character lexicographically sortable identifier. IDs
// produced within the same millisecond by one process still sort in call order.
func ULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()

	now := time.Now().UnixMilli()
	if now <= ulidLastMs {
		now = ulidLastMs
		ulidCounter++
		if ulidCounter == 0 {
			now++
		}
	} else {
		ulidCounter = 0
	}
	ulidLastMs = now
	return encodeULID(now, ulidCounter)
}

func encodeULID(ms int64, counter uint16) string {
	out := make([]byte, 26)
	for i := 9; i >= 0; i-- {
		out[i] = ulidEncoding[ms&0x1F]
		ms >>= 5
	}

	// 80 bits of entropy; the first 16 carry the counter so ids minted in the
	// same millisecond keep their order.
	var entropy [10]byte
	_, _ = rand.Read(entropy[2:])
	entropy[0] = byte(counter >> 8)
	entropy[1] = byte(counter)

	var acc uint64
	bits := 0
	pos := 10
	for _, b := range entropy {
		acc = acc<<8 | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[pos] = ulidEncoding[(acc>>uint(bits))&0x1F]
			pos++
		}
	}
	return string(out)
}
