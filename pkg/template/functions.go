package template

import (
	"fmt"
	mathrand "math/rand/v2"
	"strconv"

	"github.com/google/uuid"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func rngIntN(rng *mathrand.Rand, n int) int {
	if n <= 0 {
		return 0
	}
	if rng != nil {
		return rng.IntN(n)
	}
	return mathrand.IntN(n)
}

func funcRandomInt(rng *mathrand.Rand, min, max int) string {
	if min > max {
		return ""
	}
	return strconv.Itoa(min + rngIntN(rng, max-min+1))
}

func funcRandomString(rng *mathrand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[rngIntN(rng, len(alphanumeric))]
	}
	return string(b)
}

// funcUUID is crypto-random unless a seeded rng is supplied.
func funcUUID(rng *mathrand.Rand) string {
	if rng == nil {
		return uuid.New().String()
	}
	var b [16]byte
	for i := range b {
		b[i] = byte(rng.IntN(256))
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

func funcDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
