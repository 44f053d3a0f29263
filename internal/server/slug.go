package server

import (
	"crypto/rand"
)

// slugAlphabet is the 62-symbol alphabet used for file identifiers.
const slugAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	minSlugLength     = 4
	maxSlugLength     = 32
	defaultSlugLength = 7

	// maxSlugAttempts bounds collision retries during allocation. At the
	// default length a collision is astronomically unlikely; the bound only
	// makes pathological conditions fail fast.
	maxSlugAttempts = 5
)

func clampSlugLength(n int) int {
	if n < minSlugLength {
		return minSlugLength
	}
	if n > maxSlugLength {
		return maxSlugLength
	}
	return n
}

// newSlug returns a cryptographically random identifier of the given
// length. Slugs double as access tokens for the files they name, so the
// randomness source must be crypto/rand, not a seeded PRNG.
func newSlug(length int) (string, error) {
	// Rejection sampling keeps the draw unbiased: 248 is the largest
	// multiple of 62 that fits in a byte.
	const cutoff = 248
	out := make([]byte, 0, length)
	buf := make([]byte, 32)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= cutoff {
				continue
			}
			out = append(out, slugAlphabet[int(b)%len(slugAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
