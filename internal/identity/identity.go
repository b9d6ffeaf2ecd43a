package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"math/rand/v2"
	"strings"
)

// ExternalIDLength is the number of hex characters kept from the digest.
const ExternalIDLength = 12

// LabelPrefix marks the label that carries a record's external id.
const LabelPrefix = "extid-"

// Stream is the single ordered source of randomness for a run.
// Every stochastic decision must draw from the same Stream, in loop order.
type Stream struct {
	rng *rand.Rand
}

// NewStream derives the run stream from the org slug and the user seed token.
// The SHA-256 of "org::seed" is the full 256-bit ChaCha8 seed.
func NewStream(org, seed string) *Stream {
	sum := sha256.Sum256([]byte(org + "::" + seed))
	return &Stream{rng: rand.New(rand.NewChaCha8(sum))}
}

// Float64 returns a value in [0,1).
func (s *Stream) Float64() float64 {
	return s.rng.Float64()
}

// IntRange returns an int in [lo, hi], both inclusive.
func (s *Stream) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.rng.IntN(hi-lo+1)
}

// Pick returns an index in [0, n). n must be positive.
func (s *Stream) Pick(n int) int {
	return s.rng.IntN(n)
}

// Gauss draws from a normal distribution.
func (s *Stream) Gauss(mean, std float64) float64 {
	return mean + s.rng.NormFloat64()*math.Abs(std)
}

// Chance reports whether a draw falls below p.
func (s *Stream) Chance(p float64) bool {
	return s.rng.Float64() < p
}

// Shuffle permutes items in place.
func Shuffle[T any](s *Stream, items []T) {
	s.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}

// ExternalID hashes the composite key of a record's logical position.
// It never touches a Stream, so ids survive changes to sampling order.
func ExternalID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "-")))
	return hex.EncodeToString(sum[:])[:ExternalIDLength]
}

// Label returns the tracker label for an external id.
func Label(externalID string) string {
	return LabelPrefix + externalID
}

// FromLabel extracts the external id from a label, if it is one.
func FromLabel(label string) (string, bool) {
	if !strings.HasPrefix(label, LabelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(label, LabelPrefix), true
}
