package sample

import (
	"errors"
	"fmt"
	"sort"

	"storyseed/internal/identity"
)

// ErrInvalidDistribution is returned for empty or all-zero weight maps.
var ErrInvalidDistribution = errors.New("invalid distribution")

// Weighted draws one label with probability proportional to its weight.
// Labels are visited in sorted order so the result does not depend on map order.
func Weighted(s *identity.Stream, weights map[string]float64) (string, error) {
	if len(weights) == 0 {
		return "", fmt.Errorf("%w: no categories", ErrInvalidDistribution)
	}
	keys := make([]string, 0, len(weights))
	total := 0.0
	for k, w := range weights {
		if w < 0 {
			return "", fmt.Errorf("%w: negative weight for %s", ErrInvalidDistribution, k)
		}
		keys = append(keys, k)
		total += w
	}
	if total <= 0 {
		return "", fmt.Errorf("%w: all weights are zero", ErrInvalidDistribution)
	}
	sort.Strings(keys)
	target := s.Float64() * total
	acc := 0.0
	for _, k := range keys {
		acc += weights[k]
		if target < acc {
			return k, nil
		}
	}
	// Float rounding can leave target == total; fall back to the last positive weight.
	for i := len(keys) - 1; i >= 0; i-- {
		if weights[keys[i]] > 0 {
			return keys[i], nil
		}
	}
	return keys[len(keys)-1], nil
}

// Validate checks a distribution without drawing from it.
func Validate(weights map[string]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("%w: no categories", ErrInvalidDistribution)
	}
	total := 0.0
	for k, w := range weights {
		if w < 0 {
			return fmt.Errorf("%w: negative weight for %s", ErrInvalidDistribution, k)
		}
		total += w
	}
	if total <= 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidDistribution)
	}
	return nil
}

// Uniform picks one element with equal probability.
func Uniform[T any](s *identity.Stream, items []T) T {
	return items[s.Pick(len(items))]
}

// Without returns a copy of weights minus the given labels.
func Without(weights map[string]float64, drop ...string) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for k, v := range weights {
		out[k] = v
	}
	for _, d := range drop {
		delete(out, d)
	}
	return out
}
