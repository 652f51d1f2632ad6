package catalog

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Ranking orders candidates before selection.
type Ranking string

const (
	// RankByCloud orders by ascending cloud cover, then by distance to the
	// target date, then by scene ID.
	RankByCloud Ranking = "cloud"

	// RankByProximity orders by distance to the target date first, then by
	// cloud cover, then by scene ID.
	RankByProximity Ranking = "proximity"
)

// DefaultRanking is used when no ranking is configured.
const DefaultRanking = RankByCloud

// ParseRanking converts a configuration value into a Ranking.
func ParseRanking(s string) (Ranking, error) {
	switch Ranking(strings.ToLower(strings.TrimSpace(s))) {
	case "", RankByCloud:
		return RankByCloud, nil
	case RankByProximity:
		return RankByProximity, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRanking, s)
	}
}

// Sort orders candidates in place. The scene ID is the final key, so the
// result does not depend on the input order.
func (r Ranking) Sort(candidates []SceneCandidate, w SearchWindow) {
	byCloud := func(a, b SceneCandidate) int { return cmp.Compare(a.CloudCover, b.CloudCover) }
	byDistance := func(a, b SceneCandidate) int { return cmp.Compare(w.Distance(a.Acquired), w.Distance(b.Acquired)) }

	first, second := byCloud, byDistance
	if r == RankByProximity {
		first, second = byDistance, byCloud
	}

	slices.SortStableFunc(candidates, func(a, b SceneCandidate) int {
		if c := first(a, b); c != 0 {
			return c
		}
		if c := second(a, b); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
