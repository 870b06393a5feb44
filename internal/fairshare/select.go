package fairshare

import (
	"github.com/zeebo/xxh3"
)

// Selector chooses which executing task an instance sheds first.
//
// Each candidate is ranked by xxh3.HashStringSeed(taskID, seed) where the seed
// is derived from the instance ID. The highest rank is released first, so two
// instances holding overlapping sets tend to shed different tasks, and a given
// instance always makes the same choice for the same set.
type Selector struct {
	seed uint64
}

// NewSelector creates a selector seeded from the instance ID.
//
// Parameters:
//   - instanceID: Identity of the local instance
//
// Returns:
//   - *Selector: Deterministic release-candidate selector
func NewSelector(instanceID string) *Selector {
	return &Selector{seed: xxh3.HashString(instanceID)}
}

// Rank returns the release priority of taskID; higher ranks are shed first.
func (s *Selector) Rank(taskID string) uint64 {
	return xxh3.HashStringSeed(taskID, s.seed)
}

// Pick returns the highest ranked candidate not contained in exclude.
//
// Ties on rank (practically impossible) are broken by the lexically smaller ID
// so the result does not depend on candidate order.
//
// Parameters:
//   - candidates: Task IDs currently executing on this instance
//   - exclude: Task IDs already chosen in the current pass (may be nil)
//
// Returns:
//   - string: Selected task ID
//   - bool: false when no eligible candidate exists
func (s *Selector) Pick(candidates []string, exclude map[string]struct{}) (string, bool) {
	var (
		best     string
		bestRank uint64
		found    bool
	)

	for _, id := range candidates {
		if _, skip := exclude[id]; skip {
			continue
		}

		rank := s.Rank(id)
		if !found || rank > bestRank || (rank == bestRank && id < best) {
			best, bestRank, found = id, rank, true
		}
	}

	return best, found
}
