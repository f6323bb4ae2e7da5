package services

import (
	"errors"
	"fmt"
	"strings"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
)

// ErrBottlePairNotFound is returned when a merge references a pair that is no longer pending.
var ErrBottlePairNotFound = errors.New("bottle pairing: pair not found")

const (
	mergedLabelSuffix = " (combined)"
	mergeConfidenceUp = 10
)

// FindPairs scans the working set once and appends every new compatible pair to pending.
// A bottle is used by at most one new pair per scan, merged bottles are skipped, and pairs
// already pending are not duplicated.
func FindPairs(bottles []domain.MatchedBottle, pending []domain.BottlePair) []domain.BottlePair {
	out := make([]domain.BottlePair, len(pending), len(pending)+len(bottles)/2)
	copy(out, pending)

	known := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		known[p.ID] = struct{}{}
	}

	consumed := make(map[int]bool, len(bottles))
	for i := range bottles {
		a := bottles[i]
		if consumed[i] || !pairable(a) {
			continue
		}
		levelA, _ := a.Level.Get()
		for j := i + 1; j < len(bottles); j++ {
			b := bottles[j]
			if consumed[j] || !pairable(b) || b.CatalogID() != a.CatalogID() {
				continue
			}
			levelB, _ := b.Level.Get()
			if !CanCompleteTogether(levelA, levelB) {
				continue
			}
			consumed[i], consumed[j] = true, true

			pair := newBottlePair(a, b)
			if _, dup := known[pair.ID]; !dup {
				known[pair.ID] = struct{}{}
				out = append(out, pair)
			}
			break
		}
	}
	return out
}

func pairable(b domain.MatchedBottle) bool {
	return !b.Merged && b.Catalog != nil && b.Level.Valid() && b.RemainingML.Valid()
}

func newBottlePair(a, b domain.MatchedBottle) domain.BottlePair {
	levelA, _ := a.Level.Get()
	levelB, _ := b.Level.Get()
	mlA, _ := a.RemainingML.Get()
	mlB, _ := b.RemainingML.Get()
	return domain.BottlePair{
		ID:                 domain.PairID(a.ID, b.ID),
		Bottle1:            a,
		Bottle2:            b,
		CombinedPercentage: clampPercentage(levelA + levelB),
		CombinedML:         mlA + mlB,
		CatalogID:          a.CatalogID(),
	}
}

// MergeResult is the working set and pending list after a merge.
type MergeResult struct {
	Bottles []domain.MatchedBottle
	Pending []domain.BottlePair
	Merged  domain.MatchedBottle
	Removed domain.MatchedBottle
}

// ApplyMerge pours bottle2 of the pair into bottle1. bottle1 takes the combined level and
// volume and is flagged as merged; bottle2 leaves the working set, and every pending pair
// that referenced either bottle is dropped.
func ApplyMerge(pairID string, bottles []domain.MatchedBottle, pending []domain.BottlePair) (MergeResult, error) {
	id := strings.TrimSpace(pairID)
	var pair *domain.BottlePair
	for i := range pending {
		if pending[i].ID == id {
			pair = &pending[i]
			break
		}
	}
	if pair == nil {
		return MergeResult{}, fmt.Errorf("%w: %s", ErrBottlePairNotFound, id)
	}

	idx1, idx2 := -1, -1
	for i := range bottles {
		switch bottles[i].ID {
		case pair.Bottle1.ID:
			idx1 = i
		case pair.Bottle2.ID:
			idx2 = i
		}
	}
	if idx1 < 0 || idx2 < 0 {
		return MergeResult{}, fmt.Errorf("%w: %s references bottles outside the working set", ErrBottlePairNotFound, id)
	}

	merged := bottles[idx1]
	merged.Level = domain.Some(pair.CombinedPercentage)
	merged.RemainingML = domain.Some(pair.CombinedML)
	merged.Disposition = ClassifyLevel(pair.CombinedPercentage)
	merged.Observation.Label = strings.TrimSpace(merged.Observation.Label) + mergedLabelSuffix
	merged.Observation.Confidence = min(merged.Observation.Confidence+mergeConfidenceUp, 100)
	merged.Merged = true
	removed := bottles[idx2]

	nextBottles := make([]domain.MatchedBottle, 0, len(bottles)-1)
	for i := range bottles {
		switch i {
		case idx1:
			nextBottles = append(nextBottles, merged)
		case idx2:
		default:
			nextBottles = append(nextBottles, bottles[i])
		}
	}

	nextPending := make([]domain.BottlePair, 0, len(pending))
	for _, p := range pending {
		if p.ID == id || p.References(merged.ID) || p.References(removed.ID) {
			continue
		}
		nextPending = append(nextPending, p)
	}

	return MergeResult{
		Bottles: nextBottles,
		Pending: nextPending,
		Merged:  merged,
		Removed: removed,
	}, nil
}
