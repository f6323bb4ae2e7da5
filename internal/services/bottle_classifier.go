package services

import domain "github.com/Francovarelav/pickpackpromx/internal/domain"

const (
	// ReuseAbove is the level above which a bottle goes back into service as is.
	ReuseAbove = 50
	// CompleteFrom is the lowest level a bottle can have and still be topped up from another.
	CompleteFrom = 25
	// PairTargetLevel is the combined level two bottles must reach to be merged.
	PairTargetLevel = 50
)

// ClassifyLevel decides what happens to a bottle with p percent of liquid left.
// Both 25 and 50 fall into the complete band.
func ClassifyLevel(p int) domain.Disposition {
	switch {
	case p > ReuseAbove:
		return domain.DispositionReuse
	case p >= CompleteFrom:
		return domain.DispositionComplete
	default:
		return domain.DispositionDiscard
	}
}

// ClassifyBottle returns the disposition for a measured bottle or unknown when its level is.
func ClassifyBottle(level domain.Optional[int]) domain.Disposition {
	p, ok := level.Get()
	if !ok {
		return domain.DispositionUnknown
	}
	return ClassifyLevel(p)
}

// CanCompleteTogether reports whether two complete-band bottles reach the target level when poured together.
func CanCompleteTogether(a, b int) bool {
	inBand := func(p int) bool { return p >= CompleteFrom && p <= ReuseAbove }
	return inBand(a) && inBand(b) && a+b >= PairTargetLevel
}
