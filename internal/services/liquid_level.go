package services

import (
	"math"
	"strings"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/platform/textutil"
)

// DefaultLiquorDensity is used when neither the catalog nor the liquor type gives a density (g/ml).
const DefaultLiquorDensity = 0.94

type densityRule struct {
	keywords []string
	density  float64
}

// Evaluated in order. The first rule with a keyword contained in the folded type wins.
var densityRules = []densityRule{
	{keywords: []string{"vodka"}, density: 0.94},
	{keywords: []string{"tequila", "mezcal"}, density: 0.94},
	{keywords: []string{"rum", "ron"}, density: 0.94},
	{keywords: []string{"gin", "ginebra"}, density: 0.94},
	{keywords: []string{"whisky", "whiskey", "bourbon", "scotch"}, density: 0.95},
	{keywords: []string{"brandy", "cognac"}, density: 0.96},
	{keywords: []string{"liqueur", "licor", "crema", "amaretto"}, density: 1.05},
	{keywords: []string{"wine", "vino"}, density: 0.99},
	{keywords: []string{"champagne", "champana", "espumoso", "cava"}, density: 0.99},
	{keywords: []string{"beer", "cerveza"}, density: 1.01},
}

// LiquidPercentage converts a scale reading into the percentage of liquid left in a bottle.
// Missing inputs yield 0.
func LiquidPercentage(weightNow, emptyWeight, fullWeight float64) int {
	if weightNow <= 0 || emptyWeight <= 0 || fullWeight <= 0 {
		return 0
	}
	liquidFull := fullWeight - emptyWeight
	if liquidFull <= 0 {
		return 0
	}
	liquidNow := math.Max(weightNow-emptyWeight, 0)
	return clampPercentage(int(math.Round(liquidNow / liquidFull * 100)))
}

// RemainingML converts the liquid mass left in a bottle into millilitres. A non-positive
// density falls back to DefaultLiquorDensity.
func RemainingML(weightNow, emptyWeight, density float64) int {
	if weightNow <= 0 || emptyWeight <= 0 {
		return 0
	}
	liquidNow := weightNow - emptyWeight
	if liquidNow <= 0 {
		return 0
	}
	if density <= 0 {
		density = DefaultLiquorDensity
	}
	ml := int(math.Round(liquidNow / density))
	if ml < 0 {
		return 0
	}
	return ml
}

// DensityForType returns the density of a liquor type from the rule table.
func DensityForType(liquorType string) float64 {
	folded := textutil.Fold(liquorType)
	if folded == "" {
		return DefaultLiquorDensity
	}
	for _, rule := range densityRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(folded, keyword) {
				return rule.density
			}
		}
	}
	return DefaultLiquorDensity
}

// MeasureBottle computes level and remaining volume for a matched bottle. Both stay unknown
// unless the catalog entry carries both reference weights and a scale weight was reported.
func MeasureBottle(catalog *domain.CatalogBottle, weight domain.Optional[float64]) (level domain.Optional[int], ml domain.Optional[int]) {
	grams, ok := weight.Get()
	if catalog == nil || !ok || grams <= 0 || !catalog.HasWeights() {
		return domain.None[int](), domain.None[int]()
	}
	density := catalog.Density
	if density <= 0 {
		density = DensityForType(catalog.LiquorType)
	}
	return domain.Some(LiquidPercentage(grams, catalog.EmptyWeight, catalog.FullWeight)),
		domain.Some(RemainingML(grams, catalog.EmptyWeight, density))
}

func clampPercentage(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
