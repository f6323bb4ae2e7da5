package services

import (
	"strings"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/platform/textutil"
)

// DefaultMatchMinScore is the lowest score accepted as a catalog match.
const DefaultMatchMinScore = 50

// MatchWeights holds the additive scoring rules used by the catalog matcher.
type MatchWeights struct {
	BrandExact    int
	BrandContains int
	ProductName   int
	Type          int
	LabelName     int
	LabelBrand    int
	KeywordName   int
	KeywordBrand  int
	KeywordType   int
}

// DefaultMatchWeights returns the production scoring table.
func DefaultMatchWeights() MatchWeights {
	return MatchWeights{
		BrandExact:    150,
		BrandContains: 100,
		ProductName:   80,
		Type:          50,
		LabelName:     60,
		LabelBrand:    60,
		KeywordName:   15,
		KeywordBrand:  20,
		KeywordType:   10,
	}
}

// MatcherConfig selects the matcher variant. Strict disables keyword overlap bonuses and
// is used for live camera scanning where labels are noisy.
type MatcherConfig struct {
	Strict   bool
	Weights  MatchWeights
	MinScore int
}

// MatchQuery is the description of a bottle to resolve against the catalog.
type MatchQuery struct {
	Label       string
	Brand       string
	ProductName string
	Type        string
}

// MatchQueryFromObservation builds a query from a vision observation.
func MatchQueryFromObservation(obs domain.BottleObservation) MatchQuery {
	return MatchQuery{
		Label:       obs.Label,
		Brand:       obs.Brand,
		ProductName: obs.ProductName,
		Type:        obs.Type,
	}
}

// MatchResult is the best catalog candidate. Bottle is nil when nothing scored high enough.
type MatchResult struct {
	Bottle *domain.CatalogBottle
	Score  int
}

// CatalogMatcher scores catalog bottles against a description.
type CatalogMatcher struct {
	strict   bool
	weights  MatchWeights
	minScore int
}

var matcherStopWords = map[string]struct{}{
	"the": {}, "and": {}, "con": {}, "del": {}, "los": {}, "las": {}, "una": {}, "uno": {},
	"para": {}, "por": {}, "botella": {}, "bottle": {}, "litro": {}, "litros": {},
}

// NewCatalogMatcher returns a matcher using cfg, filling zero weights and score with defaults.
func NewCatalogMatcher(cfg MatcherConfig) *CatalogMatcher {
	weights := cfg.Weights
	if weights == (MatchWeights{}) {
		weights = DefaultMatchWeights()
	}
	minScore := cfg.MinScore
	if minScore <= 0 {
		minScore = DefaultMatchMinScore
	}
	return &CatalogMatcher{strict: cfg.Strict, weights: weights, minScore: minScore}
}

// Strict reports whether keyword bonuses are disabled.
func (m *CatalogMatcher) Strict() bool {
	return m.strict
}

// Match returns the highest scoring catalog bottle. The first candidate wins ties.
func (m *CatalogMatcher) Match(query MatchQuery, catalog []domain.CatalogBottle) MatchResult {
	if len(catalog) == 0 {
		return MatchResult{}
	}

	q := foldQuery(query)
	keywords := m.keywords(q)

	bestIdx := -1
	bestScore := 0
	for i := range catalog {
		score := m.score(q, keywords, foldCandidate(catalog[i]))
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx < 0 || bestScore < m.minScore {
		return MatchResult{}
	}
	match := catalog[bestIdx]
	return MatchResult{Bottle: &match, Score: bestScore}
}

type foldedQuery struct {
	label, brand, product, kind string
}

type foldedCandidate struct {
	name, brand, kind string
}

func foldQuery(q MatchQuery) foldedQuery {
	return foldedQuery{
		label:   textutil.Fold(q.Label),
		brand:   textutil.Fold(q.Brand),
		product: textutil.Fold(q.ProductName),
		kind:    textutil.Fold(q.Type),
	}
}

func foldCandidate(b domain.CatalogBottle) foldedCandidate {
	return foldedCandidate{
		name:  textutil.Fold(b.Name),
		brand: textutil.Fold(b.Brand),
		kind:  textutil.Fold(b.LiquorType),
	}
}

func (m *CatalogMatcher) score(q foldedQuery, keywords []string, c foldedCandidate) int {
	w := m.weights
	score := 0

	switch {
	case q.brand != "" && q.brand == c.brand:
		score += w.BrandExact
	case textutil.ContainsEither(q.brand, c.brand):
		score += w.BrandContains
	}
	if textutil.ContainsEither(q.product, c.name) {
		score += w.ProductName
	}
	if textutil.ContainsEither(q.kind, c.kind) {
		score += w.Type
	}
	if textutil.ContainsEither(q.label, c.name) {
		score += w.LabelName
	}
	if textutil.ContainsEither(q.label, c.brand) {
		score += w.LabelBrand
	}

	if m.strict {
		return score
	}
	for _, kw := range keywords {
		if strings.Contains(c.name, kw) {
			score += w.KeywordName
		}
		if strings.Contains(c.brand, kw) {
			score += w.KeywordBrand
		}
		if strings.Contains(c.kind, kw) {
			score += w.KeywordType
		}
	}
	return score
}

func (m *CatalogMatcher) keywords(q foldedQuery) []string {
	if m.strict {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, field := range []string{q.label, q.brand, q.product, q.kind} {
		for _, token := range textutil.Tokens(field) {
			if len([]rune(token)) <= 2 {
				continue
			}
			if _, stop := matcherStopWords[token]; stop {
				continue
			}
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			out = append(out, token)
		}
	}
	return out
}
