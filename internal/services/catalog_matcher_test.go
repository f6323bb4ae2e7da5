package services

import (
	"testing"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
)

func sampleCatalog() []domain.CatalogBottle {
	return []domain.CatalogBottle{
		{ID: "jw-red", Name: "Red Label", Brand: "Johnnie Walker", LiquorType: "Whisky", EmptyWeight: 500, FullWeight: 1100},
		{ID: "jw-black", Name: "Black Label", Brand: "Johnnie Walker", LiquorType: "Whisky", EmptyWeight: 520, FullWeight: 1130},
		{ID: "bacardi", Name: "Carta Blanca", Brand: "Bacardí", LiquorType: "Ron", EmptyWeight: 480, FullWeight: 1180},
		{ID: "absolut", Name: "Absolut Vodka", Brand: "Absolut", LiquorType: "Vodka", EmptyWeight: 600, FullWeight: 1300},
	}
}

func TestCatalogMatcherExactBrandAndName(t *testing.T) {
	matcher := NewCatalogMatcher(MatcherConfig{Strict: true})
	result := matcher.Match(MatchQuery{
		Label:       "Johnnie Walker Black Label 750ml",
		Brand:       "JOHNNIE WALKER",
		ProductName: "Black Label",
		Type:        "whisky",
	}, sampleCatalog())

	if result.Bottle == nil || result.Bottle.ID != "jw-black" {
		t.Fatalf("expected jw-black, got %+v", result)
	}
	want := 150 + 80 + 50 + 60 + 60
	if result.Score != want {
		t.Fatalf("expected score %d, got %d", want, result.Score)
	}
}

func TestCatalogMatcherFoldsAccents(t *testing.T) {
	matcher := NewCatalogMatcher(MatcherConfig{Strict: true})
	result := matcher.Match(MatchQuery{Label: "bacardi", Brand: "Bacardi"}, sampleCatalog())
	if result.Bottle == nil || result.Bottle.ID != "bacardi" {
		t.Fatalf("expected accent-insensitive brand match, got %+v", result)
	}
}

func TestCatalogMatcherTiesKeepFirstCandidate(t *testing.T) {
	matcher := NewCatalogMatcher(MatcherConfig{Strict: true})
	result := matcher.Match(MatchQuery{Label: "whisky", Brand: "Johnnie Walker"}, sampleCatalog())
	if result.Bottle == nil || result.Bottle.ID != "jw-red" {
		t.Fatalf("expected first-seen jw-red on a tie, got %+v", result)
	}
}

func TestCatalogMatcherThreshold(t *testing.T) {
	catalog := []domain.CatalogBottle{{ID: "absolut", Name: "Absolut", Brand: "Absolut", LiquorType: "Vodka"}}

	below := NewCatalogMatcher(MatcherConfig{Strict: true, Weights: MatchWeights{Type: 49}})
	if got := below.Match(MatchQuery{Type: "vodka"}, catalog); got.Bottle != nil || got.Score != 0 {
		t.Fatalf("expected score 49 to be rejected, got %+v", got)
	}

	at := NewCatalogMatcher(MatcherConfig{Strict: true, Weights: MatchWeights{Type: 50}})
	got := at.Match(MatchQuery{Type: "vodka"}, catalog)
	if got.Bottle == nil || got.Score != 50 {
		t.Fatalf("expected score 50 to match, got %+v", got)
	}
}

func TestCatalogMatcherKeywordBonusOnlyWhenLenient(t *testing.T) {
	catalog := sampleCatalog()
	// truncated OCR label: no field matches as a whole
	query := MatchQuery{Label: "Blanca Carta Bacar"}

	strict := NewCatalogMatcher(MatcherConfig{Strict: true})
	if got := strict.Match(query, catalog); got.Bottle != nil {
		t.Fatalf("strict matcher should not accept keyword-only evidence, got %+v", got)
	}

	lenient := NewCatalogMatcher(MatcherConfig{Strict: false})
	got := lenient.Match(query, catalog)
	if got.Bottle == nil || got.Bottle.ID != "bacardi" {
		t.Fatalf("expected lenient keyword match on bacardi, got %+v", got)
	}
	if got.Score != 15+15+20 {
		t.Fatalf("expected score 50, got %d", got.Score)
	}
}

func TestCatalogMatcherEmptyInputs(t *testing.T) {
	matcher := NewCatalogMatcher(MatcherConfig{})
	if got := matcher.Match(MatchQuery{}, sampleCatalog()); got.Bottle != nil || got.Score != 0 {
		t.Fatalf("expected no match for an empty query, got %+v", got)
	}
	if got := matcher.Match(MatchQuery{Brand: "Absolut"}, nil); got.Bottle != nil {
		t.Fatalf("expected no match for an empty catalog, got %+v", got)
	}
}
