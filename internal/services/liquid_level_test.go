package services

import (
	"testing"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
)

func TestLiquidPercentage(t *testing.T) {
	tests := []struct {
		name             string
		now, empty, full float64
		want             int
	}{
		{"half", 800, 500, 1100, 50},
		{"empty bottle", 500, 500, 1100, 0},
		{"full bottle", 1100, 500, 1100, 100},
		{"below tare", 450, 500, 1100, 0},
		{"overfilled", 1300, 500, 1100, 100},
		{"missing weight", 0, 500, 1100, 0},
		{"missing empty", 800, 0, 1100, 0},
		{"inverted reference", 800, 1100, 500, 0},
		{"rounds", 733, 500, 1100, 39},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := LiquidPercentage(tc.now, tc.empty, tc.full); got != tc.want {
				t.Fatalf("LiquidPercentage(%v,%v,%v) = %d, want %d", tc.now, tc.empty, tc.full, got, tc.want)
			}
		})
	}
}

func TestLiquidPercentageMonotonic(t *testing.T) {
	prev := -1
	for w := 400.0; w <= 1200; w += 7 {
		p := LiquidPercentage(w, 500, 1100)
		if p < 0 || p > 100 {
			t.Fatalf("percentage %d out of bounds for weight %v", p, w)
		}
		if p < prev {
			t.Fatalf("percentage decreased from %d to %d at weight %v", prev, p, w)
		}
		prev = p
	}
}

func TestRemainingML(t *testing.T) {
	if got := RemainingML(800, 500, 0.95); got != 316 {
		t.Fatalf("expected 316ml, got %d", got)
	}
	if got := RemainingML(800, 500, 0); got != 319 {
		t.Fatalf("expected default density 319ml, got %d", got)
	}
	if got := RemainingML(400, 500, 0.94); got != 0 {
		t.Fatalf("expected 0ml below tare, got %d", got)
	}
	if got := RemainingML(0, 500, 0.94); got != 0 {
		t.Fatalf("expected 0ml for missing weight, got %d", got)
	}
}

func TestDensityForType(t *testing.T) {
	tests := map[string]float64{
		"Vodka":              0.94,
		"Whisky Escocés":     0.95,
		"Single malt scotch": 0.95,
		"Cognac":             0.96,
		"Licor de café":      1.05,
		"Vino tinto":         0.99,
		"Champaña":           0.99,
		"Cerveza":            1.01,
		"Sake":               DefaultLiquorDensity,
		"":                   DefaultLiquorDensity,
	}
	for input, want := range tests {
		if got := DensityForType(input); got != want {
			t.Errorf("DensityForType(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestMeasureBottle(t *testing.T) {
	catalog := &domain.CatalogBottle{ID: "jw-red", LiquorType: "whisky", EmptyWeight: 500, FullWeight: 1100}

	level, ml := MeasureBottle(catalog, domain.Some(800.0))
	if v, ok := level.Get(); !ok || v != 50 {
		t.Fatalf("expected level 50, got %v %v", v, ok)
	}
	if v, ok := ml.Get(); !ok || v != 316 {
		t.Fatalf("expected 316ml from whisky density, got %v %v", v, ok)
	}

	level, ml = MeasureBottle(catalog, domain.None[float64]())
	if level.Valid() || ml.Valid() {
		t.Fatalf("expected unknown level without a scale weight")
	}

	level, _ = MeasureBottle(&domain.CatalogBottle{ID: "no-weights"}, domain.Some(800.0))
	if level.Valid() {
		t.Fatalf("expected unknown level without reference weights")
	}

	level, _ = MeasureBottle(nil, domain.Some(800.0))
	if level.Valid() {
		t.Fatalf("expected unknown level without a catalog match")
	}
}
