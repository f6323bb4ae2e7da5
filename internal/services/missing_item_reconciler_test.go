package services

import (
	"reflect"
	"testing"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
)

func sampleCartItems() []domain.CartItem {
	return []domain.CartItem{
		{ProductID: "coke", Name: "Coca Cola", Brand: "Coca-Cola", Presentation: "355ml", ExpectedQuantity: 10},
		{ProductID: "water", Name: "Agua", Brand: "Ciel", Presentation: "600ml", ExpectedQuantity: 12},
		{ProductID: "jw-red", Name: "Red Label", Brand: "Johnnie Walker", Presentation: "50ml", ExpectedQuantity: 6, Tags: []string{"alcohol"}},
	}
}

func TestReconcileFromReport(t *testing.T) {
	items := sampleCartItems()

	got := ReconcileFromReport(items, []ReportedQuantity{{ProductID: "coke", QuantityMentioned: 6}}, nil)
	want := []domain.LedgerEntry{{ProductID: "coke", Brand: "Coca-Cola", Presentation: "355ml", Missing: 4, Found: 6}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected ledger %+v", got)
	}

	got = ReconcileFromReport(items, []ReportedQuantity{{ProductID: "coke", QuantityMentioned: 10}}, got)
	if len(got) != 0 {
		t.Fatalf("expected full report to clear the entry, got %+v", got)
	}
}

func TestReconcileFromReportKeepsUnreportedAndIgnoresUnknown(t *testing.T) {
	items := sampleCartItems()
	ledger := []domain.LedgerEntry{{ProductID: "water", Missing: 2, Found: 10}}

	got := ReconcileFromReport(items, []ReportedQuantity{
		{ProductID: "coke", QuantityMentioned: 7},
		{ProductID: "chips", QuantityMentioned: 1},
	}, ledger)

	if len(got) != 2 {
		t.Fatalf("expected two entries, got %+v", got)
	}
	if got[0] != ledger[0] {
		t.Fatalf("expected unreported water entry untouched, got %+v", got[0])
	}
	if got[1].ProductID != "coke" || got[1].Missing != 3 {
		t.Fatalf("unexpected coke entry %+v", got[1])
	}
	if ledger[0].Missing != 2 || len(ledger) != 1 {
		t.Fatalf("input ledger must not be mutated")
	}
}

func TestReconcileFromReportLaterDuplicateWinsAndClampsNegative(t *testing.T) {
	items := sampleCartItems()
	got := ReconcileFromReport(items, []ReportedQuantity{
		{ProductID: "coke", QuantityMentioned: 2},
		{ProductID: "coke", QuantityMentioned: -3},
	}, nil)
	if len(got) != 1 || got[0].Missing != 10 || got[0].Found != 0 {
		t.Fatalf("expected later negative report treated as zero, got %+v", got)
	}
}

func TestApplyCorrectionIsIdempotent(t *testing.T) {
	items := sampleCartItems()
	replacement := []domain.LedgerEntry{
		{ProductID: "coke", Missing: 3},
		{ProductID: "water", Missing: 40},
		{ProductID: "unknown", Missing: 1},
		{ProductID: "jw-red", Missing: 0},
	}

	once := ApplyCorrection(items, replacement)
	twice := ApplyCorrection(items, once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("expected idempotent correction, got %+v then %+v", once, twice)
	}
	want := []domain.LedgerEntry{
		{ProductID: "coke", Brand: "Coca-Cola", Presentation: "355ml", Missing: 3, Found: 7},
		{ProductID: "water", Brand: "Ciel", Presentation: "600ml", Missing: 12, Found: 0},
	}
	if !reflect.DeepEqual(once, want) {
		t.Fatalf("unexpected corrected ledger %+v", once)
	}
}

func TestAddMissing(t *testing.T) {
	items := sampleCartItems()

	got := AddMissing(items, nil, "jw-red", 1)
	got = AddMissing(items, got, "jw-red", 2)
	if len(got) != 1 || got[0].Missing != 3 || got[0].Found != 3 {
		t.Fatalf("expected additive missing entry, got %+v", got)
	}

	got = AddMissing(items, got, "jw-red", 10)
	if got[0].Missing != 6 || got[0].Found != 0 {
		t.Fatalf("expected missing clamped to expected quantity, got %+v", got[0])
	}

	if unchanged := AddMissing(items, got, "chips", 1); !reflect.DeepEqual(unchanged, got) {
		t.Fatalf("expected unknown product to be ignored")
	}
	if unchanged := AddMissing(items, got, "coke", 0); !reflect.DeepEqual(unchanged, got) {
		t.Fatalf("expected zero quantity to be ignored")
	}
}
