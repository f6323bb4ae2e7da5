package domain

import (
	"time"
)

// CartStatus is the persisted lifecycle status of a catering cart.
type CartStatus string

const (
	// CartStatusCleaning marks a cart returned from service and waiting for cleaning.
	CartStatusCleaning CartStatus = "cleaning"
	// CartStatusWeighing marks a cart whose alcohol bottles are being weighed.
	CartStatusWeighing CartStatus = "weighing"
	// CartStatusPickAndPack marks a cart ready to be restocked.
	CartStatusPickAndPack CartStatus = "pick_and_pack"
	// CartStatusAirborne marks a cart loaded on a flight. Set by outside systems only.
	CartStatusAirborne CartStatus = "airborne"
)

// Valid reports whether the status is one of the known values.
func (s CartStatus) Valid() bool {
	switch s {
	case CartStatusCleaning, CartStatusWeighing, CartStatusPickAndPack, CartStatusAirborne:
		return true
	}
	return false
}

// ProcessPhase is the fulfillment step a cart is in. It is derived from the cart
// and never persisted.
type ProcessPhase string

const (
	PhaseCleaning      ProcessPhase = "cleaning"
	PhaseBottleControl ProcessPhase = "bottle-control"
	PhaseFinished      ProcessPhase = "finished"
)

// Cart aggregates the expected contents and reconciliation state of a trolley.
type Cart struct {
	ID                       string
	FlightNumber             string
	Items                    []CartItem
	Ledger                   []LedgerEntry
	Status                   CartStatus
	CleaningCompletedAt      *time.Time
	BottleControlCompletedAt *time.Time
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// CartItem is one expected line of a cart.
type CartItem struct {
	ProductID        string
	Name             string
	Brand            string
	Presentation     string
	Category         string
	Tags             []string
	ExpectedQuantity int
	UnitPrice        float64
}

// LedgerEntry records how many units of a product are missing from a cart and how
// many were confirmed present.
type LedgerEntry struct {
	ProductID    string `json:"productId"`
	Brand        string `json:"brand,omitempty"`
	Presentation string `json:"presentation,omitempty"`
	Missing      int    `json:"missing"`
	Found        int    `json:"found"`
}

// CatalogBottle is a reference bottle type with the physical data needed to turn a
// scale reading into a liquid level.
type CatalogBottle struct {
	ID                string
	Name              string
	Brand             string
	LiquorType        string
	VolumeML          int
	EmptyWeight       float64
	FullWeight        float64
	Density           float64
	UnitPrice         float64
	AlcoholPercentage float64
}

// HasWeights reports whether both reference weights are present and ordered.
func (b CatalogBottle) HasWeights() bool {
	return b.EmptyWeight > 0 && b.FullWeight > 0 && b.EmptyWeight < b.FullWeight
}

// BottleObservation is one bottle reported by the vision collaborator for a frame.
type BottleObservation struct {
	Label       string
	Brand       string
	ProductName string
	Type        string
	Volume      string
	Confidence  int
	ScaleWeight Optional[float64]
}

// Disposition is the decision taken for a returned bottle.
type Disposition string

const (
	DispositionUnknown  Disposition = ""
	DispositionReuse    Disposition = "reuse"
	DispositionComplete Disposition = "complete"
	DispositionDiscard  Disposition = "discard"
)

// MatchedBottle is an observation resolved against the catalog and measured.
type MatchedBottle struct {
	ID          string
	Observation BottleObservation
	Catalog     *CatalogBottle
	MatchScore  int
	Level       Optional[int]
	RemainingML Optional[int]
	Disposition Disposition
	Merged      bool
	DetectedAt  time.Time
}

// CatalogID returns the matched catalog bottle id or "" when unmatched.
func (b MatchedBottle) CatalogID() string {
	if b.Catalog == nil {
		return ""
	}
	return b.Catalog.ID
}

// BottlePair is a suggestion to pour two partially consumed bottles of the same
// type into one.
type BottlePair struct {
	ID                 string
	Bottle1            MatchedBottle
	Bottle2            MatchedBottle
	CombinedPercentage int
	CombinedML         int
	CatalogID          string
}

// PairID builds the identity of a pair from its two bottle ids.
func PairID(bottle1ID, bottle2ID string) string {
	return bottle1ID + "~" + bottle2ID
}

// References reports whether the pair includes the bottle.
func (p BottlePair) References(bottleID string) bool {
	return p.Bottle1.ID == bottleID || p.Bottle2.ID == bottleID
}
