package handlers

import (
	"time"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/services"
)

type cartPayload struct {
	ID                       string               `json:"id"`
	FlightNumber             string               `json:"flightNumber,omitempty"`
	Status                   string               `json:"status"`
	Items                    []cartItemPayload    `json:"items"`
	Ledger                   []domain.LedgerEntry `json:"ledger"`
	CleaningCompletedAt      string               `json:"cleaningCompletedAt,omitempty"`
	BottleControlCompletedAt string               `json:"bottleControlCompletedAt,omitempty"`
	UpdatedAt                string               `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ProductID        string   `json:"productId"`
	Name             string   `json:"name"`
	Brand            string   `json:"brand,omitempty"`
	Presentation     string   `json:"presentation,omitempty"`
	Category         string   `json:"category,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	ExpectedQuantity int      `json:"expectedQuantity"`
	UnitPrice        float64  `json:"unitPrice"`
}

type progressResponse struct {
	Cart       cartPayload          `json:"cart"`
	Phase      domain.ProcessPhase  `json:"phase"`
	Ledger     []domain.LedgerEntry `json:"ledger"`
	HasAlcohol bool                 `json:"hasAlcohol"`
	SessionID  string               `json:"sessionId,omitempty"`
}

type ledgerResponse struct {
	CartID    string               `json:"cartId"`
	Phase     domain.ProcessPhase  `json:"phase"`
	Ledger    []domain.LedgerEntry `json:"ledger"`
	Unmatched []string             `json:"unmatched,omitempty"`
	UpdatedAt string               `json:"updatedAt,omitempty"`
}

type phaseResponse struct {
	From    domain.ProcessPhase `json:"from"`
	Phase   domain.ProcessPhase `json:"phase"`
	Status  domain.CartStatus   `json:"status"`
	Changed bool                `json:"changed"`
	Cart    cartPayload         `json:"cart"`
}

type catalogBottlePayload struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Brand             string  `json:"brand,omitempty"`
	LiquorType        string  `json:"liquorType,omitempty"`
	VolumeML          int     `json:"volumeMl,omitempty"`
	EmptyWeight       float64 `json:"emptyWeightGrams,omitempty"`
	FullWeight        float64 `json:"fullWeightGrams,omitempty"`
	UnitPrice         float64 `json:"unitPrice,omitempty"`
	AlcoholPercentage float64 `json:"alcoholPercentage,omitempty"`
}

type bottlePayload struct {
	ID          string                   `json:"id"`
	Label       string                   `json:"label"`
	Brand       string                   `json:"brand,omitempty"`
	ProductName string                   `json:"productName,omitempty"`
	Type        string                   `json:"type,omitempty"`
	Volume      string                   `json:"volume,omitempty"`
	Confidence  int                      `json:"confidence"`
	ScaleWeight domain.Optional[float64] `json:"scaleWeightGrams"`
	Catalog     *catalogBottlePayload    `json:"catalogBottle"`
	MatchScore  int                      `json:"matchScore"`
	Level       domain.Optional[int]     `json:"liquidPercentage"`
	RemainingML domain.Optional[int]     `json:"remainingMl"`
	Disposition string                   `json:"disposition"`
	Merged      bool                     `json:"merged"`
	DetectedAt  string                   `json:"detectedAt,omitempty"`
}

type pairPayload struct {
	ID                 string        `json:"id"`
	Bottle1            bottlePayload `json:"bottle1"`
	Bottle2            bottlePayload `json:"bottle2"`
	CombinedPercentage int           `json:"combinedPercentage"`
	CombinedML         int           `json:"combinedMl"`
	CatalogID          string        `json:"catalogId"`
}

type sessionPayload struct {
	SessionID       string          `json:"sessionId"`
	CartID          string          `json:"cartId"`
	Bottles         []bottlePayload `json:"bottles"`
	Pairs           []pairPayload   `json:"pairs"`
	Notice          string          `json:"notice,omitempty"`
	Cycle           int             `json:"cycle"`
	CooldownUntil   string          `json:"cooldownUntil,omitempty"`
	NextDetectionAt string          `json:"nextDetectionAt,omitempty"`
	Closed          bool            `json:"closed"`
	UpdatedAt       string          `json:"updatedAt,omitempty"`
}

type identifyResponse struct {
	Matched     bool                  `json:"matched"`
	Catalog     *catalogBottlePayload `json:"catalogBottle"`
	Score       int                   `json:"score"`
	Level       domain.Optional[int]  `json:"liquidPercentage"`
	RemainingML domain.Optional[int]  `json:"remainingMl"`
	Disposition string                `json:"disposition"`
}

func buildCartPayload(cart domain.Cart) cartPayload {
	payload := cartPayload{
		ID:                       cart.ID,
		FlightNumber:             cart.FlightNumber,
		Status:                   string(cart.Status),
		Items:                    make([]cartItemPayload, 0, len(cart.Items)),
		Ledger:                   ledgerOrEmpty(cart.Ledger),
		CleaningCompletedAt:      formatTimePtr(cart.CleaningCompletedAt),
		BottleControlCompletedAt: formatTimePtr(cart.BottleControlCompletedAt),
		UpdatedAt:                formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID:        item.ProductID,
			Name:             item.Name,
			Brand:            item.Brand,
			Presentation:     item.Presentation,
			Category:         item.Category,
			Tags:             item.Tags,
			ExpectedQuantity: item.ExpectedQuantity,
			UnitPrice:        item.UnitPrice,
		})
	}
	return payload
}

func buildLedgerResponse(result services.LedgerResult) ledgerResponse {
	return ledgerResponse{
		CartID:    result.Cart.ID,
		Phase:     services.DerivePhase(result.Cart),
		Ledger:    ledgerOrEmpty(result.Ledger),
		Unmatched: result.Unmatched,
		UpdatedAt: formatTime(result.Cart.UpdatedAt),
	}
}

func buildCatalogBottlePayload(bottle *domain.CatalogBottle) *catalogBottlePayload {
	if bottle == nil {
		return nil
	}
	return &catalogBottlePayload{
		ID:                bottle.ID,
		Name:              bottle.Name,
		Brand:             bottle.Brand,
		LiquorType:        bottle.LiquorType,
		VolumeML:          bottle.VolumeML,
		EmptyWeight:       bottle.EmptyWeight,
		FullWeight:        bottle.FullWeight,
		UnitPrice:         bottle.UnitPrice,
		AlcoholPercentage: bottle.AlcoholPercentage,
	}
}

func buildBottlePayload(bottle domain.MatchedBottle) bottlePayload {
	return bottlePayload{
		ID:          bottle.ID,
		Label:       bottle.Observation.Label,
		Brand:       bottle.Observation.Brand,
		ProductName: bottle.Observation.ProductName,
		Type:        bottle.Observation.Type,
		Volume:      bottle.Observation.Volume,
		Confidence:  bottle.Observation.Confidence,
		ScaleWeight: bottle.Observation.ScaleWeight,
		Catalog:     buildCatalogBottlePayload(bottle.Catalog),
		MatchScore:  bottle.MatchScore,
		Level:       bottle.Level,
		RemainingML: bottle.RemainingML,
		Disposition: dispositionLabel(bottle.Disposition),
		Merged:      bottle.Merged,
		DetectedAt:  formatTime(bottle.DetectedAt),
	}
}

func buildSessionPayload(snap services.BottleSessionSnapshot) sessionPayload {
	payload := sessionPayload{
		SessionID:       snap.SessionID,
		CartID:          snap.CartID,
		Bottles:         make([]bottlePayload, 0, len(snap.Bottles)),
		Pairs:           make([]pairPayload, 0, len(snap.Pairs)),
		Notice:          snap.Notice,
		Cycle:           snap.Cycle,
		CooldownUntil:   formatTimePtr(snap.CooldownUntil),
		NextDetectionAt: formatTime(snap.NextDetectionAt),
		Closed:          snap.Closed,
		UpdatedAt:       formatTime(snap.UpdatedAt),
	}
	for _, bottle := range snap.Bottles {
		payload.Bottles = append(payload.Bottles, buildBottlePayload(bottle))
	}
	for _, pair := range snap.Pairs {
		payload.Pairs = append(payload.Pairs, pairPayload{
			ID:                 pair.ID,
			Bottle1:            buildBottlePayload(pair.Bottle1),
			Bottle2:            buildBottlePayload(pair.Bottle2),
			CombinedPercentage: pair.CombinedPercentage,
			CombinedML:         pair.CombinedML,
			CatalogID:          pair.CatalogID,
		})
	}
	return payload
}

func buildIdentifyResponse(result services.BottleIdentification) identifyResponse {
	return identifyResponse{
		Matched:     result.Bottle != nil,
		Catalog:     buildCatalogBottlePayload(result.Bottle),
		Score:       result.Score,
		Level:       result.Level,
		RemainingML: result.RemainingML,
		Disposition: dispositionLabel(result.Disposition),
	}
}

func dispositionLabel(d domain.Disposition) string {
	if d == domain.DispositionUnknown {
		return "unknown"
	}
	return string(d)
}

func ledgerOrEmpty(ledger []domain.LedgerEntry) []domain.LedgerEntry {
	if ledger == nil {
		return []domain.LedgerEntry{}
	}
	return ledger
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
