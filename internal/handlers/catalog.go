package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/platform/httpx"
	"github.com/Francovarelav/pickpackpromx/internal/services"
)

// CatalogHandlers serves catalog lookups that need no cart or session.
type CatalogHandlers struct {
	fulfillment services.FulfillmentService
}

// NewCatalogHandlers constructs the /catalog handlers.
func NewCatalogHandlers(fulfillment services.FulfillmentService) *CatalogHandlers {
	return &CatalogHandlers{fulfillment: fulfillment}
}

// Routes wires the /catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/bottles:identify", h.identifyBottle)
}

type identifyBottleRequest struct {
	Label            string                   `json:"label"`
	Brand            string                   `json:"brand"`
	ProductName      string                   `json:"productName"`
	Type             string                   `json:"type"`
	ScaleWeightGrams domain.Optional[float64] `json:"scaleWeightGrams"`
}

func (h *CatalogHandlers) identifyBottle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h == nil || h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req identifyBottleRequest
	if err := httpx.ReadJSON(r, maxFulfillmentBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if weight, ok := req.ScaleWeightGrams.Get(); ok && weight < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "scaleWeightGrams must be non-negative", http.StatusBadRequest))
		return
	}

	result, err := h.fulfillment.IdentifyBottle(ctx, services.IdentifyBottleCommand{
		Query: services.MatchQuery{
			Label:       req.Label,
			Brand:       req.Brand,
			ProductName: req.ProductName,
			Type:        req.Type,
		},
		ScaleWeightGrams: req.ScaleWeightGrams,
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildIdentifyResponse(result))
}
