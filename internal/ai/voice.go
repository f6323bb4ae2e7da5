package ai

import (
	"context"
	"errors"
	"strings"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/services"
)

const (
	voiceInterpretPath = "/v1/reports:interpret"
	voiceCorrectPath   = "/v1/reports:correct"
)

// VoiceClient calls the speech interpretation service.
type VoiceClient struct {
	client *client
}

var _ services.VoiceInterpreter = (*VoiceClient)(nil)

// NewVoiceClient constructs a voice collaborator client.
func NewVoiceClient(cfg ClientConfig) (*VoiceClient, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &VoiceClient{client: c}, nil
}

type itemPayload struct {
	ProductID        string `json:"productId"`
	Name             string `json:"name"`
	Brand            string `json:"brand,omitempty"`
	Presentation     string `json:"presentation,omitempty"`
	ExpectedQuantity int    `json:"expectedQuantity"`
}

type interpretRequest struct {
	Transcript string        `json:"transcript"`
	Items      []itemPayload `json:"items"`
}

type interpretResponse struct {
	Items []struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
	Unknown []string `json:"unknown"`
}

type correctRequest struct {
	Transcript string               `json:"transcript"`
	Items      []itemPayload        `json:"items"`
	Ledger     []domain.LedgerEntry `json:"ledger"`
}

type correctResponse struct {
	Ledger []domain.LedgerEntry `json:"ledger"`
}

// Interpret asks the voice service which quantities the operator reported as present.
func (v *VoiceClient) Interpret(ctx context.Context, transcript string, items []services.CartItem) (services.Interpretation, error) {
	if v == nil || v.client == nil {
		return services.Interpretation{}, errors.New("ai: voice client not initialised")
	}
	req := interpretRequest{Transcript: transcript, Items: itemPayloads(items)}

	var resp interpretResponse
	if err := v.client.postJSON(ctx, "voice.interpret", voiceInterpretPath, req, &resp); err != nil {
		return services.Interpretation{}, err
	}

	out := services.Interpretation{
		Items: make([]services.ReportedQuantity, 0, len(resp.Items)),
	}
	for _, item := range resp.Items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			continue
		}
		out.Items = append(out.Items, services.ReportedQuantity{ProductID: id, QuantityMentioned: item.Quantity})
	}
	for _, phrase := range resp.Unknown {
		if phrase = strings.TrimSpace(phrase); phrase != "" {
			out.Unknown = append(out.Unknown, phrase)
		}
	}
	return out, nil
}

// Correct asks the voice service for a full replacement ledger. An empty answer means
// nothing is missing.
func (v *VoiceClient) Correct(ctx context.Context, transcript string, items []services.CartItem, ledger []services.LedgerEntry) ([]services.LedgerEntry, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("ai: voice client not initialised")
	}
	current := ledger
	if current == nil {
		current = []domain.LedgerEntry{}
	}
	req := correctRequest{Transcript: transcript, Items: itemPayloads(items), Ledger: current}

	var resp correctResponse
	if err := v.client.postJSON(ctx, "voice.correct", voiceCorrectPath, req, &resp); err != nil {
		return nil, err
	}
	if resp.Ledger == nil {
		return []domain.LedgerEntry{}, nil
	}
	return resp.Ledger, nil
}

func itemPayloads(items []services.CartItem) []itemPayload {
	out := make([]itemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, itemPayload{
			ProductID:        item.ProductID,
			Name:             item.Name,
			Brand:            item.Brand,
			Presentation:     item.Presentation,
			ExpectedQuantity: item.ExpectedQuantity,
		})
	}
	return out
}
