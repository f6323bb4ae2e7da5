package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/services"
)

const visionRecognizePath = "/v1/bottles:recognize"

// VisionClient calls the bottle recognition service.
type VisionClient struct {
	client *client
}

var _ services.VisionRecognizer = (*VisionClient)(nil)

// NewVisionClient constructs a vision collaborator client.
func NewVisionClient(cfg ClientConfig) (*VisionClient, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &VisionClient{client: c}, nil
}

type recognizeRequest struct {
	Image            string                   `json:"image"`
	ContentType      string                   `json:"contentType,omitempty"`
	CapturedAt       string                   `json:"capturedAt,omitempty"`
	ScaleWeightGrams domain.Optional[float64] `json:"scaleWeightGrams"`
}

type recognizeResponse struct {
	Bottles          []observationPayload     `json:"bottles"`
	ScaleWeightGrams domain.Optional[float64] `json:"scaleWeightGrams"`
	ConfidenceScale  string                   `json:"confidenceScale,omitempty"`
}

// confidenceScaleRatio marks responses whose confidences are 0..1 ratios. Any other value
// means the 0..100 scale.
const confidenceScaleRatio = "ratio"

type observationPayload struct {
	Label            string                   `json:"label"`
	Brand            string                   `json:"brand"`
	ProductName      string                   `json:"productName"`
	Type             string                   `json:"type"`
	Volume           string                   `json:"volume"`
	Confidence       float64                  `json:"confidence"`
	ScaleWeightGrams domain.Optional[float64] `json:"scaleWeightGrams"`
}

// Recognize sends the frame to the vision service and returns the observed bottles.
// Observations without a label are dropped.
func (v *VisionClient) Recognize(ctx context.Context, frame services.Frame) (services.Recognition, error) {
	if v == nil || v.client == nil {
		return services.Recognition{}, errors.New("ai: vision client not initialised")
	}
	if len(frame.Data) == 0 {
		return services.Recognition{}, errors.New("ai: frame data is required")
	}

	req := recognizeRequest{
		Image:            base64.StdEncoding.EncodeToString(frame.Data),
		ContentType:      strings.TrimSpace(frame.ContentType),
		ScaleWeightGrams: frame.ScaleWeightGrams,
	}
	if !frame.CapturedAt.IsZero() {
		req.CapturedAt = frame.CapturedAt.UTC().Format(time.RFC3339Nano)
	}

	var resp recognizeResponse
	if err := v.client.postJSON(ctx, "vision.recognize", visionRecognizePath, req, &resp); err != nil {
		return services.Recognition{}, err
	}

	out := services.Recognition{
		Bottles:          make([]domain.BottleObservation, 0, len(resp.Bottles)),
		ScaleWeightGrams: positiveWeight(resp.ScaleWeightGrams),
	}
	for _, b := range resp.Bottles {
		label := strings.TrimSpace(b.Label)
		if label == "" {
			label = strings.TrimSpace(b.ProductName)
		}
		if label == "" {
			continue
		}
		out.Bottles = append(out.Bottles, domain.BottleObservation{
			Label:       label,
			Brand:       strings.TrimSpace(b.Brand),
			ProductName: strings.TrimSpace(b.ProductName),
			Type:        strings.TrimSpace(b.Type),
			Volume:      strings.TrimSpace(b.Volume),
			Confidence:  normalizeConfidence(b.Confidence, resp.ConfidenceScale),
			ScaleWeight: positiveWeight(b.ScaleWeightGrams),
		})
	}
	return out, nil
}

// normalizeConfidence rounds raw onto the 0..100 scale. Only a response declaring the
// ratio scale is multiplied up; the size of the value never decides.
func normalizeConfidence(raw float64, scale string) int {
	if raw <= 0 {
		return 0
	}
	if strings.EqualFold(strings.TrimSpace(scale), confidenceScaleRatio) {
		raw *= 100
	}
	if raw > 100 {
		raw = 100
	}
	return int(raw + 0.5)
}

func positiveWeight(w domain.Optional[float64]) domain.Optional[float64] {
	if v, ok := w.Get(); ok && v > 0 {
		return w
	}
	return domain.None[float64]()
}
