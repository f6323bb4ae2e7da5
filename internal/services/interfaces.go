package services

import (
	"context"
	"time"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	LedgerEntry        = domain.LedgerEntry
	CatalogBottle      = domain.CatalogBottle
	BottleObservation  = domain.BottleObservation
	MatchedBottle      = domain.MatchedBottle
	BottlePair         = domain.BottlePair
	FulfillmentEvent   = domain.FulfillmentEvent
	SystemHealthReport = domain.SystemHealthReport
)

// Frame is a single camera capture handed to the vision collaborator. The scale weight is
// the reading taken when the frame was captured, if a scale is attached.
type Frame struct {
	Data             []byte
	ContentType      string
	CapturedAt       time.Time
	ScaleWeightGrams domain.Optional[float64]
}

// Recognition is the structured output of the vision collaborator for one frame. When
// ScaleWeightGrams is known it applies to every bottle that did not report its own weight.
type Recognition struct {
	Bottles          []BottleObservation
	ScaleWeightGrams domain.Optional[float64]
}

// VisionRecognizer identifies bottles in a camera frame.
type VisionRecognizer interface {
	Recognize(ctx context.Context, frame Frame) (Recognition, error)
}

// Interpretation is the structured output of the voice collaborator for a cleaning report.
// Unknown holds phrases that could not be tied to an expected line item.
type Interpretation struct {
	Items   []ReportedQuantity
	Unknown []string
}

// VoiceInterpreter turns operator speech into quantities or a corrected ledger.
type VoiceInterpreter interface {
	Interpret(ctx context.Context, transcript string, items []CartItem) (Interpretation, error)
	Correct(ctx context.Context, transcript string, items []CartItem, ledger []LedgerEntry) ([]LedgerEntry, error)
}

// Camera yields frames for one bottle-control session.
type Camera interface {
	Capture(ctx context.Context) (Frame, error)
	Close() error
}

// CameraProvider acquires the camera attached to a cart's weighing station.
type CameraProvider interface {
	Acquire(ctx context.Context, cartID string) (Camera, error)
}

// FrameSink accepts frames pushed by clients. Camera providers that are fed over the API
// implement it alongside CameraProvider.
type FrameSink interface {
	PushFrame(cartID string, frame Frame) error
}

// FrameArchiver stores detection frames for later review and returns the object path.
type FrameArchiver interface {
	ArchiveFrame(ctx context.Context, cartID, sessionID string, frame Frame) (string, error)
}

// FulfillmentEventPublisher emits fulfillment events after persistence succeeds.
type FulfillmentEventPublisher interface {
	PublishFulfillmentEvent(ctx context.Context, event FulfillmentEvent) error
}

// FulfillmentService drives carts through cleaning and bottle control.
type FulfillmentService interface {
	GetProgress(ctx context.Context, cartID string) (FulfillmentProgress, error)
	StartCleaningReconciliation(ctx context.Context, cmd CleaningReportCommand) (LedgerResult, error)
	ApplyCorrection(ctx context.Context, cmd CleaningReportCommand) (LedgerResult, error)
	ApplyManualMissingEntry(ctx context.Context, cmd ManualMissingEntryCommand) (LedgerResult, error)
	ClearLedger(ctx context.Context, cmd CartCommand) (LedgerResult, error)
	StartBottleControlSession(ctx context.Context, cmd CartCommand) (*BottleControlSession, error)
	GetBottleControlSession(ctx context.Context, cartID string) (*BottleControlSession, error)
	PushFrame(ctx context.Context, cmd PushFrameCommand) error
	ApplyBottlePairMerge(ctx context.Context, cmd BottlePairMergeCommand) (BottleSessionSnapshot, error)
	StopBottleControlSession(ctx context.Context, cmd CartCommand) error
	CompletePhase(ctx context.Context, cmd CartCommand) (PhaseTransition, error)
	IdentifyBottle(ctx context.Context, cmd IdentifyBottleCommand) (BottleIdentification, error)
	ActiveSessions() int
	Shutdown(ctx context.Context) error
}

// CartCommand addresses a cart on behalf of an operator.
type CartCommand struct {
	CartID   string
	Operator string
}

// CleaningReportCommand carries an operator transcript for a cart.
type CleaningReportCommand struct {
	CartID     string
	Transcript string
	Operator   string
}

// ManualMissingEntryCommand adds missing units of one product to the ledger.
type ManualMissingEntryCommand struct {
	CartID    string
	ProductID string
	Quantity  int
	Operator  string
}

// PushFrameCommand hands a client-captured frame to the cart's session camera.
type PushFrameCommand struct {
	CartID string
	Frame  Frame
}

// BottlePairMergeCommand confirms a pending pair suggestion.
type BottlePairMergeCommand struct {
	CartID   string
	PairID   string
	Operator string
}

// IdentifyBottleCommand describes a bottle to resolve without an active session.
type IdentifyBottleCommand struct {
	Query            MatchQuery
	ScaleWeightGrams domain.Optional[float64]
}

// LedgerResult is the cart and ledger after a reconciliation write.
type LedgerResult struct {
	Cart      Cart
	Ledger    []LedgerEntry
	Unmatched []string
}

// FulfillmentProgress summarises where a cart is in the fulfillment flow.
type FulfillmentProgress struct {
	Cart       Cart
	Phase      domain.ProcessPhase
	Ledger     []LedgerEntry
	HasAlcohol bool
	SessionID  string
}

// BottleIdentification is the outcome of a one-shot identify request.
type BottleIdentification struct {
	Bottle      *CatalogBottle
	Score       int
	Level       domain.Optional[int]
	RemainingML domain.Optional[int]
	Disposition domain.Disposition
}

// SystemService exposes health reporting.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
