package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/platform/textutil"
	"github.com/Francovarelav/pickpackpromx/internal/repositories"
)

const (
	maxTranscriptRunes = 4000
	maxPhraseRunes     = 200
	maxManualQuantity  = 10000
)

// FulfillmentServiceDeps bundles the collaborators required to construct a fulfillment service.
type FulfillmentServiceDeps struct {
	Carts    repositories.CartRepository
	Catalog  repositories.CatalogRepository
	Vision   VisionRecognizer
	Voice    VoiceInterpreter
	Cameras  CameraProvider
	Archiver FrameArchiver
	Events   FulfillmentEventPublisher
	Metrics  *DetectionMetrics
	// Detection configures the timing of bottle-control sessions.
	Detection BottleSessionConfig
	// StrictMatching selects the strict matcher for live scanning. IdentifyBottle is always lenient.
	StrictMatching bool
	// SessionContext parents every session loop; cancelling it stops all sessions.
	SessionContext context.Context
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	carts    repositories.CartRepository
	catalog  repositories.CatalogRepository
	vision   VisionRecognizer
	voice    VoiceInterpreter
	cameras  CameraProvider
	archiver FrameArchiver
	events   FulfillmentEventPublisher
	metrics  *DetectionMetrics

	detection     BottleSessionConfig
	liveMatcher   *CatalogMatcher
	lenient       *CatalogMatcher
	sessionParent context.Context

	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)

	mu       sync.Mutex
	sessions map[string]*BottleControlSession
	starts   singleflight.Group
}

var _ FulfillmentService = (*fulfillmentService)(nil)

// NewFulfillmentService wires dependencies into a concrete FulfillmentService implementation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Carts == nil {
		return nil, errors.New("fulfillment service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("fulfillment service: catalog repository is required")
	}
	if deps.Voice == nil {
		return nil, errors.New("fulfillment service: voice interpreter is required")
	}
	if deps.Vision == nil {
		return nil, errors.New("fulfillment service: vision recognizer is required")
	}
	if deps.Cameras == nil {
		return nil, errors.New("fulfillment service: camera provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	parent := deps.SessionContext
	if parent == nil {
		parent = context.Background()
	}

	return &fulfillmentService{
		carts:    deps.Carts,
		catalog:  deps.Catalog,
		vision:   deps.Vision,
		voice:    deps.Voice,
		cameras:  deps.Cameras,
		archiver: deps.Archiver,
		events:   deps.Events,
		metrics:  deps.Metrics,

		detection:     deps.Detection,
		liveMatcher:   NewCatalogMatcher(MatcherConfig{Strict: deps.StrictMatching}),
		lenient:       NewCatalogMatcher(MatcherConfig{Strict: false}),
		sessionParent: parent,

		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		logger:   logger,
		sessions: make(map[string]*BottleControlSession),
	}, nil
}

func (s *fulfillmentService) GetProgress(ctx context.Context, cartID string) (FulfillmentProgress, error) {
	cart, err := s.loadCart(ctx, cartID)
	if err != nil {
		return FulfillmentProgress{}, err
	}
	progress := FulfillmentProgress{
		Cart:       cart,
		Phase:      DerivePhase(cart),
		Ledger:     cart.Ledger,
		HasAlcohol: HasAlcohol(cart),
	}
	if session := s.activeSession(cart.ID); session != nil {
		progress.SessionID = session.ID()
	}
	return progress, nil
}

func (s *fulfillmentService) StartCleaningReconciliation(ctx context.Context, cmd CleaningReportCommand) (LedgerResult, error) {
	transcript, err := normaliseTranscript(cmd.Transcript)
	if err != nil {
		return LedgerResult{}, err
	}
	cart, err := s.loadCartInPhase(ctx, cmd.CartID, domain.PhaseCleaning)
	if err != nil {
		return LedgerResult{}, err
	}

	interpretation, err := s.voice.Interpret(ctx, transcript, cart.Items)
	if err != nil {
		return LedgerResult{}, fmt.Errorf("%w: interpret transcript: %v", ErrCollaboratorUnavailable, err)
	}

	saved, err := s.mutateLedger(ctx, cart.ID, []domain.ProcessPhase{domain.PhaseCleaning}, func(current domain.Cart) []domain.LedgerEntry {
		return ReconcileFromReport(current.Items, interpretation.Items, current.Ledger)
	})
	if err != nil {
		return LedgerResult{}, err
	}

	unmatched := make([]string, 0, len(interpretation.Unknown))
	for _, phrase := range interpretation.Unknown {
		if clean := textutil.PlainText(phrase, maxPhraseRunes); clean != "" {
			unmatched = append(unmatched, clean)
		}
	}

	s.publish(ctx, domain.FulfillmentEvent{
		Type:     domain.EventLedgerUpdated,
		CartID:   saved.ID,
		Phase:    DerivePhase(saved),
		Status:   saved.Status,
		Operator: cmd.Operator,
		Ledger:   saved.Ledger,
		Details:  map[string]any{"source": "voice_report", "reported": len(interpretation.Items), "unmatched": len(unmatched)},
	})
	return LedgerResult{Cart: saved, Ledger: saved.Ledger, Unmatched: unmatched}, nil
}

func (s *fulfillmentService) ApplyCorrection(ctx context.Context, cmd CleaningReportCommand) (LedgerResult, error) {
	transcript, err := normaliseTranscript(cmd.Transcript)
	if err != nil {
		return LedgerResult{}, err
	}
	phases := []domain.ProcessPhase{domain.PhaseCleaning, domain.PhaseBottleControl}
	cart, err := s.loadCartInPhase(ctx, cmd.CartID, phases...)
	if err != nil {
		return LedgerResult{}, err
	}

	replacement, err := s.voice.Correct(ctx, transcript, cart.Items, cart.Ledger)
	if err != nil {
		return LedgerResult{}, fmt.Errorf("%w: interpret correction: %v", ErrCollaboratorUnavailable, err)
	}

	saved, err := s.mutateLedger(ctx, cart.ID, phases, func(current domain.Cart) []domain.LedgerEntry {
		return ApplyCorrection(current.Items, replacement)
	})
	if err != nil {
		return LedgerResult{}, err
	}

	s.publish(ctx, domain.FulfillmentEvent{
		Type:     domain.EventLedgerUpdated,
		CartID:   saved.ID,
		Phase:    DerivePhase(saved),
		Status:   saved.Status,
		Operator: cmd.Operator,
		Ledger:   saved.Ledger,
		Details:  map[string]any{"source": "voice_correction"},
	})
	return LedgerResult{Cart: saved, Ledger: saved.Ledger}, nil
}

func (s *fulfillmentService) ApplyManualMissingEntry(ctx context.Context, cmd ManualMissingEntryCommand) (LedgerResult, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return LedgerResult{}, fmt.Errorf("%w: product id is required", ErrFulfillmentInvalidInput)
	}
	if cmd.Quantity <= 0 || cmd.Quantity > maxManualQuantity {
		return LedgerResult{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrFulfillmentInvalidInput, maxManualQuantity)
	}
	phases := []domain.ProcessPhase{domain.PhaseCleaning, domain.PhaseBottleControl}
	cart, err := s.loadCartInPhase(ctx, cmd.CartID, phases...)
	if err != nil {
		return LedgerResult{}, err
	}
	if !hasCartItem(cart.Items, productID) {
		return LedgerResult{}, fmt.Errorf("%w: product %s is not expected on cart %s", ErrFulfillmentInvalidInput, productID, cart.ID)
	}

	saved, err := s.mutateLedger(ctx, cart.ID, phases, func(current domain.Cart) []domain.LedgerEntry {
		return AddMissing(current.Items, current.Ledger, productID, cmd.Quantity)
	})
	if err != nil {
		return LedgerResult{}, err
	}

	s.publish(ctx, domain.FulfillmentEvent{
		Type:     domain.EventLedgerUpdated,
		CartID:   saved.ID,
		Phase:    DerivePhase(saved),
		Status:   saved.Status,
		Operator: cmd.Operator,
		Ledger:   saved.Ledger,
		Details:  map[string]any{"source": "manual", "productId": productID, "quantity": cmd.Quantity},
	})
	return LedgerResult{Cart: saved, Ledger: saved.Ledger}, nil
}

func (s *fulfillmentService) ClearLedger(ctx context.Context, cmd CartCommand) (LedgerResult, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return LedgerResult{}, fmt.Errorf("%w: cart id is required", ErrFulfillmentInvalidInput)
	}
	saved, err := s.mutateLedger(ctx, cartID, nil, func(domain.Cart) []domain.LedgerEntry {
		return []domain.LedgerEntry{}
	})
	if err != nil {
		return LedgerResult{}, err
	}

	s.publish(ctx, domain.FulfillmentEvent{
		Type:     domain.EventLedgerUpdated,
		CartID:   saved.ID,
		Phase:    DerivePhase(saved),
		Status:   saved.Status,
		Operator: cmd.Operator,
		Ledger:   saved.Ledger,
		Details:  map[string]any{"source": "clear"},
	})
	return LedgerResult{Cart: saved, Ledger: saved.Ledger}, nil
}

// StartBottleControlSession opens the cart's session, or returns the one already running.
// Concurrent starts for one cart share a single attempt; cart, catalog and camera are
// loaded without holding the session lock.
func (s *fulfillmentService) StartBottleControlSession(ctx context.Context, cmd CartCommand) (*BottleControlSession, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return nil, fmt.Errorf("%w: cart id is required", ErrFulfillmentInvalidInput)
	}
	if existing := s.activeSession(cartID); existing != nil {
		return existing, nil
	}

	result, err, _ := s.starts.Do(cartID, func() (any, error) {
		return s.openSession(ctx, cartID, cmd.Operator)
	})
	if err != nil {
		return nil, err
	}
	return result.(*BottleControlSession), nil
}

func (s *fulfillmentService) openSession(ctx context.Context, cartID, operator string) (*BottleControlSession, error) {
	if existing := s.activeSession(cartID); existing != nil {
		return existing, nil
	}
	cart, err := s.loadCartInPhase(ctx, cartID, domain.PhaseBottleControl)
	if err != nil {
		return nil, err
	}
	catalog, err := s.catalog.ListBottleTypes(ctx)
	if err != nil {
		return nil, mapFulfillmentRepositoryError(err)
	}
	camera, err := s.cameras.Acquire(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire camera: %v", ErrCollaboratorUnavailable, err)
	}

	session, err := NewBottleControlSession(BottleSessionDeps{
		SessionID:      s.newID(),
		CartID:         cart.ID,
		Camera:         camera,
		Vision:         s.vision,
		Catalog:        catalog,
		Matcher:        s.liveMatcher,
		Config:         s.detection,
		RecordDiscards: s.discardRecorder(cart.ID, operator),
		Archiver:       s.archiver,
		Metrics:        s.metrics,
		Clock:          s.clock,
		IDGenerator:    s.newID,
		Logger:         s.logger,
	})
	if err != nil {
		_ = camera.Close()
		return nil, err
	}

	s.mu.Lock()
	if existing, ok := s.sessions[cart.ID]; ok && !existing.Closed() {
		s.mu.Unlock()
		_ = session.Close()
		return existing, nil
	}
	s.sessions[cart.ID] = session
	session.Start(s.sessionParent)
	s.mu.Unlock()

	s.logger(ctx, "fulfillment.session_started", map[string]any{
		"cartId":    cart.ID,
		"sessionId": session.ID(),
		"catalog":   len(catalog),
		"operator":  operator,
	})
	return session, nil
}

func (s *fulfillmentService) GetBottleControlSession(_ context.Context, cartID string) (*BottleControlSession, error) {
	session := s.activeSession(strings.TrimSpace(cartID))
	if session == nil {
		return nil, fmt.Errorf("%w: cart %s", ErrBottleSessionNotFound, cartID)
	}
	return session, nil
}

func (s *fulfillmentService) PushFrame(ctx context.Context, cmd PushFrameCommand) error {
	if len(cmd.Frame.Data) == 0 {
		return fmt.Errorf("%w: frame is empty", ErrFulfillmentInvalidInput)
	}
	sink, ok := s.cameras.(FrameSink)
	if !ok {
		return fmt.Errorf("%w: camera provider does not accept uploaded frames", ErrFulfillmentInvalidInput)
	}
	session, err := s.GetBottleControlSession(ctx, cmd.CartID)
	if err != nil {
		return err
	}
	frame := cmd.Frame
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = s.clock()
	}
	if err := sink.PushFrame(session.CartID(), frame); err != nil {
		if errors.Is(err, ErrCameraNotAcquired) {
			return fmt.Errorf("%w: %v", ErrBottleSessionClosed, err)
		}
		return fmt.Errorf("%w: %v", ErrFulfillmentInvalidInput, err)
	}
	return nil
}

func (s *fulfillmentService) ApplyBottlePairMerge(ctx context.Context, cmd BottlePairMergeCommand) (BottleSessionSnapshot, error) {
	pairID := strings.TrimSpace(cmd.PairID)
	if pairID == "" {
		return BottleSessionSnapshot{}, fmt.Errorf("%w: pair id is required", ErrFulfillmentInvalidInput)
	}
	session, err := s.GetBottleControlSession(ctx, cmd.CartID)
	if err != nil {
		return BottleSessionSnapshot{}, err
	}
	result, snapshot, err := session.MergePair(pairID)
	if err != nil {
		return BottleSessionSnapshot{}, err
	}

	level, _ := result.Merged.Level.Get()
	ml, _ := result.Merged.RemainingML.Get()
	s.publish(ctx, domain.FulfillmentEvent{
		Type:     domain.EventBottlesMerged,
		CartID:   session.CartID(),
		Phase:    domain.PhaseBottleControl,
		Operator: cmd.Operator,
		Details: map[string]any{
			"pairId":      pairID,
			"catalogId":   result.Merged.CatalogID(),
			"kept":        result.Merged.ID,
			"removed":     result.Removed.ID,
			"level":       level,
			"remainingMl": ml,
			"disposition": string(result.Merged.Disposition),
		},
	})
	return snapshot, nil
}

func (s *fulfillmentService) StopBottleControlSession(ctx context.Context, cmd CartCommand) error {
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return fmt.Errorf("%w: cart id is required", ErrFulfillmentInvalidInput)
	}
	closed, err := s.closeSession(cartID)
	if err != nil {
		return err
	}
	if !closed {
		return fmt.Errorf("%w: cart %s", ErrBottleSessionNotFound, cartID)
	}
	s.logger(ctx, "fulfillment.session_stopped", map[string]any{"cartId": cartID, "operator": cmd.Operator})
	return nil
}

func (s *fulfillmentService) CompletePhase(ctx context.Context, cmd CartCommand) (PhaseTransition, error) {
	cart, err := s.loadCart(ctx, cmd.CartID)
	if err != nil {
		return PhaseTransition{}, err
	}

	machine, err := NewCartPhaseMachine(cart, s.carts,
		WithPhaseClock(s.clock),
		WithPhaseTeardown(func(context.Context) error {
			_, err := s.closeSession(cart.ID)
			return err
		}),
		WithPhaseReload(func(ctx context.Context) (domain.Cart, error) {
			return s.loadCart(ctx, cart.ID)
		}),
	)
	if err != nil {
		return PhaseTransition{}, err
	}

	transition, err := machine.Complete(ctx)
	if err != nil {
		return PhaseTransition{}, mapFulfillmentRepositoryError(err)
	}
	if !transition.Changed {
		return transition, nil
	}

	s.logger(ctx, "fulfillment.phase_completed", map[string]any{
		"cartId":   cart.ID,
		"from":     string(transition.From),
		"phase":    string(transition.Phase),
		"status":   string(transition.Status),
		"operator": cmd.Operator,
	})
	s.publish(ctx, domain.FulfillmentEvent{
		Type:     domain.EventPhaseCompleted,
		CartID:   cart.ID,
		Phase:    transition.Phase,
		Status:   transition.Status,
		Operator: cmd.Operator,
		Ledger:   transition.Cart.Ledger,
		Details:  map[string]any{"from": string(transition.From)},
	})
	return transition, nil
}

func (s *fulfillmentService) IdentifyBottle(ctx context.Context, cmd IdentifyBottleCommand) (BottleIdentification, error) {
	query := MatchQuery{
		Label:       textutil.PlainText(cmd.Query.Label, maxPhraseRunes),
		Brand:       textutil.PlainText(cmd.Query.Brand, maxPhraseRunes),
		ProductName: textutil.PlainText(cmd.Query.ProductName, maxPhraseRunes),
		Type:        textutil.PlainText(cmd.Query.Type, maxPhraseRunes),
	}
	if query.Label == "" && query.Brand == "" && query.ProductName == "" {
		return BottleIdentification{}, fmt.Errorf("%w: label, brand or product name is required", ErrFulfillmentInvalidInput)
	}

	catalog, err := s.catalog.ListBottleTypes(ctx)
	if err != nil {
		return BottleIdentification{}, mapFulfillmentRepositoryError(err)
	}

	match := s.lenient.Match(query, catalog)
	level, ml := MeasureBottle(match.Bottle, cmd.ScaleWeightGrams)
	return BottleIdentification{
		Bottle:      match.Bottle,
		Score:       match.Score,
		Level:       level,
		RemainingML: ml,
		Disposition: ClassifyBottle(level),
	}, nil
}

// Shutdown closes every open session.
func (s *fulfillmentService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*BottleControlSession, 0, len(s.sessions))
	for id, session := range s.sessions {
		sessions = append(sessions, session)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ActiveSessions reports how many bottle-control sessions are open.
func (s *fulfillmentService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, session := range s.sessions {
		if !session.Closed() {
			count++
		}
	}
	return count
}

func (s *fulfillmentService) discardRecorder(cartID, operator string) DiscardRecorder {
	return func(ctx context.Context, discarded []MatchedBottle) error {
		var products []string
		saved, err := s.mutateLedger(ctx, cartID, []domain.ProcessPhase{domain.PhaseBottleControl}, func(current domain.Cart) []domain.LedgerEntry {
			products = products[:0]
			ledger := current.Ledger
			for _, bottle := range discarded {
				productID, ok := cartItemForBottle(current.Items, bottle)
				if !ok {
					continue
				}
				products = append(products, productID)
				ledger = AddMissing(current.Items, ledger, productID, 1)
			}
			return ledger
		})
		if err != nil {
			return err
		}

		for _, bottle := range discarded {
			level, _ := bottle.Level.Get()
			s.publish(ctx, domain.FulfillmentEvent{
				Type:     domain.EventBottleDiscarded,
				CartID:   cartID,
				Phase:    domain.PhaseBottleControl,
				Status:   saved.Status,
				Operator: operator,
				Details:  map[string]any{"bottleId": bottle.ID, "catalogId": bottle.CatalogID(), "level": level},
			})
		}
		if len(products) < len(discarded) {
			s.logger(ctx, "fulfillment.discard_unmapped", map[string]any{
				"cartId":    cartID,
				"discarded": len(discarded),
				"mapped":    len(products),
			})
		}
		s.publish(ctx, domain.FulfillmentEvent{
			Type:     domain.EventLedgerUpdated,
			CartID:   cartID,
			Phase:    domain.PhaseBottleControl,
			Status:   saved.Status,
			Operator: operator,
			Ledger:   saved.Ledger,
			Details:  map[string]any{"source": "bottle_discard", "products": products},
		})
		return nil
	}
}

// mutateLedger re-checks the phase against the freshly read cart inside the write. A nil
// phases list permits every phase.
func (s *fulfillmentService) mutateLedger(ctx context.Context, cartID string, phases []domain.ProcessPhase, next func(domain.Cart) []domain.LedgerEntry) (domain.Cart, error) {
	saved, err := s.carts.MutateLedger(ctx, cartID, func(current domain.Cart) ([]domain.LedgerEntry, error) {
		if len(phases) > 0 {
			if err := requirePhase(current, phases...); err != nil {
				return nil, err
			}
		}
		return next(current), nil
	})
	if err != nil {
		return domain.Cart{}, mapFulfillmentRepositoryError(err)
	}
	return saved, nil
}

func (s *fulfillmentService) loadCart(ctx context.Context, cartID string) (domain.Cart, error) {
	cartID = strings.TrimSpace(cartID)
	if cartID == "" {
		return domain.Cart{}, fmt.Errorf("%w: cart id is required", ErrFulfillmentInvalidInput)
	}
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return domain.Cart{}, mapFulfillmentRepositoryError(err)
	}
	return cart, nil
}

func (s *fulfillmentService) loadCartInPhase(ctx context.Context, cartID string, phases ...domain.ProcessPhase) (domain.Cart, error) {
	cart, err := s.loadCart(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := requirePhase(cart, phases...); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func (s *fulfillmentService) activeSession(cartID string) *BottleControlSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[cartID]
	if !ok || session.Closed() {
		return nil
	}
	return session
}

// closeSession closes and forgets the cart's session. It reports whether a session existed.
func (s *fulfillmentService) closeSession(cartID string) (bool, error) {
	s.mu.Lock()
	session, ok := s.sessions[cartID]
	delete(s.sessions, cartID)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, session.Close()
}

func (s *fulfillmentService) publish(ctx context.Context, event domain.FulfillmentEvent) {
	if s.events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock()
	}
	if err := s.events.PublishFulfillmentEvent(ctx, event); err != nil {
		s.logger(ctx, "fulfillment.event_publish_failed", map[string]any{
			"cartId": event.CartID,
			"type":   string(event.Type),
			"error":  err.Error(),
		})
	}
}

func requirePhase(cart domain.Cart, phases ...domain.ProcessPhase) error {
	return phaseError(cart.ID, DerivePhase(cart), phases)
}

func normaliseTranscript(raw string) (string, error) {
	transcript := textutil.PlainText(raw, maxTranscriptRunes)
	if transcript == "" {
		return "", fmt.Errorf("%w: transcript is required", ErrFulfillmentInvalidInput)
	}
	return transcript, nil
}

func hasCartItem(items []domain.CartItem, productID string) bool {
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == productID {
			return true
		}
	}
	return false
}

// cartItemForBottle maps a discarded bottle to the cart line it replaces: the line with the
// catalog id as product id, else the first alcohol line whose name or brand matches.
func cartItemForBottle(items []domain.CartItem, bottle MatchedBottle) (string, bool) {
	if bottle.Catalog == nil {
		return "", false
	}
	for _, item := range items {
		if item.ProductID == bottle.Catalog.ID {
			return item.ProductID, true
		}
	}
	name := textutil.Fold(bottle.Catalog.Name)
	brand := textutil.Fold(bottle.Catalog.Brand)
	for _, item := range items {
		if !IsAlcoholItem(item) {
			continue
		}
		if textutil.ContainsEither(textutil.Fold(item.Name), name) {
			return item.ProductID, true
		}
		if brand != "" && textutil.Fold(item.Brand) == brand {
			return item.ProductID, true
		}
	}
	return "", false
}
