package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
)

const (
	defaultDetectionInterval = 6 * time.Second
	defaultDetectionPoll     = time.Second
	defaultStaleAfter        = 20 * time.Second
	defaultRateLimitBackoff  = 30 * time.Second
)

// ErrDetectionNotDue is returned by Poll when the detection interval has not elapsed or a
// request is still in flight.
var ErrDetectionNotDue = errors.New("fulfillment: detection not due")

// BottleSessionConfig controls detection timing for a session.
type BottleSessionConfig struct {
	// Interval is the minimum time between two vision requests.
	Interval time.Duration
	// PollEvery is how often the loop checks whether a request is due.
	PollEvery time.Duration
	// StaleAfter bounds how long an in-flight request blocks new ones.
	StaleAfter time.Duration
	// RateLimitBackoff is the cooldown used when a rate limit carries no hint.
	RateLimitBackoff time.Duration
}

func (c BottleSessionConfig) withDefaults() BottleSessionConfig {
	if c.Interval <= 0 {
		c.Interval = defaultDetectionInterval
	}
	if c.PollEvery <= 0 {
		c.PollEvery = defaultDetectionPoll
	}
	if c.PollEvery > c.Interval {
		c.PollEvery = c.Interval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = defaultRateLimitBackoff
	}
	return c
}

// DiscardRecorder persists the discarded bottles of one detection cycle. Returning an error
// drops the whole cycle.
type DiscardRecorder func(ctx context.Context, discarded []MatchedBottle) error

// BottleSessionDeps bundles the collaborators of a bottle-control session.
type BottleSessionDeps struct {
	SessionID      string
	CartID         string
	Camera         Camera
	Vision         VisionRecognizer
	Catalog        []CatalogBottle
	Matcher        *CatalogMatcher
	Config         BottleSessionConfig
	RecordDiscards DiscardRecorder
	Archiver       FrameArchiver
	Metrics        *DetectionMetrics
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

// BottleSessionSnapshot is the observable state of a session after each change.
type BottleSessionSnapshot struct {
	SessionID       string
	CartID          string
	Bottles         []MatchedBottle
	Pairs           []BottlePair
	Notice          string
	Cycle           int
	CooldownUntil   *time.Time
	NextDetectionAt time.Time
	Closed          bool
	UpdatedAt       time.Time
}

// BottleControlSession owns the camera, the detection timing, the working set of matched
// bottles and the pending pair suggestions of one cart.
type BottleControlSession struct {
	id             string
	cartID         string
	camera         Camera
	vision         VisionRecognizer
	catalog        []CatalogBottle
	matcher        *CatalogMatcher
	cfg            BottleSessionConfig
	recordDiscards DiscardRecorder
	archiver       FrameArchiver
	metrics        *DetectionMetrics
	clock          func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)

	mu            sync.Mutex
	bottles       []MatchedBottle
	pairs         []BottlePair
	notice        string
	cycle         int
	lastRequestAt time.Time
	inFlight      bool
	inFlightSince time.Time
	generation    uint64
	cooldownUntil time.Time
	closed        bool
	updatedAt     time.Time
	subscribers   map[int]chan BottleSessionSnapshot
	nextSub       int

	cancel    context.CancelFunc
	loopDone  chan struct{}
	workers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewBottleControlSession validates deps and returns a session that is not yet running.
func NewBottleControlSession(deps BottleSessionDeps) (*BottleControlSession, error) {
	if strings.TrimSpace(deps.CartID) == "" {
		return nil, fmt.Errorf("%w: cart id is required", ErrFulfillmentInvalidInput)
	}
	if deps.Camera == nil {
		return nil, errors.New("bottle session: camera is required")
	}
	if deps.Vision == nil {
		return nil, errors.New("bottle session: vision recognizer is required")
	}
	if deps.RecordDiscards == nil {
		return nil, errors.New("bottle session: discard recorder is required")
	}

	matcher := deps.Matcher
	if matcher == nil {
		matcher = NewCatalogMatcher(MatcherConfig{Strict: true})
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	sessionID := strings.TrimSpace(deps.SessionID)
	if sessionID == "" {
		sessionID = idGen()
	}

	s := &BottleControlSession{
		id:             sessionID,
		cartID:         strings.TrimSpace(deps.CartID),
		camera:         deps.Camera,
		vision:         deps.Vision,
		catalog:        append([]CatalogBottle(nil), deps.Catalog...),
		matcher:        matcher,
		cfg:            deps.Config.withDefaults(),
		recordDiscards: deps.RecordDiscards,
		archiver:       deps.Archiver,
		metrics:        deps.Metrics,
		clock:          func() time.Time { return clock().UTC() },
		newID:          idGen,
		logger:         logger,
		subscribers:    make(map[int]chan BottleSessionSnapshot),
	}
	s.updatedAt = s.clock()
	return s, nil
}

// ID returns the session identifier.
func (s *BottleControlSession) ID() string { return s.id }

// CartID returns the cart the session belongs to.
func (s *BottleControlSession) CartID() string { return s.cartID }

// Start launches the detection loop. The loop stops when ctx is cancelled or Close is called;
// both paths release the camera.
func (s *BottleControlSession) Start(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.loopDone != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go s.run(loopCtx)
}

func (s *BottleControlSession) run(ctx context.Context) {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			go s.Close()
			return
		case <-ticker.C:
			req, err := s.begin()
			if err != nil {
				continue
			}
			s.workers.Add(1)
			go func() {
				defer s.workers.Done()
				_ = s.detect(ctx, req)
			}()
		}
	}
}

// Poll runs one detection cycle synchronously if one is due. It returns ErrDetectionNotDue,
// ErrDetectionCooldown or ErrBottleSessionClosed when gated, and the cycle error otherwise.
func (s *BottleControlSession) Poll(ctx context.Context) error {
	req, err := s.begin()
	if err != nil {
		return err
	}
	return s.detect(ctx, req)
}

type detectionRequest struct {
	generation uint64
	previous   time.Time
}

func (s *BottleControlSession) begin() (detectionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return detectionRequest{}, ErrBottleSessionClosed
	}
	now := s.clock()
	if now.Before(s.cooldownUntil) {
		return detectionRequest{}, fmt.Errorf("%w: until %s", ErrDetectionCooldown, s.cooldownUntil.Format(time.RFC3339))
	}
	if s.inFlight && now.Sub(s.inFlightSince) < s.cfg.StaleAfter {
		return detectionRequest{}, ErrDetectionNotDue
	}
	if !s.lastRequestAt.IsZero() && now.Sub(s.lastRequestAt) < s.cfg.Interval {
		return detectionRequest{}, ErrDetectionNotDue
	}

	s.generation++
	req := detectionRequest{generation: s.generation, previous: s.lastRequestAt}
	s.inFlight = true
	s.inFlightSince = now
	s.lastRequestAt = now
	return req, nil
}

func (s *BottleControlSession) detect(ctx context.Context, req detectionRequest) error {
	ctx, span := detectionTracer.Start(ctx, "fulfillment.detect")
	span.SetAttributes(attribute.String("cart.id", s.cartID), attribute.String("session.id", s.id))
	defer span.End()

	frame, err := s.camera.Capture(ctx)
	if errors.Is(err, ErrNoFrame) {
		s.abandon(req)
		return err
	}
	if err != nil && ctx.Err() != nil {
		s.abandon(req)
		return ctx.Err()
	}
	if err != nil {
		err = fmt.Errorf("%w: capture frame: %v", ErrCollaboratorUnavailable, err)
		s.fail(ctx, req, "capture", err, "Camera unavailable, retrying")
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		return err
	}
	s.archive(ctx, frame)

	requestCtx, cancel := context.WithTimeout(ctx, s.cfg.StaleAfter)
	recognition, err := s.vision.Recognize(requestCtx, frame)
	cancel()
	if err != nil && ctx.Err() != nil {
		s.abandon(req)
		return ctx.Err()
	}
	if err != nil {
		if delay, limited := retryAfter(err); limited {
			until := s.enterCooldown(ctx, req, delay)
			err = fmt.Errorf("%w: until %s: %v", ErrDetectionCooldown, until.Format(time.RFC3339), err)
		} else {
			err = fmt.Errorf("%w: recognize frame: %v", ErrCollaboratorUnavailable, err)
			s.fail(ctx, req, "recognize", err, "Bottle recognition failed, retrying")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "recognize failed")
		return err
	}

	weight := recognition.ScaleWeightGrams
	if !weight.Valid() {
		weight = frame.ScaleWeightGrams
	}
	now := s.clock()
	kept := make([]MatchedBottle, 0, len(recognition.Bottles))
	var discarded []MatchedBottle
	for _, obs := range recognition.Bottles {
		if !obs.ScaleWeight.Valid() {
			obs.ScaleWeight = weight
		}
		bottle := s.resolve(obs, now)
		if bottle.Disposition == domain.DispositionDiscard {
			discarded = append(discarded, bottle)
			continue
		}
		kept = append(kept, bottle)
	}

	if !s.current(req) {
		return ErrDetectionNotDue
	}
	if len(discarded) > 0 {
		if err := s.recordDiscards(ctx, discarded); err != nil {
			s.fail(ctx, req, "ledger", err, "Could not record discarded bottles, retrying")
			span.RecordError(err)
			span.SetStatus(codes.Error, "record discards failed")
			return err
		}
		s.metrics.discarded(ctx, s.cartID, len(discarded))
	}

	s.commit(ctx, req, kept, discarded)
	span.SetAttributes(attribute.Int("bottles.kept", len(kept)), attribute.Int("bottles.discarded", len(discarded)))
	return nil
}

func (s *BottleControlSession) resolve(obs BottleObservation, now time.Time) MatchedBottle {
	match := s.matcher.Match(MatchQueryFromObservation(obs), s.catalog)
	level, ml := MeasureBottle(match.Bottle, obs.ScaleWeight)
	return MatchedBottle{
		ID:          s.newID(),
		Observation: obs,
		Catalog:     match.Bottle,
		MatchScore:  match.Score,
		Level:       level,
		RemainingML: ml,
		Disposition: ClassifyBottle(level),
		DetectedAt:  now,
	}
}

func (s *BottleControlSession) archive(ctx context.Context, frame Frame) {
	if s.archiver == nil {
		return
	}
	path, err := s.archiver.ArchiveFrame(ctx, s.cartID, s.id, frame)
	if err != nil {
		s.logger(ctx, "fulfillment.frame_archive_failed", map[string]any{
			"cartId":    s.cartID,
			"sessionId": s.id,
			"error":     err.Error(),
		})
		return
	}
	s.logger(ctx, "fulfillment.frame_archived", map[string]any{
		"cartId":    s.cartID,
		"sessionId": s.id,
		"path":      path,
	})
}

func (s *BottleControlSession) current(req detectionRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.generation == req.generation
}

// abandon releases a request that never reached the vision service.
func (s *BottleControlSession) abandon(req detectionRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != req.generation {
		return
	}
	s.inFlight = false
	s.lastRequestAt = req.previous
}

func (s *BottleControlSession) fail(ctx context.Context, req detectionRequest, stage string, err error, notice string) {
	s.metrics.failure(ctx, s.cartID, stage)
	s.logger(ctx, "fulfillment.detection_failed", map[string]any{
		"cartId":    s.cartID,
		"sessionId": s.id,
		"stage":     stage,
		"error":     err.Error(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != req.generation {
		return
	}
	s.inFlight = false
	s.notice = notice
	s.touchLocked()
}

func (s *BottleControlSession) enterCooldown(ctx context.Context, req detectionRequest, delay time.Duration) time.Time {
	if delay <= 0 {
		delay = s.cfg.RateLimitBackoff
	}
	s.metrics.cooldown(ctx, s.cartID)

	s.mu.Lock()
	until := s.clock().Add(delay)
	if s.generation == req.generation {
		s.inFlight = false
	}
	if until.After(s.cooldownUntil) {
		s.cooldownUntil = until
	}
	until = s.cooldownUntil
	s.notice = fmt.Sprintf("Recognition paused by rate limit until %s", until.Format(time.Kitchen))
	s.touchLocked()
	s.mu.Unlock()

	s.logger(ctx, "fulfillment.detection_cooldown", map[string]any{
		"cartId":    s.cartID,
		"sessionId": s.id,
		"until":     until,
	})
	return until
}

func (s *BottleControlSession) commit(ctx context.Context, req detectionRequest, kept, discarded []MatchedBottle) {
	s.mu.Lock()
	if s.generation != req.generation || s.closed {
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	s.bottles = append(s.bottles, kept...)
	s.pairs = FindPairs(s.bottles, s.pairs)
	s.notice = ""
	s.cycle++
	cycle, pairs := s.cycle, len(s.pairs)
	s.touchLocked()
	s.mu.Unlock()

	s.metrics.cycle(ctx, s.cartID, len(kept)+len(discarded))
	s.logger(ctx, "fulfillment.detection_cycle", map[string]any{
		"cartId":    s.cartID,
		"sessionId": s.id,
		"cycle":     cycle,
		"kept":      len(kept),
		"discarded": len(discarded),
		"pairs":     pairs,
	})
}

// MergePair applies a pending pair suggestion to the working set.
func (s *BottleControlSession) MergePair(pairID string) (MergeResult, BottleSessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return MergeResult{}, BottleSessionSnapshot{}, ErrBottleSessionClosed
	}
	result, err := ApplyMerge(strings.TrimSpace(pairID), s.bottles, s.pairs)
	if err != nil {
		return MergeResult{}, BottleSessionSnapshot{}, err
	}
	s.bottles = result.Bottles
	s.pairs = result.Pending
	s.notice = ""
	s.touchLocked()
	return result, s.snapshotLocked(), nil
}

// Snapshot returns the current state of the session.
func (s *BottleControlSession) Snapshot() BottleSessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel receiving the latest snapshot after every change, starting with
// the current one. Slow subscribers only see the most recent snapshot. The channel is closed
// by the returned cancel function or when the session closes.
func (s *BottleControlSession) Subscribe() (<-chan BottleSessionSnapshot, func()) {
	ch := make(chan BottleSessionSnapshot, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	ch <- s.snapshotLocked()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

// Closed reports whether Close has been called.
func (s *BottleControlSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops detection, waits for in-flight work, releases the camera and closes every
// subscriber channel. It is safe to call more than once.
func (s *BottleControlSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel, done := s.cancel, s.loopDone
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		s.workers.Wait()

		if err := s.camera.Close(); err != nil {
			s.closeErr = fmt.Errorf("bottle session: release camera: %w", err)
		}

		s.mu.Lock()
		s.touchLocked()
		for id, ch := range s.subscribers {
			delete(s.subscribers, id)
			close(ch)
		}
		s.mu.Unlock()
	})
	return s.closeErr
}

func (s *BottleControlSession) touchLocked() {
	s.updatedAt = s.clock()
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *BottleControlSession) snapshotLocked() BottleSessionSnapshot {
	snap := BottleSessionSnapshot{
		SessionID: s.id,
		CartID:    s.cartID,
		Bottles:   append([]MatchedBottle(nil), s.bottles...),
		Pairs:     append([]BottlePair(nil), s.pairs...),
		Notice:    s.notice,
		Cycle:     s.cycle,
		Closed:    s.closed,
		UpdatedAt: s.updatedAt,
	}
	if !s.cooldownUntil.IsZero() && s.clock().Before(s.cooldownUntil) {
		until := s.cooldownUntil
		snap.CooldownUntil = &until
	}
	next := s.lastRequestAt.Add(s.cfg.Interval)
	if snap.CooldownUntil != nil && snap.CooldownUntil.After(next) {
		next = *snap.CooldownUntil
	}
	snap.NextDetectionAt = next
	return snap
}
