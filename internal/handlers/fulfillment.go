package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/platform/httpx"
	"github.com/Francovarelav/pickpackpromx/internal/platform/requestctx"
	"github.com/Francovarelav/pickpackpromx/internal/services"
)

const (
	maxFulfillmentBodySize = 32 * 1024
	maxFrameBodySize       = 8 << 20
	defaultHeartbeat       = 15 * time.Second
)

// FulfillmentHandlers exposes the cart fulfillment flow: cleaning reconciliation, the
// missing-items ledger, bottle-control sessions and phase completion.
type FulfillmentHandlers struct {
	fulfillment services.FulfillmentService
	frames      rateLimiter
	mutations   rateLimiter
	heartbeat   time.Duration
	clock       func() time.Time
}

// FulfillmentOption customises FulfillmentHandlers.
type FulfillmentOption func(*fulfillmentHandlerConfig)

type fulfillmentHandlerConfig struct {
	framesPerMinute    int
	mutationsPerMinute int
	heartbeat          time.Duration
	clock              func() time.Time
}

// WithFrameRateLimit caps frame uploads per cart per minute. Zero disables the limit.
func WithFrameRateLimit(perMinute int) FulfillmentOption {
	return func(cfg *fulfillmentHandlerConfig) {
		cfg.framesPerMinute = perMinute
	}
}

// WithMutationRateLimit caps ledger and session mutations per operator per minute.
func WithMutationRateLimit(perMinute int) FulfillmentOption {
	return func(cfg *fulfillmentHandlerConfig) {
		cfg.mutationsPerMinute = perMinute
	}
}

// WithStreamHeartbeat overrides the keep-alive interval of the session event stream.
func WithStreamHeartbeat(interval time.Duration) FulfillmentOption {
	return func(cfg *fulfillmentHandlerConfig) {
		if interval > 0 {
			cfg.heartbeat = interval
		}
	}
}

// WithFulfillmentClock overrides the clock used by the rate limiters.
func WithFulfillmentClock(clock func() time.Time) FulfillmentOption {
	return func(cfg *fulfillmentHandlerConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// NewFulfillmentHandlers constructs the cart fulfillment handlers.
func NewFulfillmentHandlers(fulfillment services.FulfillmentService, opts ...FulfillmentOption) *FulfillmentHandlers {
	cfg := fulfillmentHandlerConfig{heartbeat: defaultHeartbeat, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &FulfillmentHandlers{
		fulfillment: fulfillment,
		frames:      newSimpleRateLimiter(cfg.framesPerMinute, time.Minute, cfg.clock),
		mutations:   newSimpleRateLimiter(cfg.mutationsPerMinute, time.Minute, cfg.clock),
		heartbeat:   cfg.heartbeat,
		clock:       cfg.clock,
	}
}

// Routes wires the /carts endpoints onto the provided router.
func (h *FulfillmentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/{cartID}", func(cart chi.Router) {
		cart.Get("/fulfillment", h.getProgress)
		cart.Get("/bottle-session", h.getSession)
		cart.Get("/bottle-session/events", h.streamSession)
		cart.Post("/bottle-session/frames", h.pushFrame)

		cart.Group(func(mut chi.Router) {
			mut.Use(h.limitMutations)
			mut.Post("/cleaning/report", h.postCleaningReport)
			mut.Post("/cleaning/correction", h.postCorrection)
			mut.Post("/ledger/entries", h.postLedgerEntry)
			mut.Delete("/ledger", h.clearLedger)
			mut.Post("/bottle-session", h.startSession)
			mut.Delete("/bottle-session", h.stopSession)
			mut.Post("/bottle-session/pairs/{pairID}:merge", h.mergePair)
			mut.Post("/phase:complete", h.completePhase)
		})
	})
}

type transcriptRequest struct {
	Transcript string `json:"transcript"`
}

type ledgerEntryRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *FulfillmentHandlers) getProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	progress, err := h.fulfillment.GetProgress(ctx, cartIDParam(r))
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	if !progress.Cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", progress.Cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	httpx.WriteJSON(w, http.StatusOK, progressResponse{
		Cart:       buildCartPayload(progress.Cart),
		Phase:      progress.Phase,
		Ledger:     ledgerOrEmpty(progress.Ledger),
		HasAlcohol: progress.HasAlcohol,
		SessionID:  progress.SessionID,
	})
}

func (h *FulfillmentHandlers) postCleaningReport(w http.ResponseWriter, r *http.Request) {
	h.handleTranscript(w, r, false)
}

func (h *FulfillmentHandlers) postCorrection(w http.ResponseWriter, r *http.Request) {
	h.handleTranscript(w, r, true)
}

func (h *FulfillmentHandlers) handleTranscript(w http.ResponseWriter, r *http.Request, correction bool) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	var req transcriptRequest
	if err := httpx.ReadJSON(r, maxFulfillmentBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "transcript is required", http.StatusBadRequest))
		return
	}
	cmd := services.CleaningReportCommand{
		CartID:     cartIDParam(r),
		Transcript: req.Transcript,
		Operator:   requestctx.Operator(ctx),
	}
	run := h.fulfillment.StartCleaningReconciliation
	if correction {
		run = h.fulfillment.ApplyCorrection
	}
	result, err := run(ctx, cmd)
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildLedgerResponse(result))
}

func (h *FulfillmentHandlers) postLedgerEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	var req ledgerEntryRequest
	if err := httpx.ReadJSON(r, maxFulfillmentBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if strings.TrimSpace(req.ProductID) == "" || req.Quantity <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId and a positive quantity are required", http.StatusBadRequest))
		return
	}
	result, err := h.fulfillment.ApplyManualMissingEntry(ctx, services.ManualMissingEntryCommand{
		CartID:    cartIDParam(r),
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
		Operator:  requestctx.Operator(ctx),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildLedgerResponse(result))
}

func (h *FulfillmentHandlers) clearLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	result, err := h.fulfillment.ClearLedger(ctx, services.CartCommand{
		CartID:   cartIDParam(r),
		Operator: requestctx.Operator(ctx),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildLedgerResponse(result))
}

func (h *FulfillmentHandlers) startSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	session, err := h.fulfillment.StartBottleControlSession(ctx, services.CartCommand{
		CartID:   cartIDParam(r),
		Operator: requestctx.Operator(ctx),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	w.Header().Set("Location", r.URL.Path)
	httpx.WriteJSON(w, http.StatusOK, buildSessionPayload(session.Snapshot()))
}

func (h *FulfillmentHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	session, err := h.fulfillment.GetBottleControlSession(ctx, cartIDParam(r))
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSessionPayload(session.Snapshot()))
}

// streamSession relays session snapshots as Server-Sent Events until the client leaves or
// the session closes.
func (h *FulfillmentHandlers) streamSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	session, err := h.fulfillment.GetBottleControlSession(ctx, cartIDParam(r))
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}

	updates, cancel := session.Subscribe()
	defer cancel()

	stream, err := httpx.NewEventStream(w)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", err.Error(), http.StatusInternalServerError))
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := stream.Heartbeat(); err != nil {
				return
			}
		case snap, ok := <-updates:
			if !ok {
				_ = stream.Send("closed", map[string]string{"sessionId": session.ID()})
				return
			}
			if err := stream.Send("snapshot", buildSessionPayload(snap)); err != nil {
				return
			}
			if snap.Closed {
				_ = stream.Send("closed", map[string]string{"sessionId": snap.SessionID})
				return
			}
		}
	}
}

func (h *FulfillmentHandlers) pushFrame(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	cartID := cartIDParam(r)
	if h.frames != nil {
		if ok, retry := h.frames.Allow(cartID); !ok {
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many frame uploads", http.StatusTooManyRequests).WithRetryAfter(retry))
			return
		}
	}

	contentType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_media_type", "frame must be an image", http.StatusUnsupportedMediaType))
		return
	}
	weight, err := parseScaleWeight(r.URL.Query().Get("scaleWeightGrams"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	data, err := httpx.ReadLimitedBody(r, maxFrameBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	err = h.fulfillment.PushFrame(ctx, services.PushFrameCommand{
		CartID: cartID,
		Frame: services.Frame{
			Data:             data,
			ContentType:      contentType,
			CapturedAt:       h.clock().UTC(),
			ScaleWeightGrams: weight,
		},
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *FulfillmentHandlers) mergePair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	snap, err := h.fulfillment.ApplyBottlePairMerge(ctx, services.BottlePairMergeCommand{
		CartID:   cartIDParam(r),
		PairID:   strings.TrimSpace(chi.URLParam(r, "pairID")),
		Operator: requestctx.Operator(ctx),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSessionPayload(snap))
}

func (h *FulfillmentHandlers) stopSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	err := h.fulfillment.StopBottleControlSession(ctx, services.CartCommand{
		CartID:   cartIDParam(r),
		Operator: requestctx.Operator(ctx),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FulfillmentHandlers) completePhase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	transition, err := h.fulfillment.CompletePhase(ctx, services.CartCommand{
		CartID:   cartIDParam(r),
		Operator: requestctx.Operator(ctx),
	})
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, phaseResponse{
		From:    transition.From,
		Phase:   transition.Phase,
		Status:  transition.Status,
		Changed: transition.Changed,
		Cart:    buildCartPayload(transition.Cart),
	})
}

func (h *FulfillmentHandlers) limitMutations(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.mutations != nil {
			key := requestctx.Operator(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}
			if ok, retry := h.mutations.Allow(key); !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests).WithRetryAfter(retry))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *FulfillmentHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h == nil || h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func cartIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "cartID"))
}

func parseScaleWeight(raw string) (domain.Optional[float64], error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.None[float64](), nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return domain.None[float64](), errors.New("scaleWeightGrams must be a non-negative number")
	}
	if value == 0 {
		return domain.None[float64](), nil
	}
	return domain.Some(value), nil
}

type retryHinted interface {
	RetryAfter() time.Duration
}

func writeFulfillmentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("deadline_exceeded", "request timed out", http.StatusGatewayTimeout))
	case errors.Is(err, context.Canceled):
		// client went away
	case errors.Is(err, services.ErrFulfillmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrFulfillmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrBottleSessionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("bottle_session_not_found", "cart has no active bottle-control session", http.StatusNotFound))
	case errors.Is(err, services.ErrBottlePairNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("bottle_pair_not_found", "pair suggestion not found", http.StatusNotFound))
	case errors.Is(err, services.ErrFulfillmentPhase):
		httpx.WriteError(ctx, w, httpx.NewError("phase_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrBottleSessionClosed):
		httpx.WriteError(ctx, w, httpx.NewError("bottle_session_closed", "bottle-control session is closed", http.StatusConflict))
	case errors.Is(err, services.ErrFulfillmentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart changed concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrDetectionCooldown):
		httpErr := httpx.NewError("detection_cooldown", "vision service asked to back off", http.StatusTooManyRequests)
		var hint retryHinted
		if errors.As(err, &hint) {
			httpErr = httpErr.WithRetryAfter(hint.RetryAfter())
		}
		httpx.WriteError(ctx, w, httpErr)
	case errors.Is(err, services.ErrCollaboratorUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("collaborator_unavailable", "an AI collaborator is unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrFulfillmentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("repository_unavailable", "cart storage is unavailable", http.StatusServiceUnavailable).WithRetryAfter(5*time.Second))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}
