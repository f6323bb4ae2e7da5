package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/platform/textutil"
	"github.com/Francovarelav/pickpackpromx/internal/repositories"
)

// ErrFulfillmentPhase is returned when an operation is not allowed in the cart's current phase.
var ErrFulfillmentPhase = errors.New("fulfillment: operation not allowed in current phase")

var alcoholKeywords = map[string]struct{}{
	"alcohol": {}, "whisky": {}, "whiskey": {}, "vodka": {}, "tequila": {}, "mezcal": {},
	"ron": {}, "rum": {}, "gin": {}, "ginebra": {}, "vino": {}, "wine": {}, "cerveza": {},
	"beer": {}, "licor": {}, "liqueur": {}, "brandy": {}, "cognac": {}, "champagne": {},
	"champana": {}, "bourbon": {}, "scotch": {},
}

// IsAlcoholItem reports whether a line item is an alcohol bottle. Tags and category are
// checked first, then whole words of the name, brand, presentation and category.
func IsAlcoholItem(item domain.CartItem) bool {
	for _, tag := range item.Tags {
		if textutil.Fold(tag) == "alcohol" {
			return true
		}
	}
	if textutil.Fold(item.Category) == "alcohol" {
		return true
	}
	for _, field := range []string{item.Name, item.Brand, item.Presentation, item.Category} {
		for _, token := range textutil.Tokens(field) {
			if _, ok := alcoholKeywords[token]; ok {
				return true
			}
		}
	}
	return false
}

// HasAlcohol reports whether any expected line item on the cart is an alcohol bottle.
func HasAlcohol(cart domain.Cart) bool {
	for _, item := range cart.Items {
		if IsAlcoholItem(item) {
			return true
		}
	}
	return false
}

// DerivePhase maps a persisted cart onto its fulfillment phase.
func DerivePhase(cart domain.Cart) domain.ProcessPhase {
	switch cart.Status {
	case domain.CartStatusPickAndPack, domain.CartStatusAirborne:
		return domain.PhaseFinished
	case domain.CartStatusWeighing:
		return domain.PhaseBottleControl
	default:
		return domain.PhaseCleaning
	}
}

// CartStatusWriter persists a status change. It is the only side effect of the phase machine.
type CartStatusWriter interface {
	UpdateStatus(ctx context.Context, update CartStatusChange) (domain.Cart, error)
}

// CartStatusChange describes one persisted phase transition.
type CartStatusChange = repositories.CartStatusUpdate

// PhaseTransition is the outcome of a Complete call.
type PhaseTransition struct {
	From    domain.ProcessPhase
	Phase   domain.ProcessPhase
	Status  domain.CartStatus
	Changed bool
	Cart    domain.Cart
}

// CartPhaseMachine drives a cart through cleaning, bottle-control and finished.
type CartPhaseMachine struct {
	cart     domain.Cart
	phase    domain.ProcessPhase
	writer   CartStatusWriter
	teardown func(ctx context.Context) error
	reload   func(ctx context.Context) (domain.Cart, error)
	clock    func() time.Time
}

// PhaseMachineOption customises a CartPhaseMachine.
type PhaseMachineOption func(*CartPhaseMachine)

// WithPhaseTeardown registers a hook run before bottle-control is completed. A failing hook
// aborts the transition.
func WithPhaseTeardown(fn func(ctx context.Context) error) PhaseMachineOption {
	return func(m *CartPhaseMachine) {
		m.teardown = fn
	}
}

// WithPhaseReload registers a fresh read of the cart taken after teardown. The status write
// then carries the reloaded UpdatedAt, so ledger writes made while the session drained do
// not fail the transition.
func WithPhaseReload(fn func(ctx context.Context) (domain.Cart, error)) PhaseMachineOption {
	return func(m *CartPhaseMachine) {
		m.reload = fn
	}
}

// WithPhaseClock overrides the clock used for completion timestamps.
func WithPhaseClock(clock func() time.Time) PhaseMachineOption {
	return func(m *CartPhaseMachine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewCartPhaseMachine builds a machine positioned at the cart's derived phase.
func NewCartPhaseMachine(cart domain.Cart, writer CartStatusWriter, opts ...PhaseMachineOption) (*CartPhaseMachine, error) {
	if writer == nil {
		return nil, errors.New("cart phase machine: status writer is required")
	}
	m := &CartPhaseMachine{
		cart:   cart,
		phase:  DerivePhase(cart),
		writer: writer,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Phase returns the current phase.
func (m *CartPhaseMachine) Phase() domain.ProcessPhase {
	return m.phase
}

// Cart returns the cart as last persisted by the machine.
func (m *CartPhaseMachine) Cart() domain.Cart {
	return m.cart
}

// Require returns ErrFulfillmentPhase unless the machine is in one of the given phases.
func (m *CartPhaseMachine) Require(phases ...domain.ProcessPhase) error {
	return phaseError(m.cart.ID, m.phase, phases)
}

func phaseError(cartID string, current domain.ProcessPhase, allowed []domain.ProcessPhase) error {
	for _, p := range allowed {
		if current == p {
			return nil
		}
	}
	names := make([]string, 0, len(allowed))
	for _, p := range allowed {
		names = append(names, string(p))
	}
	return fmt.Errorf("%w: cart %s is in %s, expected %s", ErrFulfillmentPhase, cartID, current, strings.Join(names, " or "))
}

// Complete advances the cart by one phase and persists its new status. Completing a
// finished cart is a no-op. When the write fails the machine stays where it was.
func (m *CartPhaseMachine) Complete(ctx context.Context) (PhaseTransition, error) {
	from := m.phase
	now := m.clock().UTC()

	change := CartStatusChange{
		CartID:            m.cart.ID,
		ExpectedUpdatedAt: m.cart.UpdatedAt,
	}
	var next domain.ProcessPhase

	switch from {
	case domain.PhaseFinished:
		return PhaseTransition{From: from, Phase: from, Status: m.cart.Status, Cart: m.cart}, nil
	case domain.PhaseCleaning:
		change.CleaningCompletedAt = &now
		if HasAlcohol(m.cart) {
			next = domain.PhaseBottleControl
			change.Status = domain.CartStatusWeighing
		} else {
			next = domain.PhaseFinished
			change.Status = domain.CartStatusPickAndPack
		}
	case domain.PhaseBottleControl:
		if m.teardown != nil {
			if err := m.teardown(ctx); err != nil {
				return PhaseTransition{}, fmt.Errorf("cart phase machine: teardown before finishing: %w", err)
			}
		}
		if m.reload != nil {
			fresh, err := m.reload(ctx)
			if err != nil {
				return PhaseTransition{}, fmt.Errorf("cart phase machine: reload after teardown: %w", err)
			}
			if err := phaseError(fresh.ID, DerivePhase(fresh), []domain.ProcessPhase{domain.PhaseBottleControl}); err != nil {
				return PhaseTransition{}, err
			}
			change.ExpectedUpdatedAt = fresh.UpdatedAt
		}
		change.BottleControlCompletedAt = &now
		next = domain.PhaseFinished
		change.Status = domain.CartStatusPickAndPack
	default:
		return PhaseTransition{}, fmt.Errorf("%w: unknown phase %q", ErrFulfillmentPhase, from)
	}

	saved, err := m.writer.UpdateStatus(ctx, change)
	if err != nil {
		return PhaseTransition{}, err
	}

	m.cart = saved
	m.phase = next
	return PhaseTransition{
		From:    from,
		Phase:   next,
		Status:  change.Status,
		Changed: true,
		Cart:    saved,
	}, nil
}
