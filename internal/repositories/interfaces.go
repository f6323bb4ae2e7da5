package repositories

import (
	"context"
	"time"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Catalog() CatalogRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// LedgerMutation computes the next ledger from the freshly read cart. Returning an error
// aborts the write.
type LedgerMutation func(cart domain.Cart) ([]domain.LedgerEntry, error)

// CartRepository reads carts and persists the fields the fulfillment engine owns.
type CartRepository interface {
	GetCart(ctx context.Context, cartID string) (domain.Cart, error)
	// MutateLedger applies fn to the current cart and stores its result atomically.
	MutateLedger(ctx context.Context, cartID string, fn LedgerMutation) (domain.Cart, error)
	UpdateStatus(ctx context.Context, update CartStatusUpdate) (domain.Cart, error)
}

// CartStatusUpdate persists a phase transition. A non-zero ExpectedUpdatedAt makes the
// write conditional on the cart not having changed since it was read.
type CartStatusUpdate struct {
	CartID                   string
	Status                   domain.CartStatus
	CleaningCompletedAt      *time.Time
	BottleControlCompletedAt *time.Time
	ExpectedUpdatedAt        time.Time
}

// CatalogRepository reads the reference bottle catalog.
type CatalogRepository interface {
	ListBottleTypes(ctx context.Context) ([]domain.CatalogBottle, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
