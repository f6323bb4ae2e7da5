package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	pfirestore "github.com/Francovarelav/pickpackpromx/internal/platform/firestore"
	"github.com/Francovarelav/pickpackpromx/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists catering carts within Firestore. Carts are created by upstream
// systems; this repository only rewrites the ledger and the fulfillment status fields.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
		now:      time.Now,
	}, nil
}

// GetCart loads the cart with the given ID.
func (r *CartRepository) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCartDocument(doc.ID, doc.Data, doc.UpdateTime)
}

// MutateLedger reads the cart and writes the ledger returned by fn in one transaction.
func (r *CartRepository) MutateLedger(ctx context.Context, cartID string, fn repositories.LedgerMutation) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	if fn == nil {
		return domain.Cart{}, errors.New("cart repository: ledger mutation is required")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.base.GetTx(tx, ref)
		if err != nil {
			return err
		}
		current, err := decodeCartDocument(doc.ID, doc.Data, doc.UpdateTime)
		if err != nil {
			return err
		}

		ledger, err := fn(current)
		if err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "missingLedger", Value: encodeLedger(ledger)},
			{Path: "updatedAt", Value: r.now().UTC()},
		})
	})
	if err != nil {
		return domain.Cart{}, unwrapCartError(err)
	}

	return r.GetCart(ctx, id)
}

// UpdateStatus persists a phase transition. A non-zero ExpectedUpdatedAt must match the
// document's last update time or the write fails with a conflict.
func (r *CartRepository) UpdateStatus(ctx context.Context, update repositories.CartStatusUpdate) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(update.CartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}
	if !update.Status.Valid() {
		return domain.Cart{}, repositories.NewCartError("carts.update_status", repositories.CartErrorInvalidDocument, "unknown status "+string(update.Status), nil)
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(update.Status)},
		{Path: "updatedAt", Value: r.now().UTC()},
	}
	if update.CleaningCompletedAt != nil {
		updates = append(updates, firestore.Update{Path: "cleaningCompletedAt", Value: update.CleaningCompletedAt.UTC()})
	}
	if update.BottleControlCompletedAt != nil {
		updates = append(updates, firestore.Update{Path: "bottleControlCompletedAt", Value: update.BottleControlCompletedAt.UTC()})
	}

	precondition := firestore.Exists
	if !update.ExpectedUpdatedAt.IsZero() {
		precondition = firestore.LastUpdateTime(update.ExpectedUpdatedAt.UTC())
	}
	if _, err := r.base.Update(ctx, id, updates, precondition); err != nil {
		return domain.Cart{}, err
	}

	return r.GetCart(ctx, id)
}

// unwrapCartError surfaces typed cart errors raised inside a transaction so callers see their
// codes; everything else keeps its Firestore classification.
func unwrapCartError(err error) error {
	var cartErr *repositories.CartError
	if errors.As(err, &cartErr) {
		return cartErr
	}
	return err
}

type cartDocument struct {
	FlightNumber             string                `firestore:"flightNumber,omitempty"`
	Items                    []cartItemDocument    `firestore:"items"`
	Ledger                   []ledgerEntryDocument `firestore:"missingLedger"`
	Status                   string                `firestore:"status"`
	CleaningCompletedAt      *time.Time            `firestore:"cleaningCompletedAt,omitempty"`
	BottleControlCompletedAt *time.Time            `firestore:"bottleControlCompletedAt,omitempty"`
	CreatedAt                time.Time             `firestore:"createdAt"`
	UpdatedAt                time.Time             `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID        string   `firestore:"productId"`
	Name             string   `firestore:"name"`
	Brand            string   `firestore:"brand,omitempty"`
	Presentation     string   `firestore:"presentation,omitempty"`
	Category         string   `firestore:"category,omitempty"`
	Tags             []string `firestore:"tags,omitempty"`
	ExpectedQuantity int      `firestore:"expectedQuantity"`
	UnitPrice        float64  `firestore:"unitPrice,omitempty"`
}

type ledgerEntryDocument struct {
	ProductID    string `firestore:"productId"`
	Brand        string `firestore:"brand,omitempty"`
	Presentation string `firestore:"presentation,omitempty"`
	Missing      int    `firestore:"quantityMissing"`
	Found        int    `firestore:"quantityFound"`
}

func decodeCartDocument(id string, doc cartDocument, updateTime time.Time) (domain.Cart, error) {
	status := domain.CartStatus(strings.TrimSpace(doc.Status))
	if status == "" {
		status = domain.CartStatusCleaning
	}
	if !status.Valid() {
		return domain.Cart{}, repositories.NewCartError("carts.decode", repositories.CartErrorInvalidDocument, "unknown status "+doc.Status, nil)
	}

	cart := domain.Cart{
		ID:                       id,
		FlightNumber:             strings.TrimSpace(doc.FlightNumber),
		Items:                    make([]domain.CartItem, 0, len(doc.Items)),
		Ledger:                   make([]domain.LedgerEntry, 0, len(doc.Ledger)),
		Status:                   status,
		CleaningCompletedAt:      utcPtr(doc.CleaningCompletedAt),
		BottleControlCompletedAt: utcPtr(doc.BottleControlCompletedAt),
		CreatedAt:                doc.CreatedAt.UTC(),
		UpdatedAt: func() time.Time {
			if !updateTime.IsZero() {
				return updateTime
			}
			return doc.UpdatedAt
		}(),
	}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID:        strings.TrimSpace(item.ProductID),
			Name:             strings.TrimSpace(item.Name),
			Brand:            strings.TrimSpace(item.Brand),
			Presentation:     strings.TrimSpace(item.Presentation),
			Category:         strings.TrimSpace(item.Category),
			Tags:             append([]string(nil), item.Tags...),
			ExpectedQuantity: item.ExpectedQuantity,
			UnitPrice:        item.UnitPrice,
		})
	}
	for _, entry := range doc.Ledger {
		cart.Ledger = append(cart.Ledger, domain.LedgerEntry{
			ProductID:    strings.TrimSpace(entry.ProductID),
			Brand:        entry.Brand,
			Presentation: entry.Presentation,
			Missing:      entry.Missing,
			Found:        entry.Found,
		})
	}
	return cart, nil
}

func encodeLedger(ledger []domain.LedgerEntry) []ledgerEntryDocument {
	out := make([]ledgerEntryDocument, 0, len(ledger))
	for _, entry := range ledger {
		out = append(out, ledgerEntryDocument{
			ProductID:    entry.ProductID,
			Brand:        entry.Brand,
			Presentation: entry.Presentation,
			Missing:      entry.Missing,
			Found:        entry.Found,
		})
	}
	return out
}

func utcPtr(ts *time.Time) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	v := ts.UTC()
	return &v
}
