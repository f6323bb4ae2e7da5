package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	pfirestore "github.com/Francovarelav/pickpackpromx/internal/platform/firestore"
	"github.com/Francovarelav/pickpackpromx/internal/repositories"
)

const bottleCatalogCollection = "bottle_catalog"

// CatalogRepository reads reference bottle types from Firestore.
type CatalogRepository struct {
	base *pfirestore.BaseRepository[bottleDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed bottle catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		base: pfirestore.NewBaseRepository[bottleDocument](provider, bottleCatalogCollection, nil),
	}, nil
}

// ListBottleTypes returns every catalog bottle ordered by name. Candidate order matters to the
// matcher, which keeps the first of equally scored bottles.
func (r *CatalogRepository) ListBottleTypes(ctx context.Context) ([]domain.CatalogBottle, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	bottles := make([]domain.CatalogBottle, 0, len(docs))
	for _, doc := range docs {
		bottles = append(bottles, decodeBottleDocument(doc.ID, doc.Data))
	}
	return bottles, nil
}

type bottleDocument struct {
	Name              string  `firestore:"name"`
	Brand             string  `firestore:"brand,omitempty"`
	LiquorType        string  `firestore:"liquorType,omitempty"`
	VolumeML          int     `firestore:"volumeMl,omitempty"`
	EmptyWeight       float64 `firestore:"emptyWeightGrams,omitempty"`
	FullWeight        float64 `firestore:"fullWeightGrams,omitempty"`
	Density           float64 `firestore:"density,omitempty"`
	UnitPrice         float64 `firestore:"unitPrice,omitempty"`
	AlcoholPercentage float64 `firestore:"alcoholPercentage,omitempty"`
}

func decodeBottleDocument(id string, doc bottleDocument) domain.CatalogBottle {
	return domain.CatalogBottle{
		ID:                id,
		Name:              strings.TrimSpace(doc.Name),
		Brand:             strings.TrimSpace(doc.Brand),
		LiquorType:        strings.TrimSpace(doc.LiquorType),
		VolumeML:          doc.VolumeML,
		EmptyWeight:       doc.EmptyWeight,
		FullWeight:        doc.FullWeight,
		Density:           doc.Density,
		UnitPrice:         doc.UnitPrice,
		AlcoholPercentage: doc.AlcoholPercentage,
	}
}
