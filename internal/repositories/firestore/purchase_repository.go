package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/atelier-sucre/api/internal/domain"
	pfirestore "github.com/atelier-sucre/api/internal/platform/firestore"
	"github.com/atelier-sucre/api/internal/repositories"
)

const purchasesCollection = "purchases"

// PurchaseRepository persists supplier purchases for the spending ledger.
type PurchaseRepository struct {
	base *pfirestore.BaseRepository[purchaseDocument]
}

var _ repositories.PurchaseRepository = (*PurchaseRepository)(nil)

// NewPurchaseRepository constructs a Firestore-backed purchase repository.
func NewPurchaseRepository(provider *pfirestore.Provider) (*PurchaseRepository, error) {
	if provider == nil {
		return nil, errors.New("purchase repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[purchaseDocument](provider, purchasesCollection)
	return &PurchaseRepository{base: base}, nil
}

// Insert stores a new purchase document.
func (r *PurchaseRepository) Insert(ctx context.Context, purchase domain.Purchase) error {
	if r == nil || r.base == nil {
		return errors.New("purchase repository not initialised")
	}
	purchaseID := strings.TrimSpace(purchase.ID)
	if purchaseID == "" {
		return errors.New("purchase repository: purchase id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, purchaseID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodePurchaseDocument(purchase)); err != nil {
		return pfirestore.WrapError("purchases.insert", err)
	}
	return nil
}

// Update replaces the persisted purchase.
func (r *PurchaseRepository) Update(ctx context.Context, purchase domain.Purchase) error {
	if r == nil || r.base == nil {
		return errors.New("purchase repository not initialised")
	}
	purchaseID := strings.TrimSpace(purchase.ID)
	if purchaseID == "" {
		return errors.New("purchase repository: purchase id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, purchaseID)
	if err != nil {
		return err
	}
	if _, err := docRef.Update(ctx, encodePurchaseUpdates(purchase), firestore.Exists); err != nil {
		return pfirestore.WrapError("purchases.update", err)
	}
	return nil
}

// Delete removes the purchase document.
func (r *PurchaseRepository) Delete(ctx context.Context, purchaseID string) error {
	if r == nil || r.base == nil {
		return errors.New("purchase repository not initialised")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return errors.New("purchase repository: purchase id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, purchaseID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("purchases.delete", err)
	}
	return nil
}

// FindByID fetches a single purchase.
func (r *PurchaseRepository) FindByID(ctx context.Context, purchaseID string) (domain.Purchase, error) {
	if r == nil || r.base == nil {
		return domain.Purchase{}, errors.New("purchase repository not initialised")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return domain.Purchase{}, errors.New("purchase repository: purchase id is required")
	}
	doc, err := r.base.Get(ctx, purchaseID)
	if err != nil {
		return domain.Purchase{}, err
	}
	return decodePurchaseDocument(purchaseID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns purchases ordered by most recent purchase date.
func (r *PurchaseRepository) List(ctx context.Context, filter repositories.PurchaseListFilter) (domain.CursorPage[domain.Purchase], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Purchase]{}, errors.New("purchase repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Purchase]{}, fmt.Errorf("purchase repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	supplier := strings.TrimSpace(filter.Supplier)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if supplier != "" {
			q = q.Where("supplier", "==", supplier)
		}
		if filter.PurchaseDate.From != nil {
			q = q.Where("purchaseDate", ">=", filter.PurchaseDate.From.UTC())
		}
		if filter.PurchaseDate.To != nil {
			q = q.Where("purchaseDate", "<=", filter.PurchaseDate.To.UTC())
		}
		q = q.OrderBy("purchaseDate", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Purchase]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.PurchaseDate
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Purchase, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodePurchaseDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Purchase]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type purchaseDocument struct {
	ProductName  string    `firestore:"productName"`
	Supplier     string    `firestore:"supplier"`
	PurchaseDate time.Time `firestore:"purchaseDate"`
	Quantity     int       `firestore:"quantity"`
	UnitPrice    int64     `firestore:"unitPrice"`
	TotalPrice   int64     `firestore:"totalPrice"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func encodePurchaseDocument(purchase domain.Purchase) purchaseDocument {
	return purchaseDocument{
		ProductName:  strings.TrimSpace(purchase.ProductName),
		Supplier:     strings.TrimSpace(purchase.Supplier),
		PurchaseDate: purchase.PurchaseDate.UTC(),
		Quantity:     purchase.Quantity,
		UnitPrice:    int64(purchase.UnitPrice),
		TotalPrice:   int64(purchase.TotalPrice),
		CreatedAt:    purchase.CreatedAt.UTC(),
		UpdatedAt:    purchase.UpdatedAt.UTC(),
	}
}

func encodePurchaseUpdates(purchase domain.Purchase) []firestore.Update {
	return []firestore.Update{
		{Path: "productName", Value: strings.TrimSpace(purchase.ProductName)},
		{Path: "supplier", Value: strings.TrimSpace(purchase.Supplier)},
		{Path: "purchaseDate", Value: purchase.PurchaseDate.UTC()},
		{Path: "quantity", Value: purchase.Quantity},
		{Path: "unitPrice", Value: int64(purchase.UnitPrice)},
		{Path: "totalPrice", Value: int64(purchase.TotalPrice)},
		{Path: "updatedAt", Value: purchase.UpdatedAt.UTC()},
	}
}

func decodePurchaseDocument(id string, doc purchaseDocument, createdAt, updatedAt time.Time) domain.Purchase {
	return domain.Purchase{
		ID:           strings.TrimSpace(id),
		ProductName:  doc.ProductName,
		Supplier:     doc.Supplier,
		PurchaseDate: doc.PurchaseDate.UTC(),
		Quantity:     doc.Quantity,
		UnitPrice:    domain.Money(doc.UnitPrice),
		TotalPrice:   domain.Money(doc.TotalPrice),
		CreatedAt:    chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:    chooseTime(doc.UpdatedAt, updatedAt),
	}
}
