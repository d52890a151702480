package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/atelier-sucre/api/internal/domain"
	pfirestore "github.com/atelier-sucre/api/internal/platform/firestore"
	"github.com/atelier-sucre/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository persists catalog entries.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection)
	return &ProductRepository{provider: provider, base: base}, nil
}

// Insert stores a new product document.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update replaces the persisted product inside a transaction with a version check.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored productDocument
		if err := snapshot.DataTo(&stored); err != nil {
			return fmt.Errorf("firestore products decode %s: %w", productID, err)
		}
		if stored.Version != product.Version-1 {
			return status.Errorf(codes.FailedPrecondition,
				"products: stale version for %s: stored %d, expected %d", productID, stored.Version, product.Version-1)
		}
		return tx.Set(ref, encodeProductDocument(product))
	})
	if err != nil {
		return pfirestore.WrapError("products.update", err)
	}
	return nil
}

// Delete removes the product document.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("products.delete", err)
	}
	return nil
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProductDocument(productID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns catalog entries ordered by name.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
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
		tokenName, tokenID, err := decodeNameToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("product repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenName, tokenID}
	}

	category := strings.TrimSpace(filter.Category)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if category != "" {
			q = q.Where("category", "==", category)
		}
		if filter.AvailableOnly {
			q = q.Where("available", "==", true)
		}
		q = q.OrderBy("name", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = encodeNameToken(last.Data.Name, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeProductDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Product]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type productDocument struct {
	Name        string           `firestore:"name"`
	Slug        string           `firestore:"slug"`
	Description string           `firestore:"description,omitempty"`
	Category    string           `firestore:"category"`
	Prices      map[string]int64 `firestore:"prices"`
	Available   bool             `firestore:"available"`
	ImageURL    string           `firestore:"imageUrl,omitempty"`
	ImagePath   string           `firestore:"imagePath,omitempty"`
	Version     int64            `firestore:"version"`
	CreatedAt   time.Time        `firestore:"createdAt"`
	UpdatedAt   time.Time        `firestore:"updatedAt"`
}

func encodeProductDocument(product domain.Product) productDocument {
	prices := make(map[string]int64, len(product.Prices))
	for size, price := range product.Prices {
		size = strings.TrimSpace(size)
		if size == "" {
			continue
		}
		prices[size] = int64(price)
	}
	return productDocument{
		Name:        strings.TrimSpace(product.Name),
		Slug:        strings.TrimSpace(product.Slug),
		Description: strings.TrimSpace(product.Description),
		Category:    strings.TrimSpace(product.Category),
		Prices:      prices,
		Available:   product.Available,
		ImageURL:    strings.TrimSpace(product.ImageURL),
		ImagePath:   strings.TrimSpace(product.ImagePath),
		Version:     product.Version,
		CreatedAt:   product.CreatedAt.UTC(),
		UpdatedAt:   product.UpdatedAt.UTC(),
	}
}

func decodeProductDocument(id string, doc productDocument, createdAt, updatedAt time.Time) domain.Product {
	prices := make(map[string]domain.Money, len(doc.Prices))
	for size, price := range doc.Prices {
		prices[size] = domain.Money(price)
	}
	return domain.Product{
		ID:          strings.TrimSpace(id),
		Name:        doc.Name,
		Slug:        doc.Slug,
		Description: doc.Description,
		Category:    doc.Category,
		Prices:      prices,
		Available:   doc.Available,
		ImageURL:    doc.ImageURL,
		ImagePath:   doc.ImagePath,
		Version:     doc.Version,
		CreatedAt:   chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:   chooseTime(doc.UpdatedAt, updatedAt),
	}
}

func encodeNameToken(name string, docID string) string {
	payload := fmt.Sprintf("%s|%s", name, docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeNameToken(token string) (string, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return "", "", errors.New("invalid token structure")
	}
	return parts[0], parts[1], nil
}
