package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/atelier-sucre/api/internal/domain"
	pfirestore "github.com/atelier-sucre/api/internal/platform/firestore"
	"github.com/atelier-sucre/api/internal/platform/pagination"
	"github.com/atelier-sucre/api/internal/platform/textutil"
	"github.com/atelier-sucre/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order documents with optimistic version checks.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)
	return &OrderRepository{provider: provider, base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeOrderDocument(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order inside a transaction. The stored version
// must equal order.Version-1, otherwise the update fails with a conflict.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored orderDocument
		if err := snapshot.DataTo(&stored); err != nil {
			return fmt.Errorf("firestore orders decode %s: %w", orderID, err)
		}
		if stored.Version != order.Version-1 {
			return status.Errorf(codes.FailedPrecondition,
				"orders: stale version for %s: stored %d, expected %d", orderID, stored.Version, order.Version-1)
		}
		return tx.Set(ref, encodeOrderDocument(order))
	})
	if err != nil {
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(orderID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns orders for the back office ordered by most recent creation.
// Free-text customer search is applied in-process on the accent-folded name
// because Firestore has no substring queries.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
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
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statuses := normaliseFilterValues(filter.Status)
	search := textutil.Fold(filter.Search)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statuses) > 10 {
				statuses = statuses[:10]
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.DeliveryDate.From != nil {
			q = q.Where("delivery.date", ">=", filter.DeliveryDate.From.UTC())
		}
		if filter.DeliveryDate.To != nil {
			q = q.Where("delivery.date", "<=", filter.DeliveryDate.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if search == "" && fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	if search != "" {
		filtered := docs[:0]
		for _, doc := range docs {
			name := doc.Data.CustomerInfo.FirstName + " " + doc.Data.CustomerInfo.LastName
			if strings.Contains(textutil.Fold(name), search) ||
				strings.Contains(textutil.Fold(doc.Data.CustomerInfo.Email), search) {
				filtered = append(filtered, doc)
			}
		}
		docs = filtered
		if fetchLimit > 0 && len(docs) > fetchLimit {
			docs = docs[:fetchLimit]
		}
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type orderDocument struct {
	Number        string                `firestore:"number"`
	CustomerInfo  customerInfoDocument  `firestore:"customerInfo"`
	Product       productSnapDocument   `firestore:"product"`
	Customization customizationDocument `firestore:"customization"`
	Delivery      deliveryDocument      `firestore:"delivery"`
	Pricing       pricingDocument       `firestore:"pricing"`
	Acompte       *acompteDocument      `firestore:"acompte,omitempty"`
	Status        string                `firestore:"status"`
	IsModified    bool                  `firestore:"isModified"`
	Version       int64                 `firestore:"version"`
	CreatedAt     time.Time             `firestore:"createdAt"`
	UpdatedAt     time.Time             `firestore:"updatedAt"`
}

type customerInfoDocument struct {
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Email     string `firestore:"email"`
	Phone     string `firestore:"phone"`
}

type productSnapDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Size      string `firestore:"size"`
	UnitPrice int64  `firestore:"unitPrice"`
	Category  string `firestore:"category"`
	ImageURL  string `firestore:"imageUrl"`
}

type customizationDocument struct {
	SpecialRequests string `firestore:"specialRequests"`
}

type deliveryDocument struct {
	Type     string    `firestore:"type"`
	Date     time.Time `firestore:"date"`
	TimeSlot string    `firestore:"timeSlot"`
	Address  string    `firestore:"address,omitempty"`
}

type pricingDocument struct {
	BasePrice     int64 `firestore:"basePrice"`
	DeliveryPrice int64 `firestore:"deliveryPrice"`
	TotalPrice    int64 `firestore:"totalPrice"`
}

type acompteDocument struct {
	Amount int64     `firestore:"amount"`
	Date   time.Time `firestore:"date"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		Number: strings.TrimSpace(order.Number),
		CustomerInfo: customerInfoDocument{
			FirstName: strings.TrimSpace(order.CustomerInfo.FirstName),
			LastName:  strings.TrimSpace(order.CustomerInfo.LastName),
			Email:     strings.TrimSpace(order.CustomerInfo.Email),
			Phone:     strings.TrimSpace(order.CustomerInfo.Phone),
		},
		Product: productSnapDocument{
			ProductID: strings.TrimSpace(order.Product.ProductID),
			Name:      strings.TrimSpace(order.Product.Name),
			Size:      strings.TrimSpace(order.Product.Size),
			UnitPrice: int64(order.Product.UnitPrice),
			Category:  strings.TrimSpace(order.Product.Category),
			ImageURL:  strings.TrimSpace(order.Product.ImageURL),
		},
		Customization: customizationDocument{
			SpecialRequests: strings.TrimSpace(order.Customization.SpecialRequests),
		},
		Delivery: deliveryDocument{
			Type:     string(order.Delivery.Type),
			Date:     order.Delivery.Date.UTC(),
			TimeSlot: strings.TrimSpace(order.Delivery.TimeSlot),
			Address:  strings.TrimSpace(order.Delivery.Address),
		},
		Pricing: pricingDocument{
			BasePrice:     int64(order.Pricing.BasePrice),
			DeliveryPrice: int64(order.Pricing.DeliveryPrice),
			TotalPrice:    int64(order.Pricing.TotalPrice),
		},
		Status:     string(order.Status),
		IsModified: order.IsModified,
		Version:    order.Version,
		CreatedAt:  order.CreatedAt.UTC(),
		UpdatedAt:  order.UpdatedAt.UTC(),
	}
	if order.Acompte != nil {
		doc.Acompte = &acompteDocument{
			Amount: int64(order.Acompte.Amount),
			Date:   order.Acompte.Date.UTC(),
		}
	}
	return doc
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	order := domain.Order{
		ID:     strings.TrimSpace(id),
		Number: strings.TrimSpace(doc.Number),
		CustomerInfo: domain.CustomerInfo{
			FirstName: doc.CustomerInfo.FirstName,
			LastName:  doc.CustomerInfo.LastName,
			Email:     doc.CustomerInfo.Email,
			Phone:     doc.CustomerInfo.Phone,
		},
		Product: domain.ProductSnapshot{
			ProductID: doc.Product.ProductID,
			Name:      doc.Product.Name,
			Size:      doc.Product.Size,
			UnitPrice: domain.Money(doc.Product.UnitPrice),
			Category:  doc.Product.Category,
			ImageURL:  doc.Product.ImageURL,
		},
		Customization: domain.Customization{
			SpecialRequests: doc.Customization.SpecialRequests,
		},
		Delivery: domain.Delivery{
			Type:     domain.DeliveryType(doc.Delivery.Type),
			Date:     doc.Delivery.Date.UTC(),
			TimeSlot: doc.Delivery.TimeSlot,
			Address:  doc.Delivery.Address,
		},
		Pricing: domain.Pricing{
			BasePrice:     domain.Money(doc.Pricing.BasePrice),
			DeliveryPrice: domain.Money(doc.Pricing.DeliveryPrice),
			TotalPrice:    domain.Money(doc.Pricing.TotalPrice),
		},
		Status:     domain.OrderStatus(doc.Status),
		IsModified: doc.IsModified,
		Version:    doc.Version,
		CreatedAt:  chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:  chooseTime(doc.UpdatedAt, updatedAt),
	}
	if doc.Acompte != nil {
		order.Acompte = &domain.Deposit{
			Amount: domain.Money(doc.Acompte.Amount),
			Date:   doc.Acompte.Date.UTC(),
		}
	}
	return order
}

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func normaliseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(values))
	seen := make(map[string]struct{})
	for _, value := range values {
		trimmed := strings.ToLower(strings.TrimSpace(value))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	return normalized
}

func encodeListToken(ts time.Time, docID string) string {
	return pagination.EncodeToken(pagination.Cursor{Timestamp: ts, DocID: docID})
}

func decodeListToken(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	return cursor.Timestamp, cursor.DocID, nil
}
