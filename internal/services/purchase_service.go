package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atelier-sucre/api/internal/domain"
	"github.com/atelier-sucre/api/internal/repositories"
)

const (
	purchaseIDPrefix = "pur_"

	// statsPageSize bounds each repository round trip while aggregating.
	statsPageSize = 200
)

var (
	// ErrPurchaseInvalidInput indicates validation failures for ledger operations.
	ErrPurchaseInvalidInput = errors.New("purchase: invalid input")
	// ErrPurchaseNotFound indicates a ledger entry could not be located.
	ErrPurchaseNotFound = errors.New("purchase: not found")
	// ErrPurchaseConflict signals conflicting concurrent updates.
	ErrPurchaseConflict = errors.New("purchase: conflict")
)

// PurchaseServiceDeps bundles collaborators required to construct a PurchaseService.
type PurchaseServiceDeps struct {
	Purchases   repositories.PurchaseRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type purchaseService struct {
	purchases repositories.PurchaseRepository
	clock     func() time.Time
	newID     func() string
}

// NewPurchaseService wires dependencies into a concrete PurchaseService implementation.
func NewPurchaseService(deps PurchaseServiceDeps) (PurchaseService, error) {
	if deps.Purchases == nil {
		return nil, errors.New("purchase service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &purchaseService{
		purchases: deps.Purchases,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
	}, nil
}

func (s *purchaseService) ListPurchases(ctx context.Context, filter PurchaseListFilter) (domain.CursorPage[Purchase], error) {
	page, err := s.purchases.List(ctx, repositories.PurchaseListFilter{
		Supplier:     strings.TrimSpace(filter.Supplier),
		PurchaseDate: filter.PurchaseDate,
		Pagination: domain.Pagination{
			PageSize:  filter.Pagination.PageSize,
			PageToken: strings.TrimSpace(filter.Pagination.PageToken),
		},
	})
	if err != nil {
		return domain.CursorPage[Purchase]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *purchaseService) Record(ctx context.Context, cmd RecordPurchaseCommand) (Purchase, error) {
	normalized, err := normalizePurchaseCommand(cmd)
	if err != nil {
		return Purchase{}, err
	}

	now := s.clock()
	purchase := Purchase{
		ID:           purchaseIDPrefix + s.newID(),
		ProductName:  normalized.ProductName,
		Supplier:     normalized.Supplier,
		PurchaseDate: normalized.PurchaseDate,
		Quantity:     normalized.Quantity,
		UnitPrice:    normalized.UnitPrice,
		TotalPrice:   normalized.UnitPrice * Money(normalized.Quantity),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.purchases.Insert(ctx, purchase); err != nil {
		return Purchase{}, s.mapRepositoryError(err)
	}
	return purchase, nil
}

func (s *purchaseService) Update(ctx context.Context, purchaseID string, cmd RecordPurchaseCommand) (Purchase, error) {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return Purchase{}, fmt.Errorf("%w: purchase id is required", ErrPurchaseInvalidInput)
	}

	normalized, err := normalizePurchaseCommand(cmd)
	if err != nil {
		return Purchase{}, err
	}

	purchase, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return Purchase{}, s.mapRepositoryError(err)
	}

	purchase.ProductName = normalized.ProductName
	purchase.Supplier = normalized.Supplier
	purchase.PurchaseDate = normalized.PurchaseDate
	purchase.Quantity = normalized.Quantity
	purchase.UnitPrice = normalized.UnitPrice
	purchase.TotalPrice = normalized.UnitPrice * Money(normalized.Quantity)
	purchase.UpdatedAt = s.clock()

	if err := s.purchases.Update(ctx, purchase); err != nil {
		return Purchase{}, s.mapRepositoryError(err)
	}
	return purchase, nil
}

func (s *purchaseService) Delete(ctx context.Context, purchaseID string, actorID string) error {
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return fmt.Errorf("%w: purchase id is required", ErrPurchaseInvalidInput)
	}
	if err := s.purchases.Delete(ctx, purchaseID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// Stats walks the whole ledger page by page. The ledger holds a few hundred
// entries a year, so the full scan stays cheap.
func (s *purchaseService) Stats(ctx context.Context) (PurchaseStats, error) {
	now := s.clock()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats := PurchaseStats{}
	token := ""
	for {
		page, err := s.purchases.List(ctx, repositories.PurchaseListFilter{
			Pagination: domain.Pagination{PageSize: statsPageSize, PageToken: token},
		})
		if err != nil {
			return PurchaseStats{}, s.mapRepositoryError(err)
		}

		for _, purchase := range page.Items {
			stats.Total += purchase.TotalPrice
			stats.Count++
			if !purchase.PurchaseDate.Before(monthStart) {
				stats.CurrentMonth += purchase.TotalPrice
			}
		}

		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	return stats, nil
}

type normalizedPurchase struct {
	ProductName  string
	Supplier     string
	PurchaseDate time.Time
	Quantity     int
	UnitPrice    Money
}

func normalizePurchaseCommand(cmd RecordPurchaseCommand) (normalizedPurchase, error) {
	productName := strings.TrimSpace(cmd.ProductName)
	if productName == "" {
		return normalizedPurchase{}, fmt.Errorf("%w: product name is required", ErrPurchaseInvalidInput)
	}
	supplier := strings.TrimSpace(cmd.Supplier)
	if supplier == "" {
		return normalizedPurchase{}, fmt.Errorf("%w: supplier is required", ErrPurchaseInvalidInput)
	}
	if cmd.PurchaseDate.IsZero() {
		return normalizedPurchase{}, fmt.Errorf("%w: purchase date is required", ErrPurchaseInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return normalizedPurchase{}, fmt.Errorf("%w: quantity must be positive", ErrPurchaseInvalidInput)
	}
	if cmd.UnitPrice < 0 {
		return normalizedPurchase{}, fmt.Errorf("%w: unit price cannot be negative", ErrPurchaseInvalidInput)
	}

	return normalizedPurchase{
		ProductName:  productName,
		Supplier:     supplier,
		PurchaseDate: cmd.PurchaseDate.UTC(),
		Quantity:     cmd.Quantity,
		UnitPrice:    cmd.UnitPrice,
	}, nil
}

func (s *purchaseService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPurchaseNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPurchaseConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("purchase: repository unavailable: %w", err)
		}
	}

	return err
}
