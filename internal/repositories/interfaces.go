package repositories

import (
	"context"
	"time"

	"github.com/atelier-sucre/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Testimonials() TestimonialRepository
	Purchases() PurchaseRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order documents and provides query helpers for the back office.
// Update enforces the optimistic concurrency contract: the stored document must
// carry Version-1 relative to the order being written, otherwise the call fails
// with a conflict error.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ProductRepository stores catalog entries.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// TestimonialRepository stores customer testimonials shown on the storefront.
type TestimonialRepository interface {
	Insert(ctx context.Context, testimonial domain.Testimonial) error
	Update(ctx context.Context, testimonial domain.Testimonial) error
	Delete(ctx context.Context, testimonialID string) error
	FindByID(ctx context.Context, testimonialID string) (domain.Testimonial, error)
	List(ctx context.Context, filter TestimonialListFilter) (domain.CursorPage[domain.Testimonial], error)
}

// PurchaseRepository stores supplier purchases for the spending ledger.
type PurchaseRepository interface {
	Insert(ctx context.Context, purchase domain.Purchase) error
	Update(ctx context.Context, purchase domain.Purchase) error
	Delete(ctx context.Context, purchaseID string) error
	FindByID(ctx context.Context, purchaseID string) (domain.Purchase, error)
	List(ctx context.Context, filter PurchaseListFilter) (domain.CursorPage[domain.Purchase], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	Status       []string
	DeliveryDate domain.RangeQuery[time.Time]
	Search       string
	Pagination   domain.Pagination
}

type ProductListFilter struct {
	Category      string
	AvailableOnly bool
	Pagination    domain.Pagination
}

type TestimonialListFilter struct {
	MinRating  int
	Pagination domain.Pagination
}

type PurchaseListFilter struct {
	Supplier     string
	PurchaseDate domain.RangeQuery[time.Time]
	Pagination   domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
