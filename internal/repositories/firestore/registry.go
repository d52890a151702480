package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/atelier-sucre/api/internal/platform/firestore"
	"github.com/atelier-sucre/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract used by dependency injection.
type Registry struct {
	provider *pfirestore.Provider

	orders       *OrderRepository
	products     *ProductRepository
	testimonials *TestimonialRepository
	purchases    *PurchaseRepository
	counters     *CounterRepository
	health       repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository against the shared Firestore provider.
// The health repository is injected because its check set spans dependencies
// beyond Firestore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	if health == nil {
		return nil, errors.New("registry requires health repository")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build order repository: %w", err)
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build product repository: %w", err)
	}
	testimonials, err := NewTestimonialRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build testimonial repository: %w", err)
	}
	purchases, err := NewPurchaseRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build purchase repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("build counter repository: %w", err)
	}

	return &Registry{
		provider:     provider,
		orders:       orders,
		products:     products,
		testimonials: testimonials,
		purchases:    purchases,
		counters:     counters,
		health:       health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository             { return r.orders }
func (r *Registry) Products() repositories.ProductRepository         { return r.products }
func (r *Registry) Testimonials() repositories.TestimonialRepository { return r.testimonials }
func (r *Registry) Purchases() repositories.PurchaseRepository       { return r.purchases }
func (r *Registry) Counters() repositories.CounterRepository         { return r.counters }
func (r *Registry) Health() repositories.HealthRepository            { return r.health }

// RunInTx executes fn inside a single Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}
