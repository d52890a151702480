package services

import (
	"errors"
	"fmt"

	"github.com/atelier-sucre/api/internal/domain"
)

// ErrPricingInvalidInput signals bad pricing inputs such as a negative base
// price or an unknown delivery type.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// OrderPricingEngine computes order totals from the catalog base price and the
// selected delivery option. The delivery fee table lives on the domain type so
// repositories and services agree on a single source.
type OrderPricingEngine struct{}

// NewOrderPricingEngine constructs the pricing engine.
func NewOrderPricingEngine() *OrderPricingEngine {
	return &OrderPricingEngine{}
}

// Quote prices an order. TotalPrice is exactly BasePrice plus the delivery
// surcharge; no other component ever contributes.
func (e *OrderPricingEngine) Quote(basePrice Money, deliveryType DeliveryType) (Pricing, error) {
	if basePrice < 0 {
		return Pricing{}, fmt.Errorf("%w: base price must not be negative, got %s", ErrPricingInvalidInput, basePrice)
	}
	surcharge, ok := deliveryType.Surcharge()
	if !ok {
		return Pricing{}, fmt.Errorf("%w: unknown delivery type %q", ErrPricingInvalidInput, deliveryType)
	}
	return domain.Pricing{
		BasePrice:     basePrice,
		DeliveryPrice: surcharge,
		TotalPrice:    basePrice + surcharge,
	}, nil
}
